//go:build unix

package tuning

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"syscall"
	"testing"
	"time"
)

// A pipe fd opened without O_NONBLOCK behaves like an interactive stdin:
// closing it does not interrupt a pending read.
func blockingPipe(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	var fds [2]int
	if err := syscall.Pipe(fds[:]); err != nil {
		t.Fatalf("pipe: %v", err)
	}
	r := os.NewFile(uintptr(fds[0]), "console-r")
	w := os.NewFile(uintptr(fds[1]), "console-w")
	t.Cleanup(func() {
		w.Close()
		r.Close()
	})
	return r, w
}

func TestConsoleServeReturnsOnCancelWhileReadBlocked(t *testing.T) {
	c := newController(t)
	r, w := blockingPipe(t)
	var out bytes.Buffer

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- NewConsole(c, r, &out).Serve(ctx) }()

	fmt.Fprintln(w, "G6")
	deadline := time.Now().Add(2 * time.Second)
	for c.Config().Gain != 6 {
		if time.Now().After(deadline) {
			t.Fatal("G6 never applied")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve still running 2s after cancel with a read pending")
	}
	if want := "G=6 Z=40 P=120 R=0.6 B=500 S=50\n"; !bytes.Contains(out.Bytes(), []byte(want)) {
		t.Errorf("output = %q, want echo %q", out.String(), want)
	}
}
