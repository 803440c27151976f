// Package tuning implements the line-oriented tuning console. Each command is
// a single-letter tag followed by a number, e.g. "P150" or "R 0.62".
package tuning

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/mikesmitty/maglev/pkg/controller"
)

var (
	ErrEmpty  = errors.New("tuning: empty command")
	ErrSyntax = errors.New("tuning: malformed command")
)

// Updater is the configuration entry point of the controller.
type Updater interface {
	UpdateParameter(tag byte, value float64) error
	Config() controller.Config
}

// ParseCommand splits "<tag><float>". It does not check the tag.
func ParseCommand(line string) (byte, float64, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return 0, 0, ErrEmpty
	}
	tag := line[0]
	v, err := strconv.ParseFloat(strings.TrimSpace(line[1:]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w %q: %v", ErrSyntax, line, err)
	}
	return tag, v, nil
}

// Apply parses and applies one command and returns the parameter set in
// effect afterwards.
func Apply(u Updater, line string) (controller.Config, error) {
	tag, v, err := ParseCommand(line)
	if err != nil {
		return u.Config(), err
	}
	err = u.UpdateParameter(tag, v)
	return u.Config(), err
}

// Console serves commands from r and echoes the parameter set to w.
type Console struct {
	u  Updater
	r  io.Reader
	w  io.Writer
	mu sync.Mutex
}

func NewConsole(u Updater, r io.Reader, w io.Writer) *Console {
	return &Console{u: u, r: r, w: w}
}

// Serve reads commands until r is exhausted or ctx is done. If r is an
// io.Closer it is closed on cancellation. Serve returns on cancellation even
// while a read is still blocked, as on an interactive stdin.
func (c *Console) Serve(ctx context.Context) error {
	if cl, ok := c.r.(io.Closer); ok {
		stop := context.AfterFunc(ctx, func() { cl.Close() })
		defer stop()
	}
	c.println(c.u.Config().String())

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(c.r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				if err := <-scanErr; err != nil {
					return fmt.Errorf("tuning: %w", err)
				}
				return nil
			}
			c.handle(line)
		}
	}
}

func (c *Console) handle(line string) {
	cfg, err := Apply(c.u, line)
	switch {
	case errors.Is(err, ErrEmpty):
		return
	case err != nil:
		slog.Debug("tuning command failed", "line", line, "error", err, "module", "tuning")
		c.println("ERR " + err.Error())
	}
	c.println(cfg.String())
}

// Diagnostics writes every nth sample as a diagnostic line until in is
// closed or ctx is done.
func (c *Console) Diagnostics(ctx context.Context, in <-chan controller.Sample, every int) func() error {
	if every < 1 {
		every = 1
	}
	return func() error {
		n := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case s, ok := <-in:
				if !ok {
					return nil
				}
				n++
				if n%every != 0 {
					continue
				}
				c.println(FormatSample(s))
			}
		}
	}
}

// FormatSample renders {v_hall, u_k, du_k, e_k} for one step.
func FormatSample(s controller.Sample) string {
	line := fmt.Sprintf("v_hall=%.4f u_k=%.2f du_k=%.5f e_k=%.5f", s.VHall, s.U, s.DU, s.E)
	if s.Saturated {
		line += " sat"
	}
	return line
}

func (c *Console) println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := io.WriteString(c.w, s+"\n"); err != nil {
		slog.Debug("tuning console write failed", "error", err, "module", "tuning")
	}
}
