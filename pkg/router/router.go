package router

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	ErrSubscribed    = errors.New("router: client already subscribed")
	ErrNotSubscribed = errors.New("router: client not subscribed")
)

// Fan copies every value from its input to each subscriber. A subscriber
// whose buffer is full misses the value rather than stalling the others.
type Fan[T any] struct {
	name    string
	mu      sync.Mutex
	input   <-chan T
	outputs map[string]chan T
	dropped map[string]uint64
}

func NewFan[T any](name string, input <-chan T) *Fan[T] {
	return &Fan[T]{
		name:    name,
		input:   input,
		outputs: make(map[string]chan T),
		dropped: make(map[string]uint64),
	}
}

// Subscribe registers client with a buffer of size values.
func (f *Fan[T]) Subscribe(client string, size int) (<-chan T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.outputs[client]; ok {
		return nil, ErrSubscribed
	}
	if size < 1 {
		size = 1
	}
	c := make(chan T, size)
	f.outputs[client] = c
	slog.Debug("subscribed to fan", "fan", f.name, "client", client, "module", "router")
	return c, nil
}

func (f *Fan[T]) Unsubscribe(client string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.outputs[client]
	if !ok {
		return ErrNotSubscribed
	}
	close(c)
	delete(f.outputs, client)
	delete(f.dropped, client)
	return nil
}

// Dropped returns how many values client has missed.
func (f *Fan[T]) Dropped(client string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped[client]
}

// Run forwards values until the input closes or ctx is done, then closes
// every subscriber.
func (f *Fan[T]) Run(ctx context.Context) func() error {
	return func() error {
		defer f.closeAll()
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, ok := <-f.input:
				if !ok {
					return nil
				}
				f.mu.Lock()
				for k, ch := range f.outputs {
					select {
					case ch <- v:
					default:
						f.dropped[k]++
					}
				}
				f.mu.Unlock()
			}
		}
	}
}

func (f *Fan[T]) closeAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, ch := range f.outputs {
		close(ch)
		delete(f.outputs, k)
	}
}
