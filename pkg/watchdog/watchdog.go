package watchdog

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
)

// NewWatchdog calls shutdown once when input stays silent for a whole
// interval, and again after every later silence that follows activity.
func NewWatchdog[T any](ctx context.Context, clock clockwork.Clock, interval time.Duration, shutdown func() error, input <-chan T) func() error {
	return func() error {
		t := clock.NewTicker(interval)
		defer t.Stop()
		awake := true
		tripped := false
		slog.Debug("watchdog started", "timeout", interval, "module", "watchdog")
		for {
			select {
			case <-ctx.Done():
				return nil
			case _, ok := <-input:
				if !ok {
					return nil
				}
				awake = true
				if tripped {
					slog.Info("control loop activity resumed", "module", "watchdog")
					tripped = false
				}
			case <-t.Chan():
				if !awake && !tripped {
					slog.Error("watchdog timeout, stopping coil drive", "timeout", interval, "module", "watchdog")
					tripped = true
					if err := shutdown(); err != nil {
						return err
					}
				}
				awake = false
			}
		}
	}
}
