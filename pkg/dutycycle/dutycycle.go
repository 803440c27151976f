// Package dutycycle tracks the rolling average coil drive.
package dutycycle

import (
	"context"
	"log/slog"

	"github.com/mikesmitty/maglev/pkg/controller"
	"github.com/mikesmitty/maglev/pkg/hbridge"
	"github.com/mikesmitty/maglev/pkg/swma"
)

// NewDutyCycle averages the primary duty, as a percentage of full scale, over
// the last window samples and publishes it every every samples.
func NewDutyCycle(ctx context.Context, input <-chan controller.Sample, window, every int) (<-chan float64, func() error) {
	c := make(chan float64, 1)
	if every < 1 {
		every = 1
	}
	avg := swma.NewSlidingWindow(window)
	return c, func() error {
		defer close(c)
		n := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case v, ok := <-input:
				if !ok {
					return nil
				}
				duty := avg.Add(100 * float64(v.Primary) / hbridge.MaxDuty)
				n++
				if n%every != 0 {
					continue
				}
				slog.Debug("duty cycle", "value", duty, "module", "dutycycle")
				select {
				case c <- duty:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
