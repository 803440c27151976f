// Package stats summarises the control error over a rolling window.
package stats

import (
	"context"
	"log/slog"
	"math"
	"sort"

	"github.com/mikesmitty/maglev/pkg/controller"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Window is a fixed-size ring of the most recent values.
type Window struct {
	ring   []float64
	next   int
	filled int
	x      []float64
	y      []float64
}

func NewWindow(size int) *Window {
	if size < 2 {
		size = 2
	}
	x := make([]float64, size)
	for i := range x {
		x[i] = float64(i)
	}
	return &Window{
		ring: make([]float64, size),
		x:    x,
		y:    make([]float64, size),
	}
}

func (w *Window) Add(v float64) {
	w.ring[w.next] = v
	w.next = (w.next + 1) % len(w.ring)
	if w.filled < len(w.ring) {
		w.filled++
	}
}

func (w *Window) Len() int {
	return w.filled
}

// Values returns the held values oldest first. The slice is reused by the
// next call.
func (w *Window) Values() []float64 {
	start := 0
	if w.filled == len(w.ring) {
		start = w.next
	}
	for i := 0; i < w.filled; i++ {
		w.y[i] = w.ring[(start+i)%len(w.ring)]
	}
	return w.y[:w.filled]
}

func (w *Window) Mean() float64 {
	if w.filled == 0 {
		return 0
	}
	return stat.Mean(w.Values(), nil)
}

func (w *Window) StdDev() float64 {
	if w.filled < 2 {
		return 0
	}
	return stat.StdDev(w.Values(), nil)
}

func (w *Window) RMS() float64 {
	if w.filled == 0 {
		return 0
	}
	v := w.Values()
	return floats.Norm(v, 2) / math.Sqrt(float64(len(v)))
}

// Slope is the least-squares drift per sample.
func (w *Window) Slope() float64 {
	if w.filled < 2 {
		return 0
	}
	_, beta := stat.LinearRegression(w.x[:w.filled], w.Values(), nil, false)
	return beta
}

// Quantile returns the empirical p-quantile of the absolute values.
func (w *Window) Quantile(p float64) float64 {
	if w.filled == 0 {
		return 0
	}
	v := w.Values()
	for i := range v {
		v[i] = math.Abs(v[i])
	}
	sort.Float64s(v)
	return stat.Quantile(p, stat.Empirical, v, nil)
}

// Summary describes the control error over the window.
type Summary struct {
	Steps  uint64  `json:"steps"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
	RMS    float64 `json:"rms"`
	Drift  float64 `json:"drift"`
	P99    float64 `json:"p99"`
}

func (w *Window) Summary() Summary {
	return Summary{
		Mean:   w.Mean(),
		StdDev: w.StdDev(),
		RMS:    w.RMS(),
		Drift:  w.Slope(),
		P99:    w.Quantile(0.99),
	}
}

// ErrorStats publishes a Summary of e_k over the last size samples every
// every samples.
func ErrorStats(ctx context.Context, in <-chan controller.Sample, size, every int) (<-chan Summary, func() error) {
	c := make(chan Summary, 1)
	if every < 1 {
		every = 1
	}
	w := NewWindow(size)
	return c, func() error {
		defer close(c)
		n := 0
		for {
			select {
			case <-ctx.Done():
				return nil
			case s, ok := <-in:
				if !ok {
					return nil
				}
				w.Add(s.E)
				n++
				if n%every != 0 {
					continue
				}
				sum := w.Summary()
				sum.Steps = s.Step
				slog.Debug("loop error summary", "rms", sum.RMS, "drift", sum.Drift, "module", "stats")
				select {
				case c <- sum:
				case <-ctx.Done():
					return nil
				}
			}
		}
	}
}
