// Package scheduler fires a step function at a fixed period without
// re-entering it. Ticks that arrive while a step is still running are
// counted as overruns and skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

var ErrOverrun = errors.New("scheduler: step overran its period")

// logEvery limits overrun log lines under a sustained overload.
const logEvery = time.Second

type Option func(*Scheduler)

func WithClock(c clockwork.Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLatency reports the duration of every step.
func WithLatency(fn func(time.Duration)) Option {
	return func(s *Scheduler) {
		s.latency = fn
	}
}

type Scheduler struct {
	period  time.Duration
	step    func() bool
	clock   clockwork.Clock
	latency func(time.Duration)

	ticks      atomic.Uint64
	overruns   atomic.Uint64
	maxLatency atomic.Int64
	lastLog    time.Time
}

// New runs step every period. Run returns once step reports false.
func New(period time.Duration, step func() bool, opts ...Option) *Scheduler {
	s := &Scheduler{
		period: period,
		step:   step,
		clock:  clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.period <= 0 {
		return fmt.Errorf("scheduler: invalid period %v", s.period)
	}
	t := s.clock.NewTicker(s.period)
	defer t.Stop()

	slog.Info("starting control scheduler", "period", s.period, "module", "scheduler")
	for {
		select {
		case <-ctx.Done():
			return nil
		case tick := <-t.Chan():
			start := s.clock.Now()
			cont := s.step()
			now := s.clock.Now()
			s.observe(now.Sub(start))

			if late := now.Sub(tick); late >= s.period {
				s.overrun(t, late, now)
			}
			s.ticks.Add(1)
			if !cont {
				slog.Info("step requested stop", "ticks", s.ticks.Load(), "module", "scheduler")
				return nil
			}
		}
	}
}

func (s *Scheduler) observe(d time.Duration) {
	if s.latency != nil {
		s.latency(d)
	}
	for {
		cur := s.maxLatency.Load()
		if int64(d) <= cur || s.maxLatency.CompareAndSwap(cur, int64(d)) {
			return
		}
	}
}

// overrun counts every period boundary crossed since the tick fired and
// discards the tick the ticker buffered meanwhile.
func (s *Scheduler) overrun(t clockwork.Ticker, late time.Duration, now time.Time) {
	missed := uint64(late / s.period)
	total := s.overruns.Add(missed)
	select {
	case <-t.Chan():
	default:
	}
	if s.lastLog.IsZero() || now.Sub(s.lastLog) >= logEvery {
		s.lastLog = now
		slog.Warn(ErrOverrun.Error(), "late", late, "missed", missed, "total", total, "module", "scheduler")
	}
}

func (s *Scheduler) Stats() Stats {
	return Stats{
		Ticks:      s.ticks.Load(),
		Overruns:   s.overruns.Load(),
		MaxLatency: time.Duration(s.maxLatency.Load()),
	}
}

type Stats struct {
	Ticks      uint64
	Overruns   uint64
	MaxLatency time.Duration
}
