// Package controller runs the lead-lag position loop of the levitation coil.
//
// The control context owns the loop state and is the only caller of Step.
// Tuning contexts call UpdateParameter or Update; each publishes a complete
// configuration and coefficient snapshot with a single atomic store, so a step
// always sees one consistent set.
package controller

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/mikesmitty/maglev/pkg/hbridge"
	"github.com/mikesmitty/maglev/pkg/leadlag"
)

// Sensor returns the current sensor voltage. adc.Sampler satisfies it.
type Sensor interface {
	Acquire() float64
}

// Actuator clamps and applies a command. hbridge.HBridge satisfies it.
type Actuator interface {
	Drive(u float64) (hbridge.Output, error)
}

// State is the compensator memory.
type State struct {
	VHall float64 // last sensor voltage
	E     float64 // e[k]
	E1    float64 // e[k-1]
	DU    float64 // du[k]
	DU1   float64 // du[k-1]
	U     float64 // unclamped command
}

// Sample is the per-step diagnostic record.
type Sample struct {
	Step  uint64  `json:"step"`
	VHall float64 `json:"v_hall"`
	U     float64 `json:"u_k"`
	DU    float64 `json:"du_k"`
	E     float64 `json:"e_k"`
	hbridge.Output
}

type snapshot struct {
	cfg    Config
	coeffs leadlag.Coefficients
}

type Option func(*Controller)

// WithDiagnostics offers every step's Sample to ch. Sends never block; a
// full channel drops the sample.
func WithDiagnostics(ch chan<- Sample) Option {
	return func(c *Controller) {
		c.diag = ch
	}
}

type Controller struct {
	snap   atomic.Pointer[snapshot]
	tuneMu sync.Mutex

	sensor   Sensor
	actuator Actuator
	diag     chan<- Sample

	// Owned by the control context.
	state        State
	driveFailing bool

	reset       atomic.Bool
	steps       atomic.Uint64
	saturations atomic.Uint64
	driveErrors atomic.Uint64
	dropped     atomic.Uint64
	divergences atomic.Uint64
}

// New derives the initial coefficients from cfg. The loop state starts at zero.
func New(cfg Config, sensor Sensor, actuator Actuator, opts ...Option) (*Controller, error) {
	coeffs, err := cfg.Coefficients()
	if err != nil {
		return nil, err
	}
	c := &Controller{
		sensor:   sensor,
		actuator: actuator,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.snap.Store(&snapshot{cfg: cfg, coeffs: coeffs})
	slog.Info("controller configured", "config", cfg.String(), "b0", coeffs.B0, "b1", coeffs.B1, "a1", coeffs.A1, "module", "controller")
	return c, nil
}

// Step advances the loop by one sample period. It always returns true.
func (c *Controller) Step() bool {
	s := c.snap.Load()
	st := &c.state
	if c.reset.Swap(false) {
		*st = State{}
	}

	st.VHall = c.sensor.Acquire()
	st.E = st.VHall - s.cfg.Ref
	st.DU = s.coeffs.B0*st.E + s.coeffs.B1*st.E1 - s.coeffs.A1*st.DU1
	st.U = s.cfg.Bias + s.cfg.Scale*st.DU

	out, err := c.actuator.Drive(st.U)
	if err != nil {
		c.driveErrors.Add(1)
		if !c.driveFailing {
			slog.Error("actuator write failed", "error", err, "module", "controller")
			c.driveFailing = true
		}
	} else if c.driveFailing {
		slog.Info("actuator writes recovered", "errors", c.driveErrors.Load(), "module", "controller")
		c.driveFailing = false
	}
	if out.Saturated {
		c.saturations.Add(1)
	}

	st.E1 = st.E
	st.DU1 = st.DU
	if math.IsNaN(st.DU) || math.IsInf(st.DU, 0) {
		// A non-finite output would otherwise poison every later step.
		c.divergences.Add(1)
		st.E1, st.DU1 = 0, 0
	}

	n := c.steps.Add(1)
	if c.diag != nil {
		select {
		case c.diag <- Sample{Step: n, VHall: st.VHall, U: st.U, DU: st.DU, E: st.E, Output: out}:
		default:
			c.dropped.Add(1)
		}
	}
	return true
}

// UpdateParameter applies one tagged tunable and republishes the
// coefficients. Unknown tags are ignored. A ConfigurationError leaves the
// previous configuration in effect.
func (c *Controller) UpdateParameter(tag byte, value float64) error {
	p := Param(tag)
	if !p.Valid() {
		slog.Debug("ignoring unknown parameter tag", "tag", string(tag), "value", value, "module", "controller")
		return nil
	}
	c.tuneMu.Lock()
	defer c.tuneMu.Unlock()
	return c.publish(c.snap.Load().cfg.With(p, value))
}

// Update replaces the whole configuration.
func (c *Controller) Update(cfg Config) error {
	c.tuneMu.Lock()
	defer c.tuneMu.Unlock()
	return c.publish(cfg)
}

func (c *Controller) publish(cfg Config) error {
	coeffs, err := cfg.Coefficients()
	if err != nil {
		slog.Warn("configuration rejected", "error", err, "module", "controller")
		return err
	}
	c.snap.Store(&snapshot{cfg: cfg, coeffs: coeffs})
	slog.Info("configuration updated", "config", cfg.String(), "b0", coeffs.B0, "b1", coeffs.B1, "a1", coeffs.A1, "module", "controller")
	return nil
}

// Reset zeroes the loop state at the start of the next step.
func (c *Controller) Reset() {
	c.reset.Store(true)
}

func (c *Controller) Config() Config {
	return c.snap.Load().cfg
}

func (c *Controller) Coefficients() leadlag.Coefficients {
	return c.snap.Load().coeffs
}

// State returns the loop memory. Only call it from the goroutine running Step.
func (c *Controller) State() State {
	return c.state
}

func (c *Controller) Stats() Stats {
	return Stats{
		Steps:              c.steps.Load(),
		Saturations:        c.saturations.Load(),
		DriveErrors:        c.driveErrors.Load(),
		DroppedDiagnostics: c.dropped.Load(),
		Divergences:        c.divergences.Load(),
	}
}

// Stats are cumulative counters, safe to read from any goroutine.
type Stats struct {
	Steps              uint64
	Saturations        uint64
	DriveErrors        uint64
	DroppedDiagnostics uint64
	Divergences        uint64
}
