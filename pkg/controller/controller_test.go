package controller

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/mikesmitty/maglev/pkg/hbridge"
	"github.com/mikesmitty/maglev/pkg/leadlag"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

type constSensor struct {
	mu sync.Mutex
	v  float64
}

func (s *constSensor) Acquire() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.v
}

func (s *constSensor) set(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.v = v
}

type recordingActuator struct {
	commands []float64
	err      error
}

func (a *recordingActuator) Drive(u float64) (hbridge.Output, error) {
	a.commands = append(a.commands, u)
	return hbridge.Duties(u), a.err
}

func newTestController(t *testing.T, cfg Config, v float64, opts ...Option) (*Controller, *constSensor, *recordingActuator) {
	t.Helper()
	s := &constSensor{v: v}
	a := &recordingActuator{}
	c, err := New(cfg, s, a, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, s, a
}

func TestStepResponseGolden(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ref = 0.5
	c, _, a := newTestController(t, cfg, 1.5)

	golden := []float64{
		14.433962264150944,
		13.365966536133858,
		12.418875984873422,
		11.579003231868885,
		10.83421041316675,
		10.173733762619571,
	}
	k := c.Coefficients()
	var e1, du1 float64
	for i := 0; i < 200; i++ {
		c.Step()
		st := c.State()
		if st.E != 1 {
			t.Fatalf("step %d: E = %v, want 1", i, st.E)
		}
		want := k.B0*1 + k.B1*e1 - k.A1*du1
		if st.DU != want {
			t.Fatalf("step %d: DU = %v, want %v", i, st.DU, want)
		}
		if i < len(golden) && math.Abs(st.DU-golden[i]) > 1e-9 {
			t.Errorf("step %d: DU = %v, want %v", i, st.DU, golden[i])
		}
		if u := cfg.Bias + cfg.Scale*st.DU; a.commands[i] != u {
			t.Errorf("step %d: command %v, want %v", i, a.commands[i], u)
		}
		e1, du1 = 1, want
	}
	// Settles to the DC gain.
	if got := c.State().DU; math.Abs(got-5) > 1e-6 {
		t.Errorf("settled DU = %v, want 5", got)
	}
}

func TestStateShiftOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Ref = 0.5
	c, s, _ := newTestController(t, cfg, 1.5)
	k := c.Coefficients()

	c.Step()
	s.set(0.5)
	c.Step()
	st := c.State()
	want := k.B1*1 - k.A1*k.B0
	if math.Abs(st.DU-want) > 1e-12 {
		t.Errorf("DU = %v, want %v", st.DU, want)
	}
	if st.E1 != 0 || st.DU1 != st.DU {
		t.Errorf("state not shifted: %+v", st)
	}
}

func TestZeroErrorConverges(t *testing.T) {
	cfg := DefaultConfig()
	c, _, _ := newTestController(t, cfg, cfg.Ref)
	c.state = State{E1: 3, DU1: -40}

	for i := 0; i < 400; i++ {
		c.Step()
	}
	if du := c.State().DU; math.Abs(du) > 1e-12 {
		t.Errorf("DU = %v after 400 zero-error steps, want ~0", du)
	}
}

func TestEndToEndHold(t *testing.T) {
	a := &gpiotest.Pin{N: "PWM0"}
	b := &gpiotest.Pin{N: "PWM1"}
	hb, err := hbridge.New(a, b)
	if err != nil {
		t.Fatalf("hbridge.New: %v", err)
	}
	hb.Enable()

	diag := make(chan Sample, 4)
	cfg := Config{Gain: 5, Zero: 40, Pole: 120, Ref: 0.6, Bias: 500, Scale: 50}
	c, err := New(cfg, &constSensor{v: 0.6}, hb, WithDiagnostics(diag))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !c.Step() {
			t.Fatal("Step returned false")
		}
	}
	st := c.State()
	if st.E != 0 || st.DU != 0 || st.U != 500 {
		t.Errorf("state = %+v, want e=0 du=0 u=500", st)
	}
	var last Sample
	for i := 0; i < 3; i++ {
		last = <-diag
	}
	if last.Primary != 500 || last.Secondary != 523 || last.Saturated {
		t.Errorf("output = %+v, want {500 523 false}", last.Output)
	}
	if last.Step != 3 {
		t.Errorf("Step = %d, want 3", last.Step)
	}
	if a.D != hbridge.PinDuty(500) || a.D+b.D != gpio.DutyMax {
		t.Errorf("pins = %v/%v", a.D, b.D)
	}
}

func TestUpdateParameter(t *testing.T) {
	c, _, _ := newTestController(t, DefaultConfig(), 0.6)
	before := c.Coefficients()

	if err := c.UpdateParameter('G', 10); err != nil {
		t.Fatalf("UpdateParameter(G): %v", err)
	}
	after := c.Coefficients()
	if math.Abs(after.B0-2*before.B0) > 1e-12 || after.A1 != before.A1 {
		t.Errorf("coefficients after G=10: %+v, before %+v", after, before)
	}
	if c.Config().Gain != 10 {
		t.Errorf("Gain = %v, want 10", c.Config().Gain)
	}

	for _, tag := range []byte{'R', 'B', 'S'} {
		if err := c.UpdateParameter(tag, 1.25); err != nil {
			t.Errorf("UpdateParameter(%c): %v", tag, err)
		}
		if v, _ := c.Config().Get(Param(tag)); v != 1.25 {
			t.Errorf("%c = %v, want 1.25", tag, v)
		}
	}
}

func TestUpdateParameterUnknownTag(t *testing.T) {
	c, _, _ := newTestController(t, DefaultConfig(), 0.6)
	cfg, coeffs := c.Config(), c.Coefficients()
	for _, tag := range []byte{'X', 'g', '?', 0} {
		if err := c.UpdateParameter(tag, 99); err != nil {
			t.Errorf("UpdateParameter(%q) = %v, want nil", tag, err)
		}
	}
	if c.Config() != cfg || c.Coefficients() != coeffs {
		t.Errorf("unknown tag changed state: %+v %+v", c.Config(), c.Coefficients())
	}
}

func TestUpdateParameterRejected(t *testing.T) {
	tests := []struct {
		tag   byte
		value float64
		want  error
	}{
		{'Z', 0, leadlag.ErrInvalidParameter},
		{'Z', -5, leadlag.ErrInvalidParameter},
		{'P', 0, leadlag.ErrInvalidParameter},
		{'P', 5000, leadlag.ErrUnstable},
		{'G', math.Inf(1), ErrNonFinite},
		{'R', math.NaN(), ErrNonFinite},
	}
	for _, tt := range tests {
		c, _, _ := newTestController(t, DefaultConfig(), 0.6)
		cfg, coeffs := c.Config(), c.Coefficients()

		err := c.UpdateParameter(tt.tag, tt.value)
		if !errors.Is(err, tt.want) {
			t.Errorf("UpdateParameter(%c, %v) = %v, want %v", tt.tag, tt.value, err, tt.want)
		}
		var cerr *ConfigurationError
		if !errors.As(err, &cerr) || cerr.Param != Param(tt.tag) {
			t.Errorf("UpdateParameter(%c, %v) = %v, want ConfigurationError for %c", tt.tag, tt.value, err, tt.tag)
		}
		if c.Config() != cfg || c.Coefficients() != coeffs {
			t.Errorf("rejected %c=%v changed configuration", tt.tag, tt.value)
		}
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Zero = 0
	if _, err := New(cfg, &constSensor{}, &recordingActuator{}); !errors.Is(err, leadlag.ErrInvalidParameter) {
		t.Errorf("New error = %v, want %v", err, leadlag.ErrInvalidParameter)
	}
}

func TestSaturationAndDriveErrors(t *testing.T) {
	cfg := DefaultConfig()
	c, _, a := newTestController(t, cfg, 6.6)
	a.err = errors.New("pwm busy")

	c.Step()
	stats := c.Stats()
	if stats.Saturations != 1 {
		t.Errorf("Saturations = %d, want 1", stats.Saturations)
	}
	if stats.DriveErrors != 1 {
		t.Errorf("DriveErrors = %d, want 1", stats.DriveErrors)
	}
	if stats.Steps != 1 {
		t.Errorf("Steps = %d, want 1", stats.Steps)
	}
}

func TestDiagnosticsNeverBlock(t *testing.T) {
	diag := make(chan Sample, 1)
	c, _, _ := newTestController(t, DefaultConfig(), 0.6, WithDiagnostics(diag))
	for i := 0; i < 3; i++ {
		c.Step()
	}
	if got := c.Stats().DroppedDiagnostics; got != 2 {
		t.Errorf("DroppedDiagnostics = %d, want 2", got)
	}
}

func TestResetAndDivergence(t *testing.T) {
	cfg := DefaultConfig()
	c, s, _ := newTestController(t, cfg, cfg.Ref+1)
	c.Step()
	c.Reset()
	s.set(cfg.Ref)
	c.Step()
	if st := c.State(); st.DU != 0 || st.E1 != 0 {
		t.Errorf("state after reset = %+v, want zero", st)
	}

	s.set(math.NaN())
	c.Step()
	s.set(cfg.Ref)
	c.Step()
	if c.Stats().Divergences != 1 {
		t.Errorf("Divergences = %d, want 1", c.Stats().Divergences)
	}
	if du := c.State().DU; du != 0 {
		t.Errorf("DU after recovery = %v, want 0", du)
	}
}

func TestConcurrentTuning(t *testing.T) {
	c, _, _ := newTestController(t, DefaultConfig(), 0.7)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 1000; i++ {
			g := 5.0
			if i%2 == 0 {
				g = 7.0
			}
			if err := c.UpdateParameter('G', g); err != nil {
				t.Errorf("UpdateParameter: %v", err)
				return
			}
		}
	}()
	for i := 0; i < 5000; i++ {
		c.Step()
	}
	<-done
	if g := c.Config().Gain; g != 5 && g != 7 {
		t.Errorf("Gain = %v, want 5 or 7", g)
	}
}
