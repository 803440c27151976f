package hbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
)

const (
	// MaxDuty is the PWM resolution ceiling of the drive pair.
	MaxDuty = 1023
	// Frequency is the carrier of both channels.
	Frequency = 50 * physic.KiloHertz
)

var ErrPinNotFound = errors.New("hbridge: pin not found")

// Output is one complementary duty pair. Primary+Secondary == MaxDuty.
type Output struct {
	Primary   int
	Secondary int
	Saturated bool
}

// Duties clamps the command u into [0, MaxDuty] and returns the push-pull
// pair. Fractions are truncated and NaN drives the primary to zero.
func Duties(u float64) Output {
	var o Output
	switch {
	case math.IsNaN(u), u < 0:
		o.Primary = 0
		o.Saturated = true
	case u > MaxDuty:
		o.Primary = MaxDuty
		o.Saturated = true
	default:
		o.Primary = int(u)
	}
	o.Secondary = MaxDuty - o.Primary
	return o
}

// HBridge drives a coil from two complementary PWM pins, optionally gated by
// enable pins.
type HBridge struct {
	freq     physic.Frequency
	primary  gpio.PinOut
	second   gpio.PinOut
	enable   []gpio.PinOut
	enabled  bool
	mu       sync.Mutex
	errCount atomic.Uint64
}

// NewHBridge looks up the pins by name in the periph registry. host.Init must
// have been called.
func NewHBridge(primaryPin, secondaryPin string, enablePins ...string) (*HBridge, error) {
	p, err := byName(primaryPin)
	if err != nil {
		return nil, err
	}
	s, err := byName(secondaryPin)
	if err != nil {
		return nil, err
	}
	var en []gpio.PinOut
	for _, name := range enablePins {
		e, err := byName(name)
		if err != nil {
			return nil, err
		}
		en = append(en, e)
	}
	return New(p, s, en...)
}

// New drives the given pins. Both PWM outputs start at zero and the bridge
// starts disabled.
func New(primary, secondary gpio.PinOut, enable ...gpio.PinOut) (*HBridge, error) {
	h := &HBridge{
		freq:    Frequency,
		primary: primary,
		second:  secondary,
		enable:  enable,
	}
	if err := h.HardStop(); err != nil {
		return nil, err
	}
	return h, nil
}

// Drive clamps u and writes the pair. While disabled the pair is computed but
// the pins are left idle.
func (h *HBridge) Drive(u float64) (Output, error) {
	o := Duties(u)
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.enabled {
		return o, nil
	}
	if err := h.write(o.Primary); err != nil {
		h.errCount.Add(1)
		return o, err
	}
	return o, nil
}

// WriteErrors counts failed PWM writes from Drive.
func (h *HBridge) WriteErrors() uint64 {
	return h.errCount.Load()
}

func (h *HBridge) GetEnable() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.enabled
}

func (h *HBridge) Enable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, p := range h.enable {
		if err := p.Out(gpio.High); err != nil {
			slog.Error("failed to raise enable pin", "pin", p, "error", err, "module", "hbridge")
		}
	}
	h.enabled = true
	slog.Info("coil drive enabled", "module", "hbridge")
}

func (h *HBridge) Disable() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.stop(); err != nil {
		slog.Error("failed to disable coil drive", "error", err, "module", "hbridge")
	}
}

// HardStop drops the enable pins and zeroes both PWM outputs.
func (h *HBridge) HardStop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stop()
}

func (h *HBridge) stop() error {
	var errs []error
	for _, p := range h.enable {
		if err := p.Out(gpio.Low); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.primary.PWM(0, h.freq); err != nil {
		errs = append(errs, err)
	}
	if err := h.second.PWM(0, h.freq); err != nil {
		errs = append(errs, err)
	}
	h.enabled = false
	if len(errs) > 0 {
		return fmt.Errorf("failed to stop hbridge: %w", errors.Join(errs...))
	}
	return nil
}

func (h *HBridge) write(primary int) error {
	d := PinDuty(primary)
	errA := h.primary.PWM(d, h.freq)
	errB := h.second.PWM(gpio.DutyMax-d, h.freq)
	if errA != nil || errB != nil {
		return fmt.Errorf("failed to set hbridge pwm: %v, %v", errA, errB)
	}
	return nil
}

// PinDuty scales a duty in [0, MaxDuty] onto periph's duty range.
func PinDuty(duty int) gpio.Duty {
	return gpio.Duty(int64(duty) * int64(gpio.DutyMax) / MaxDuty)
}

func byName(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrPinNotFound, name)
	}
	return p, nil
}
