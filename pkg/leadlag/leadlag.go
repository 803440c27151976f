// Package leadlag derives the discrete coefficients of a first-order lead/lag
// compensator G(s) = G0 * (1+s/wz)/(1+s/wp) using the bilinear (Tustin)
// transform. The DC gain of the result is G0.
package leadlag

import (
	"errors"
	"fmt"
	"math"
)

// MaxPoleProduct bounds wp*Ts. Beyond it the pole sits past the usable band
// of the sample rate and the configuration is refused as unstable.
const MaxPoleProduct = 4.0

var (
	ErrInvalidParameter = errors.New("leadlag: invalid parameter")
	ErrUnstable         = errors.New("leadlag: unstable coefficients")
)

// Params are the continuous-time design parameters.
type Params struct {
	Gain float64 // G0
	Zero float64 // wz, rad/s
	Pole float64 // wp, rad/s
}

// Coefficients of du[k] = B0*e[k] + B1*e[k-1] - A1*du[k-1].
type Coefficients struct {
	B0 float64
	B1 float64
	A1 float64
}

// Derive maps p onto discrete coefficients for the sample period ts (seconds).
func Derive(p Params, ts float64) (Coefficients, error) {
	if err := positive("zero", p.Zero); err != nil {
		return Coefficients{}, err
	}
	if err := positive("pole", p.Pole); err != nil {
		return Coefficients{}, err
	}
	if err := positive("sample period", ts); err != nil {
		return Coefficients{}, err
	}
	if math.IsNaN(p.Gain) || math.IsInf(p.Gain, 0) {
		return Coefficients{}, fmt.Errorf("%w: gain %v", ErrInvalidParameter, p.Gain)
	}
	if p.Pole*ts >= MaxPoleProduct {
		return Coefficients{}, fmt.Errorf("%w: pole*Ts = %v exceeds %v", ErrUnstable, p.Pole*ts, MaxPoleProduct)
	}

	az := 2 / (p.Zero * ts)
	ap := 2 / (p.Pole * ts)
	c := Coefficients{
		B0: p.Gain * (1 + az) / (1 + ap),
		B1: p.Gain * (1 - az) / (1 + ap),
		A1: (1 - ap) / (1 + ap),
	}
	if !c.finite() {
		return Coefficients{}, fmt.Errorf("%w: non-finite coefficients %+v", ErrUnstable, c)
	}
	if !c.Stable() {
		return Coefficients{}, fmt.Errorf("%w: |a1| = %v", ErrUnstable, math.Abs(c.A1))
	}
	return c, nil
}

// Stable reports whether the filter pole lies strictly inside the unit circle.
func (c Coefficients) Stable() bool {
	return math.Abs(c.A1) < 1
}

// DCGain is the steady-state gain of the discrete filter, (b0+b1)/(1+a1).
func (c Coefficients) DCGain() float64 {
	return (c.B0 + c.B1) / (1 + c.A1)
}

func (c Coefficients) finite() bool {
	for _, v := range [...]float64{c.B0, c.B1, c.A1} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func positive(name string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be positive and finite, got %v", ErrInvalidParameter, name, v)
	}
	return nil
}
