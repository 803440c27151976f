package controller

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/mikesmitty/maglev/pkg/leadlag"
)

// SamplePeriod is the fixed control period. The filter coefficients are
// derived for exactly this period.
const SamplePeriod = time.Millisecond

// Ts is SamplePeriod in seconds.
var Ts = SamplePeriod.Seconds()

var ErrNonFinite = errors.New("controller: value must be finite")

// Param identifies a tunable by its single-letter tag.
type Param byte

const (
	ParamGain  Param = 'G'
	ParamZero  Param = 'Z'
	ParamPole  Param = 'P'
	ParamRef   Param = 'R'
	ParamBias  Param = 'B'
	ParamScale Param = 'S'
)

// Params lists the tunables in echo order.
var Params = []Param{ParamGain, ParamZero, ParamPole, ParamRef, ParamBias, ParamScale}

func (p Param) Valid() bool {
	switch p {
	case ParamGain, ParamZero, ParamPole, ParamRef, ParamBias, ParamScale:
		return true
	}
	return false
}

// Name is the long name used for config keys and telemetry.
func (p Param) Name() string {
	switch p {
	case ParamGain:
		return "gain"
	case ParamZero:
		return "zero"
	case ParamPole:
		return "pole"
	case ParamRef:
		return "ref"
	case ParamBias:
		return "bias"
	case ParamScale:
		return "scale"
	}
	return "unknown"
}

func (p Param) String() string {
	return string(p)
}

// Config holds the tunables. Values are replaced wholesale, never mutated in
// place once published.
type Config struct {
	Gain  float64 `json:"gain"`  // G0
	Zero  float64 `json:"zero"`  // wz, rad/s
	Pole  float64 `json:"pole"`  // wp, rad/s
	Ref   float64 `json:"ref"`   // Vref, volts
	Bias  float64 `json:"bias"`  // u_bias, duty counts
	Scale float64 `json:"scale"` // du_scale, duty counts per volt
}

func DefaultConfig() Config {
	return Config{
		Gain:  5,
		Zero:  40,
		Pole:  120,
		Ref:   0.6,
		Bias:  500,
		Scale: 50,
	}
}

func (c Config) Get(p Param) (float64, bool) {
	switch p {
	case ParamGain:
		return c.Gain, true
	case ParamZero:
		return c.Zero, true
	case ParamPole:
		return c.Pole, true
	case ParamRef:
		return c.Ref, true
	case ParamBias:
		return c.Bias, true
	case ParamScale:
		return c.Scale, true
	}
	return 0, false
}

// With returns a copy of c with p set to v. Unknown tags return c unchanged.
func (c Config) With(p Param, v float64) Config {
	switch p {
	case ParamGain:
		c.Gain = v
	case ParamZero:
		c.Zero = v
	case ParamPole:
		c.Pole = v
	case ParamRef:
		c.Ref = v
	case ParamBias:
		c.Bias = v
	case ParamScale:
		c.Scale = v
	}
	return c
}

func (c Config) Filter() leadlag.Params {
	return leadlag.Params{Gain: c.Gain, Zero: c.Zero, Pole: c.Pole}
}

// Coefficients validates c and derives its filter coefficients.
func (c Config) Coefficients() (leadlag.Coefficients, error) {
	for _, p := range Params {
		v, _ := c.Get(p)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return leadlag.Coefficients{}, &ConfigurationError{Param: p, Value: v, Err: ErrNonFinite}
		}
	}
	coeffs, err := leadlag.Derive(c.Filter(), Ts)
	if err != nil {
		p := ParamGain
		switch {
		case !(c.Zero > 0):
			p = ParamZero
		case !(c.Pole > 0), errors.Is(err, leadlag.ErrUnstable):
			p = ParamPole
		}
		v, _ := c.Get(p)
		return leadlag.Coefficients{}, &ConfigurationError{Param: p, Value: v, Err: err}
	}
	return coeffs, nil
}

// String renders the parameter set the way the tuning console echoes it.
func (c Config) String() string {
	var b strings.Builder
	for i, p := range Params {
		if i > 0 {
			b.WriteByte(' ')
		}
		v, _ := c.Get(p)
		b.WriteString(p.String())
		b.WriteByte('=')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}

// ConfigurationError rejects a tuning update. The previous configuration
// stays in effect.
type ConfigurationError struct {
	Param Param
	Value float64
	Err   error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("controller: rejected %s=%v: %v", e.Param, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}
