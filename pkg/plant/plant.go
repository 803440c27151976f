// Package plant simulates a levitated body under the coil: a linearised,
// open-loop unstable mass whose gap is read back through a simulated Hall
// sensor and converter.
package plant

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/mikesmitty/maglev/pkg/adc"
	"github.com/mikesmitty/maglev/pkg/hbridge"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
	"periph.io/x/conn/v3/physic"
)

type Params struct {
	// Instability is the negative stiffness over mass, 1/s².
	Instability float64
	// Authority is the acceleration per unit of net duty, m/s².
	Authority float64
	// HoldDuty is the net duty, in [-1, 1], that balances gravity at zero gap error.
	HoldDuty float64
	// SensorGain is volts per metre of gap error; SensorOffset is the voltage at zero.
	SensorGain   float64
	SensorOffset float64
	// Noise is the standard deviation of sensor noise in volts.
	Noise float64
	// MinGap and MaxGap bound the travel (magnet face and floor).
	MinGap float64
	MaxGap float64
	// Substeps per Advance call.
	Substeps int
}

func DefaultParams() Params {
	return Params{
		Instability:  400,
		Authority:    61,
		HoldDuty:     float64(500-523) / hbridge.MaxDuty,
		SensorGain:   100,
		SensorOffset: 0.6,
		MinGap:       -0.005,
		MaxGap:       0.010,
		Substeps:     10,
	}
}

// Plant owns two recording PWM pins for the coil and exposes its sensor as an
// adc.Reader.
type Plant struct {
	p Params

	Primary   *gpiotest.Pin
	Secondary *gpiotest.Pin

	mu  sync.Mutex
	x   float64
	v   float64
	rng *rand.Rand
}

func New(p Params, seed uint64) *Plant {
	if p.Substeps < 1 {
		p.Substeps = 1
	}
	return &Plant{
		p:         p,
		Primary:   &gpiotest.Pin{N: "SIM_PWM_A", Num: 0},
		Secondary: &gpiotest.Pin{N: "SIM_PWM_B", Num: 1},
		rng:       rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
}

// SetGap places the body at gap error x (metres) at rest.
func (pl *Plant) SetGap(x float64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.x, pl.v = x, 0
}

// Gap is the current gap error in metres; positive is farther from the magnet.
func (pl *Plant) Gap() float64 {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	return pl.x
}

// Push adds an instantaneous velocity change, m/s.
func (pl *Plant) Push(dv float64) {
	pl.mu.Lock()
	defer pl.mu.Unlock()
	pl.v += dv
}

// Advance integrates the body over d with the duties currently on the pins.
func (pl *Plant) Advance(d time.Duration) {
	net := netDuty(pl.Primary, pl.Secondary)
	pl.mu.Lock()
	defer pl.mu.Unlock()
	dt := d.Seconds() / float64(pl.p.Substeps)
	for i := 0; i < pl.p.Substeps; i++ {
		acc := pl.p.Instability*pl.x - pl.p.Authority*(net-pl.p.HoldDuty)
		pl.v += acc * dt
		pl.x += pl.v * dt
		switch {
		case pl.x < pl.p.MinGap:
			pl.x, pl.v = pl.p.MinGap, 0
		case pl.x > pl.p.MaxGap:
			pl.x, pl.v = pl.p.MaxGap, 0
		}
	}
}

// Read converts the sensor voltage to a converter code, clamped to full scale.
func (pl *Plant) Read() (analog.Sample, error) {
	pl.mu.Lock()
	volts := pl.p.SensorOffset + pl.p.SensorGain*pl.x
	if pl.p.Noise > 0 {
		volts += pl.rng.NormFloat64() * pl.p.Noise
	}
	pl.mu.Unlock()

	code := int32(volts / (adc.ReferenceVoltage * adc.SensorGain) * adc.FullScaleCode)
	code = min(max(code, 0), adc.FullScaleCode)
	return analog.Sample{
		V:   physic.ElectricPotential(volts * float64(physic.Volt)),
		Raw: code,
	}, nil
}

func netDuty(a, b *gpiotest.Pin) float64 {
	a.Lock()
	da := a.D
	a.Unlock()
	b.Lock()
	db := b.D
	b.Unlock()
	return float64(da-db) / float64(gpio.DutyMax)
}
