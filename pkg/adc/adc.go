// Package adc acquires oversampled sensor readings and converts them to volts.
package adc

import (
	"log/slog"
	"sync/atomic"

	"periph.io/x/conn/v3/analog"
)

const (
	// Oversample is the number of back-to-back conversions averaged per sample.
	Oversample      = 8
	oversampleShift = 3

	FullScaleCode    = 4095
	ReferenceVoltage = 3.3
	// SensorGain undoes the divider in front of the converter.
	SensorGain = 2.0
)

// Reader is a single analog channel. periph's analog.PinADC satisfies it.
type Reader interface {
	Read() (analog.Sample, error)
}

type Sampler struct {
	r       Reader
	last    int32
	failing bool
	errors  atomic.Uint64
}

func NewSampler(r Reader) *Sampler {
	return &Sampler{r: r}
}

// Acquire returns the averaged sensor voltage.
func (s *Sampler) Acquire() float64 {
	return Voltage(s.AcquireRaw())
}

// AcquireRaw reads Oversample codes and averages them with a right shift, so
// the result is truncated rather than rounded. A failed conversion repeats
// the previous good code. Out-of-range codes pass through unchanged.
func (s *Sampler) AcquireRaw() int32 {
	var sum int64
	for i := 0; i < Oversample; i++ {
		smp, err := s.r.Read()
		if err != nil {
			s.errors.Add(1)
			if !s.failing {
				slog.Warn("adc read failed, reusing last code", "error", err, "code", s.last, "module", "adc")
				s.failing = true
			}
			sum += int64(s.last)
			continue
		}
		if s.failing {
			slog.Info("adc reads recovered", "errors", s.errors.Load(), "module", "adc")
			s.failing = false
		}
		s.last = smp.Raw
		sum += int64(smp.Raw)
	}
	return int32(sum >> oversampleShift)
}

// ReadErrors is the number of failed conversions since creation.
func (s *Sampler) ReadErrors() uint64 {
	return s.errors.Load()
}

// Voltage converts an averaged code to the sensor voltage.
func Voltage(code int32) float64 {
	return float64(code) * ReferenceVoltage / FullScaleCode * SensorGain
}
