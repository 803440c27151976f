package maglev

import (
	"bytes"
	"context"
	"math"
	"strings"
	"testing"

	"github.com/mikesmitty/maglev/pkg/controller"
	"github.com/mikesmitty/maglev/pkg/hbridge"
	"github.com/spf13/viper"
)

type holdSensor float64

func (s holdSensor) Acquire() float64 { return float64(s) }

type nopActuator struct{}

func (nopActuator) Drive(u float64) (hbridge.Output, error) { return hbridge.Duties(u), nil }

func TestConfigFromViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	if got := ConfigFromViper(); got != controller.DefaultConfig() {
		t.Errorf("ConfigFromViper() = %v with nothing set, want defaults", got)
	}
	viper.Set("zero", 55.0)
	viper.Set("ref", 0.65)
	want := controller.DefaultConfig()
	want.Zero, want.Ref = 55, 0.65
	if got := ConfigFromViper(); got != want {
		t.Errorf("ConfigFromViper() = %v, want %v", got, want)
	}
}

func TestSimulate(t *testing.T) {
	res, err := Simulate(context.Background(), controller.DefaultConfig(), SimOptions{
		Steps: 3000,
		Gap:   0.001,
		Seed:  1,
	})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	if len(res.Gap) != 3000 || len(res.Command) != 3000 {
		t.Fatalf("got %d gaps, %d commands, want 3000", len(res.Gap), len(res.Command))
	}
	if res.Stats.Steps != 3000 {
		t.Errorf("Steps = %d, want 3000", res.Stats.Steps)
	}
	if g := res.Gap[len(res.Gap)-1]; math.Abs(g) > 0.2 {
		t.Errorf("final gap = %v mm, want within 0.2 mm", g)
	}
	if res.Stats.Saturations != 0 {
		t.Errorf("Saturations = %d, want 0", res.Stats.Saturations)
	}
}

func TestSimulateRejectsBadConfig(t *testing.T) {
	cfg := controller.DefaultConfig()
	cfg.Pole = 0
	if _, err := Simulate(context.Background(), cfg, SimOptions{Steps: 10}); err == nil {
		t.Error("Simulate with zero pole = nil error")
	}
}

func TestPlotSim(t *testing.T) {
	res, err := Simulate(context.Background(), controller.DefaultConfig(), SimOptions{Steps: 200, Gap: 0.0005, Seed: 1})
	if err != nil {
		t.Fatalf("Simulate: %v", err)
	}
	var out bytes.Buffer
	if err := PlotSim(&out, res); err != nil {
		t.Fatalf("PlotSim: %v", err)
	}
	for _, want := range []string{"gap error (mm)", "coil command u_k", "steps=200 "} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("plot output missing %q", want)
		}
	}
	if err := PlotSim(&out, SimResult{}); err == nil {
		t.Error("PlotSim(empty) = nil error")
	}
}

func TestReloadTunables(t *testing.T) {
	ctrl, err := controller.New(controller.DefaultConfig(), holdSensor(0.6), nopActuator{})
	if err != nil {
		t.Fatalf("controller.New: %v", err)
	}
	next := controller.DefaultConfig()
	next.Gain = 7
	next.Pole = 0
	next.Bias = 480
	ReloadTunables(ctrl, next)

	want := controller.DefaultConfig()
	want.Gain, want.Bias = 7, 480
	if got := ctrl.Config(); got != want {
		t.Errorf("Config() = %v, want %v", got, want)
	}
}
