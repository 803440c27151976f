package maglev

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/mikesmitty/maglev/pkg/adc"
	"github.com/mikesmitty/maglev/pkg/controller"
	"github.com/mikesmitty/maglev/pkg/hbridge"
	"github.com/mikesmitty/maglev/pkg/plant"
	"github.com/mikesmitty/maglev/pkg/scheduler"
	"github.com/mikesmitty/maglev/pkg/stats"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// SimOptions describe one simulated run.
type SimOptions struct {
	Steps    int
	Gap      float64
	Noise    float64
	Seed     uint64
	Realtime bool
}

// SimResult holds one entry per step.
type SimResult struct {
	Gap     []float64
	Command []float64
	Summary stats.Summary
	Stats   controller.Stats
}

func Coeffs() func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		setupLogging()
		cfg := ConfigFromViper()
		coeffs, err := cfg.Coefficients()
		errChk(err)
		w := cmd.OutOrStdout()
		fmt.Fprintln(w, cfg.String())
		fmt.Fprintf(w, "Ts=%g b0=%.12g b1=%.12g a1=%.12g\n", controller.Ts, coeffs.B0, coeffs.B1, coeffs.A1)
		fmt.Fprintf(w, "dc_gain=%.6g stable=%t\n", coeffs.DCGain(), coeffs.Stable())
	}
}

func Sim() func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		setupLogging()
		opts := SimOptions{
			Steps:    viper.GetInt("sim-steps"),
			Gap:      viper.GetFloat64("sim-gap") / 1000,
			Noise:    viper.GetFloat64("sim-noise"),
			Seed:     viper.GetUint64("sim-seed"),
			Realtime: viper.GetBool("sim-realtime"),
		}
		res, err := Simulate(context.Background(), ConfigFromViper(), opts)
		errChk(err)
		errChk(PlotSim(cmd.OutOrStdout(), res))
	}
}

// Simulate closes the loop around the plant model. With Realtime the steps
// are paced by the scheduler, otherwise they run back to back.
func Simulate(ctx context.Context, cfg controller.Config, opts SimOptions) (SimResult, error) {
	p := plant.DefaultParams()
	p.Noise = opts.Noise
	pl := plant.New(p, opts.Seed)
	pl.SetGap(opts.Gap)

	hb, err := hbridge.New(pl.Primary, pl.Secondary)
	if err != nil {
		return SimResult{}, err
	}
	ctrl, err := controller.New(cfg, adc.NewSampler(pl), hb)
	if err != nil {
		return SimResult{}, err
	}
	hb.Enable()
	defer hb.HardStop()

	res := SimResult{
		Gap:     make([]float64, 0, opts.Steps),
		Command: make([]float64, 0, opts.Steps),
	}
	errWin := stats.NewWindow(opts.Steps)
	step := func() bool {
		if len(res.Gap) >= opts.Steps {
			return false
		}
		pl.Advance(controller.SamplePeriod)
		ctrl.Step()
		st := ctrl.State()
		res.Gap = append(res.Gap, pl.Gap()*1000)
		res.Command = append(res.Command, st.U)
		errWin.Add(st.E)
		return true
	}

	if opts.Realtime {
		if err := scheduler.New(controller.SamplePeriod, step).Run(ctx); err != nil {
			return SimResult{}, err
		}
	} else {
		for step() {
		}
	}

	res.Summary = errWin.Summary()
	res.Stats = ctrl.Stats()
	res.Summary.Steps = res.Stats.Steps
	slog.Debug("simulation finished", "steps", res.Stats.Steps, "saturations", res.Stats.Saturations, "rms", res.Summary.RMS)
	return res, nil
}

func PlotSim(w io.Writer, res SimResult) error {
	if len(res.Gap) == 0 {
		return fmt.Errorf("simulation produced no samples")
	}
	graph := asciigraph.Plot(res.Gap,
		asciigraph.Height(15),
		asciigraph.Width(80),
		asciigraph.Caption("gap error (mm)"),
	)
	if _, err := fmt.Fprintln(w, graph); err != nil {
		return err
	}
	graph = asciigraph.Plot(res.Command,
		asciigraph.Height(10),
		asciigraph.Width(80),
		asciigraph.Caption("coil command u_k"),
	)
	if _, err := fmt.Fprintln(w, graph); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "steps=%d saturations=%d final_gap=%.4fmm error_rms=%.5f error_p99=%.5f duration=%v\n",
		res.Stats.Steps, res.Stats.Saturations, res.Gap[len(res.Gap)-1], res.Summary.RMS, res.Summary.P99,
		time.Duration(res.Stats.Steps)*controller.SamplePeriod)
	return err
}
