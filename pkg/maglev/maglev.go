package maglev

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/mikesmitty/maglev/pkg/adc"
	"github.com/mikesmitty/maglev/pkg/controller"
	"github.com/mikesmitty/maglev/pkg/dutycycle"
	"github.com/mikesmitty/maglev/pkg/hbridge"
	"github.com/mikesmitty/maglev/pkg/mqtt"
	"github.com/mikesmitty/maglev/pkg/router"
	"github.com/mikesmitty/maglev/pkg/scheduler"
	"github.com/mikesmitty/maglev/pkg/stats"
	"github.com/mikesmitty/maglev/pkg/tuning"
	"github.com/mikesmitty/maglev/pkg/watchdog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"periph.io/x/host/v3"
)

const (
	diagBuffer   = 256
	statsWindow  = 1000
	dutyWindow   = 100
	reportEvery  = 1000
	latencyEvery = 10 * time.Second
)

func Root() func(cmd *cobra.Command, args []string) {
	return func(cmd *cobra.Command, args []string) {
		setupLogging()

		hostState, err := host.Init()
		errChk(err)
		for i := range hostState.Loaded {
			slog.Debug("loaded", "driver", hostState.Loaded[i])
		}
		for i := range hostState.Failed {
			slog.Error("failed", "driver", hostState.Failed[i])
		}
		for i := range hostState.Skipped {
			slog.Debug("skipped", "driver", hostState.Skipped[i])
		}

		ctx, cancelFunc := context.WithCancel(context.Background())
		g, ctx := errgroup.WithContext(ctx)
		g.SetLimit(-1)

		// HBridge
		hb, err := hbridge.NewHBridge(
			viper.GetString("pwm-primary"),
			viper.GetString("pwm-secondary"),
			enablePins()...,
		)
		errChk(err)

		// ADC
		iio, err := adc.OpenIIO(viper.GetString("adc-device"), viper.GetInt("adc-channel"))
		errChk(err)
		defer iio.Close()
		sampler := adc.NewSampler(iio)

		// Controller
		diagCh := make(chan controller.Sample, diagBuffer)
		ctrl, err := controller.New(ConfigFromViper(), sampler, hb, controller.WithDiagnostics(diagCh))
		errChk(err)
		diagFan := router.NewFan[controller.Sample]("diagnostics", diagCh)

		// Hot reload of the tunables from the config file
		if viper.ConfigFileUsed() != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				slog.Info("config file changed", "file", e.Name)
				ReloadTunables(ctrl, ConfigFromViper())
			})
			viper.WatchConfig()
		}

		// Step latency statistics
		latencyCh := make(chan float64, diagBuffer)
		sched := scheduler.New(controller.SamplePeriod, ctrl.Step, scheduler.WithLatency(func(d time.Duration) {
			select {
			case latencyCh <- d.Seconds():
			default:
			}
		}))
		g.Go(latencyReport(ctx, latencyCh, sched))

		// Loop error statistics and duty cycle
		errCh, errStats := stats.ErrorStats(ctx, subscribe(diagFan, "stats"), statsWindow, reportEvery)
		g.Go(errStats)
		dutyCh, dutyCycle := dutycycle.NewDutyCycle(ctx, subscribe(diagFan, "dutycycle"), dutyWindow, reportEvery)
		g.Go(dutyCycle)

		counters := func() mqtt.Counters {
			cs := ctrl.Stats()
			return mqtt.Counters{
				Steps:       cs.Steps,
				Overruns:    sched.Stats().Overruns,
				Saturations: cs.Saturations,
				ReadErrors:  sampler.ReadErrors(),
				DriveErrors: cs.DriveErrors,
			}
		}

		// MQTT
		if broker := viper.GetString("mqtt-broker"); broker != "" {
			mqttUrl, err := url.Parse(broker)
			errChk(err)
			mc := mqtt.NewClient(mqttUrl, viper.GetInt("mqtt-sample-interval"))
			errChk(mc.Connect())
			defer mc.Disconnect()
			g.Go(mc.GetPublisher(ctx, subscribe(diagFan, "mqtt"), dutyCh, errCh, counters, viper.GetDuration("mqtt-counter-interval")))
			errChk(mc.HomeAssistant())
			errChk(mc.Tuning(ctrl))
			// Publish/handle the coil-enable switch
			g.Go(mc.SwitchFn(ctx, "coil-enable", viper.GetDuration("mqtt-counter-interval"),
				func() { ctrl.Reset(); hb.Enable() },
				hb.Disable,
				hb.GetEnable,
			))
		} else {
			g.Go(logSummaries(ctx, errCh, dutyCh, counters))
		}

		// Tuning console
		var r io.Reader = os.Stdin
		var w io.Writer = os.Stdout
		if port := viper.GetString("tuning-port"); port != "" {
			sp, err := tuning.OpenSerial(port, viper.GetInt("tuning-baud"))
			errChk(err)
			r, w = sp, sp
		}
		console := tuning.NewConsole(ctrl, r, w)
		if every := viper.GetInt("diag-every"); every > 0 {
			g.Go(console.Diagnostics(ctx, subscribe(diagFan, "console"), every))
		}
		g.Go(func() error { return console.Serve(ctx) })

		// Watchdog
		watchdogTimeout := viper.GetDuration("watchdog-timeout")
		g.Go(watchdog.NewWatchdog(ctx, clockwork.NewRealClock(), watchdogTimeout, hb.HardStop, subscribe(diagFan, "watchdog")))

		// Signal handling
		chanSignal := make(chan os.Signal, 1)
		signal.Notify(chanSignal, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGINT)

		g.Go(func() error {
			defer cancelFunc()
			select {
			case <-ctx.Done():
			case <-chanSignal:
			}
			slog.Info("shutting down...")
			slog.Info("stopping hbridge...")
			return hb.HardStop()
		})

		// Every diagnostics subscriber is registered above, so none misses
		// the first samples.
		g.Go(diagFan.Run(ctx))

		hb.Enable()
		slog.Debug("starting control loop")
		g.Go(func() error {
			defer cancelFunc()
			return sched.Run(ctx)
		})

		slog.Debug("waiting for goroutines to finish")
		err = g.Wait()
		errChk(err)
	}
}

// ConfigFromViper reads the tunables, falling back to the defaults for any
// key that is unset.
func ConfigFromViper() controller.Config {
	cfg := controller.DefaultConfig()
	for _, p := range controller.Params {
		if viper.IsSet(p.Name()) {
			cfg = cfg.With(p, viper.GetFloat64(p.Name()))
		}
	}
	return cfg
}

// ReloadTunables applies every parameter of next that differs from the
// running configuration. Rejected values leave the rest of the reload in place.
func ReloadTunables(u tuning.Updater, next controller.Config) {
	cur := u.Config()
	for _, p := range controller.Params {
		v, _ := next.Get(p)
		if old, _ := cur.Get(p); v == old {
			continue
		}
		if err := u.UpdateParameter(byte(p), v); err != nil {
			slog.Error("config reload rejected", "param", p.Name(), "value", v, "error", err)
		}
	}
}

func setupLogging() {
	slogOpts := slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if viper.GetBool("debug") {
		slogOpts.Level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slogOpts))
	slog.SetDefault(log)
}

func enablePins() []string {
	var pins []string
	for _, p := range viper.GetStringSlice("enable-pins") {
		if p = strings.TrimSpace(p); p != "" {
			pins = append(pins, p)
		}
	}
	return pins
}

func subscribe[T any](f *router.Fan[T], client string) <-chan T {
	ch, err := f.Subscribe(client, diagBuffer)
	errChk(err)
	return ch
}

func latencyReport(ctx context.Context, in <-chan float64, sched *scheduler.Scheduler) func() error {
	return func() error {
		w := stats.NewWindow(statsWindow)
		t := time.NewTicker(latencyEvery)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case d := <-in:
				w.Add(d)
			case <-t.C:
				if w.Len() == 0 {
					continue
				}
				st := sched.Stats()
				slog.Info("step latency",
					"mean", time.Duration(w.Mean()*float64(time.Second)),
					"p99", time.Duration(w.Quantile(0.99)*float64(time.Second)),
					"max", st.MaxLatency,
					"ticks", st.Ticks,
					"overruns", st.Overruns,
					"module", "scheduler",
				)
			}
		}
	}
}

func logSummaries(ctx context.Context, errCh <-chan stats.Summary, dutyCh <-chan float64, counters func() mqtt.Counters) func() error {
	return func() error {
		for errCh != nil || dutyCh != nil {
			select {
			case <-ctx.Done():
				return nil
			case s, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}
				n := counters()
				slog.Info("loop error", "steps", s.Steps, "rms", s.RMS, "mean", s.Mean, "drift", s.Drift,
					"saturations", n.Saturations, "read_errors", n.ReadErrors, "drive_errors", n.DriveErrors)
			case d, ok := <-dutyCh:
				if !ok {
					dutyCh = nil
					continue
				}
				slog.Debug("duty cycle", "percent", d)
			}
		}
		return nil
	}
}

func errChk(err error) {
	if err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}
