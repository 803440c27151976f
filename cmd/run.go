package cmd

import (
	"time"

	"github.com/mikesmitty/maglev/pkg/maglev"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the control loop on hardware",
	Run:   maglev.Root(),
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("pwm-primary", "GPIO12", "primary coil PWM pin")
	runCmd.Flags().String("pwm-secondary", "GPIO13", "secondary coil PWM pin")
	runCmd.Flags().StringSlice("enable-pins", []string{"GPIO5", "GPIO6"}, "bridge enable pins")
	runCmd.Flags().String("adc-device", "iio:device0", "iio device name or sysfs path of the sensor converter")
	runCmd.Flags().Int("adc-channel", 0, "converter channel of the Hall sensor")
	runCmd.Flags().String("mqtt-broker", "", "mqtt broker url, telemetry is disabled when empty")
	runCmd.Flags().Int("mqtt-sample-interval", 100, "publish every nth loop sample over mqtt")
	runCmd.Flags().Duration("mqtt-counter-interval", 10*time.Second, "loop counter publish interval")
	runCmd.Flags().String("tuning-port", "", "serial port for the tuning console (default stdin/stdout)")
	runCmd.Flags().Int("tuning-baud", 115200, "tuning console baud rate")
	runCmd.Flags().Int("diag-every", 0, "write every nth loop sample to the tuning console, 0 disables")
	runCmd.Flags().Duration("watchdog-timeout", time.Second, "coil shutdown timeout without control steps")

	viper.BindPFlags(runCmd.Flags())
}
