package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "maglev",
	Short: "Lead-lag position controller for a magnetic levitation rig",
	Long: `maglev holds a body suspended under an electromagnet. A Hall sensor
is sampled every millisecond, a first-order lead-lag compensator turns the
position error into a coil command and a two-channel PWM bridge drives the coil.

Tunables can be changed while the loop runs from the console, a serial
port, an MQTT topic or by editing the config file.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.maglev.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	rootCmd.PersistentFlags().Float64("gain", 5, "compensator gain G")
	rootCmd.PersistentFlags().Float64("zero", 40, "compensator zero frequency Z (rad/s)")
	rootCmd.PersistentFlags().Float64("pole", 120, "compensator pole frequency P (rad/s)")
	rootCmd.PersistentFlags().Float64("ref", 0.6, "sensor voltage setpoint R (V)")
	rootCmd.PersistentFlags().Float64("bias", 500, "feed-forward duty offset B")
	rootCmd.PersistentFlags().Float64("scale", 50, "filter output scale S")

	viper.BindPFlags(rootCmd.PersistentFlags())
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".maglev" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".maglev")
	}

	viper.SetEnvPrefix("maglev")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
