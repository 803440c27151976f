package cmd

import (
	"github.com/mikesmitty/maglev/pkg/maglev"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var simCmd = &cobra.Command{
	Use:   "sim",
	Short: "Run the controller against a simulated levitated body and plot the response",
	Run:   maglev.Sim(),
}

func init() {
	rootCmd.AddCommand(simCmd)

	simCmd.Flags().Int("sim-steps", 3000, "number of control steps to simulate")
	simCmd.Flags().Float64("sim-gap", 1, "initial gap error in mm")
	simCmd.Flags().Float64("sim-noise", 0, "sensor noise standard deviation in volts")
	simCmd.Flags().Uint64("sim-seed", 1, "sensor noise seed")
	simCmd.Flags().Bool("sim-realtime", false, "pace the simulation with the 1 ms scheduler")

	viper.BindPFlags(simCmd.Flags())
}
