package cmd

import (
	"github.com/mikesmitty/maglev/pkg/maglev"
	"github.com/spf13/cobra"
)

var coeffsCmd = &cobra.Command{
	Use:   "coeffs",
	Short: "Print the discrete filter coefficients for the configured tunables",
	Run:   maglev.Coeffs(),
}

func init() {
	rootCmd.AddCommand(coeffsCmd)
}
