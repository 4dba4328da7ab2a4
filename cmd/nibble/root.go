package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "nibble",
	Short: "Real-time metered billing for live communication sessions",
	Long: `Nibble charges live sessions against prepaid account balances as
they run: a heartbeat bills each session's elapsed time, low balances
trigger a warning, and exhausted balances cut the session off.

Quick start:
  nibble serve      # Start the billing service
  nibble validate   # Validate configuration

Operations:
  nibble balance    # Inspect and top up account balances
  nibble token      # Hash an operator API token`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "nibble.yaml", "config file path")
}
