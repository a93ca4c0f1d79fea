// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build metadata, set with -ldflags.
var (
	Version = "0.1.0"
	Commit  = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "flowlens",
	Short: "flowlens - real-time network traffic monitor",
	Long: `flowlens captures frames from a network interface or a capture file,
groups them into bidirectional flows and keeps decayed per-flow byte and packet
rates. The busiest flows are rendered on the console, served over HTTP and
optionally relayed to NATS for remote visualizers.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults and FLOWLENS_* environment when empty)")

	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(interfacesCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd, startCmd, stopCmd, filterCmd, diagCmd)
}

// exitWithError prints error message and exits with code 1
func exitWithError(msg string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s: %v\n", msg, err)
	} else {
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
	}
	os.Exit(1)
}
