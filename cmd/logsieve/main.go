// Package main implements the logsieve CLI.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "logsieve",
	Short: "Sample, sanitize and aggregate structured logs",
	Long: `logsieve is a structured log processing pipeline. Records are sampled per
trace, scrubbed of secrets and personal data, folded when they repeat, and
delivered asynchronously to a sink (stdout, file, NATS or OpenTelemetry).

Configuration is read from ~/.config/logsieve/config.yaml (or --config) and
LOGSIEVE_* environment variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.config/logsieve/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(pipeCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Printf("logsieve by Fyrsmith Labs\n")
		cmd.Printf("Version:    %s\n", version)
		cmd.Printf("Commit:     %s\n", gitCommit)
		cmd.Printf("Build Date: %s\n", buildDate)
	},
}
