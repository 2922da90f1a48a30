package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/logsieve/internal/config"
)

var printConfig bool

func init() {
	validateCmd.Flags().BoolVar(&printConfig, "print", false, "print the effective configuration as JSON")
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	Long: `Load the configuration file and environment overrides, compile the
sanitization policy and report any errors.

Examples:
  # Validate the default configuration
  logsieve validate

  # Validate a specific file and show the result with defaults applied
  logsieve validate --config /etc/logsieve/config.yaml --print`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return err
	}

	if printConfig {
		out, err := json.MarshalIndent(cfg, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode config: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}

	fmt.Fprintf(cmd.OutOrStdout(), "configuration valid (sink: %s, sample rate: %g)\n", cfg.Sink.Type, cfg.Sampling.Rate)
	return nil
}
