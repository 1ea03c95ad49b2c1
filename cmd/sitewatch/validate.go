package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch/config"
)

// validateCmd validates a config file without starting any monitor.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a config file",
	Long: `Validate a sitewatch configuration file without starting any monitor.

This command parses the file, loads the URL list, expands environment
variables, and validates all fields. It's useful for CI/CD pipelines or
pre-deployment checks. No SMS or email is sent.

Exit codes:
  0 - Config is valid
  1 - Config is invalid (error details printed to stderr)

Example:
  sitewatch validate -c sitewatch.yaml
  sitewatch validate -c config.txt -u urls.txt`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringP("config", "c", "", "path to config file")
	validateCmd.Flags().StringP("urls", "u", "", "path to a URL list, one per line")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// grids expand via the SDK, so build to count them and catch render errors
	targets, err := config.BuildTargets(cfg)
	if err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	direct := len(cfg.Targets)

	status := "disabled"
	if cfg.Status.Port > 0 {
		status = fmt.Sprintf("port %d", cfg.Status.Port)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Config is valid!\n")
	fmt.Fprintf(out, "  Check interval: %s\n", cfg.CheckInterval.Duration())
	fmt.Fprintf(out, "  Cooldown:       %s\n", cfg.Cooldown.Duration())
	fmt.Fprintf(out, "  Targets:        %d direct + %d from grids = %d total\n",
		direct, len(targets)-direct, len(targets))
	fmt.Fprintf(out, "  Alerts to:      %s, %s\n", cfg.MobileNumber, cfg.Email.Recipient)
	fmt.Fprintf(out, "  Status API:     %s\n", status)
	fmt.Fprintf(out, "  State store:    %s\n", cfg.Store.Driver)

	return nil
}
