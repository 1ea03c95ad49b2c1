// Package main is the entry point for the sitewatch CLI.
//
// sitewatch can be run either as a library (SDK) or as a standalone binary
// with a configuration file. This CLI provides the standalone binary
// approach.
//
// Usage:
//
//	sitewatch run -c sitewatch.yaml       # Start watching
//	sitewatch run -c config.txt -u urls.txt
//	sitewatch validate -c sitewatch.yaml  # Validate configuration
//	sitewatch status --db state.db        # Show saved target state
//	sitewatch version                     # Show version info
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
// Example: go build -ldflags "-X main.version=1.0.0"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// rootCmd is the base command when called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "sitewatch",
	Short: "Watch web pages and alert on changes",
	Long: `sitewatch polls web pages and sends an SMS and an email when one changes.

Each page is fetched once to establish a baseline, then polled at a fixed
interval. A change raises one alert over both channels, followed by a
cooldown before polling resumes.

Quick start:
  1. Create a config file (sitewatch.yaml)
  2. Run: sitewatch run -c sitewatch.yaml

Example config:
  check_interval: 5m
  sender_name: sitewatch
  mobile_number: "+447700900123"
  sms:
    username: ${CLICKSEND_USERNAME}
    api_key: ${CLICKSEND_API_KEY}
  email:
    server: smtp.example.com
    username: alerts@example.com
    password: ${SMTP_PASSWORD}
    recipient: ops@example.com
  targets:
    - url: https://example.com/tickets`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		// cobra already prints the error
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Print the version, commit hash, and build date of this sitewatch binary.`,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "sitewatch %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn or error")
	rootCmd.AddCommand(versionCmd)
}

// newLogger creates a JSON logger for CLI use.
func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
