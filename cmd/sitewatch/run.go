package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/config"
)

const (
	shutdownTimeout = 10 * time.Second
)

// runCmd starts watching every configured target.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start watching",
	Long: `Start watching every configured target.

sitewatch will:
  - Load configuration from the given file (YAML or legacy key=value)
  - Load extra targets from the URL list, if given
  - Start one monitor per target, staggered
  - Send an SMS and an email whenever a page changes

Without -c, sitewatch looks for sitewatch.yaml, sitewatch.yml or config.txt
in the current directory. It runs until interrupted (Ctrl+C) or receives
SIGTERM.

Example:
  sitewatch run -c sitewatch.yaml
  sitewatch run -c config.txt -u urls.txt`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("config", "c", "", "path to config file")
	runCmd.Flags().StringP("urls", "u", "", "path to a URL list, one per line")
}

// configPath returns the --config flag or the first default file found.
func configPath(cmd *cobra.Command) (string, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return path, nil
	}
	found, err := config.Find(".")
	if err != nil {
		return "", fmt.Errorf("no --config given: %w", err)
	}
	return found, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := configPath(cmd)
	if err != nil {
		return nil, err
	}
	urls, _ := cmd.Flags().GetString("urls")
	return config.LoadWithURLs(path, urls)
}

func runWatch(cmd *cobra.Command, args []string) error {
	level, _ := cmd.Flags().GetString("log-level")
	logger, err := newLogger(os.Stderr, level)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("config loaded",
		"targets", len(cfg.Targets),
		"grids", len(cfg.Grids),
		"check_interval", cfg.CheckInterval.Duration().String(),
		"store", cfg.Store.Driver,
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build targets: %w", err)
	}
	opts = append(opts, sitewatch.WithLogger(logger))

	w, err := sitewatch.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	// cancel on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- w.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("watcher error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		// signal received, wait for graceful shutdown with timeout
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("watcher error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}
