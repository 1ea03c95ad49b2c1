package sitewatch

import (
	"errors"
	"time"
)

// targetConfig holds mutable state during target construction.
type targetConfig struct {
	interval time.Duration
	timeout  time.Duration
	selector Selector
}

// TargetOption configures a [Target] during construction.
//
// Built-in options: [WithInterval], [WithTimeout], [WithSelector].
type TargetOption func(*targetConfig) error

// WithInterval sets a polling interval for this target, overriding the
// watcher's [WithPollInterval].
//
// The interval must be at least 1 second.
//
// Example:
//
//	t, _ := sitewatch.NewTarget("https://example.com/status",
//	    sitewatch.WithInterval(30 * time.Second),
//	)
func WithInterval(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d < time.Second {
			return errors.New("interval must be at least 1 second")
		}
		cfg.interval = d
		return nil
	}
}

// WithTimeout bounds each fetch of this target. A fetch that does not
// finish in time counts as failed and is never treated as a change.
// Targets without a timeout use 30 seconds.
//
// Returns an error if the duration is zero or negative.
func WithTimeout(d time.Duration) TargetOption {
	return func(cfg *targetConfig) error {
		if d <= 0 {
			return errors.New("timeout must be positive")
		}
		cfg.timeout = d
		return nil
	}
}

// WithSelector narrows the compared content to what s returns, so that
// noise elsewhere on the page does not trigger alerts.
//
// Example:
//
//	t, _ := sitewatch.NewTarget("https://api.example.com/release",
//	    sitewatch.WithSelector(sitewatch.JSONFieldSelector("data.version")),
//	)
//
// Nil selectors are ignored.
func WithSelector(s Selector) TargetOption {
	return func(cfg *targetConfig) error {
		cfg.selector = s
		return nil
	}
}
