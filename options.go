package sitewatch

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jpalmerr/sitewatch/notify"
)

// State store drivers accepted by [WithStateStore].
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// watcherConfig holds mutable state during Watcher construction.
type watcherConfig struct {
	targets            []Target
	pollInterval       time.Duration
	cooldown           time.Duration
	stagger            time.Duration
	maxConcurrency     int
	port               int
	fetcher            Fetcher
	userAgent          string
	notifier           notify.Notifier
	profile            *notify.Profile
	storeDriver        string
	storeDSN           string
	overwriteOnFailure bool
	logger             *slog.Logger
	alertCallbacks     []func(Alert)
}

// Option configures a [Watcher] instance during construction.
//
// Options return an error if validation fails.
type Option func(*watcherConfig) error

// WithTarget adds a single [Target] to watch.
//
// Can be called multiple times. At least one target must be configured for
// [New] to succeed.
func WithTarget(t Target) Option {
	return func(cfg *watcherConfig) error {
		cfg.targets = append(cfg.targets, t)
		return nil
	}
}

// WithTargets adds multiple [Target] values to watch.
//
// Example:
//
//	w, err := sitewatch.New(
//	    sitewatch.WithTargets(t1, t2, t3),
//	    sitewatch.WithProfile(profile),
//	)
func WithTargets(targets ...Target) Option {
	return func(cfg *watcherConfig) error {
		cfg.targets = append(cfg.targets, targets...)
		return nil
	}
}

// WithPollInterval sets how often each target is fetched, unless the
// target sets its own [WithInterval]. Defaults to 5 minutes.
//
// Returns an error if the duration is zero or negative.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *watcherConfig) error {
		if d <= 0 {
			return errors.New("poll interval must be positive")
		}
		cfg.pollInterval = d
		return nil
	}
}

// WithCooldown sets how long a target stays quiet after an alert. No
// fetches happen during the cooldown. Defaults to 10 minutes.
//
// Returns an error if the duration is zero or negative.
func WithCooldown(d time.Duration) Option {
	return func(cfg *watcherConfig) error {
		if d <= 0 {
			return errors.New("cooldown must be positive")
		}
		cfg.cooldown = d
		return nil
	}
}

// WithStagger sets the delay between starting successive targets so their
// first fetches do not all land at once. Defaults to 2 seconds; zero
// starts all targets together.
//
// Returns an error if the duration is negative.
func WithStagger(d time.Duration) Option {
	return func(cfg *watcherConfig) error {
		if d < 0 {
			return errors.New("stagger cannot be negative")
		}
		cfg.stagger = d
		return nil
	}
}

// WithMaxConcurrency bounds how many fetches and notification sends run at
// once across all targets. Defaults to 10.
//
// Returns an error if the value is zero or negative.
func WithMaxConcurrency(n int) Option {
	return func(cfg *watcherConfig) error {
		if n <= 0 {
			return errors.New("max concurrency must be positive")
		}
		cfg.maxConcurrency = n
		return nil
	}
}

// WithPort enables the status API on the given port.
//
// The API serves GET /api/targets, GET /api/targets/{id}, GET /api/sse and
// GET /healthz. It is disabled unless this option is set.
//
// Returns an error if the port is outside the valid range (1-65535).
func WithPort(port int) Option {
	return func(cfg *watcherConfig) error {
		if port < 1 || port > 65535 {
			return errors.New("port must be between 1 and 65535")
		}
		cfg.port = port
		return nil
	}
}

// WithFetcher replaces the default HTTP [Fetcher].
//
// Returns an error if f is nil.
func WithFetcher(f Fetcher) Option {
	return func(cfg *watcherConfig) error {
		if f == nil {
			return errors.New("fetcher cannot be nil")
		}
		cfg.fetcher = f
		return nil
	}
}

// WithUserAgent sets the User-Agent header sent by the default [Fetcher].
func WithUserAgent(ua string) Option {
	return func(cfg *watcherConfig) error {
		cfg.userAgent = ua
		return nil
	}
}

// WithNotifier replaces the default notifier, which sends SMS through
// ClickSend and email over SMTP with TLS.
//
// Returns an error if n is nil.
func WithNotifier(n notify.Notifier) Option {
	return func(cfg *watcherConfig) error {
		if n == nil {
			return errors.New("notifier cannot be nil")
		}
		cfg.notifier = n
		return nil
	}
}

// WithProfile sets the operator's notification profile: recipients,
// sender name and channel credentials. Required.
//
// The profile is shared read-only by all targets and must not be modified
// after [New].
func WithProfile(p *notify.Profile) Option {
	return func(cfg *watcherConfig) error {
		if p == nil {
			return errors.New("profile cannot be nil")
		}
		cfg.profile = p
		return nil
	}
}

// WithStateStore persists each target's last state using driver
// ([StoreSQLite] or [StorePostgres]) at dsn. [StoreMemory] keeps state in
// process only, which is the default.
//
// Example:
//
//	sitewatch.WithStateStore(sitewatch.StoreSQLite, "/var/lib/sitewatch/state.db")
func WithStateStore(driver, dsn string) Option {
	return func(cfg *watcherConfig) error {
		switch driver {
		case StoreMemory:
		case StoreSQLite, StorePostgres:
			if dsn == "" {
				return fmt.Errorf("%s state store requires a dsn", driver)
			}
		default:
			return fmt.Errorf("unknown state store driver %q", driver)
		}
		cfg.storeDriver = driver
		cfg.storeDSN = dsn
		return nil
	}
}

// WithOverwriteOnFailure discards a target's snapshot when a fetch fails
// instead of keeping the last good one. The next good fetch then becomes a
// fresh baseline and does not alert.
func WithOverwriteOnFailure() Option {
	return func(cfg *watcherConfig) error {
		cfg.overwriteOnFailure = true
		return nil
	}
}

// WithLogger sets a custom [slog.Logger]. If not specified, [slog.Default]
// is used.
//
// Returns an error if the logger is nil.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *watcherConfig) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		cfg.logger = logger
		return nil
	}
}

// WithAlertCallback registers a function called after every alert, once
// both notifications have been attempted.
//
// The callback receives the [Alert] with the outcome of each channel.
// Multiple callbacks execute in registration order.
//
// Callbacks must be non-blocking; they run on the goroutine that records
// state, so a slow callback delays state updates for every target. Panics are
// recovered and logged.
//
// Example:
//
//	w, err := sitewatch.New(
//	    sitewatch.WithTarget(t),
//	    sitewatch.WithProfile(profile),
//	    sitewatch.WithAlertCallback(func(a sitewatch.Alert) {
//	        if !a.Delivered() {
//	            log.Printf("alert %s not fully delivered", a.ID)
//	        }
//	    }),
//	)
//
// Nil callbacks are silently ignored.
func WithAlertCallback(cb func(Alert)) Option {
	return func(cfg *watcherConfig) error {
		if cb == nil {
			return nil
		}
		cfg.alertCallbacks = append(cfg.alertCallbacks, cb)
		return nil
	}
}
