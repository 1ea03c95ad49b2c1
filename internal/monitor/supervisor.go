package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/jpalmerr/sitewatch/notify"
)

const (
	// DefaultStagger is the delay between starting successive loops.
	DefaultStagger = 2 * time.Second

	defaultMaxConcurrency = 10
)

// SupervisorConfig is the shared configuration for every loop.
type SupervisorConfig struct {
	Fetcher  Fetcher
	Notifier notify.Notifier
	Profile  *notify.Profile

	// Cooldown defaults to [DefaultCooldown] when zero.
	Cooldown time.Duration

	// Stagger is the delay between loop starts. Negative disables it;
	// zero uses [DefaultStagger].
	Stagger time.Duration

	// MaxConcurrency bounds how many fetches or sends run at once across
	// all loops. Defaults to 10.
	MaxConcurrency int

	// FetchTimeout applies to targets without a timeout of their own.
	// Defaults to [DefaultFetchTimeout].
	FetchTimeout time.Duration

	// OverwriteOnFailure is passed to every loop, see [LoopConfig].
	OverwriteOnFailure bool

	Logger *slog.Logger
}

// Supervisor runs one [Loop] per target.
//
// Loops share only the read-only configuration. A loop never stops another:
// every cycle failure is contained inside its loop. Reports from all loops
// are delivered on a single channel, see [Supervisor.Reports].
type Supervisor struct {
	targets []Target
	cfg     SupervisorConfig
	logger  *slog.Logger
	reports chan Report

	mu      sync.Mutex
	started bool
}

// NewSupervisor creates a [Supervisor] for targets.
//
// Each target URL must be unique. The supervisor must be started with
// [Supervisor.Run].
func NewSupervisor(targets []Target, cfg SupervisorConfig) (*Supervisor, error) {
	if len(targets) == 0 {
		return nil, errors.New("at least one target is required")
	}
	if cfg.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier is required")
	}
	if cfg.Profile == nil {
		return nil, errors.New("notification profile is required")
	}
	seen := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		if _, dup := seen[t.URL]; dup {
			return nil, errors.New("duplicate target url: " + t.URL)
		}
		if t.Interval <= 0 {
			return nil, errors.New("target interval must be positive: " + t.URL)
		}
		seen[t.URL] = struct{}{}
	}

	if cfg.Stagger == 0 {
		cfg.Stagger = DefaultStagger
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Supervisor{
		targets: append([]Target(nil), targets...),
		cfg:     cfg,
		logger:  logger,
		reports: make(chan Report, len(targets)),
	}, nil
}

// Reports returns a receive-only channel that emits one [Report] per loop
// cycle. The channel is closed when [Supervisor.Run] returns. Consumers must
// keep draining it while the supervisor runs; a full channel pauses loops.
func (s *Supervisor) Reports() <-chan Report {
	return s.reports
}

// Run starts every loop and blocks until ctx is cancelled and all loops have
// stopped.
//
// Loops are started in target order, one every Stagger, so first fetches
// do not all land at once. Run may only be called once.
//
// The returned error is the first loop failure, if any. A failed loop does
// not stop the others; Run still waits for ctx.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("supervisor already started")
	}
	s.started = true
	s.mu.Unlock()

	defer close(s.reports)

	limit := rate.Inf
	if s.cfg.Stagger > 0 {
		limit = rate.Every(s.cfg.Stagger)
	}
	starts := rate.NewLimiter(limit, 1)
	slots := semaphore.NewWeighted(int64(s.cfg.MaxConcurrency))

	// a plain group: a loop returning must not cancel its siblings
	var g errgroup.Group
	started := 0
	for _, t := range s.targets {
		if err := starts.Wait(ctx); err != nil {
			break
		}
		if t.Timeout <= 0 {
			t.Timeout = s.cfg.FetchTimeout
		}
		loop := NewLoop(LoopConfig{
			Target:             t,
			Fetcher:            s.cfg.Fetcher,
			Notifier:           s.cfg.Notifier,
			Profile:            s.cfg.Profile,
			Cooldown:           s.cfg.Cooldown,
			Slots:              slots,
			Reports:            s.reports,
			OverwriteOnFailure: s.cfg.OverwriteOnFailure,
			Logger:             s.logger,
		})
		url := t.URL
		g.Go(func() error {
			err := loop.Run(ctx)
			if err != nil {
				s.logger.Error("monitor failed", "url", url, "error", err)
			}
			return err
		})
		started++
	}

	if started == len(s.targets) {
		s.logger.Info("all sites being monitored", "targets", started)
	}

	err := g.Wait()
	s.logger.Info("supervisor stopped", "targets", started)
	return err
}
