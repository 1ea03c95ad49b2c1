package sitewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jpalmerr/sitewatch/internal/monitor"
	"github.com/jpalmerr/sitewatch/internal/server"
	"github.com/jpalmerr/sitewatch/internal/store"
	"github.com/jpalmerr/sitewatch/internal/store/postgres"
	"github.com/jpalmerr/sitewatch/internal/store/sqlite"
	"github.com/jpalmerr/sitewatch/notify"
)

const (
	defaultPollInterval = 5 * time.Minute

	// persistTimeout bounds a single state write, including the final
	// writes made after the run context is cancelled.
	persistTimeout = 5 * time.Second
)

// Watcher watches a set of pages and alerts the operator by SMS and email
// when one of them changes.
//
// A Watcher is created using [New] with functional options and started with
// [Watcher.Start]:
//
//	w, err := sitewatch.New(
//	    sitewatch.WithTarget(t),
//	    sitewatch.WithProfile(profile),
//	)
//	if err != nil {
//	    slog.Error("failed to create watcher", "error", err)
//	    os.Exit(1)
//	}
//
//	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer cancel()
//
//	w.Start(ctx) // blocks until context cancelled
type Watcher struct {
	targets            []Target
	pollInterval       time.Duration
	cooldown           time.Duration
	stagger            time.Duration
	maxConcurrency     int
	port               int
	fetcher            Fetcher
	notifier           notify.Notifier
	profile            *notify.Profile
	storeDriver        string
	storeDSN           string
	overwriteOnFailure bool
	logger             *slog.Logger
	alertCallbacks     []func(Alert)

	states *store.MemoryStore

	// persister, when set, is used instead of opening storeDriver.
	persister store.Persister

	mu      sync.Mutex
	running bool
}

// New creates a [Watcher] with the given options.
//
// At least one target and a profile are required. Other options have
// defaults:
//   - Poll interval: 5 minutes
//   - Cooldown: 10 minutes
//   - Stagger: 2 seconds
//   - Max concurrency: 10
//   - Status API: disabled
//   - State store: memory
//
// When the default notifier is used the profile must be complete, see
// [notify.Profile.Validate].
//
// Returns an error if no targets are configured, a target URL is repeated,
// or any option is invalid.
func New(opts ...Option) (*Watcher, error) {
	cfg := &watcherConfig{
		pollInterval:   defaultPollInterval,
		cooldown:       monitor.DefaultCooldown,
		stagger:        monitor.DefaultStagger,
		maxConcurrency: 10,
		storeDriver:    StoreMemory,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if len(cfg.targets) == 0 {
		return nil, errors.New("at least one target is required")
	}

	// one monitor per page
	seen := make(map[string]bool, len(cfg.targets))
	for _, t := range cfg.targets {
		if seen[t.url] {
			return nil, fmt.Errorf("duplicate target url: %q", t.url)
		}
		seen[t.url] = true
	}

	if cfg.profile == nil {
		return nil, errors.New("a notification profile is required")
	}

	notifier := cfg.notifier
	if notifier == nil {
		if err := cfg.profile.Validate(); err != nil {
			return nil, fmt.Errorf("invalid profile: %w", err)
		}
		notifier = notify.Pair(notify.NewClickSend(), notify.NewSMTP())
	}

	fetcher := cfg.fetcher
	if fetcher == nil {
		var clientOpts []monitor.ClientOption
		if cfg.userAgent != "" {
			clientOpts = append(clientOpts, monitor.WithUserAgent(cfg.userAgent))
		}
		fetcher = monitor.NewClient(clientOpts...)
	}

	logger := cfg.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Watcher{
		targets:            cfg.targets,
		pollInterval:       cfg.pollInterval,
		cooldown:           cfg.cooldown,
		stagger:            cfg.stagger,
		maxConcurrency:     cfg.maxConcurrency,
		port:               cfg.port,
		fetcher:            fetcher,
		notifier:           notifier,
		profile:            cfg.profile,
		storeDriver:        cfg.storeDriver,
		storeDSN:           cfg.storeDSN,
		overwriteOnFailure: cfg.overwriteOnFailure,
		logger:             logger,
		alertCallbacks:     cfg.alertCallbacks,
		states:             store.NewMemoryStore(),
	}, nil
}

// Start begins watching every target and blocks until ctx is cancelled.
//
// Targets start one stagger apart. Each fetches once to establish a
// baseline, then polls at its interval. A change sends one SMS and one
// email, then the target sleeps for the cooldown. One target failing,
// hanging or panicking never affects the others.
//
// Returns nil on graceful shutdown. Returns an error if the state store
// cannot be opened, the status API cannot bind, or the watcher is already
// running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return errors.New("watcher is already running")
	}
	w.running = true
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
	}()

	if ctx.Err() != nil {
		return nil
	}

	w.logger.Info("sitewatch starting",
		"target_count", len(w.targets),
		"poll_interval", w.pollInterval.String(),
		"cooldown", w.cooldown.String(),
	)

	persister, err := w.openPersister(ctx)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	if persister != nil {
		defer func() {
			if err := persister.Close(); err != nil {
				w.logger.Warn("state store close failed", "error", err)
			}
		}()
		w.restore(ctx, persister)
	}

	stagger := w.stagger
	if stagger == 0 {
		stagger = -1
	}
	sup, err := monitor.NewSupervisor(w.monitorTargets(), monitor.SupervisorConfig{
		Fetcher:            w.selectingFetcher(),
		Notifier:           w.notifier,
		Profile:            w.profile,
		Cooldown:           w.cooldown,
		Stagger:            stagger,
		MaxConcurrency:     w.maxConcurrency,
		OverwriteOnFailure: w.overwriteOnFailure,
		Logger:             w.logger,
	})
	if err != nil {
		return err
	}

	if w.port > 0 {
		statusServer := server.NewServer(w.states, w.port, w.logger)
		if err := statusServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start status server: %w", err)
		}
	}

	var writer *stateWriter
	if persister != nil {
		writer = newStateWriter(persister, w.logger)
	}

	// the consumer drains reports until the supervisor closes the channel;
	// it never waits on the store or on callbacks
	var consumer, callbacks sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		for r := range sup.Reports() {
			w.record(r, writer, &callbacks)
		}
	}()

	if err := sup.Run(ctx); err != nil {
		w.logger.Error("supervisor failed", "error", err)
	}
	consumer.Wait()
	callbacks.Wait()
	if writer != nil {
		writer.Close()
	}

	w.logger.Info("sitewatch stopped")
	return nil
}

// Targets returns a copy of the configured targets.
func (w *Watcher) Targets() []Target {
	cp := make([]Target, len(w.targets))
	copy(cp, w.targets)
	return cp
}

// States returns the last known state of every target that has reported,
// ordered by URL.
func (w *Watcher) States() []State {
	stored := w.states.List()
	states := make([]State, len(stored))
	for i, s := range stored {
		states[i] = toPublicState(s)
	}
	return states
}

// Port returns the status API port, 0 if disabled.
func (w *Watcher) Port() int {
	return w.port
}

// PollInterval returns the default interval between fetches.
func (w *Watcher) PollInterval() time.Duration {
	return w.pollInterval
}

func (w *Watcher) openPersister(ctx context.Context) (store.Persister, error) {
	if w.persister != nil {
		return w.persister, nil
	}
	switch w.storeDriver {
	case StoreSQLite:
		return sqlite.New(ctx, w.storeDSN)
	case StorePostgres:
		return postgres.New(ctx, w.storeDSN)
	default:
		return nil, nil
	}
}

// restore seeds the in-memory states with persisted counters for the
// configured targets. Snapshots are not persisted, so every target
// re-baselines.
func (w *Watcher) restore(ctx context.Context, p store.Persister) {
	saved, err := p.List(ctx)
	if err != nil {
		w.logger.Warn("failed to load saved states", "error", err)
		return
	}
	configured := make(map[string]bool, len(w.targets))
	for _, t := range w.targets {
		configured[t.url] = true
	}
	restored := 0
	for _, s := range saved {
		if !configured[s.URL] {
			continue
		}
		s.Phase = string(PhaseBaselining)
		s.Digest = ""
		w.states.Put(s)
		restored++
	}
	if restored > 0 {
		w.logger.Info("restored saved states", "count", restored)
	}
}

func (w *Watcher) monitorTargets() []monitor.Target {
	targets := make([]monitor.Target, len(w.targets))
	for i, t := range w.targets {
		interval := t.interval
		if interval == 0 {
			interval = w.pollInterval
		}
		targets[i] = monitor.Target{
			URL:      t.url,
			Interval: interval,
			Timeout:  t.timeout,
		}
	}
	return targets
}

func (w *Watcher) selectingFetcher() Fetcher {
	selectors := make(map[string]Selector)
	for _, t := range w.targets {
		if t.selector != nil {
			selectors[t.url] = t.selector
		}
	}
	if len(selectors) == 0 {
		return w.fetcher
	}
	return selectingFetcher{inner: w.fetcher, selectors: selectors}
}

// record folds a report into the target's state, queues it for the
// writer, and starts the alert callbacks. Callbacks see the state already
// updated and run in their own goroutine, tracked by callbacks.
func (w *Watcher) record(r monitor.Report, writer *stateWriter, callbacks *sync.WaitGroup) {
	prev, _ := w.states.Get(store.ID(r.URL))
	next := applyReport(prev, r)
	w.states.Put(next)

	if writer != nil {
		writer.Submit(next)
	}

	if r.Alert != nil && len(w.alertCallbacks) > 0 {
		alert := toPublicAlert(r.Alert)
		callbacks.Add(1)
		go func() {
			defer callbacks.Done()
			for _, cb := range w.alertCallbacks {
				invokeCallbackSafe(cb, alert, w.logger)
			}
		}()
	}
}

// applyReport returns prev updated with the outcome of one loop cycle.
func applyReport(prev store.State, r monitor.Report) store.State {
	next := prev
	next.ID = store.ID(r.URL)
	next.URL = r.URL
	next.Phase = string(r.Phase)
	next.Digest = ""
	if r.Digest != 0 {
		next.Digest = fmt.Sprintf("%016x", r.Digest)
	}

	// the stop report carries no fetch
	if r.Phase == monitor.PhaseStopped {
		return next
	}

	next.Checks++
	next.LastCheck = r.CheckedAt
	next.SizeBytes = r.Size
	next.ResponseTimeMs = r.Latency.Milliseconds()
	next.LastError = nil
	if r.Err != nil {
		msg := r.Err.Error()
		next.LastError = &msg
		next.Failures++
	}

	if a := r.Alert; a != nil {
		at := a.DetectedAt
		next.Alerts++
		next.LastChange = &at
		next.LastAlertID = a.ID
		next.SMSOutcome = outcomeText(a.Outcome.SMS)
		next.EmailOutcome = outcomeText(a.Outcome.Email)
	}
	return next
}

func outcomeText(err error) string {
	if err == nil {
		return "sent"
	}
	return err.Error()
}

func toPublicAlert(a *monitor.Alert) Alert {
	return Alert{
		ID:         a.ID,
		URL:        a.URL,
		Message:    a.Message,
		DetectedAt: a.DetectedAt,
		SMSErr:     a.Outcome.SMS,
		EmailErr:   a.Outcome.Email,
	}
}

func toPublicState(s store.State) State {
	out := State{
		ID:           s.ID,
		URL:          s.URL,
		Phase:        Phase(s.Phase),
		Digest:       s.Digest,
		Size:         s.SizeBytes,
		Latency:      time.Duration(s.ResponseTimeMs) * time.Millisecond,
		Checks:       s.Checks,
		Failures:     s.Failures,
		Alerts:       s.Alerts,
		LastCheck:    s.LastCheck,
		LastAlertID:  s.LastAlertID,
		SMSOutcome:   s.SMSOutcome,
		EmailOutcome: s.EmailOutcome,
	}
	if s.LastChange != nil {
		out.LastChange = *s.LastChange
	}
	if s.LastError != nil {
		out.LastError = *s.LastError
	}
	return out
}

// invokeCallbackSafe calls an alert callback with panic recovery.
// Panics are logged but do not propagate.
func invokeCallbackSafe(cb func(Alert), alert Alert, logger *slog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("alert callback panicked",
				"panic", r,
				"url", alert.URL,
				"alert_id", alert.ID,
			)
		}
	}()
	cb(alert)
}
