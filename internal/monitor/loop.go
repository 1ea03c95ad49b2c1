package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
	"golang.org/x/sync/semaphore"

	"github.com/jpalmerr/sitewatch/notify"
)

const (
	// DefaultCooldown is how long a loop stays quiet after raising an alert.
	DefaultCooldown = 10 * time.Minute

	// DefaultFetchTimeout bounds a fetch for targets without a timeout of
	// their own. A fetch holds a shared slot, so it must always end.
	DefaultFetchTimeout = 30 * time.Second

	// sendTimeout bounds one dispatch over both channels.
	sendTimeout = time.Minute
)

// Phase is the state of a [Loop].
type Phase string

const (
	// PhaseBaselining means no snapshot has been established yet.
	PhaseBaselining Phase = "baselining"

	// PhasePolling is the steady fetch, compare, sleep cycle.
	PhasePolling Phase = "polling"

	// PhaseCooldown means an alert fired and fetching is suspended.
	PhaseCooldown Phase = "cooldown"

	// PhaseStopped means the loop has exited.
	PhaseStopped Phase = "stopped"
)

// Target is one watched page.
type Target struct {
	// URL is the page to fetch.
	URL string

	// Interval is the time between fetches. Must be positive.
	Interval time.Duration

	// Timeout bounds a single fetch. Zero means [DefaultFetchTimeout].
	Timeout time.Duration
}

// Alert describes a detected change and the notification sent for it.
type Alert struct {
	// ID uniquely identifies this alert in logs and the status API.
	ID string

	// URL is the page that changed.
	URL string

	// Message is the text sent over both channels.
	Message string

	// DetectedAt is when the change was observed.
	DetectedAt time.Time

	// Outcome is the per-channel delivery result.
	Outcome notify.Outcome
}

// Report is the outcome of one loop cycle.
type Report struct {
	// URL identifies the target.
	URL string

	// Phase is the loop state after the cycle.
	Phase Phase

	// CheckedAt is when the fetch completed. Zero for the stop report.
	CheckedAt time.Time

	// Latency is how long the fetch took.
	Latency time.Duration

	// Size is the length in bytes of the fetched body.
	Size int

	// Digest is the xxh3 hash of the stored snapshot.
	Digest uint64

	// Err is the fetch error, nil on success.
	Err error

	// Alert is set when this cycle detected a change.
	Alert *Alert
}

// LoopConfig holds everything a [Loop] needs. Profile is shared read-only
// between loops.
type LoopConfig struct {
	Target   Target
	Fetcher  Fetcher
	Notifier notify.Notifier
	Profile  *notify.Profile

	// Cooldown defaults to [DefaultCooldown] when zero.
	Cooldown time.Duration

	// Slots bounds the fetches and sends running across all loops.
	// Nil means unbounded.
	Slots *semaphore.Weighted

	// Reports receives one Report per cycle. Nil disables reporting.
	Reports chan<- Report

	// OverwriteOnFailure discards the snapshot when a fetch fails instead
	// of keeping the last good one. The loop then re-baselines on the next
	// good fetch.
	OverwriteOnFailure bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Loop watches a single target.
//
// The loop fetches once to establish a baseline, sleeps one interval, then
// repeatedly fetches and compares. When the page changes it notifies over
// both channels and sleeps for the cooldown instead of the interval.
// A Loop owns its snapshot; nothing else reads or writes it.
type Loop struct {
	cfg      LoopConfig
	logger   *slog.Logger
	now      func() time.Time
	snapshot string
	phase    Phase
}

// NewLoop creates a [Loop]. It panics if Fetcher, Notifier or Profile is
// nil, or if the interval is not positive.
func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Fetcher == nil || cfg.Notifier == nil || cfg.Profile == nil {
		panic("monitor: loop requires a fetcher, a notifier and a profile")
	}
	if cfg.Target.Interval <= 0 {
		panic("monitor: loop interval must be positive")
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Target.Timeout <= 0 {
		cfg.Target.Timeout = DefaultFetchTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Loop{
		cfg:    cfg,
		logger: logger.With("url", cfg.Target.URL),
		now:    now,
		phase:  PhaseBaselining,
	}
}

// Run executes the loop until ctx is cancelled.
//
// Fetch and notification failures are logged and reported, never returned.
// Run returns a non-nil error only when a cycle panics outside the fetch,
// which stops this loop and no other.
func (l *Loop) Run(ctx context.Context) (err error) {
	l.logger.Info("monitor started",
		"interval", l.cfg.Target.Interval.String(),
		"cooldown", l.cfg.Cooldown.String(),
	)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("monitor panicked",
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			err = fmt.Errorf("monitor %s panicked: %v", l.cfg.Target.URL, r)
		}
		l.phase = PhaseStopped
		l.logger.Info("monitor stopped")
		// stop report must not block shutdown
		if l.cfg.Reports != nil {
			select {
			case l.cfg.Reports <- Report{URL: l.cfg.Target.URL, Phase: PhaseStopped, Digest: l.digest()}:
			default:
			}
		}
	}()

	for {
		wait := l.cycle(ctx)
		if ctx.Err() != nil || !sleep(ctx, wait) {
			return nil
		}
		if l.phase == PhaseCooldown {
			l.phase = PhasePolling
			l.logger.Info("cooldown finished")
		}
	}
}

// cycle runs one fetch, compare and notify step and returns how long to
// sleep before the next one.
func (l *Loop) cycle(ctx context.Context) time.Duration {
	start := l.now()
	body, err := l.fetch(ctx)
	if ctx.Err() != nil {
		return 0
	}
	checkedAt := l.now()
	report := Report{
		URL:       l.cfg.Target.URL,
		CheckedAt: checkedAt,
		Latency:   checkedAt.Sub(start),
		Size:      len(body),
		Err:       err,
	}

	if err != nil {
		l.logger.Warn("fetch failed", "error", err.Error())
	} else {
		l.logger.Debug("fetch completed",
			"bytes", humanize.Bytes(uint64(len(body))),
			"digest", fmt.Sprintf("%016x", xxh3.HashString(body)),
			"latency_ms", report.Latency.Milliseconds(),
		)
	}

	wait := l.cfg.Target.Interval
	switch {
	case l.phase == PhaseBaselining:
		// the first good body becomes the baseline, never an alert
		if body != "" {
			l.phase = PhasePolling
			l.logger.Info("baseline established", "bytes", humanize.Bytes(uint64(len(body))))
		}
	case HasChanged(l.snapshot, body):
		report.Alert = l.alert(ctx, report.CheckedAt)
		l.phase = PhaseCooldown
		wait = l.cfg.Cooldown
		l.logger.Info("cooldown started", "duration", l.cfg.Cooldown.String())
	}

	switch {
	case body != "":
		l.snapshot = body
	case l.cfg.OverwriteOnFailure:
		// an empty snapshot has nothing to compare against, so the next
		// good body is treated as a fresh baseline
		l.snapshot = ""
		l.phase = PhaseBaselining
	}

	report.Phase = l.phase
	report.Digest = l.digest()
	l.emit(ctx, report)
	return wait
}

// alert notifies both channels about a change detected at at.
func (l *Loop) alert(ctx context.Context, at time.Time) *Alert {
	a := &Alert{
		ID:         uuid.NewString(),
		URL:        l.cfg.Target.URL,
		Message:    Message(l.cfg.Target.URL, at),
		DetectedAt: at,
	}
	l.logger.Info("change detected", "alert_id", a.ID)

	if l.acquire(ctx) {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		a.Outcome = notify.Dispatch(sendCtx, l.cfg.Notifier, l.cfg.Profile, a.Message)
		cancel()
		l.release()
	} else {
		a.Outcome = notify.Outcome{SMS: ctx.Err(), Email: ctx.Err()}
	}

	if a.Outcome.SMS != nil {
		l.logger.Warn("sms failed", "alert_id", a.ID, "to", l.cfg.Profile.MobileNumber, "error", a.Outcome.SMS.Error())
	} else {
		l.logger.Info("sms sent", "alert_id", a.ID, "to", l.cfg.Profile.MobileNumber)
	}
	if a.Outcome.Email != nil {
		l.logger.Warn("email failed", "alert_id", a.ID, "to", l.cfg.Profile.RecipientEmail, "error", a.Outcome.Email.Error())
	} else {
		l.logger.Info("email sent", "alert_id", a.ID, "to", l.cfg.Profile.RecipientEmail)
	}
	return a
}

// fetch calls the Fetcher inside a bounded slot and recovers panics, so
// a misbehaving fetcher costs one cycle rather than the loop.
func (l *Loop) fetch(ctx context.Context) (body string, err error) {
	if !l.acquire(ctx) {
		return "", ctx.Err()
	}
	defer l.release()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.Target.Timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			correlationID := uuid.NewString()
			l.logger.Error("fetcher panic",
				"correlation_id", correlationID,
				"panic", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()),
			)
			body = ""
			err = fmt.Errorf("fetcher panic (correlation_id: %s)", correlationID)
		}
	}()

	body, err = l.cfg.Fetcher.Fetch(ctx, l.cfg.Target.URL)
	if err != nil {
		body = ""
	}
	return body, err
}

func (l *Loop) acquire(ctx context.Context) bool {
	if l.cfg.Slots == nil {
		return ctx.Err() == nil
	}
	return l.cfg.Slots.Acquire(ctx, 1) == nil
}

func (l *Loop) release() {
	if l.cfg.Slots != nil {
		l.cfg.Slots.Release(1)
	}
}

func (l *Loop) emit(ctx context.Context, r Report) {
	if l.cfg.Reports == nil {
		return
	}
	select {
	case l.cfg.Reports <- r:
	case <-ctx.Done():
	}
}

func (l *Loop) digest() uint64 {
	if l.snapshot == "" {
		return 0
	}
	return xxh3.HashString(l.snapshot)
}

// Message builds the alert text sent for a change on url detected at at.
func Message(url string, at time.Time) string {
	return fmt.Sprintf("Changes have been detected on %s at %s", url, at.Format(time.RFC1123))
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
