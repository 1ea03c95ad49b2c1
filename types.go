package sitewatch

import (
	"context"
	"time"

	"github.com/jpalmerr/sitewatch/internal/monitor"
)

// Fetcher retrieves the content of a page.
//
// Fetch returns the body on success. On any failure (transport error,
// timeout, non-200 status) it returns an empty body and a non-nil error.
// The default Fetcher is an HTTP client with pooled connections.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// FetchError is returned by the default [Fetcher] for transport failures and
// non-200 responses.
type FetchError = monitor.FetchError

// Phase is where a target's monitor is in its cycle.
type Phase string

const (
	// PhaseBaselining means no snapshot exists yet; the next good fetch
	// becomes the baseline and never alerts.
	PhaseBaselining Phase = "baselining"

	// PhasePolling is the steady fetch, compare, sleep cycle.
	PhasePolling Phase = "polling"

	// PhaseCooldown means an alert fired and fetching is suspended.
	PhaseCooldown Phase = "cooldown"

	// PhaseStopped means the monitor has exited.
	PhaseStopped Phase = "stopped"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Alert describes a detected change and the notifications sent for it.
//
// SMSErr and EmailErr report each channel independently; either may fail
// while the other succeeds.
type Alert struct {
	// ID uniquely identifies the alert in logs and the status API.
	ID string

	// URL is the page that changed.
	URL string

	// Message is the text sent by SMS and email.
	Message string

	// DetectedAt is when the change was observed.
	DetectedAt time.Time

	// SMSErr is the SMS delivery error, nil if sent.
	SMSErr error

	// EmailErr is the email delivery error, nil if sent.
	EmailErr error
}

// Delivered reports whether both channels succeeded.
func (a Alert) Delivered() bool {
	return a.SMSErr == nil && a.EmailErr == nil
}

// State is the last known state of a target.
type State struct {
	// ID is the target's identifier in the status API.
	ID string

	URL   string
	Phase Phase

	// Digest is the hex xxh3 hash of the current snapshot, empty before the
	// baseline.
	Digest string

	// Size is the size in bytes of the last fetched content.
	Size int

	// Latency is the duration of the last fetch.
	Latency time.Duration

	// Checks counts fetches, Failures the failed ones, Alerts the changes.
	Checks   int64
	Failures int64
	Alerts   int64

	LastCheck time.Time

	// LastChange is zero if no change was ever detected.
	LastChange time.Time

	// LastError is empty if the last fetch succeeded.
	LastError string

	LastAlertID  string
	SMSOutcome   string
	EmailOutcome string
}
