package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
)

// ErrNotFound is returned by a [Persister] when no state exists for an ID.
var ErrNotFound = errors.New("state not found")

// State is the last known state of a monitored target.
//
// State is optimized for JSON serialization (used by the REST API and SSE)
// and is decoupled from the monitor's internal types.
type State struct {
	// ID is the URL-safe identifier derived from URL, see [ID].
	ID string `json:"id"`

	// URL is the monitored page.
	URL string `json:"url"`

	// Phase is the loop phase after the last cycle.
	Phase string `json:"phase"`

	// Digest is the hex xxh3 hash of the current snapshot, empty if none.
	Digest string `json:"digest"`

	// SizeBytes is the size of the last fetched body.
	SizeBytes int `json:"size_bytes"`

	// ResponseTimeMs is the latency of the last fetch in milliseconds.
	ResponseTimeMs int64 `json:"response_time_ms"`

	// Checks counts completed fetches, Failures the failed ones.
	Checks   int64 `json:"checks"`
	Failures int64 `json:"failures"`

	// Alerts counts detected changes.
	Alerts int64 `json:"alerts"`

	// LastCheck is when the last fetch completed.
	LastCheck time.Time `json:"last_check"`

	// LastChange is when the last change was detected. nil if never.
	LastChange *time.Time `json:"last_change"`

	// LastError is the error of the last fetch. nil on success.
	LastError *string `json:"last_error"`

	// LastAlertID identifies the most recent alert.
	LastAlertID string `json:"last_alert_id,omitempty"`

	// SMSOutcome and EmailOutcome hold the most recent delivery result per
	// channel: "sent" or the error text.
	SMSOutcome   string `json:"sms_outcome,omitempty"`
	EmailOutcome string `json:"email_outcome,omitempty"`
}

// ID returns the identifier used for url in the store and status API.
func ID(url string) string {
	return fmt.Sprintf("%016x", xxh3.HashString(url))
}

// Store defines the interface for storing and subscribing to state updates.
//
// Store implementations must be safe for concurrent access.
type Store interface {
	// Put stores a state and notifies all subscribers.
	// States are keyed by ID, so later puts replace earlier ones.
	Put(state State)

	// Get returns the state for id.
	Get(id string) (State, bool)

	// List returns all stored states ordered by URL.
	// The returned slice is a snapshot; modifications do not affect the store.
	List() []State

	// Subscribe returns a channel that receives state updates.
	// The returned channel has a buffer; slow consumers may miss updates.
	// Caller must call Unsubscribe when done to prevent resource leaks.
	Subscribe() <-chan State

	// Unsubscribe removes a subscription and closes the channel.
	// Safe to call with a channel that was already unsubscribed.
	Unsubscribe(ch <-chan State)
}

// Persister stores states durably so they survive restarts and can be read
// by other processes.
type Persister interface {
	// Put inserts or replaces the state with the same ID.
	Put(ctx context.Context, state State) error

	// Get returns the state for id, or [ErrNotFound].
	Get(ctx context.Context, id string) (State, error)

	// List returns all states ordered by URL.
	List(ctx context.Context) ([]State, error)

	Close() error
}
