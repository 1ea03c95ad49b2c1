package sitewatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jpalmerr/sitewatch/internal/store"
)

// gatedPersister holds every Put until gate is closed.
type gatedPersister struct {
	gate    chan struct{}
	started chan struct{}

	mu   sync.Mutex
	puts []store.State
}

func newGatedPersister() *gatedPersister {
	return &gatedPersister{gate: make(chan struct{}), started: make(chan struct{}, 1)}
}

func (p *gatedPersister) Put(ctx context.Context, st store.State) error {
	select {
	case p.started <- struct{}{}:
	default:
	}
	select {
	case <-p.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	p.puts = append(p.puts, st)
	p.mu.Unlock()
	return nil
}

func (p *gatedPersister) Get(context.Context, string) (store.State, error) {
	return store.State{}, store.ErrNotFound
}

func (p *gatedPersister) List(context.Context) ([]store.State, error) { return nil, nil }

func (p *gatedPersister) Close() error { return nil }

func (p *gatedPersister) written() []store.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]store.State(nil), p.puts...)
}

func TestStateWriter_CoalescesWhileStoreIsSlow(t *testing.T) {
	p := newGatedPersister()
	sw := newStateWriter(p, testLogger())

	sw.Submit(store.State{ID: "a", URL: "https://example.com", Checks: 1})
	select {
	case <-p.started:
	case <-time.After(2 * time.Second):
		t.Fatal("writer never called Put")
	}

	// the first write is stuck; later submits must not wait for it
	submitted := make(chan struct{})
	go func() {
		sw.Submit(store.State{ID: "a", URL: "https://example.com", Checks: 2})
		sw.Submit(store.State{ID: "a", URL: "https://example.com", Checks: 3})
		close(submitted)
	}()
	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("Submit blocked on a slow store")
	}

	close(p.gate)
	sw.Close()

	puts := p.written()
	if len(puts) != 2 {
		t.Fatalf("len(puts) = %d, want 2 (first state, then the latest)", len(puts))
	}
	if puts[0].Checks != 1 || puts[1].Checks != 3 {
		t.Errorf("written Checks = %d, %d, want 1, 3", puts[0].Checks, puts[1].Checks)
	}
}

func TestStateWriter_CloseFlushesPending(t *testing.T) {
	p := newGatedPersister()
	close(p.gate)
	sw := newStateWriter(p, testLogger())

	sw.Submit(store.State{ID: "a", URL: "https://a.example.com"})
	sw.Submit(store.State{ID: "b", URL: "https://b.example.com"})
	sw.Close()

	if got := len(p.written()); got != 2 {
		t.Errorf("len(puts) = %d, want 2", got)
	}
}

// TestStart_SlowStoreAndCallbackDoNotDelayOtherTargets stalls the state
// store and the first target's alert callback. The second target must still
// alert on time.
func TestStart_SlowStoreAndCallbackDoNotDelayOtherTargets(t *testing.T) {
	const slowURL = "https://slow.example.com"
	const fastURL = "https://fast.example.com"

	slow, _ := NewTarget(slowURL)
	fast, _ := NewTarget(fastURL)
	release := make(chan struct{})
	alerts := make(chan Alert, 4)

	w, err := New(
		WithTargets(slow, fast),
		WithProfile(testProfile()),
		WithFetcher(newSequenceFetcher(map[string][]string{
			slowURL: {"v1", "v2"},
			fastURL: {"v1", "v1", "v1", "v2"},
		})),
		WithNotifier(&countingNotifier{}),
		WithPollInterval(20*time.Millisecond),
		WithCooldown(time.Hour),
		WithStagger(0),
		WithLogger(testLogger()),
		WithAlertCallback(func(a Alert) {
			if a.URL == slowURL {
				<-release
				return
			}
			alerts <- a
		}),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	p := newGatedPersister()
	w.persister = p

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	select {
	case a := <-alerts:
		if a.URL != fastURL {
			t.Errorf("alert URL = %q, want %q", a.URL, fastURL)
		}
	case <-time.After(2 * time.Second):
		t.Error("fast target alert was held up by the slow store or callback")
	}

	close(release)
	close(p.gate)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancellation")
	}

	// the final state of each target still reaches the store
	latest := make(map[string]store.State)
	for _, st := range p.written() {
		latest[st.URL] = st
	}
	if latest[fastURL].Alerts != 1 {
		t.Errorf("persisted Alerts for %s = %d, want 1", fastURL, latest[fastURL].Alerts)
	}
}
