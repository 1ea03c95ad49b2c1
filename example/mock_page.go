package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// mockPage serves a release page whose version bumps every flip interval.
// The footer carries the current time, so it differs on every request and
// only a selector keeps it from raising alerts.
type mockPage struct {
	started time.Time
	flip    time.Duration
	now     func() time.Time
}

func newMockPage(flip time.Duration) *mockPage {
	return &mockPage{started: time.Now(), flip: flip, now: time.Now}
}

func (m *mockPage) version() int {
	return 1 + int(m.now().Sub(m.started)/m.flip)
}

func (m *mockPage) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/release":
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, "<html><body><h1>Latest release</h1>"+
			"<p class=\"version\">v1.%d</p>"+
			"<footer>rendered %s</footer></body></html>",
			m.version(), m.now().Format(time.RFC3339Nano))
	case "/api/release":
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"version":"1.%d","served_at":%q}}`,
			m.version(), m.now().Format(time.RFC3339Nano))
	default:
		http.NotFound(w, r)
	}
}

// startMockPage serves m on addr until the process exits.
func startMockPage(addr string, m *mockPage) {
	slog.Info("mock page listening", "addr", addr)
	if err := http.ListenAndServe(addr, m); err != nil {
		slog.Error("mock page failed", "error", err)
	}
}
