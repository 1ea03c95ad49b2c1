// Package sitewatch watches web pages for content changes and alerts an
// operator by SMS and email when one changes.
//
// Each page gets its own monitor. The monitor fetches the page once to
// establish a baseline, then polls it at a fixed interval and compares the
// new content with the last good snapshot. A difference raises one alert
// over both channels, after which the monitor stays quiet for a cooldown
// before resuming. A failed fetch is never treated as a change.
//
// # Quick Start
//
//	t, _ := sitewatch.NewTarget("https://example.com/tickets")
//	w, _ := sitewatch.New(
//	    sitewatch.WithTarget(t),
//	    sitewatch.WithProfile(&notify.Profile{ /* recipients and credentials */ }),
//	)
//
//	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
//	defer stop()
//
//	w.Start(ctx) // blocks until context is cancelled
//
// # Configuration
//
// sitewatch uses the functional options pattern for configuration:
//
//	w, err := sitewatch.New(
//	    sitewatch.WithTargets(t1, t2),
//	    sitewatch.WithProfile(profile),
//	    sitewatch.WithPollInterval(5 * time.Minute),
//	    sitewatch.WithCooldown(10 * time.Minute),
//	    sitewatch.WithPort(8080),
//	    sitewatch.WithStateStore(sitewatch.StoreSQLite, "state.db"),
//	)
//
// Targets can narrow what is compared with a [Selector], so that timestamps
// or rotating banners elsewhere on the page do not raise alerts:
//
//   - [JSONFieldSelector]: compares one field of a JSON document
//   - [RegexSelector]: compares the first match (or capture group) of a pattern
//
// [NewTargetGrid] expands a URL template over dimension values, one target
// per combination.
//
// # Architecture
//
// sitewatch consists of several packages:
//
//   - notify: SMS through the ClickSend REST API and email over SMTP with implicit TLS
//   - internal/monitor: per-target loop, change detection and the supervisor
//   - internal/store: last known state per target with pub/sub, plus SQLite and Postgres persistence
//   - internal/server: read-only status API with REST and Server-Sent Events
//
// The internal packages are not part of the public API and may change
// without notice.
package sitewatch
