// Command example runs sitewatch against a local page that changes every
// 30 seconds. Alerts are logged instead of sent, so no credentials are
// needed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/notify"
)

// logNotifier logs alerts rather than sending them.
type logNotifier struct {
	logger *slog.Logger
}

func (n logNotifier) SendSMS(_ context.Context, p *notify.Profile, message string) error {
	n.logger.Info("sms (not sent)", "to", p.MobileNumber, "message", message)
	return nil
}

func (n logNotifier) SendEmail(_ context.Context, p *notify.Profile, message string) error {
	n.logger.Info("email (not sent)", "to", p.RecipientEmail, "subject", p.SenderName, "message", message)
	return nil
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	page := newMockPage(30 * time.Second)
	go startMockPage(":9998", page)
	time.Sleep(100 * time.Millisecond)

	// the footer timestamp changes on every request, so compare only the version
	html, _ := sitewatch.NewTarget("http://localhost:9998/release",
		sitewatch.WithSelector(sitewatch.MustRegexSelector(`class="version">([^<]+)<`)),
	)
	api, _ := sitewatch.NewTarget("http://localhost:9998/api/release",
		sitewatch.WithSelector(sitewatch.JSONFieldSelector("data.version")),
		sitewatch.WithInterval(5*time.Second),
	)

	w, err := sitewatch.New(
		sitewatch.WithTargets(html, api),
		sitewatch.WithProfile(&notify.Profile{
			SenderName:     "sitewatch demo",
			MobileNumber:   "+447700900123",
			RecipientEmail: "ops@example.com",
		}),
		sitewatch.WithNotifier(logNotifier{logger: logger}),
		sitewatch.WithPollInterval(10*time.Second),
		sitewatch.WithCooldown(time.Minute),
		sitewatch.WithPort(8080),
		sitewatch.WithLogger(logger),
		sitewatch.WithAlertCallback(func(a sitewatch.Alert) {
			fmt.Printf("\n  change on %s (alert %s)\n\n", a.URL, a.ID)
		}),
	)
	if err != nil {
		logger.Error("failed to create watcher", "error", err)
		os.Exit(1)
	}

	fmt.Println()
	fmt.Println("  sitewatch demo")
	fmt.Println("  mock page:  http://localhost:9998/release (version bumps every 30s)")
	fmt.Println("  status API: http://localhost:8080/api/targets")
	fmt.Println("  Press Ctrl+C to stop")
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := w.Start(ctx); err != nil {
		logger.Error("sitewatch error", "error", err)
		os.Exit(1)
	}
}
