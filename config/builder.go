package config

import (
	"fmt"

	"github.com/jpalmerr/sitewatch"
	"github.com/jpalmerr/sitewatch/notify"
)

// BuildTargets converts parsed configuration into SDK Target values.
//
// It processes both direct targets and grids, returning a combined slice.
// Targets without their own timeout inherit the global one.
func BuildTargets(cfg *Config) ([]sitewatch.Target, error) {
	var targets []sitewatch.Target

	for i, tc := range cfg.Targets {
		opts, err := targetOptions(cfg, tc.Interval, tc.Timeout, tc.Select)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		t, err := sitewatch.NewTarget(tc.URL, opts...)
		if err != nil {
			return nil, fmt.Errorf("targets[%d]: %w", i, err)
		}
		targets = append(targets, t)
	}

	// grids expand via cartesian product
	for i, gc := range cfg.Grids {
		opts, err := targetOptions(cfg, gc.Interval, gc.Timeout, gc.Select)
		if err != nil {
			return nil, fmt.Errorf("grids[%d]: %w", i, err)
		}
		grid, err := sitewatch.NewTargetGrid(gc.URLTemplate, gc.Dimensions, opts...)
		if err != nil {
			return nil, fmt.Errorf("grids[%d]: %w", i, err)
		}
		targets = append(targets, grid...)
	}

	return targets, nil
}

func targetOptions(cfg *Config, interval, timeout Duration, sel SelectorConfig) ([]sitewatch.TargetOption, error) {
	var opts []sitewatch.TargetOption

	if interval != 0 {
		opts = append(opts, sitewatch.WithInterval(interval.Duration()))
	}

	if timeout == 0 {
		timeout = cfg.Timeout
	}
	if timeout != 0 {
		opts = append(opts, sitewatch.WithTimeout(timeout.Duration()))
	}

	selector, err := buildSelector(sel)
	if err != nil {
		return nil, err
	}
	if selector != nil {
		opts = append(opts, sitewatch.WithSelector(selector))
	}

	return opts, nil
}

// buildSelector converts SelectorConfig to a Selector.
// Returns nil when the whole page is compared.
func buildSelector(sc SelectorConfig) (sitewatch.Selector, error) {
	switch sc.Type {
	case "":
		return nil, nil
	case "json":
		return sitewatch.JSONFieldSelector(sc.Path), nil
	case "regex":
		return sitewatch.RegexSelector(sc.Pattern)
	default:
		return nil, fmt.Errorf("unknown selector type %q", sc.Type)
	}
}

// BuildProfile returns the notification profile described by cfg.
func BuildProfile(cfg *Config) *notify.Profile {
	return &notify.Profile{
		SenderName:     cfg.SenderName,
		MobileNumber:   cfg.MobileNumber,
		RecipientEmail: cfg.Email.Recipient,
		SMS: notify.SMSCredentials{
			Username: cfg.SMS.Username,
			APIKey:   cfg.SMS.APIKey,
		},
		SMTP: notify.SMTPCredentials{
			Server:   cfg.Email.Server,
			Port:     cfg.Email.Port,
			Username: cfg.Email.Username,
			Password: cfg.Email.Password,
		},
	}
}

// BuildOptions converts cfg into the options for [sitewatch.New]: targets,
// profile, notifier, timing, status API and state store.
func BuildOptions(cfg *Config) ([]sitewatch.Option, error) {
	targets, err := BuildTargets(cfg)
	if err != nil {
		return nil, err
	}

	stagger := DefaultStagger
	if cfg.Stagger != nil {
		stagger = cfg.Stagger.Duration()
	}

	opts := []sitewatch.Option{
		sitewatch.WithTargets(targets...),
		sitewatch.WithProfile(BuildProfile(cfg)),
		sitewatch.WithNotifier(notify.Pair(
			notify.NewClickSend(notify.WithEndpoint(cfg.SMS.Endpoint)),
			notify.NewSMTP(),
		)),
		sitewatch.WithPollInterval(cfg.CheckInterval.Duration()),
		sitewatch.WithCooldown(cfg.Cooldown.Duration()),
		sitewatch.WithStagger(stagger),
		sitewatch.WithMaxConcurrency(cfg.MaxConcurrency),
		sitewatch.WithStateStore(cfg.Store.Driver, cfg.Store.DSN),
	}
	if cfg.Status.Port > 0 {
		opts = append(opts, sitewatch.WithPort(cfg.Status.Port))
	}
	if cfg.OverwriteOnFailure {
		opts = append(opts, sitewatch.WithOverwriteOnFailure())
	}
	return opts, nil
}
