package sitewatch

import (
	"errors"
	"net/url"
	"time"
)

// Target is a web page to watch for content changes.
//
// Target is immutable after creation via [NewTarget]. Targets are configured
// using [TargetOption] functions such as [WithInterval], [WithTimeout] and
// [WithSelector].
type Target struct {
	url      string
	interval time.Duration
	timeout  time.Duration
	selector Selector
}

// URL returns the page URL.
func (t Target) URL() string {
	return t.url
}

// Interval returns the target's own polling interval.
// Returns 0 if none was set, meaning the watcher's poll interval is used.
func (t Target) Interval() time.Duration {
	return t.interval
}

// Timeout returns the fetch timeout for this target.
// Returns 0 if none was set, meaning the fetcher's default applies.
func (t Target) Timeout() time.Duration {
	return t.timeout
}

// Selector returns the target's [Selector], or nil if the whole page is
// compared.
func (t Target) Selector() Selector {
	return t.selector
}

// NewTarget creates a [Target] for rawURL.
//
// The URL must be absolute with an http or https scheme and a host.
//
// Example:
//
//	t, err := sitewatch.NewTarget("https://example.com/tickets",
//	    sitewatch.WithInterval(time.Minute),
//	)
func NewTarget(rawURL string, opts ...TargetOption) (Target, error) {
	if err := validateURL(rawURL); err != nil {
		return Target{}, err
	}

	cfg := &targetConfig{}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return Target{}, err
		}
	}

	return Target{
		url:      rawURL,
		interval: cfg.interval,
		timeout:  cfg.timeout,
		selector: cfg.selector,
	}, nil
}

func validateURL(rawURL string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL: " + err.Error())
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return errors.New("URL must have an http:// or https:// scheme")
	}
	if parsedURL.Host == "" {
		return errors.New("URL must have a host")
	}
	return nil
}
