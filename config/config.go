// Package config provides configuration parsing for sitewatch.
//
// This package enables running sitewatch as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
// Two formats are accepted: YAML (.yaml or .yml) and the legacy key=value
// format with a separate URL list.
//
// Example YAML configuration:
//
//	check_interval: 5m
//	cooldown: 10m
//
//	sender_name: sitewatch
//	mobile_number: "+447700900123"
//
//	sms:
//	  username: ${CLICKSEND_USERNAME}
//	  api_key: ${CLICKSEND_API_KEY}
//
//	email:
//	  server: smtp.example.com
//	  port: 465
//	  username: alerts@example.com
//	  password: ${SMTP_PASSWORD}
//	  recipient: ops@example.com
//
//	targets:
//	  - url: https://example.com/tickets
//	  - url: https://api.example.com/release
//	    interval: 1m
//	    select: json:data.version
//
// Example legacy configuration:
//
//	check_interval=5
//	clicksend_sms_username=user
//	clicksend_sms_api_key=key
//	mobile_number=07700900123
//	sender_name=sitewatch
//	recipient_email_address=ops@example.com
//	smtp_username=alerts@example.com
//	smtp_password=secret
//	smtp_server=smtp.example.com
//	smtp_port=465
package config

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jpalmerr/sitewatch/notify"
)

// Defaults applied when a field is absent.
const (
	DefaultCheckInterval  = 5 * time.Minute
	DefaultCooldown       = 10 * time.Minute
	DefaultStagger        = 2 * time.Second
	DefaultTimeout        = 30 * time.Second
	DefaultMaxConcurrency = 10
	DefaultSMTPPort       = 465

	// legacyURLsFile is read when a legacy config names no urls_file.
	legacyURLsFile = "urls.txt"
)

// minTargetInterval matches the SDK's lower bound for per-target intervals.
const minTargetInterval = time.Second

var mobilePattern = regexp.MustCompile(`^\+?[0-9]{6,15}$`)

// Config is the root configuration structure for sitewatch.
//
// It maps directly to the YAML configuration file structure.
// Use [Load], [Parse] or [ParseLegacy] to create a Config.
type Config struct {
	// CheckInterval is the time between fetches of each target.
	// Accepts duration strings like "30s", "5m". Defaults to 5m.
	CheckInterval Duration `yaml:"check_interval"`

	// Cooldown is the quiet period after an alert. Defaults to 10m.
	Cooldown Duration `yaml:"cooldown"`

	// Stagger is the delay between starting successive targets.
	// Defaults to 2s; "0s" starts all targets together.
	Stagger *Duration `yaml:"stagger"`

	// Timeout bounds every fetch unless a target sets its own.
	// Defaults to 30s.
	Timeout Duration `yaml:"timeout"`

	// MaxConcurrency bounds fetches and sends in flight. Defaults to 10.
	MaxConcurrency int `yaml:"max_concurrency"`

	// OverwriteOnFailure discards a snapshot when its fetch fails.
	OverwriteOnFailure bool `yaml:"overwrite_on_failure"`

	// Targets defines individual pages to watch.
	Targets []TargetConfig `yaml:"targets"`

	// Grids defines target grids that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`

	// URLsFile names a file with one URL per line. Relative paths are
	// resolved against the config file's directory.
	URLsFile string `yaml:"urls_file"`

	// SenderName is the SMS originator and the email subject.
	SenderName string `yaml:"sender_name"`

	// MobileNumber receives SMS alerts.
	MobileNumber string `yaml:"mobile_number"`

	SMS    SMSConfig    `yaml:"sms"`
	Email  EmailConfig  `yaml:"email"`
	Status StatusConfig `yaml:"status"`
	Store  StoreConfig  `yaml:"store"`
}

// TargetConfig defines a single watched page.
type TargetConfig struct {
	// URL is the page to watch.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Interval overrides check_interval for this target. Must be at least 1s.
	Interval Duration `yaml:"interval"`

	// Timeout overrides the global fetch timeout for this target.
	Timeout Duration `yaml:"timeout"`

	// Select narrows the compared content, see [SelectorConfig].
	Select SelectorConfig `yaml:"select"`
}

// GridConfig defines a target grid that expands via cartesian product.
//
// For example, with dimensions {region: [eu, us], lang: [en, de]} the grid
// expands to 4 targets.
type GridConfig struct {
	// URLTemplate is a Go template for generating target URLs.
	// Dimension keys are available as template variables: {{.region}}
	URLTemplate string `yaml:"url_template"`

	// Dimensions maps dimension names to their possible values.
	Dimensions map[string][]string `yaml:"dimensions"`

	Interval Duration       `yaml:"interval"`
	Timeout  Duration       `yaml:"timeout"`
	Select   SelectorConfig `yaml:"select"`
}

// SMSConfig holds ClickSend credentials.
type SMSConfig struct {
	Username string `yaml:"username"`
	APIKey   string `yaml:"api_key"`

	// Endpoint overrides the ClickSend send URL.
	Endpoint string `yaml:"endpoint"`
}

// EmailConfig describes the implicit-TLS mail submission server.
type EmailConfig struct {
	Server    string `yaml:"server"`
	Port      int    `yaml:"port"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Recipient string `yaml:"recipient"`
}

// StatusConfig configures the read-only status API.
type StatusConfig struct {
	// Port enables the API when non-zero.
	Port int `yaml:"port"`
}

// StoreConfig selects where target state is kept.
type StoreConfig struct {
	// Driver is memory, sqlite or postgres. Defaults to memory.
	Driver string `yaml:"driver"`

	// DSN is the sqlite file path or the postgres connection string.
	DSN string `yaml:"dsn"`
}

// SelectorConfig specifies which part of a page is compared.
//
// It supports two formats in YAML:
//
// Shorthand string:
//
//	select: json:data.version
//	select: regex:<span class="price">([^<]+)</span>
//
// Structured object:
//
//	select:
//	  type: json
//	  path: data.version
type SelectorConfig struct {
	// Type is "json" or "regex". Empty compares the whole page.
	Type string

	// Path is the JSON field path (for type: json).
	Path string

	// Pattern is the regular expression (for type: regex).
	Pattern string
}

// ValidationError reports a missing or malformed configuration field.
// Every validation failure from this package is a *ValidationError.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler for SelectorConfig.
func (s *SelectorConfig) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v string
		if err := node.Decode(&v); err != nil {
			return err
		}
		return s.parseShorthand(v)
	case yaml.MappingNode:
		// temporary struct to avoid infinite recursion
		var raw struct {
			Type    string `yaml:"type"`
			Path    string `yaml:"path"`
			Pattern string `yaml:"pattern"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		s.Type = raw.Type
		s.Path = raw.Path
		s.Pattern = raw.Pattern
		return nil
	}
	return fmt.Errorf("select must be a string or object, got %v", node.Kind)
}

// parseShorthand parses "json:path" and "regex:pattern".
func (s *SelectorConfig) parseShorthand(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}

	kind, value, ok := strings.Cut(v, ":")
	if !ok {
		return fmt.Errorf("unknown selector %q (expected 'json:path' or 'regex:pattern')", v)
	}
	s.Type = kind
	switch kind {
	case "json":
		s.Path = value
	case "regex":
		s.Pattern = value
	default:
		return fmt.Errorf("unknown selector type %q", kind)
	}
	return nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part, present when a default was given
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		sub := envVarPattern.FindStringSubmatch(match)
		name := sub[1]
		hasDefault := sub[2] != ""

		value, exists := os.LookupEnv(name)
		if !exists {
			if hasDefault {
				return sub[3]
			}
			firstErr = fmt.Errorf("environment variable %q is not set", name)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// Load reads and parses a configuration file, then loads any URL list it
// names.
//
// Files ending in .yaml or .yml are parsed with [Parse]; anything else is
// treated as the legacy key=value format and parsed with [ParseLegacy].
// Returns an error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	return LoadWithURLs(path, "")
}

// LoadWithURLs is like [Load] but reads targets from urlsFile instead of
// the file named in the configuration, if urlsFile is not empty.
func LoadWithURLs(path, urlsFile string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg *Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		cfg, err = decodeYAML(data)
	default:
		cfg, err = decodeLegacy(data)
	}
	if err != nil {
		return nil, err
	}

	if urlsFile != "" {
		cfg.URLsFile = urlsFile
	} else if cfg.URLsFile != "" && !filepath.IsAbs(cfg.URLsFile) {
		cfg.URLsFile = filepath.Join(filepath.Dir(path), cfg.URLsFile)
	}

	if err := cfg.finish(); err != nil {
		return nil, err
	}

	if cfg.URLsFile != "" {
		urls, err := LoadTargets(cfg.URLsFile)
		if err != nil {
			return nil, err
		}
		for _, u := range urls {
			cfg.Targets = append(cfg.Targets, TargetConfig{URL: u})
		}
		if err := cfg.validateTargets(); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, URL templates, credentials
// and the store DSN. Defaults are applied to every absent field.
func Parse(data []byte) (*Config, error) {
	cfg, err := decodeYAML(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseLegacy parses the key=value configuration format.
//
// Blank lines and lines starting with # are ignored. check_interval is
// in whole minutes and smtp_port is an integer. Unknown keys are an error.
// When no urls_file key is given, targets are expected in urls.txt.
func ParseLegacy(data []byte) (*Config, error) {
	cfg, err := decodeLegacy(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return &cfg, nil
}

func decodeLegacy(data []byte) (*Config, error) {
	cfg := &Config{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, invalid(fmt.Sprintf("line %d", lineNo), "expected key=value")
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case "check_interval":
			minutes, err := strconv.Atoi(value)
			if err != nil {
				return nil, invalid(key, "must be an integer number of minutes, got %q", value)
			}
			if minutes <= 0 {
				return nil, invalid(key, "must be positive, got %d", minutes)
			}
			cfg.CheckInterval = Duration(time.Duration(minutes) * time.Minute)
		case "smtp_port":
			port, err := strconv.Atoi(value)
			if err != nil {
				return nil, invalid(key, "must be an integer, got %q", value)
			}
			cfg.Email.Port = port
		case "clicksend_sms_username":
			cfg.SMS.Username = value
		case "clicksend_sms_api_key":
			cfg.SMS.APIKey = value
		case "mobile_number":
			cfg.MobileNumber = value
		case "sender_name":
			cfg.SenderName = value
		case "recipient_email_address":
			cfg.Email.Recipient = value
		case "smtp_username":
			cfg.Email.Username = value
		case "smtp_password":
			cfg.Email.Password = value
		case "smtp_server":
			cfg.Email.Server = value
		case "urls_file":
			cfg.URLsFile = value
		default:
			return nil, invalid(key, "unknown key on line %d", lineNo)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read legacy config: %w", err)
	}
	if cfg.URLsFile == "" {
		cfg.URLsFile = legacyURLsFile
	}
	return cfg, nil
}

// LoadTargets reads a URL list: one URL per line, blank lines and lines
// starting with # ignored. Returns an error if the file holds no URLs.
func LoadTargets(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open url list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read url list: %w", err)
	}
	if len(urls) == 0 {
		return nil, invalid("urls_file", "%s contains no urls", path)
	}
	return urls, nil
}

// finish applies defaults, expands environment variables and validates.
func (c *Config) finish() error {
	c.applyDefaults()
	if err := c.expand(); err != nil {
		return err
	}
	return c.validate()
}

func (c *Config) applyDefaults() {
	if c.CheckInterval == 0 {
		c.CheckInterval = Duration(DefaultCheckInterval)
	}
	if c.Cooldown == 0 {
		c.Cooldown = Duration(DefaultCooldown)
	}
	if c.Stagger == nil {
		d := Duration(DefaultStagger)
		c.Stagger = &d
	}
	if c.Timeout == 0 {
		c.Timeout = Duration(DefaultTimeout)
	}
	if c.MaxConcurrency == 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Email.Port == 0 {
		c.Email.Port = DefaultSMTPPort
	}
	if c.SMS.Endpoint == "" {
		c.SMS.Endpoint = notify.DefaultClickSendURL
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "memory"
	}
}

func (c *Config) expand() error {
	type ref struct {
		name string
		ptr  *string
	}
	fields := []ref{
		{"urls_file", &c.URLsFile},
		{"sender_name", &c.SenderName},
		{"mobile_number", &c.MobileNumber},
		{"sms.username", &c.SMS.Username},
		{"sms.api_key", &c.SMS.APIKey},
		{"sms.endpoint", &c.SMS.Endpoint},
		{"email.server", &c.Email.Server},
		{"email.username", &c.Email.Username},
		{"email.password", &c.Email.Password},
		{"email.recipient", &c.Email.Recipient},
		{"store.dsn", &c.Store.DSN},
	}
	for i := range c.Targets {
		fields = append(fields, ref{fmt.Sprintf("targets[%d].url", i), &c.Targets[i].URL})
	}
	for i := range c.Grids {
		fields = append(fields, ref{fmt.Sprintf("grids[%d].url_template", i), &c.Grids[i].URLTemplate})
	}

	for _, f := range fields {
		expanded, err := expandEnvVars(*f.ptr)
		if err != nil {
			return invalid(f.name, "%v", err)
		}
		*f.ptr = expanded
	}
	return nil
}

func (c *Config) validate() error {
	if c.CheckInterval.Duration() < 0 {
		return invalid("check_interval", "must be positive, got %s", c.CheckInterval.Duration())
	}
	if c.Cooldown.Duration() < 0 {
		return invalid("cooldown", "must be positive, got %s", c.Cooldown.Duration())
	}
	if c.Stagger.Duration() < 0 {
		return invalid("stagger", "cannot be negative, got %s", c.Stagger.Duration())
	}
	if c.Timeout.Duration() < 0 {
		return invalid("timeout", "must be positive, got %s", c.Timeout.Duration())
	}
	if c.MaxConcurrency < 0 {
		return invalid("max_concurrency", "must be positive, got %d", c.MaxConcurrency)
	}

	if err := c.validateTargets(); err != nil {
		return err
	}
	for i, g := range c.Grids {
		field := fmt.Sprintf("grids[%d]", i)
		if strings.TrimSpace(g.URLTemplate) == "" {
			return invalid(field+".url_template", "is required")
		}
		// fail fast before the SDK tries to use an invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return invalid(field+".url_template", "invalid template: %v", err)
		}
		if len(g.Dimensions) == 0 {
			return invalid(field+".dimensions", "at least one dimension is required")
		}
		for name, values := range g.Dimensions {
			if len(values) == 0 {
				return invalid(field+".dimensions", "dimension %q has no values", name)
			}
		}
		if err := validateTiming(field, g.Interval, g.Timeout); err != nil {
			return err
		}
		if err := validateSelector(field+".select", g.Select); err != nil {
			return err
		}
	}
	if len(c.Targets) == 0 && len(c.Grids) == 0 && c.URLsFile == "" {
		return invalid("targets", "at least one target, grid or urls_file must be defined")
	}

	if err := c.validateProfile(); err != nil {
		return err
	}

	if c.Status.Port < 0 || c.Status.Port > 65535 {
		return invalid("status.port", "must be between 1 and 65535 (0 disables), got %d", c.Status.Port)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DSN == "" {
			return invalid("store.dsn", "is required for the %s driver", c.Store.Driver)
		}
	default:
		return invalid("store.driver", "must be memory, sqlite or postgres, got %q", c.Store.Driver)
	}
	return nil
}

func (c *Config) validateTargets() error {
	seen := make(map[string]int, len(c.Targets))
	for i, t := range c.Targets {
		field := fmt.Sprintf("targets[%d]", i)
		if err := validateURL(field+".url", t.URL); err != nil {
			return err
		}
		if prev, dup := seen[t.URL]; dup {
			return invalid(field+".url", "duplicates targets[%d]: %s", prev, t.URL)
		}
		seen[t.URL] = i
		if err := validateTiming(field, t.Interval, t.Timeout); err != nil {
			return err
		}
		if err := validateSelector(field+".select", t.Select); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateProfile() error {
	required := []struct {
		field, value string
	}{
		{"sender_name", c.SenderName},
		{"mobile_number", c.MobileNumber},
		{"sms.username", c.SMS.Username},
		{"sms.api_key", c.SMS.APIKey},
		{"email.server", c.Email.Server},
		{"email.username", c.Email.Username},
		{"email.password", c.Email.Password},
		{"email.recipient", c.Email.Recipient},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return invalid(r.field, "is required")
		}
	}
	if !mobilePattern.MatchString(c.MobileNumber) {
		return invalid("mobile_number", "must be 6 to 15 digits with an optional leading +, got %q", c.MobileNumber)
	}
	if !strings.Contains(c.Email.Recipient, "@") {
		return invalid("email.recipient", "must be an email address, got %q", c.Email.Recipient)
	}
	if c.Email.Port < 1 || c.Email.Port > 65535 {
		return invalid("email.port", "must be between 1 and 65535, got %d", c.Email.Port)
	}
	if err := validateURL("sms.endpoint", c.SMS.Endpoint); err != nil {
		return err
	}
	return nil
}

func validateURL(field, raw string) error {
	if raw == "" {
		return invalid(field, "is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return invalid(field, "invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return invalid(field, "scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return invalid(field, "url must have a host")
	}
	return nil
}

func validateTiming(field string, interval, timeout Duration) error {
	if interval != 0 && interval.Duration() < minTargetInterval {
		return invalid(field+".interval", "must be at least %s, got %s", minTargetInterval, interval.Duration())
	}
	if timeout < 0 {
		return invalid(field+".timeout", "cannot be negative, got %s", timeout.Duration())
	}
	return nil
}

func validateSelector(field string, s SelectorConfig) error {
	switch s.Type {
	case "":
		return nil
	case "json":
		if s.Path == "" {
			return invalid(field, "selector type 'json' requires a path")
		}
	case "regex":
		if s.Pattern == "" {
			return invalid(field, "selector type 'regex' requires a pattern")
		}
		if _, err := regexp.Compile(s.Pattern); err != nil {
			return invalid(field, "invalid pattern: %v", err)
		}
	default:
		return invalid(field, "unknown selector type %q", s.Type)
	}
	return nil
}

// ErrNoConfig is returned by [Find] when no configuration file exists.
var ErrNoConfig = errors.New("no configuration file found")

// Find returns the first of the default configuration paths that exists
// in dir: sitewatch.yaml, sitewatch.yml, then config.txt.
func Find(dir string) (string, error) {
	for _, name := range []string{"sitewatch.yaml", "sitewatch.yml", "config.txt"} {
		p := filepath.Join(dir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", ErrNoConfig
}
