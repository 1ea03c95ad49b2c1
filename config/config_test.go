package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jpalmerr/sitewatch/notify"
)

// profileYAML is the minimal complete notification block.
const profileYAML = `
sender_name: sitewatch
mobile_number: "+447700900123"
sms:
  username: user
  api_key: key
email:
  server: smtp.example.com
  username: alerts@example.com
  password: secret
  recipient: ops@example.com
`

const legacyConfig = `# legacy format
check_interval=5
clicksend_sms_username=user
clicksend_sms_api_key=key
mobile_number=07700900123
sender_name=sitewatch
recipient_email_address=ops@example.com

smtp_username=alerts@example.com
smtp_password=secret
smtp_server=smtp.example.com
smtp_port=587
`

func TestParse_MinimalConfig(t *testing.T) {
	yaml := profileYAML + `
targets:
  - url: https://example.com
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	// check defaults applied
	if cfg.CheckInterval.Duration() != DefaultCheckInterval {
		t.Errorf("CheckInterval = %v, want %v", cfg.CheckInterval.Duration(), DefaultCheckInterval)
	}
	if cfg.Cooldown.Duration() != DefaultCooldown {
		t.Errorf("Cooldown = %v, want %v", cfg.Cooldown.Duration(), DefaultCooldown)
	}
	if cfg.Stagger == nil || cfg.Stagger.Duration() != DefaultStagger {
		t.Errorf("Stagger = %v, want %v", cfg.Stagger, DefaultStagger)
	}
	if cfg.Timeout.Duration() != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", cfg.Timeout.Duration(), DefaultTimeout)
	}
	if cfg.MaxConcurrency != DefaultMaxConcurrency {
		t.Errorf("MaxConcurrency = %d, want %d", cfg.MaxConcurrency, DefaultMaxConcurrency)
	}
	if cfg.Email.Port != DefaultSMTPPort {
		t.Errorf("Email.Port = %d, want %d", cfg.Email.Port, DefaultSMTPPort)
	}
	if cfg.SMS.Endpoint != notify.DefaultClickSendURL {
		t.Errorf("SMS.Endpoint = %q, want %q", cfg.SMS.Endpoint, notify.DefaultClickSendURL)
	}
	if cfg.Store.Driver != "memory" {
		t.Errorf("Store.Driver = %q, want memory", cfg.Store.Driver)
	}
	if cfg.Status.Port != 0 {
		t.Errorf("Status.Port = %d, want 0", cfg.Status.Port)
	}
}

func TestParse_FullConfig(t *testing.T) {
	yaml := profileYAML + `
check_interval: 1m
cooldown: 30m
stagger: 0s
timeout: 10s
max_concurrency: 4
overwrite_on_failure: true
status:
  port: 9090
store:
  driver: sqlite
  dsn: /var/lib/sitewatch/state.db

targets:
  - url: https://example.com/tickets
    interval: 30s
    timeout: 5s
    select: json:data.version
  - url: https://example.com/price
    select:
      type: regex
      pattern: 'price: (\d+)'
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.CheckInterval.Duration() != time.Minute {
		t.Errorf("CheckInterval = %v, want 1m", cfg.CheckInterval.Duration())
	}
	if cfg.Cooldown.Duration() != 30*time.Minute {
		t.Errorf("Cooldown = %v, want 30m", cfg.Cooldown.Duration())
	}
	if cfg.Stagger.Duration() != 0 {
		t.Errorf("Stagger = %v, want 0 (explicit)", cfg.Stagger.Duration())
	}
	if cfg.MaxConcurrency != 4 || !cfg.OverwriteOnFailure {
		t.Errorf("MaxConcurrency = %d, OverwriteOnFailure = %v", cfg.MaxConcurrency, cfg.OverwriteOnFailure)
	}
	if cfg.Status.Port != 9090 {
		t.Errorf("Status.Port = %d, want 9090", cfg.Status.Port)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.DSN != "/var/lib/sitewatch/state.db" {
		t.Errorf("Store = %+v", cfg.Store)
	}

	first := cfg.Targets[0]
	if first.Interval.Duration() != 30*time.Second || first.Timeout.Duration() != 5*time.Second {
		t.Errorf("targets[0] interval/timeout = %v/%v", first.Interval.Duration(), first.Timeout.Duration())
	}
	if first.Select.Type != "json" || first.Select.Path != "data.version" {
		t.Errorf("targets[0].Select = %+v", first.Select)
	}
	second := cfg.Targets[1]
	if second.Select.Type != "regex" || second.Select.Pattern != `price: (\d+)` {
		t.Errorf("targets[1].Select = %+v", second.Select)
	}
}

func TestParse_Grid(t *testing.T) {
	yaml := profileYAML + `
grids:
  - url_template: "https://{{.region}}.example.com/pricing"
    dimensions:
      region: [eu, us]
    interval: 2m
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Grids) != 1 || len(cfg.Grids[0].Dimensions["region"]) != 2 {
		t.Errorf("Grids = %+v", cfg.Grids)
	}
}

func TestParse_EnvExpansion(t *testing.T) {
	t.Setenv("SITEWATCH_TEST_HOST", "status.example.com")
	t.Setenv("SITEWATCH_TEST_SMTP_PASSWORD", "from-env")

	yaml := `
sender_name: sitewatch
mobile_number: "+447700900123"
sms:
  username: ${SITEWATCH_TEST_SMS_USER:-fallback-user}
  api_key: key
email:
  server: smtp.example.com
  username: alerts@example.com
  password: ${SITEWATCH_TEST_SMTP_PASSWORD}
  recipient: ops@example.com
targets:
  - url: https://${SITEWATCH_TEST_HOST}/page
`
	cfg, err := Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Targets[0].URL != "https://status.example.com/page" {
		t.Errorf("URL = %q, want expanded host", cfg.Targets[0].URL)
	}
	if cfg.Email.Password != "from-env" {
		t.Errorf("Email.Password = %q, want from-env", cfg.Email.Password)
	}
	if cfg.SMS.Username != "fallback-user" {
		t.Errorf("SMS.Username = %q, want fallback-user", cfg.SMS.Username)
	}
}

func TestParse_MissingEnvVar(t *testing.T) {
	yaml := profileYAML + `
targets:
  - url: https://${SITEWATCH_TEST_DEFINITELY_UNSET}/page
`
	_, err := Parse([]byte(yaml))
	if err == nil {
		t.Fatal("Parse() expected error for unset variable")
	}
	if !strings.Contains(err.Error(), "SITEWATCH_TEST_DEFINITELY_UNSET") {
		t.Errorf("error = %v, want variable name", err)
	}
}

func TestParse_ValidationErrors(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		wantField string
	}{
		{
			name:      "no targets",
			yaml:      profileYAML,
			wantField: "targets",
		},
		{
			name:      "bad scheme",
			yaml:      profileYAML + "targets:\n  - url: ftp://example.com\n",
			wantField: "targets[0].url",
		},
		{
			name:      "no host",
			yaml:      profileYAML + "targets:\n  - url: https://\n",
			wantField: "targets[0].url",
		},
		{
			name:      "duplicate url",
			yaml:      profileYAML + "targets:\n  - url: https://example.com\n  - url: https://example.com\n",
			wantField: "targets[1].url",
		},
		{
			name:      "interval too short",
			yaml:      profileYAML + "targets:\n  - url: https://example.com\n    interval: 500ms\n",
			wantField: "targets[0].interval",
		},
		{
			name:      "negative stagger",
			yaml:      profileYAML + "stagger: -1s\ntargets:\n  - url: https://example.com\n",
			wantField: "stagger",
		},
		{
			name:      "bad regex",
			yaml:      profileYAML + "targets:\n  - url: https://example.com\n    select: 'regex:[oops'\n",
			wantField: "targets[0].select",
		},
		{
			name:      "json selector without path",
			yaml:      profileYAML + "targets:\n  - url: https://example.com\n    select: {type: json}\n",
			wantField: "targets[0].select",
		},
		{
			name:      "grid without dimensions",
			yaml:      profileYAML + "grids:\n  - url_template: https://example.com/{{.x}}\n",
			wantField: "grids[0].dimensions",
		},
		{
			name:      "grid bad template",
			yaml:      profileYAML + "grids:\n  - url_template: 'https://example.com/{{.x'\n    dimensions: {x: [a]}\n",
			wantField: "grids[0].url_template",
		},
		{
			name:      "status port out of range",
			yaml:      profileYAML + "status: {port: 70000}\ntargets:\n  - url: https://example.com\n",
			wantField: "status.port",
		},
		{
			name:      "sqlite without dsn",
			yaml:      profileYAML + "store: {driver: sqlite}\ntargets:\n  - url: https://example.com\n",
			wantField: "store.dsn",
		},
		{
			name:      "unknown store",
			yaml:      profileYAML + "store: {driver: redis, dsn: x}\ntargets:\n  - url: https://example.com\n",
			wantField: "store.driver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Parse() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q (reason: %s)", verr.Field, tt.wantField, verr.Reason)
			}
		})
	}
}

func TestParse_ProfileValidation(t *testing.T) {
	base := map[string]string{
		"sender_name":     "sitewatch",
		"mobile_number":   `"+447700900123"`,
		"sms.username":    "user",
		"sms.api_key":     "key",
		"email.server":    "smtp.example.com",
		"email.username":  "alerts@example.com",
		"email.password":  "secret",
		"email.recipient": "ops@example.com",
	}
	render := func(m map[string]string) string {
		return "sender_name: " + m["sender_name"] + "\n" +
			"mobile_number: " + m["mobile_number"] + "\n" +
			"sms:\n  username: " + m["sms.username"] + "\n  api_key: " + m["sms.api_key"] + "\n" +
			"email:\n  server: " + m["email.server"] + "\n  username: " + m["email.username"] +
			"\n  password: " + m["email.password"] + "\n  recipient: " + m["email.recipient"] + "\n" +
			"targets:\n  - url: https://example.com\n"
	}

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"missing sender", "sender_name", `""`},
		{"missing sms key", "sms.api_key", `""`},
		{"missing smtp password", "email.password", `""`},
		{"mobile with letters", "mobile_number", "07700CALLME"},
		{"mobile too short", "mobile_number", `"12345"`},
		{"recipient without at", "email.recipient", "ops.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := make(map[string]string, len(base))
			for k, v := range base {
				m[k] = v
			}
			m[tt.key] = tt.value

			_, err := Parse([]byte(render(m)))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Parse() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.key {
				t.Errorf("Field = %q, want %q", verr.Field, tt.key)
			}
		})
	}

	if _, err := Parse([]byte(render(base))); err != nil {
		t.Errorf("Parse() valid profile error = %v", err)
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("targets: [")); err == nil {
		t.Error("Parse() expected error for invalid YAML")
	}
	if _, err := Parse([]byte(profileYAML + "check_interval: soon\n")); err == nil {
		t.Error("Parse() expected error for invalid duration")
	}
}

func TestParseLegacy(t *testing.T) {
	cfg, err := ParseLegacy([]byte(legacyConfig))
	if err != nil {
		t.Fatalf("ParseLegacy() error = %v", err)
	}

	if cfg.CheckInterval.Duration() != 5*time.Minute {
		t.Errorf("CheckInterval = %v, want 5m", cfg.CheckInterval.Duration())
	}
	if cfg.Email.Port != 587 {
		t.Errorf("Email.Port = %d, want 587", cfg.Email.Port)
	}
	if cfg.Email.Recipient != "ops@example.com" || cfg.MobileNumber != "07700900123" {
		t.Errorf("recipients = %q/%q", cfg.Email.Recipient, cfg.MobileNumber)
	}
	if cfg.SMS.Username != "user" || cfg.SMS.APIKey != "key" {
		t.Errorf("SMS = %+v", cfg.SMS)
	}
	if cfg.URLsFile != "urls.txt" {
		t.Errorf("URLsFile = %q, want urls.txt", cfg.URLsFile)
	}
	if cfg.Cooldown.Duration() != DefaultCooldown {
		t.Errorf("Cooldown = %v, want default", cfg.Cooldown.Duration())
	}
}

func TestParseLegacy_Errors(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantField string
	}{
		{"non-integer interval", "check_interval=five", "check_interval"},
		{"zero interval", "check_interval=0", "check_interval"},
		{"non-integer port", "smtp_port=smtp", "smtp_port"},
		{"unknown key", "smtp_tls=on", "smtp_tls"},
		{"missing equals", "just some text", "line 13"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLegacy([]byte(legacyConfig + tt.line + "\n"))
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("ParseLegacy() error = %v, want *ValidationError", err)
			}
			if verr.Field != tt.wantField {
				t.Errorf("Field = %q, want %q", verr.Field, tt.wantField)
			}
		})
	}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return p
}

func TestLoad_LegacyWithURLList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.txt", legacyConfig)
	writeFile(t, dir, "urls.txt", "https://example.com/a\n\n# comment\n  https://example.com/b  \n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if len(cfg.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(cfg.Targets))
	}
	if cfg.Targets[1].URL != "https://example.com/b" {
		t.Errorf("Targets[1].URL = %q, want trimmed url", cfg.Targets[1].URL)
	}
}

func TestLoad_YAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sitewatch.yaml", profileYAML+"targets:\n  - url: https://example.com\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Targets) != 1 {
		t.Errorf("len(Targets) = %d, want 1", len(cfg.Targets))
	}
}

func TestLoadWithURLs_Override(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sitewatch.yml", profileYAML+"targets:\n  - url: https://example.com/inline\n")
	urls := writeFile(t, dir, "extra.txt", "https://example.com/extra\n")

	cfg, err := LoadWithURLs(path, urls)
	if err != nil {
		t.Fatalf("LoadWithURLs() error = %v", err)
	}
	if len(cfg.Targets) != 2 {
		t.Fatalf("len(Targets) = %d, want 2", len(cfg.Targets))
	}
	if cfg.Targets[1].URL != "https://example.com/extra" {
		t.Errorf("Targets[1].URL = %q", cfg.Targets[1].URL)
	}
}

func TestLoad_DuplicateAcrossURLList(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "sitewatch.yaml", profileYAML+"urls_file: urls.txt\ntargets:\n  - url: https://example.com\n")
	writeFile(t, dir, "urls.txt", "https://example.com\n")

	_, err := Load(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Load() error = %v, want *ValidationError", err)
	}
	if !strings.Contains(verr.Reason, "duplicates") {
		t.Errorf("Reason = %q, want duplicates", verr.Reason)
	}
}

func TestLoad_MissingFiles(t *testing.T) {
	dir := t.TempDir()

	if _, err := Load(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("Load() expected error for missing config")
	}

	// legacy config without its url list
	path := writeFile(t, dir, "config.txt", legacyConfig)
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for missing urls.txt")
	}
}

func TestLoadTargets_Empty(t *testing.T) {
	path := writeFile(t, t.TempDir(), "urls.txt", "# nothing here\n\n")

	_, err := LoadTargets(path)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("LoadTargets() error = %v, want *ValidationError", err)
	}
}

func TestFind(t *testing.T) {
	dir := t.TempDir()

	if _, err := Find(dir); !errors.Is(err, ErrNoConfig) {
		t.Errorf("Find() error = %v, want ErrNoConfig", err)
	}

	writeFile(t, dir, "config.txt", legacyConfig)
	writeFile(t, dir, "sitewatch.yml", profileYAML)

	got, err := Find(dir)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if filepath.Base(got) != "sitewatch.yml" {
		t.Errorf("Find() = %q, want sitewatch.yml preferred", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("SITEWATCH_TEST_SET", "value")
	t.Setenv("SITEWATCH_TEST_EMPTY", "")

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"plain", "plain", false},
		{"${SITEWATCH_TEST_SET}", "value", false},
		{"a-${SITEWATCH_TEST_SET}-b", "a-value-b", false},
		{"${SITEWATCH_TEST_EMPTY}", "", false},
		{"${SITEWATCH_TEST_UNSET:-fallback}", "fallback", false},
		{"${SITEWATCH_TEST_UNSET:-}", "", false},
		{"${SITEWATCH_TEST_SET:-fallback}", "value", false},
		{"${SITEWATCH_TEST_UNSET}", "", true},
	}

	for _, tt := range tests {
		got, err := expandEnvVars(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("expandEnvVars(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
