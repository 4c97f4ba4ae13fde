package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func fieldErrors(err error) map[string]bool {
	out := map[string]bool{}
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		var ce *Error
		if errors.As(e, &ce) {
			out[ce.Field] = true
		}
		if j, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range j.Unwrap() {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load missing: err = %v, want ErrNotFound", err)
	}
}

func TestLoad_MinimalFileGetsDefaults(t *testing.T) {
	path := writeConfig(t, `
source:
  path: /tmp/chat.db
sink:
  webhook:
    url: https://hooks.example.com/abc
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sink.Type != SinkWebhook {
		t.Errorf("Sink.Type = %q, want webhook", cfg.Sink.Type)
	}
	if cfg.PollInterval() != 60*time.Second {
		t.Errorf("PollInterval = %v, want 60s", cfg.PollInterval())
	}
	if cfg.FetchLimit != 50 {
		t.Errorf("FetchLimit = %d, want 50", cfg.FetchLimit)
	}
	if cfg.Sink.Webhook.SendInterval() != 1500*time.Millisecond {
		t.Errorf("SendInterval = %v, want 1.5s", cfg.Sink.Webhook.SendInterval())
	}
	if got := cfg.Filters.BusinessDays; len(got) != 5 || got[0] != 0 || got[4] != 4 {
		t.Errorf("BusinessDays = %v, want [0 1 2 3 4]", got)
	}
	if cfg.ConfigPath != path {
		t.Errorf("ConfigPath = %q, want %q", cfg.ConfigPath, path)
	}
	if strings.HasPrefix(cfg.Cursor.Path, "~") {
		t.Errorf("Cursor.Path not expanded: %q", cfg.Cursor.Path)
	}
}

func TestLoad_FullDocument(t *testing.T) {
	path := writeConfig(t, `
source:
  path: /data/chat.db
  account-filter: "+15550001111"
sink:
  type: email
  email:
    smtp-host: mail.example.com
    smtp-port: 2525
    from: relay@example.com
    to: me@example.com
poll-interval-seconds: 15
fetch-limit: 200
filters:
  allowed-senders: ["+15551234567"]
  blocked-senders: ["spam@example.com"]
  business-hours-only: true
  business-hours: {start: 9, end: 17}
  business-days: [0, 2, 4]
  timezone: America/New_York
digest:
  enabled: true
  interval-minutes: 10
cursor:
  backend: redis
  redis: {addr: "10.0.0.1:6379", db: 2}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Source.AccountFilter != "+15550001111" {
		t.Errorf("AccountFilter = %q", cfg.Source.AccountFilter)
	}
	if cfg.Sink.Email.SMTPPort != 2525 || !cfg.Sink.Email.StartTLS {
		t.Errorf("Email = %+v, want port 2525 with default starttls", cfg.Sink.Email)
	}
	if cfg.FetchLimit != 200 {
		t.Errorf("FetchLimit = %d, want 200", cfg.FetchLimit)
	}
	if cfg.PollInterval() != 10*time.Minute {
		t.Errorf("PollInterval = %v, want digest interval 10m", cfg.PollInterval())
	}
	if len(cfg.Filters.AllowedSenders) != 1 || cfg.Filters.BlockedSenders[0] != "spam@example.com" {
		t.Errorf("Filters = %+v", cfg.Filters)
	}
	if cfg.Filters.BusinessHours.Start != 9 || cfg.Filters.BusinessHours.End != 17 {
		t.Errorf("BusinessHours = %+v", cfg.Filters.BusinessHours)
	}
	loc, err := cfg.Location()
	if err != nil || loc.String() != "America/New_York" {
		t.Errorf("Location = %v, %v", loc, err)
	}
	if cfg.Cursor.Backend != CursorRedis || cfg.Cursor.Redis.DB != 2 || cfg.Cursor.Redis.Key != "msgrelay:cursor" {
		t.Errorf("Cursor = %+v", cfg.Cursor)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	path := writeConfig(t, `
source:
  path: /tmp/chat.db
sink:
  webhook:
    url: https://hooks.example.com/file
`)
	t.Setenv("MSGRELAY_SINK_WEBHOOK_URL", "https://hooks.example.com/env")
	t.Setenv("MSGRELAY_FETCH_LIMIT", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sink.Webhook.URL != "https://hooks.example.com/env" {
		t.Errorf("Webhook.URL = %q, want env override", cfg.Sink.Webhook.URL)
	}
	if cfg.FetchLimit != 7 {
		t.Errorf("FetchLimit = %d, want 7", cfg.FetchLimit)
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.PollIntervalSeconds = 0
	cfg.FetchLimit = MaxFetchLimit + 1
	cfg.Filters.BusinessHours.Start = 18
	cfg.Filters.BusinessHours.End = 8
	cfg.Filters.BusinessDays = []int{0, 7}
	cfg.Filters.Timezone = "Mars/Olympus_Mons"
	cfg.Cursor.Backend = "etcd"
	cfg.Log.Format = "xml"

	got := fieldErrors(cfg.Validate())
	for _, field := range []string{
		"poll-interval-seconds",
		"fetch-limit",
		"filters.business-hours",
		"filters.business-days",
		"filters.timezone",
		"sink.webhook.url",
		"cursor.backend",
		"log.format",
	} {
		if !got[field] {
			t.Errorf("missing error for %s (got %v)", field, got)
		}
	}
}

func TestValidate_SinkRequirements(t *testing.T) {
	tests := []struct {
		name  string
		apply func(*Config)
		field string
	}{
		{"webhook url scheme", func(c *Config) { c.Sink.Webhook.URL = "ftp://example.com" }, "sink.webhook.url"},
		{"email host", func(c *Config) { c.Sink.Type = SinkEmail; c.Sink.Email.SMTPHost = "" }, "sink.email.smtp-host"},
		{"email to", func(c *Config) { c.Sink.Type = SinkEmail; c.Sink.Email.From = "a@b.c" }, "sink.email.to"},
		{"nats subject", func(c *Config) { c.Sink.Type = SinkNATS; c.Sink.NATS.Subject = "" }, "sink.nats.subject"},
		{"kafka brokers", func(c *Config) { c.Sink.Type = SinkKafka }, "sink.kafka.brokers"},
		{"unknown sink", func(c *Config) { c.Sink.Type = "pager" }, "sink.type"},
		{"digest interval", func(c *Config) { c.Digest.Enabled = true; c.Digest.IntervalMinutes = 0 }, "digest.interval-minutes"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.apply(&cfg)
			if got := fieldErrors(cfg.Validate()); !got[tt.field] {
				t.Errorf("Validate errors = %v, want %s", got, tt.field)
			}
		})
	}
}

func TestValidate_DefaultWithURLIsValid(t *testing.T) {
	cfg := Default()
	cfg.Sink.Webhook.URL = "https://hooks.example.com/x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yml")

	created, err := WriteDefault(path)
	if err != nil || !created {
		t.Fatalf("WriteDefault = %v, %v; want created", created, err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("mode = %v, want 0600", info.Mode().Perm())
	}

	if err := os.WriteFile(path, []byte("# edited\n"), 0600); err != nil {
		t.Fatal(err)
	}
	created, err = WriteDefault(path)
	if err != nil || created {
		t.Fatalf("second WriteDefault = %v, %v; want not created", created, err)
	}
	body, _ := os.ReadFile(path)
	if string(body) != "# edited\n" {
		t.Errorf("existing file overwritten: %q", body)
	}
}

func TestWriteDefault_LoadsBackWithMissingURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if _, err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault: %v", err)
	}
	_, err := Load(path)
	if got := fieldErrors(err); len(got) != 1 || !got["sink.webhook.url"] {
		t.Errorf("Load default errors = %v, want only sink.webhook.url", got)
	}
}
