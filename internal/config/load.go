package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes environment overrides, e.g. MSGRELAY_SINK_WEBHOOK_URL.
const EnvPrefix = "MSGRELAY"

// ErrNotFound is returned when the config file does not exist.
var ErrNotFound = errors.New("config: file not found")

// DefaultDir is ~/.msgrelay.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("finding home directory: %w", err)
	}
	return filepath.Join(home, ".msgrelay"), nil
}

// DefaultPath is ~/.msgrelay/config.yml.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Load reads the config file at path (DefaultPath when empty), applies
// environment overrides and validates the result. A missing file is
// ErrNotFound; invalid values are reported as *Error.
func Load(path string) (Config, error) {
	var cfg Config

	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}
	path = ExpandHome(path)

	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("%w: %s (run `msgrelay init` to create one)", ErrNotFound, path)
		}
		return cfg, fmt.Errorf("config: stat %s: %w", path, err)
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.account-filter", d.Source.AccountFilter)
	v.SetDefault("source.query-timeout-seconds", d.Source.QueryTimeoutSeconds)

	v.SetDefault("sink.type", d.Sink.Type)
	v.SetDefault("sink.webhook.url", d.Sink.Webhook.URL)
	v.SetDefault("sink.webhook.timeout-seconds", d.Sink.Webhook.TimeoutSeconds)
	v.SetDefault("sink.webhook.send-interval-millis", d.Sink.Webhook.SendIntervalMillis)
	v.SetDefault("sink.email.smtp-host", d.Sink.Email.SMTPHost)
	v.SetDefault("sink.email.smtp-port", d.Sink.Email.SMTPPort)
	v.SetDefault("sink.email.username", d.Sink.Email.Username)
	v.SetDefault("sink.email.password", d.Sink.Email.Password)
	v.SetDefault("sink.email.from", d.Sink.Email.From)
	v.SetDefault("sink.email.to", d.Sink.Email.To)
	v.SetDefault("sink.email.starttls", d.Sink.Email.StartTLS)
	v.SetDefault("sink.email.timeout-seconds", d.Sink.Email.TimeoutSeconds)
	v.SetDefault("sink.nats.url", d.Sink.NATS.URL)
	v.SetDefault("sink.nats.subject", d.Sink.NATS.Subject)
	v.SetDefault("sink.nats.name", d.Sink.NATS.Name)
	v.SetDefault("sink.nats.username", d.Sink.NATS.Username)
	v.SetDefault("sink.nats.password", d.Sink.NATS.Password)
	v.SetDefault("sink.nats.token", d.Sink.NATS.Token)
	v.SetDefault("sink.nats.timeout-seconds", d.Sink.NATS.TimeoutSeconds)
	v.SetDefault("sink.kafka.brokers", d.Sink.Kafka.Brokers)
	v.SetDefault("sink.kafka.topic", d.Sink.Kafka.Topic)
	v.SetDefault("sink.kafka.timeout-seconds", d.Sink.Kafka.TimeoutSeconds)

	v.SetDefault("poll-interval-seconds", d.PollIntervalSeconds)
	v.SetDefault("fetch-limit", d.FetchLimit)

	v.SetDefault("filters.allowed-senders", d.Filters.AllowedSenders)
	v.SetDefault("filters.blocked-senders", d.Filters.BlockedSenders)
	v.SetDefault("filters.business-hours-only", d.Filters.BusinessHoursOnly)
	v.SetDefault("filters.business-hours.start", d.Filters.BusinessHours.Start)
	v.SetDefault("filters.business-hours.end", d.Filters.BusinessHours.End)
	v.SetDefault("filters.business-days", d.Filters.BusinessDays)
	v.SetDefault("filters.timezone", d.Filters.Timezone)

	v.SetDefault("digest.enabled", d.Digest.Enabled)
	v.SetDefault("digest.interval-minutes", d.Digest.IntervalMinutes)

	v.SetDefault("cursor.backend", d.Cursor.Backend)
	v.SetDefault("cursor.path", d.Cursor.Path)
	v.SetDefault("cursor.redis.addr", d.Cursor.Redis.Addr)
	v.SetDefault("cursor.redis.password", d.Cursor.Redis.Password)
	v.SetDefault("cursor.redis.db", d.Cursor.Redis.DB)
	v.SetDefault("cursor.redis.key", d.Cursor.Redis.Key)

	v.SetDefault("dead-letter.enabled", d.DeadLetter.Enabled)
	v.SetDefault("dead-letter.path", d.DeadLetter.Path)

	v.SetDefault("ledger.enabled", d.Ledger.Enabled)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("ledger.retention-days", d.Ledger.RetentionDays)

	v.SetDefault("api.enabled", d.API.Enabled)
	v.SetDefault("api.addr", d.API.Addr)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.format", d.Log.Format)
}

func (c *Config) expandPaths() {
	c.Source.Path = ExpandHome(c.Source.Path)
	c.Cursor.Path = ExpandHome(c.Cursor.Path)
	c.DeadLetter.Path = ExpandHome(c.DeadLetter.Path)
	c.Ledger.Path = ExpandHome(c.Ledger.Path)
	c.Log.File = ExpandHome(c.Log.File)
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}

const defaultHeader = `# msgrelay configuration.
# Set sink.webhook.url (or switch sink.type), then run: msgrelay seed
`

// WriteDefault writes the default document to path unless a file already
// exists there. It reports whether a file was created.
func WriteDefault(path string) (bool, error) {
	path = ExpandHome(path)
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("config: stat %s: %w", path, err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return false, fmt.Errorf("config: render default: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("config: mkdir: %w", err)
	}
	// Credentials may end up in this file.
	if err := os.WriteFile(path, append([]byte(defaultHeader), body...), 0600); err != nil {
		return false, fmt.Errorf("config: write %s: %w", path, err)
	}
	return true, nil
}
