package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Source    SourceConfig    `json:"source"`
	Watch     WatchConfig     `json:"watch"`
	Broadcast BroadcastConfig `json:"broadcast"`
	Storage   StorageConfig   `json:"storage"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// Channels are the destination chat ids, as strings so channel
	// usernames keep working if the transport grows support for them.
	Channels []string `json:"channels"`
}

// SourceConfig selects where the postings dataset comes from.
//
// kind "file" reads a local JSON file and re-reads it when its mtime
// changes. kind "git" keeps a shallow clone of repo_url at local_path
// and re-reads json_path when its blob hash changes after a pull.
type SourceConfig struct {
	Kind      string `json:"kind"`
	Path      string `json:"path,omitempty"`
	RepoURL   string `json:"repo_url,omitempty"`
	LocalPath string `json:"local_path,omitempty"`
	JSONPath  string `json:"json_path,omitempty"`
}

// WatchConfig controls the polling cycle.
//
// All durations are Go duration strings (e.g. "90s", "2m").
type WatchConfig struct {
	// Interval between cycles. Default "2m".
	Interval string `json:"interval"`
	// MaxPostAge drops newly appeared or reopened postings older than
	// this at scheduling time. "0s" disables the age gate.
	MaxPostAge string `json:"max_post_age"`
}

// BroadcastConfig controls fan-out, retries and channel health.
//
// All durations are Go duration strings.
type BroadcastConfig struct {
	Workers       int     `json:"workers"`
	RatePerSec    float64 `json:"rate_per_sec"`
	Burst         int     `json:"burst,omitempty"`
	RetryMax      int     `json:"retry_max"`
	RetryBase     string  `json:"retry_base"`
	RetryMaxDelay string  `json:"retry_max_delay,omitempty"`
	// Backoff is "fixed" or "exponential" (default).
	Backoff       string `json:"backoff,omitempty"`
	FailThreshold int    `json:"fail_threshold"`
	SendTimeout   string `json:"send_timeout,omitempty"`
	// ReprobeInterval clears blacklisted channels periodically so a
	// recovered channel gets another chance. "0s" disables re-probing.
	ReprobeInterval string `json:"reprobe_interval,omitempty"`
}

// StorageConfig selects the persistence backend(s).
//
// mode is one of "legacy-only", "dual-write", "primary-only".
type StorageConfig struct {
	Mode string            `json:"mode"`
	File FileStorageConfig `json:"file"`
	SQL  SQLStorageConfig  `json:"sql,omitempty"`
}

type FileStorageConfig struct {
	SnapshotPath string `json:"snapshot_path"`
	RecordsPath  string `json:"records_path"`
}

type SQLStorageConfig struct {
	Driver      string `json:"driver,omitempty"` // "sqlite" (default) or "postgres"
	DSN         string `json:"dsn,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// Validate checks cross-field consistency that the strict decoder
// cannot express. It is also the hot-reload gate: a config that fails
// here is rejected without touching the running state.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token: required")
	}
	if len(c.Telegram.Channels) == 0 {
		return fmt.Errorf("telegram.channels: at least one channel required")
	}
	for i, ch := range c.Telegram.Channels {
		if strings.TrimSpace(ch) == "" {
			return fmt.Errorf("telegram.channels[%d]: empty channel id", i)
		}
	}

	switch c.Source.Kind {
	case "file":
		if strings.TrimSpace(c.Source.Path) == "" {
			return fmt.Errorf("source.path: required for kind \"file\"")
		}
	case "git":
		if strings.TrimSpace(c.Source.RepoURL) == "" {
			return fmt.Errorf("source.repo_url: required for kind \"git\"")
		}
		if strings.TrimSpace(c.Source.LocalPath) == "" {
			return fmt.Errorf("source.local_path: required for kind \"git\"")
		}
		if strings.TrimSpace(c.Source.JSONPath) == "" {
			return fmt.Errorf("source.json_path: required for kind \"git\"")
		}
	default:
		return fmt.Errorf("source.kind: must be \"file\" or \"git\", got %q", c.Source.Kind)
	}

	for _, f := range []struct{ path, raw string }{
		{"watch.interval", c.Watch.Interval},
		{"watch.max_post_age", c.Watch.MaxPostAge},
		{"broadcast.retry_base", c.Broadcast.RetryBase},
		{"broadcast.retry_max_delay", c.Broadcast.RetryMaxDelay},
		{"broadcast.send_timeout", c.Broadcast.SendTimeout},
		{"broadcast.reprobe_interval", c.Broadcast.ReprobeInterval},
		{"storage.sql.busy_timeout", c.Storage.SQL.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}

	switch c.Broadcast.Backoff {
	case "", "fixed", "exponential":
	default:
		return fmt.Errorf("broadcast.backoff: must be \"fixed\" or \"exponential\", got %q", c.Broadcast.Backoff)
	}
	if c.Broadcast.RetryMax < 0 {
		return fmt.Errorf("broadcast.retry_max: must be >= 0")
	}

	switch c.Storage.Mode {
	case "legacy-only":
		if err := c.validateFileStorage(); err != nil {
			return err
		}
	case "dual-write":
		if err := c.validateFileStorage(); err != nil {
			return err
		}
		if err := c.validateSQLStorage(); err != nil {
			return err
		}
	case "primary-only":
		if err := c.validateSQLStorage(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("storage.mode: must be \"legacy-only\", \"dual-write\" or \"primary-only\", got %q", c.Storage.Mode)
	}

	switch strings.ToLower(strings.TrimSpace(c.Logging.Level)) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unknown level %q", c.Logging.Level)
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		return fmt.Errorf("logging.file.path: required when logging.file.enabled")
	}
	return nil
}

func (c *Config) validateFileStorage() error {
	if strings.TrimSpace(c.Storage.File.SnapshotPath) == "" {
		return fmt.Errorf("storage.file.snapshot_path: required for mode %q", c.Storage.Mode)
	}
	if strings.TrimSpace(c.Storage.File.RecordsPath) == "" {
		return fmt.Errorf("storage.file.records_path: required for mode %q", c.Storage.Mode)
	}
	return nil
}

func (c *Config) validateSQLStorage() error {
	switch c.Storage.SQL.Driver {
	case "", "sqlite", "postgres", "pgx":
	default:
		return fmt.Errorf("storage.sql.driver: must be \"sqlite\" or \"postgres\", got %q", c.Storage.SQL.Driver)
	}
	if strings.TrimSpace(c.Storage.SQL.DSN) == "" {
		return fmt.Errorf("storage.sql.dsn: required for mode %q", c.Storage.Mode)
	}
	return nil
}
