package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validYAML = `
telegram:
  token: "123:abc"
  channels: ["-1001", "-1002"]
source:
  kind: file
  path: ./listings.json
watch:
  interval: "90s"
  max_post_age: "120h"
broadcast:
  workers: 4
  rate_per_sec: 5
  retry_max: 3
  retry_base: "500ms"
  fail_threshold: 5
storage:
  mode: legacy-only
  file:
    snapshot_path: ./state/snapshot.json
    records_path: ./state/records.json
logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
`

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadValidYAML(t *testing.T) {
	m := NewManager(writeConfig(t, "chatd.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Errorf("token = %q", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.Channels) != 2 || cfg.Telegram.Channels[0] != "-1001" {
		t.Errorf("channels = %v", cfg.Telegram.Channels)
	}
	if cfg.Watch.Interval != "90s" {
		t.Errorf("interval = %q", cfg.Watch.Interval)
	}
	if got := m.Get(); got != cfg {
		t.Error("Get did not return the committed config")
	}
}

func TestLoadRejectsUnknownField(t *testing.T) {
	body := strings.Replace(validYAML, "logging:", "retry_policy: aggressive\nlogging:", 1)
	m := NewManager(writeConfig(t, "chatd.yaml", body))
	if _, err := m.Load(); err == nil {
		t.Fatal("Load accepted a config with an unknown top-level field")
	}
}

func TestLoadExpandsEnvRefs(t *testing.T) {
	t.Setenv("CHATD_TEST_TOKEN", "999:xyz")
	body := strings.Replace(validYAML, `token: "123:abc"`, `token: "${CHATD_TEST_TOKEN}"`, 1)
	m := NewManager(writeConfig(t, "chatd.yaml", body))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "999:xyz" {
		t.Errorf("token = %q, want env value", cfg.Telegram.Token)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		m := NewManager(writeConfig(t, "chatd.yaml", validYAML))
		cfg, err := m.Load()
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return cfg
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing token", func(c *Config) { c.Telegram.Token = " " }, "telegram.token"},
		{"no channels", func(c *Config) { c.Telegram.Channels = nil }, "telegram.channels"},
		{"bad source kind", func(c *Config) { c.Source.Kind = "ftp" }, "source.kind"},
		{"git without repo", func(c *Config) { c.Source = SourceConfig{Kind: "git", LocalPath: "/tmp/x", JSONPath: "a.json"} }, "source.repo_url"},
		{"bad duration", func(c *Config) { c.Watch.Interval = "2 minutes" }, "watch.interval"},
		{"negative retry", func(c *Config) { c.Broadcast.RetryMax = -1 }, "broadcast.retry_max"},
		{"bad backoff", func(c *Config) { c.Broadcast.Backoff = "linear" }, "broadcast.backoff"},
		{"bad mode", func(c *Config) { c.Storage.Mode = "both" }, "storage.mode"},
		{"dual-write without dsn", func(c *Config) { c.Storage.Mode = "dual-write" }, "storage.sql.dsn"},
		{"primary-only without dsn", func(c *Config) { c.Storage.Mode = "primary-only" }, "storage.sql.dsn"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"file sink without path", func(c *Config) { c.Logging.File = LoggingFile{Enabled: true} }, "logging.file.path"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("err = %v, want mention of %s", err, tc.wantErr)
			}
		})
	}
}

func TestValidateAcceptsSQLModes(t *testing.T) {
	m := NewManager(writeConfig(t, "chatd.yaml", validYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.Storage.Mode = "primary-only"
	cfg.Storage.SQL = SQLStorageConfig{Driver: "sqlite", DSN: "./state/chatd.db"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("primary-only sqlite: %v", err)
	}
	cfg.Storage.Mode = "dual-write"
	cfg.Storage.SQL = SQLStorageConfig{Driver: "postgres", DSN: "postgres://localhost/chatd"}
	if err := cfg.Validate(); err != nil {
		t.Errorf("dual-write postgres: %v", err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	m := NewManager(writeConfig(t, "chatd.yaml", validYAML))
	oldCfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	newCfg := *oldCfg
	newCfg.Logging.Level = "debug"
	newCfg.Broadcast.RetryMax = 7

	changed, _ := SummarizeConfigChange(oldCfg, &newCfg)
	got := strings.Join(changed, ",")
	if !strings.Contains(got, "logging") || !strings.Contains(got, "broadcast") {
		t.Errorf("changed = %v, want logging and broadcast", changed)
	}
	if strings.Contains(got, "storage") || strings.Contains(got, "telegram") {
		t.Errorf("changed = %v reports untouched sections", changed)
	}
}
