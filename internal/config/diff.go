package config

import (
	"reflect"
	"strings"

	logx "chatd/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and
// safe structured attrs for logging. Secrets (token, DSN) are never
// included, only whether they are set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		!reflect.DeepEqual(oldCfg.Telegram.Channels, newCfg.Telegram.Channels) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.channel_count", len(newCfg.Telegram.Channels)),
		)
	}

	if oldCfg.Source != newCfg.Source {
		changed = append(changed, "source")
		attrs = append(attrs, logx.String("source.kind", newCfg.Source.Kind))
	}

	if oldCfg.Watch != newCfg.Watch {
		changed = append(changed, "watch")
		attrs = append(attrs,
			logx.String("watch.interval", strings.TrimSpace(newCfg.Watch.Interval)),
			logx.String("watch.max_post_age", strings.TrimSpace(newCfg.Watch.MaxPostAge)),
		)
	}

	if oldCfg.Broadcast != newCfg.Broadcast {
		changed = append(changed, "broadcast")
		attrs = append(attrs,
			logx.Int("broadcast.workers", newCfg.Broadcast.Workers),
			logx.Int("broadcast.retry_max", newCfg.Broadcast.RetryMax),
			logx.Int("broadcast.fail_threshold", newCfg.Broadcast.FailThreshold),
		)
	}

	// Storage (never log DSN)
	if oldCfg.Storage.Mode != newCfg.Storage.Mode ||
		oldCfg.Storage.File != newCfg.Storage.File ||
		oldCfg.Storage.SQL != newCfg.Storage.SQL {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.mode", newCfg.Storage.Mode),
			logx.String("storage.sql.driver", newCfg.Storage.SQL.Driver),
			logx.Bool("storage.sql.dsn_set", strings.TrimSpace(newCfg.Storage.SQL.DSN) != ""),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	return changed, attrs
}
