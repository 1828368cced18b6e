package app

import (
	"time"

	"chatd/internal/broadcast"
	"chatd/internal/config"
	"chatd/internal/feed"
	"chatd/internal/storage"
	logx "chatd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSourceConfig(cfg *config.Config) feed.Config {
	return feed.Config{
		Kind:      cfg.Source.Kind,
		Path:      cfg.Source.Path,
		RepoURL:   cfg.Source.RepoURL,
		LocalPath: cfg.Source.LocalPath,
		JSONPath:  cfg.Source.JSONPath,
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.sql.busy_timeout", cfg.Storage.SQL.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Mode: storage.Mode(cfg.Storage.Mode),
		File: storage.FileConfig{
			SnapshotPath: cfg.Storage.File.SnapshotPath,
			RecordsPath:  cfg.Storage.File.RecordsPath,
		},
		SQL: storage.SQLConfig{
			Driver:      cfg.Storage.SQL.Driver,
			DSN:         cfg.Storage.SQL.DSN,
			BusyTimeout: busy,
		},
	}, nil
}

func mapBroadcastConfig(cfg *config.Config) (broadcast.Config, error) {
	retryBase, err := config.ParseDurationOrDefault("broadcast.retry_base", cfg.Broadcast.RetryBase, 500*time.Millisecond)
	if err != nil {
		return broadcast.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("broadcast.retry_max_delay", cfg.Broadcast.RetryMaxDelay)
	if err != nil {
		return broadcast.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("broadcast.send_timeout", cfg.Broadcast.SendTimeout)
	if err != nil {
		return broadcast.Config{}, err
	}
	return broadcast.Config{
		Workers:       cfg.Broadcast.Workers,
		RatePerSec:    cfg.Broadcast.RatePerSec,
		Burst:         cfg.Broadcast.Burst,
		RetryMax:      cfg.Broadcast.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		Backoff:       broadcast.BackoffMode(cfg.Broadcast.Backoff),
		FailThreshold: cfg.Broadcast.FailThreshold,
		SendTimeout:   sendTimeout,
	}, nil
}

type watchSettings struct {
	interval time.Duration
	maxAge   time.Duration
	reprobe  time.Duration
	channels []string
}

func mapWatchSettings(cfg *config.Config) (watchSettings, error) {
	interval, err := config.ParseDurationOrDefault("watch.interval", cfg.Watch.Interval, 2*time.Minute)
	if err != nil {
		return watchSettings{}, err
	}
	maxAge, err := config.ParseDurationField("watch.max_post_age", cfg.Watch.MaxPostAge)
	if err != nil {
		return watchSettings{}, err
	}
	reprobe, err := config.ParseDurationField("broadcast.reprobe_interval", cfg.Broadcast.ReprobeInterval)
	if err != nil {
		return watchSettings{}, err
	}
	channels := make([]string, len(cfg.Telegram.Channels))
	copy(channels, cfg.Telegram.Channels)
	return watchSettings{
		interval: interval,
		maxAge:   maxAge,
		reprobe:  reprobe,
		channels: channels,
	}, nil
}
