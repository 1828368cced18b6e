package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	logx "chatd/pkg/logx"
)

// Open initializes the store for the configured migration mode.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}

	mode := Mode(strings.ToLower(strings.TrimSpace(string(cfg.Mode))))
	if mode == "" {
		mode = ModeLegacyOnly
	}

	switch mode {
	case ModeLegacyOnly:
		return openFile(cfg.File, log)
	case ModePrimaryOnly:
		return openSQL(cfg.SQL, log)
	case ModeDualWrite:
		primary, err := openFile(cfg.File, log)
		if err != nil {
			return nil, err
		}
		secondary, err := openSQL(cfg.SQL, log)
		if err != nil {
			_ = primary.Close()
			return nil, err
		}
		log.Info("storage running in dual-write mode")
		return &dualStore{primary: primary, secondary: secondary, log: log}, nil
	default:
		return nil, fmt.Errorf("storage: unknown mode %q", cfg.Mode)
	}
}

// Migrate copies the full state of one store into another. Used by the
// -migrate flag to seed the relational backend from the flat files
// before switching modes.
func Migrate(ctx context.Context, from, to Store) error {
	if from == nil || to == nil {
		return errors.New("storage: migrate requires two stores")
	}
	snap, err := from.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("storage: migrate load snapshot: %w", err)
	}
	records, err := from.Records(ctx)
	if err != nil {
		return fmt.Errorf("storage: migrate load records: %w", err)
	}
	if err := to.Commit(ctx, snap, records); err != nil {
		return fmt.Errorf("storage: migrate commit: %w", err)
	}
	return nil
}
