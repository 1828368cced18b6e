package storage

import (
	"context"
	"errors"
	"time"

	"chatd/internal/feed"
)

var ErrDisabled = errors.New("storage disabled")

// Mode selects the backend(s) during a staged migration.
//
//   - "legacy-only": flat-file backend exclusively
//   - "dual-write":  commits go to both backends, reads come from the
//     flat-file backend; secondary failures are logged, never fatal
//   - "primary-only": relational backend exclusively
type Mode string

const (
	ModeLegacyOnly  Mode = "legacy-only"
	ModeDualWrite   Mode = "dual-write"
	ModePrimaryOnly Mode = "primary-only"
)

type Config struct {
	Mode Mode
	File FileConfig
	SQL  SQLConfig
}

type FileConfig struct {
	SnapshotPath string
	RecordsPath  string
}

// SQLConfig configures the relational backend.
//
// Driver values:
//   - "sqlite": embedded database file (default)
//   - "postgres": PostgreSQL via pgx
type SQLConfig struct {
	Driver      string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Record is durable proof that the latest announcement for one posting
// reached one channel. At most one exists per (posting, channel) pair;
// committing a newer announcement replaces it.
//
// Kind and UpdatedAt identify the announcement itself (the event kind
// and the posting's date_updated when it was sent). They let the
// delivery guard distinguish a replay of the same announcement, which
// must be suppressed, from a follow-up change to an already-announced
// posting, which must go out.
type Record struct {
	PostingID   string    `json:"posting_id"`
	ChannelID   string    `json:"channel_id"`
	Kind        string    `json:"kind"`
	UpdatedAt   int64     `json:"date_updated"`
	MessageRef  string    `json:"message_ref"`
	DeliveredAt time.Time `json:"delivered_at"`
}

// Store persists the last-processed snapshot and the delivery records.
//
// Commit is all-or-nothing: either the snapshot and every new record
// land together, or nothing does. A partial commit would cause either
// re-delivery (records lost) or missed delivery (snapshot advanced
// without its records) after a crash.
//
// HasDelivery reports whether the channel already holds a record for
// this exact announcement. Records for earlier announcements of the
// same posting do not match.
type Store interface {
	LoadSnapshot(ctx context.Context) (feed.Snapshot, error)
	Commit(ctx context.Context, snap feed.Snapshot, records []Record) error
	HasDelivery(ctx context.Context, postingID, channelID, kind string, updatedAt int64) (bool, error)
	Records(ctx context.Context) ([]Record, error)
	Close() error
}
