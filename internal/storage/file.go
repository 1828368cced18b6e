package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"chatd/internal/feed"
	logx "chatd/pkg/logx"
)

// fileStore is the flat-file backend.
//
// Files:
//   - snapshot: the full posting array, same schema as the upstream feed
//   - records:  posting id -> delivered channels correlation map
//
// Commit writes both documents to temporary paths first and renames
// them into place only after both writes succeeded, so a crash mid-way
// leaves the previous state intact.
type fileStore struct {
	log logx.Logger

	mu           sync.Mutex
	snapshotPath string
	recordsPath  string

	// records is the full correlation table, kept in memory between
	// commits. Keyed by posting id.
	records map[string][]fileRecord
}

type fileRecord struct {
	ChannelID   string `json:"channel_id"`
	Kind        string `json:"kind"`
	UpdatedAt   int64  `json:"date_updated"`
	MessageRef  string `json:"message_ref"`
	DeliveredAt int64  `json:"delivered_at"`
}

func openFile(cfg FileConfig, log logx.Logger) (Store, error) {
	snapPath := strings.TrimSpace(cfg.SnapshotPath)
	recPath := strings.TrimSpace(cfg.RecordsPath)
	if snapPath == "" || recPath == "" {
		return nil, errors.New("storage: file backend needs snapshot_path and records_path")
	}
	for _, p := range []string{snapPath, recPath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, err
		}
	}

	records := map[string][]fileRecord{}
	if err := readJSONFile(recPath, &records); err != nil {
		return nil, fmt.Errorf("storage: load records: %w", err)
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		recordsPath:  recPath,
		records:      records,
	}, nil
}

func (s *fileStore) LoadSnapshot(ctx context.Context) (feed.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var snap feed.Snapshot
	if err := readJSONFile(s.snapshotPath, &snap); err != nil {
		return nil, fmt.Errorf("storage: load snapshot: %w", err)
	}
	return snap, nil
}

func (s *fileStore) Commit(ctx context.Context, snap feed.Snapshot, records []Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	// Build the next correlation table without touching the live one
	// until both files are safely on disk. Records for postings absent
	// from the new snapshot are dropped, mirroring the relational
	// backend's foreign-key cascade.
	ids := snap.Index()
	next := make(map[string][]fileRecord, len(s.records))
	for id, recs := range s.records {
		if _, ok := ids[id]; ok {
			next[id] = recs
		}
	}
	for _, r := range records {
		next[r.PostingID] = putRecord(next[r.PostingID], fileRecord{
			ChannelID:   r.ChannelID,
			Kind:        r.Kind,
			UpdatedAt:   r.UpdatedAt,
			MessageRef:  r.MessageRef,
			DeliveredAt: r.DeliveredAt.Unix(),
		})
	}

	snapTmp := s.snapshotPath + ".tmp"
	recTmp := s.recordsPath + ".tmp"
	if err := writeJSONFile(snapTmp, snap); err != nil {
		return fmt.Errorf("storage: write snapshot: %w", err)
	}
	if err := writeJSONFile(recTmp, next); err != nil {
		_ = os.Remove(snapTmp)
		return fmt.Errorf("storage: write records: %w", err)
	}
	if err := os.Rename(snapTmp, s.snapshotPath); err != nil {
		_ = os.Remove(snapTmp)
		_ = os.Remove(recTmp)
		return fmt.Errorf("storage: commit snapshot: %w", err)
	}
	if err := os.Rename(recTmp, s.recordsPath); err != nil {
		_ = os.Remove(recTmp)
		return fmt.Errorf("storage: commit records: %w", err)
	}

	s.records = next
	s.log.Debug("file store committed",
		logx.Int("postings", len(snap)),
		logx.Int("new_records", len(records)),
	)
	return nil
}

func (s *fileStore) HasDelivery(ctx context.Context, postingID, channelID, kind string, updatedAt int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records[postingID] {
		if r.ChannelID == channelID {
			return r.Kind == kind && r.UpdatedAt == updatedAt, nil
		}
	}
	return false, nil
}

func (s *fileStore) Records(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Record
	for id, recs := range s.records {
		for _, r := range recs {
			out = append(out, Record{
				PostingID:   id,
				ChannelID:   r.ChannelID,
				Kind:        r.Kind,
				UpdatedAt:   r.UpdatedAt,
				MessageRef:  r.MessageRef,
				DeliveredAt: time.Unix(r.DeliveredAt, 0),
			})
		}
	}
	return out, nil
}

func (s *fileStore) Close() error { return nil }

// putRecord replaces the channel's record, keeping one per channel.
func putRecord(recs []fileRecord, r fileRecord) []fileRecord {
	for i := range recs {
		if recs[i].ChannelID == r.ChannelID {
			recs[i] = r
			return recs
		}
	}
	return append(recs, r)
}

// readJSONFile decodes path into out; a missing file leaves out as-is.
func readJSONFile(path string, out any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(b, out)
}

func writeJSONFile(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
