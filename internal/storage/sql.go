package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"chatd/internal/feed"
	logx "chatd/pkg/logx"
)

//go:embed schema.sql
var schemaFS embed.FS

// sqlStore is the relational backend. It runs on either the embedded
// sqlite driver (default) or PostgreSQL via pgx; the SQL is written
// against both dialects, with placeholders rebound per driver.
type sqlStore struct {
	db       *sql.DB
	postgres bool
	log      logx.Logger
}

func openSQL(cfg SQLConfig, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("storage: sql backend needs a dsn")
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	postgres := false
	switch driver {
	case "", "sqlite", "sqlite3":
		driver = "sqlite"
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
	case "postgres", "postgresql", "pgx":
		driver = "pgx"
		postgres = true
	default:
		return nil, fmt.Errorf("storage: unknown sql driver %q", cfg.Driver)
	}

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if !postgres {
		// SQLite prefers a small number of concurrent writers.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		if cfg.BusyTimeout > 0 {
			_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
		}
		_, _ = db.Exec("PRAGMA journal_mode = WAL")
		_, _ = db.Exec("PRAGMA synchronous = NORMAL")
		_, _ = db.Exec("PRAGMA foreign_keys = ON")
	}

	st := &sqlStore{db: db, postgres: postgres, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: schema: %w", err)
	}
	return st, nil
}

func (s *sqlStore) migrate(ctx context.Context) error {
	b, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return err
	}
	for _, stmt := range strings.Split(string(b), ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// rebind rewrites ? placeholders to $N for the postgres dialect.
func (s *sqlStore) rebind(query string) string {
	if !s.postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) LoadSnapshot(ctx context.Context) (feed.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, date_updated, url, company_name, title,
		COALESCE(sponsorship, ''), active, COALESCE(source, ''), date_posted,
		COALESCE(company_url, ''), is_visible FROM postings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("storage: load postings: %w", err)
	}
	defer rows.Close()

	var snap feed.Snapshot
	idx := map[string]int{}
	for rows.Next() {
		var p feed.Posting
		if err := rows.Scan(&p.ID, &p.UpdatedAt, &p.URL, &p.Company, &p.Title,
			&p.Sponsorship, &p.Active, &p.Source, &p.PostedAt,
			&p.CompanyURL, &p.Visible); err != nil {
			return nil, err
		}
		idx[p.ID] = len(snap)
		snap = append(snap, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := s.loadSet(ctx, `SELECT id, location FROM posting_locations ORDER BY id, location`, func(id, v string) {
		if i, ok := idx[id]; ok {
			snap[i].Locations = append(snap[i].Locations, v)
		}
	}); err != nil {
		return nil, fmt.Errorf("storage: load locations: %w", err)
	}
	if err := s.loadSet(ctx, `SELECT id, term FROM posting_terms ORDER BY id, term`, func(id, v string) {
		if i, ok := idx[id]; ok {
			snap[i].Terms = append(snap[i].Terms, v)
		}
	}); err != nil {
		return nil, fmt.Errorf("storage: load terms: %w", err)
	}
	return snap, nil
}

func (s *sqlStore) loadSet(ctx context.Context, query string, add func(id, v string)) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id, v string
		if err := rows.Scan(&id, &v); err != nil {
			return err
		}
		add(id, v)
	}
	return rows.Err()
}

func (s *sqlStore) Commit(ctx context.Context, snap feed.Snapshot, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin commit: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := s.deleteAbsent(ctx, tx, snap); err != nil {
		return err
	}

	upsert := s.rebind(`INSERT INTO postings
		(id, date_updated, url, company_name, title, sponsorship, active, source, date_posted, company_url, is_visible)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			date_updated = excluded.date_updated,
			url          = excluded.url,
			company_name = excluded.company_name,
			title        = excluded.title,
			sponsorship  = excluded.sponsorship,
			active       = excluded.active,
			source       = excluded.source,
			date_posted  = excluded.date_posted,
			company_url  = excluded.company_url,
			is_visible   = excluded.is_visible`)
	delLoc := s.rebind(`DELETE FROM posting_locations WHERE id = ?`)
	insLoc := s.rebind(`INSERT INTO posting_locations (id, location) VALUES (?,?) ON CONFLICT DO NOTHING`)
	delTerm := s.rebind(`DELETE FROM posting_terms WHERE id = ?`)
	insTerm := s.rebind(`INSERT INTO posting_terms (id, term) VALUES (?,?) ON CONFLICT DO NOTHING`)

	for _, p := range snap {
		if _, err := tx.ExecContext(ctx, upsert,
			p.ID, p.UpdatedAt, p.URL, p.Company, p.Title, nullStr(p.Sponsorship),
			p.Active, nullStr(p.Source), p.PostedAt, nullStr(p.CompanyURL), p.Visible); err != nil {
			return fmt.Errorf("storage: upsert posting %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx, delLoc, p.ID); err != nil {
			return err
		}
		for _, loc := range p.Locations {
			if _, err := tx.ExecContext(ctx, insLoc, p.ID, loc); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, delTerm, p.ID); err != nil {
			return err
		}
		for _, term := range p.Terms {
			if _, err := tx.ExecContext(ctx, insTerm, p.ID, term); err != nil {
				return err
			}
		}
	}

	// The EXISTS guard drops records for postings no longer present
	// (possible when seeding from a legacy file store). On conflict the
	// row is replaced: the record always describes the latest
	// announcement delivered to the channel.
	insRec := s.rebind(`INSERT INTO delivery_records (id, channel_id, kind, date_updated, message_ref, delivered_at)
		SELECT ?, ?, ?, ?, ?, ? WHERE EXISTS (SELECT 1 FROM postings WHERE id = ?)
		ON CONFLICT (id, channel_id) DO UPDATE SET
			kind         = excluded.kind,
			date_updated = excluded.date_updated,
			message_ref  = excluded.message_ref,
			delivered_at = excluded.delivered_at`)
	for _, r := range records {
		if _, err := tx.ExecContext(ctx, insRec,
			r.PostingID, r.ChannelID, r.Kind, r.UpdatedAt, r.MessageRef, r.DeliveredAt.Unix(), r.PostingID); err != nil {
			return fmt.Errorf("storage: insert record %s/%s: %w", r.PostingID, r.ChannelID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit: %w", err)
	}
	s.log.Debug("sql store committed",
		logx.Int("postings", len(snap)),
		logx.Int("new_records", len(records)),
	)
	return nil
}

func (s *sqlStore) deleteAbsent(ctx context.Context, tx *sql.Tx, snap feed.Snapshot) error {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM postings`)
	if err != nil {
		return fmt.Errorf("storage: list postings: %w", err)
	}
	var stale []string
	keep := snap.Index()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		if _, ok := keep[id]; !ok {
			stale = append(stale, id)
		}
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return err
	}
	_ = rows.Close()

	del := s.rebind(`DELETE FROM postings WHERE id = ?`)
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, del, id); err != nil {
			return fmt.Errorf("storage: delete posting %s: %w", id, err)
		}
	}
	return nil
}

func (s *sqlStore) HasDelivery(ctx context.Context, postingID, channelID, kind string, updatedAt int64) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT 1 FROM delivery_records
			WHERE id = ? AND channel_id = ? AND kind = ? AND date_updated = ?`),
		postingID, channelID, kind, updatedAt).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqlStore) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, channel_id, kind, date_updated, message_ref, delivered_at
			FROM delivery_records ORDER BY id, channel_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var at int64
		if err := rows.Scan(&r.PostingID, &r.ChannelID, &r.Kind, &r.UpdatedAt, &r.MessageRef, &at); err != nil {
			return nil, err
		}
		r.DeliveredAt = time.Unix(at, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
