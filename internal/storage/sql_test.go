package storage

import (
	"context"
	"path/filepath"
	"testing"

	"chatd/internal/feed"
	logx "chatd/pkg/logx"
)

func newSQLiteStore(t *testing.T) Store {
	t.Helper()
	st, err := openSQL(SQLConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "chatd.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("openSQL: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestSQLStoreRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	p := testPosting("a")
	p.Locations = []string{"NYC", "Remote"}
	p.Terms = []string{"Summer 2026", "Fall 2026"}
	p.Sponsorship = "Offers Sponsorship"

	if err := st.Commit(ctx, feed.Snapshot{p, testPosting("b")}, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 postings, got %d", len(snap))
	}
	got := snap.Index()["a"]
	if got.Title != p.Title || got.Sponsorship != p.Sponsorship || got.PostedAt != p.PostedAt {
		t.Fatalf("posting fields lost: %+v", got)
	}
	if len(got.Locations) != 2 || len(got.Terms) != 2 {
		t.Fatalf("locations/terms lost: %+v", got)
	}

	ok, err := st.HasDelivery(ctx, "a", "ch1", "new", 1695000100)
	if err != nil || !ok {
		t.Fatalf("HasDelivery = %v, %v", ok, err)
	}

	recs, err := st.Records(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("Records = %v, %v", recs, err)
	}
	if recs[0].Kind != "new" || recs[0].UpdatedAt != 1695000100 || recs[0].DeliveredAt.Unix() != 1700000000 {
		t.Fatalf("record fields lost: %+v", recs[0])
	}
}

func TestSQLStoreUpsertAndCascade(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	a := testPosting("a")
	if err := st.Commit(ctx, feed.Snapshot{a}, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Mutate in place: same id, new title and locations.
	a.Title = "Rewritten"
	a.Locations = []string{"SF"}
	if err := st.Commit(ctx, feed.Snapshot{a}, nil); err != nil {
		t.Fatalf("Commit update: %v", err)
	}
	snap, err := st.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	got := snap.Index()["a"]
	if got.Title != "Rewritten" || len(got.Locations) != 1 || got.Locations[0] != "SF" {
		t.Fatalf("upsert did not replace fields: %+v", got)
	}
	// Records survive an update of the same posting.
	if ok, _ := st.HasDelivery(ctx, "a", "ch1", "new", 1695000100); !ok {
		t.Fatal("record lost on upsert")
	}

	// Dropping the posting cascades to its records.
	if err := st.Commit(ctx, feed.Snapshot{testPosting("b")}, nil); err != nil {
		t.Fatalf("Commit drop: %v", err)
	}
	if ok, _ := st.HasDelivery(ctx, "a", "ch1", "new", 1695000100); ok {
		t.Fatal("record survived posting deletion")
	}
}

func TestSQLStoreRecordIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	snap := feed.Snapshot{testPosting("a")}
	rec := testRecord("a", "ch1")
	if err := st.Commit(ctx, snap, []Record{rec}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Re-committing the same record is a no-op, not a conflict error.
	if err := st.Commit(ctx, snap, []Record{rec}); err != nil {
		t.Fatalf("repeat Commit: %v", err)
	}
	recs, err := st.Records(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected exactly 1 record, got %v (%v)", recs, err)
	}
}

func TestSQLStoreFollowupReplacesRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newSQLiteStore(t)

	snap := feed.Snapshot{testPosting("a")}
	if err := st.Commit(ctx, snap, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	followup := testRecord("a", "ch1")
	followup.Kind = "deactivated"
	followup.UpdatedAt = 1695000200
	followup.MessageRef = "m2"
	if err := st.Commit(ctx, snap, []Record{followup}); err != nil {
		t.Fatalf("Commit follow-up: %v", err)
	}

	if ok, _ := st.HasDelivery(ctx, "a", "ch1", "deactivated", 1695000200); !ok {
		t.Fatal("follow-up announcement not recorded")
	}
	if ok, _ := st.HasDelivery(ctx, "a", "ch1", "new", 1695000100); ok {
		t.Fatal("replaced record still matches the old announcement")
	}
	recs, err := st.Records(ctx)
	if err != nil || len(recs) != 1 {
		t.Fatalf("expected one record per channel, got %v (%v)", recs, err)
	}
	if recs[0].MessageRef != "m2" {
		t.Fatalf("record not replaced: %+v", recs[0])
	}
}

func TestMigrateFileToSQL(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	src := newFileStore(t)
	dst := newSQLiteStore(t)

	if err := src.Commit(ctx, feed.Snapshot{testPosting("a"), testPosting("b")}, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("seed file store: %v", err)
	}

	if err := Migrate(ctx, src, dst); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	snap, err := dst.LoadSnapshot(ctx)
	if err != nil || len(snap) != 2 {
		t.Fatalf("migrated snapshot = %d postings, %v", len(snap), err)
	}
	if ok, _ := dst.HasDelivery(ctx, "a", "ch1", "new", 1695000100); !ok {
		t.Fatal("migrated record missing")
	}
}
