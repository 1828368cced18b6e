package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"chatd/internal/feed"
	logx "chatd/pkg/logx"
)

func testPosting(id string) feed.Posting {
	return feed.Posting{
		ID:        id,
		Company:   "Acme",
		Title:     "Intern",
		Locations: []string{"NYC"},
		Terms:     []string{"Summer 2026"},
		Active:    true,
		Visible:   true,
		PostedAt:  1695000000,
		UpdatedAt: 1695000100,
		URL:       "https://acme.example/" + id,
	}
}

func testRecord(postingID, channelID string) Record {
	return Record{
		PostingID:   postingID,
		ChannelID:   channelID,
		Kind:        "new",
		UpdatedAt:   1695000100,
		MessageRef:  "m-" + postingID + "-" + channelID,
		DeliveredAt: time.Unix(1700000000, 0),
	}
}

func newFileStore(t *testing.T) Store {
	t.Helper()
	dir := t.TempDir()
	st, err := openFile(FileConfig{
		SnapshotPath: filepath.Join(dir, "previous_data.json"),
		RecordsPath:  filepath.Join(dir, "message_tracking.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	return st
}

func TestFileStoreEmptyOnFirstRun(t *testing.T) {
	t.Parallel()
	st := newFileStore(t)
	snap, err := st.LoadSnapshot(context.Background())
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(snap) != 0 {
		t.Fatalf("expected empty snapshot, got %d postings", len(snap))
	}
}

func TestFileStoreCommitRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newFileStore(t)

	snap := feed.Snapshot{testPosting("a"), testPosting("b")}
	if err := st.Commit(ctx, snap, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	got, err := st.LoadSnapshot(ctx)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if len(got) != 2 || got.Index()["a"].Title != "Intern" {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	ok, err := st.HasDelivery(ctx, "a", "ch1", "new", 1695000100)
	if err != nil || !ok {
		t.Fatalf("HasDelivery(a, ch1) = %v, %v", ok, err)
	}
	ok, err = st.HasDelivery(ctx, "a", "ch2", "new", 1695000100)
	if err != nil || ok {
		t.Fatalf("HasDelivery(a, ch2) = %v, %v", ok, err)
	}
	// A record for this pair exists but covers a different announcement.
	ok, err = st.HasDelivery(ctx, "a", "ch1", "updated", 1695000200)
	if err != nil || ok {
		t.Fatalf("stale record matched a newer announcement: %v, %v", ok, err)
	}
}

func TestFileStoreFollowupReplacesRecord(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newFileStore(t)

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
}

func TestFileStoreSurvivesReopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	cfg := FileConfig{
		SnapshotPath: filepath.Join(dir, "data.json"),
		RecordsPath:  filepath.Join(dir, "records.json"),
	}

	st, err := openFile(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	snap := feed.Snapshot{testPosting("a")}
	if err := st.Commit(ctx, snap, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	_ = st.Close()

	st2, err := openFile(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	ok, err := st2.HasDelivery(ctx, "a", "ch1", "new", 1695000100)
	if err != nil || !ok {
		t.Fatalf("record lost across reopen: %v, %v", ok, err)
	}
}

func TestFileStorePrunesRecordsOfDroppedPostings(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := newFileStore(t)

	if err := st.Commit(ctx, feed.Snapshot{testPosting("a")}, []Record{testRecord("a", "ch1")}); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	// Posting a vanishes from the feed; its records go with it.
	if err := st.Commit(ctx, feed.Snapshot{testPosting("b")}, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	ok, err := st.HasDelivery(ctx, "a", "ch1", "new", 1695000100)
	if err != nil || ok {
		t.Fatalf("expected record pruned, got %v, %v", ok, err)
	}
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	dir := t.TempDir()
	st, err := openFile(FileConfig{
		SnapshotPath: filepath.Join(dir, "data.json"),
		RecordsPath:  filepath.Join(dir, "records.json"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("openFile: %v", err)
	}
	if err := st.Commit(ctx, feed.Snapshot{testPosting("a")}, nil); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Fatalf("temp file left behind: %s", e.Name())
		}
	}
}
