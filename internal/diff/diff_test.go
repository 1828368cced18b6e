package diff

import (
	"testing"

	"chatd/internal/feed"
)

func posting(id string) feed.Posting {
	return feed.Posting{
		ID:        id,
		Company:   "Acme",
		Title:     "Software Engineering Intern",
		Locations: []string{"NYC", "Remote"},
		Terms:     []string{"Summer 2026"},
		Active:    true,
		Visible:   true,
		PostedAt:  1695000000,
		UpdatedAt: 1695000000,
		URL:       "https://acme.example/jobs/" + id,
	}
}

func TestDiffIdentical(t *testing.T) {
	t.Parallel()
	snap := feed.Snapshot{posting("a"), posting("b")}
	if got := Diff(snap, snap); len(got) != 0 {
		t.Fatalf("expected no events, got %v", got)
	}
}

func TestDiffLocationsOrderIsNotAChange(t *testing.T) {
	t.Parallel()
	prev := feed.Snapshot{posting("a")}
	cur := posting("a")
	cur.Locations = []string{"Remote", "NYC"}
	if got := Diff(prev, feed.Snapshot{cur}); len(got) != 0 {
		t.Fatalf("reordered locations produced events: %v", got)
	}
}

func TestDiffClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*feed.Posting)
		want   Kind
	}{
		{name: "reopened", mutate: func(p *feed.Posting) { p.Active = true }, want: KindReopened},
		{name: "updated title", mutate: func(p *feed.Posting) { p.Title = "Reworded" }, want: KindUpdated},
		{name: "updated locations", mutate: func(p *feed.Posting) { p.Locations = []string{"SF"} }, want: KindUpdated},
		{name: "deactivated", mutate: func(p *feed.Posting) { p.Active = false }, want: KindDeactivated},
		{name: "hidden", mutate: func(p *feed.Posting) { p.Visible = false }, want: KindHidden},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			old := posting("x")
			if tt.want == KindReopened {
				old.Active = false
			}
			cur := old
			tt.mutate(&cur)

			got := Diff(feed.Snapshot{old}, feed.Snapshot{cur})
			if len(got) != 1 {
				t.Fatalf("expected 1 event, got %d", len(got))
			}
			if got[0].Kind != tt.want {
				t.Fatalf("Kind = %s, want %s", got[0].Kind, tt.want)
			}
			if got[0].Posting.ID != "x" {
				t.Fatalf("event for wrong posting: %s", got[0].Posting.ID)
			}
		})
	}
}

func TestDiffNewPosting(t *testing.T) {
	t.Parallel()
	got := Diff(feed.Snapshot{posting("a")}, feed.Snapshot{posting("a"), posting("b")})
	if len(got) != 1 || got[0].Kind != KindNew || got[0].Posting.ID != "b" {
		t.Fatalf("unexpected events: %v", got)
	}
}

func TestDiffNoFalseMerge(t *testing.T) {
	t.Parallel()
	// Identical title/company, distinct ids: postings stay independent.
	a := posting("a")
	b := posting("b")
	b.URL = a.URL + "-b"

	curA := a
	curA.Title = "Changed"
	got := Diff(feed.Snapshot{a, b}, feed.Snapshot{curA, b})
	if len(got) != 1 {
		t.Fatalf("expected 1 event, got %d", len(got))
	}
	if got[0].Posting.ID != "a" {
		t.Fatalf("event attributed to wrong posting: %s", got[0].Posting.ID)
	}
}

func TestDiffDroppedPostingEmitsNothing(t *testing.T) {
	t.Parallel()
	got := Diff(feed.Snapshot{posting("a"), posting("b")}, feed.Snapshot{posting("a")})
	if len(got) != 0 {
		t.Fatalf("disappearance produced events: %v", got)
	}
}

func TestDiffDeactivateWinsOverFieldEdit(t *testing.T) {
	t.Parallel()
	old := posting("a")
	cur := old
	cur.Active = false
	cur.Title = "Also edited"
	got := Diff(feed.Snapshot{old}, feed.Snapshot{cur})
	if len(got) != 1 || got[0].Kind != KindDeactivated {
		t.Fatalf("expected single deactivated event, got %v", got)
	}
}
