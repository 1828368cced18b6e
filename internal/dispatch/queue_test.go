package dispatch

import (
	"testing"
	"time"

	"chatd/internal/diff"
	"chatd/internal/feed"
	logx "chatd/pkg/logx"
)

func event(id string, kind diff.Kind, postedAt int64) diff.Event {
	return diff.Event{
		Kind: kind,
		Posting: feed.Posting{
			ID:       id,
			Company:  "Acme",
			Title:    "Intern",
			Active:   true,
			Visible:  true,
			PostedAt: postedAt,
			URL:      "https://acme.example/" + id,
		},
	}
}

func drain(q *Queue) []Task {
	var out []Task
	for {
		t, ok := q.Next()
		if !ok {
			return out
		}
		out = append(out, t)
	}
}

func TestScheduleChronologicalOrder(t *testing.T) {
	t.Parallel()
	now := time.Unix(2000, 0)
	events := []diff.Event{
		event("c", diff.KindNew, 300),
		event("a", diff.KindNew, 100),
		event("b", diff.KindNew, 200),
	}
	got := drain(Schedule(events, now, time.Hour, logx.Nop()))
	if len(got) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Event.Posting.ID != want {
			t.Fatalf("task %d = %s, want %s", i, got[i].Event.Posting.ID, want)
		}
	}
}

func TestScheduleTieBreakByID(t *testing.T) {
	t.Parallel()
	now := time.Unix(2000, 0)
	events := []diff.Event{
		event("b", diff.KindNew, 100),
		event("a", diff.KindNew, 100),
	}
	got := drain(Schedule(events, now, time.Hour, logx.Nop()))
	if got[0].Event.Posting.ID != "a" || got[1].Event.Posting.ID != "b" {
		t.Fatalf("tie-break order wrong: %s, %s", got[0].Event.Posting.ID, got[1].Event.Posting.ID)
	}
}

func TestScheduleAgeAdmission(t *testing.T) {
	t.Parallel()
	now := time.Unix(10_000, 0)
	maxAge := time.Hour
	old := now.Add(-2 * time.Hour).Unix()
	fresh := now.Add(-time.Minute).Unix()

	tests := []struct {
		name     string
		ev       diff.Event
		admitted bool
	}{
		{name: "stale new", ev: event("a", diff.KindNew, old), admitted: false},
		{name: "fresh new", ev: event("b", diff.KindNew, fresh), admitted: true},
		{name: "stale reopened", ev: event("c", diff.KindReopened, old), admitted: false},
		{name: "stale deactivated", ev: event("d", diff.KindDeactivated, old), admitted: true},
		{name: "stale updated", ev: event("e", diff.KindUpdated, old), admitted: true},
		{name: "stale hidden", ev: event("f", diff.KindHidden, old), admitted: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			q := Schedule([]diff.Event{tt.ev}, now, maxAge, logx.Nop())
			if got := q.Len() == 1; got != tt.admitted {
				t.Fatalf("admitted = %v, want %v", got, tt.admitted)
			}
		})
	}
}

func TestScheduleSkipsMalformed(t *testing.T) {
	t.Parallel()
	bad := event("", diff.KindNew, 100) // no id
	good := event("a", diff.KindNew, 100)
	q := Schedule([]diff.Event{bad, good}, time.Unix(200, 0), time.Hour, logx.Nop())
	got := drain(q)
	if len(got) != 1 || got[0].Event.Posting.ID != "a" {
		t.Fatalf("unexpected tasks: %v", got)
	}
}

func TestScheduleLazyAndRestartable(t *testing.T) {
	t.Parallel()
	events := []diff.Event{
		event("b", diff.KindNew, 200),
		event("a", diff.KindNew, 100),
	}
	q := Schedule(events, time.Unix(300, 0), time.Hour, logx.Nop())

	first, ok := q.Next()
	if !ok || first.Event.Posting.ID != "a" {
		t.Fatalf("first task = %v, ok=%v", first, ok)
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", q.Len())
	}
	// The remaining sequence continues in order after an interruption.
	second, ok := q.Next()
	if !ok || second.Event.Posting.ID != "b" {
		t.Fatalf("second task = %v, ok=%v", second, ok)
	}
	if _, ok := q.Next(); ok {
		t.Fatal("expected drained queue")
	}
}
