// Package diff classifies the changes between two feed snapshots.
//
// The identity join is by posting id only. Composite keys built from
// title/company/date would both merge distinct postings and split one
// posting across trivial edits, so they are never used here.
package diff

import (
	"chatd/internal/feed"
)

type Kind string

const (
	KindNew         Kind = "new"
	KindReopened    Kind = "reopened"
	KindUpdated     Kind = "updated"
	KindDeactivated Kind = "deactivated"
	KindHidden      Kind = "hidden"
)

// Event is one classified difference, produced fresh each cycle and
// consumed immediately by the dispatch queue. Never persisted.
type Event struct {
	Posting feed.Posting
	Kind    Kind
}

// Diff compares the current snapshot against the previous one and
// returns at most one event per posting. Output order is unspecified;
// chronological ordering is the dispatcher's job.
//
// Postings present only in previous emit nothing: disappearance
// without a flag change is not a reliable deactivation signal.
func Diff(previous, current feed.Snapshot) []Event {
	prev := previous.Index()

	var events []Event
	for _, cur := range current {
		old, seen := prev[cur.ID]
		if !seen {
			events = append(events, Event{Posting: cur, Kind: KindNew})
			continue
		}
		if k, ok := classify(old, cur); ok {
			events = append(events, Event{Posting: cur, Kind: k})
		}
	}
	return events
}

// classify picks the single most significant change for a posting that
// exists in both snapshots. Lifecycle flags outrank field edits.
func classify(old, cur feed.Posting) (Kind, bool) {
	switch {
	case !old.Active && cur.Active:
		return KindReopened, true
	case old.Active && old.Visible && !cur.Active:
		return KindDeactivated, true
	case old.Visible && !cur.Visible:
		return KindHidden, true
	case old.Active == cur.Active && old.Visible == cur.Visible && !old.Equal(cur):
		return KindUpdated, true
	}
	return "", false
}
