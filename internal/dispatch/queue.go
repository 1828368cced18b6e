// Package dispatch orders admitted change events for delivery.
//
// Ordering is ascending by date_posted with the posting id as a
// deterministic tie-break. The queue is a min-heap so tasks can be
// pulled lazily between cancellation checks instead of sorting the
// whole change set up front.
package dispatch

import (
	"container/heap"
	"time"

	"chatd/internal/diff"
	logx "chatd/pkg/logx"
)

// Task wraps one change event scheduled for broadcast.
type Task struct {
	Event diff.Event
}

type Queue struct {
	h taskHeap
}

// Schedule builds the delivery queue for one cycle.
//
// New and Reopened events are admitted only if the posting is no older
// than maxAge, so an upstream backfill cannot flood the channels with
// stale postings. Updated/Deactivated/Hidden events always pass: status
// corrections must propagate regardless of age.
//
// Malformed postings are skipped with a warning and never abort the
// cycle.
func Schedule(events []diff.Event, now time.Time, maxAge time.Duration, log logx.Logger) *Queue {
	if log.IsZero() {
		log = logx.Nop()
	}
	q := &Queue{h: make(taskHeap, 0, len(events))}
	for _, ev := range events {
		if err := ev.Posting.Validate(); err != nil {
			log.Warn("skipping malformed posting", logx.String("kind", string(ev.Kind)), logx.Err(err))
			continue
		}
		if ev.Kind == diff.KindNew || ev.Kind == diff.KindReopened {
			age := now.Sub(ev.Posting.PostedTime())
			if maxAge > 0 && age > maxAge {
				log.Debug("skipping stale posting",
					logx.String("id", ev.Posting.ID),
					logx.String("kind", string(ev.Kind)),
					logx.Duration("age", age),
					logx.Duration("max_age", maxAge),
				)
				continue
			}
		}
		q.h = append(q.h, Task{Event: ev})
	}
	heap.Init(&q.h)
	return q
}

// Next pops the chronologically next task. ok=false when drained.
func (q *Queue) Next() (Task, bool) {
	if q.h.Len() == 0 {
		return Task{}, false
	}
	return heap.Pop(&q.h).(Task), true
}

func (q *Queue) Len() int { return q.h.Len() }

type taskHeap []Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i].Event.Posting, h[j].Event.Posting
	if a.PostedAt != b.PostedAt {
		return a.PostedAt < b.PostedAt
	}
	return a.ID < b.ID
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
