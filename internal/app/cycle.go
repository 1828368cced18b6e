package app

import (
	"context"
	"fmt"
	"time"

	"chatd/internal/broadcast"
	"chatd/internal/diff"
	"chatd/internal/dispatch"
	"chatd/internal/feed"
	"chatd/internal/notify"
	"chatd/internal/storage"
	logx "chatd/pkg/logx"
)

// runCycle executes one watch cycle: fetch the dataset, diff it against
// the last committed snapshot, dispatch change events chronologically
// and commit the new snapshot together with the cycle's delivery
// records in a single store transaction.
//
// If ctx is cancelled between tasks the cycle stops without committing:
// deliveries that already happened are re-sent next run rather than
// risking a snapshot advance that would silently drop the remaining
// events.
func (a *App) runCycle(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	start := time.Now()

	raw, changed, err := a.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch listings: %w", err)
	}
	if !changed {
		a.log.Debug("listings unchanged; skipping cycle")
		return nil
	}

	current, err := feed.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode listings: %w", err)
	}
	previous, err := a.store.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("load previous snapshot: %w", err)
	}

	events := diff.Diff(previous, current)

	a.mu.Lock()
	channels := a.settings.channels
	maxAge := a.settings.maxAge
	a.mu.Unlock()

	q := dispatch.Schedule(events, time.Now(), maxAge, a.log)

	var (
		records   []storage.Record
		delivered int
		skipped   int
		failed    int
		cancelled bool
	)
	for {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		task, ok := q.Next()
		if !ok {
			break
		}
		msg := broadcast.Message{
			PostingID: task.Event.Posting.ID,
			Kind:      string(task.Event.Kind),
			UpdatedAt: task.Event.Posting.UpdatedAt,
			Text:      notify.FormatMessage(task.Event),
		}
		for _, d := range a.bc.Broadcast(ctx, msg, channels) {
			switch d.Result {
			case broadcast.ResultDelivered, broadcast.ResultRetried:
				delivered++
			case broadcast.ResultSkipped:
				skipped++
			case broadcast.ResultFailed:
				failed++
			}
			if d.Record != nil {
				records = append(records, *d.Record)
			}
		}
	}

	if cancelled {
		a.log.Info("cycle cancelled before commit; completed deliveries reconcile on the next run",
			logx.Int("pending_tasks", q.Len()),
			logx.Int("uncommitted_records", len(records)))
		return ctx.Err()
	}

	if err := a.store.Commit(ctx, current, records); err != nil {
		return fmt.Errorf("commit snapshot (%d records at risk of re-delivery): %w", len(records), err)
	}

	a.log.Info("cycle finished",
		logx.Int("postings", len(current)),
		logx.Int("events", len(events)),
		logx.Int("delivered", delivered),
		logx.Int("skipped", skipped),
		logx.Int("failed", failed),
		logx.Duration("dur", time.Since(start)))
	return nil
}
