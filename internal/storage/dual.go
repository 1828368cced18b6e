package storage

import (
	"context"

	"chatd/internal/feed"
	logx "chatd/pkg/logx"
)

// dualStore drives a staged migration: every commit is applied to both
// backends, reads come from the primary (flat-file) backend.
//
// A secondary failure is logged and isolated; it never fails the cycle
// and never causes re-delivery, because correctness is judged by the
// primary alone until the operator flips the mode.
type dualStore struct {
	primary   Store
	secondary Store
	log       logx.Logger
}

func (d *dualStore) LoadSnapshot(ctx context.Context) (feed.Snapshot, error) {
	return d.primary.LoadSnapshot(ctx)
}

func (d *dualStore) HasDelivery(ctx context.Context, postingID, channelID, kind string, updatedAt int64) (bool, error) {
	return d.primary.HasDelivery(ctx, postingID, channelID, kind, updatedAt)
}

func (d *dualStore) Records(ctx context.Context) ([]Record, error) {
	return d.primary.Records(ctx)
}

func (d *dualStore) Commit(ctx context.Context, snap feed.Snapshot, records []Record) error {
	if err := d.primary.Commit(ctx, snap, records); err != nil {
		return err
	}
	if err := d.secondary.Commit(ctx, snap, records); err != nil {
		d.log.Warn("secondary backend commit failed (dual-write); primary commit stands", logx.Err(err))
	}
	return nil
}

func (d *dualStore) Close() error {
	err1 := d.primary.Close()
	err2 := d.secondary.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
