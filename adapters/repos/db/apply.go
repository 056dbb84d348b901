//  _   _     _                                _
// | |_(_) __| | ___ _ __ ___   __ _ _ __| | __
// | __| |/ _` |/ _ \ '_ ` _ \ / _` | '__| |/ /
// | |_| | (_| |  __/ | | | | | (_| | |  |   <
//  \__|_|\__,_|\___|_| |_| |_|\__,_|_|  |_|\_\
//
//  Copyright © 2026 Tidemark B.V. All rights reserved.
//
//  CONTACT: hello@tidemark.io
//

package db

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
	"github.com/tidemark/tidemark/adapters/repos/db/memtable"
	"github.com/tidemark/tidemark/entities/mutation"
)

// Apply runs one mutation through the full durability pipeline: schema
// check, optional row lock, durability log append, dirty-memory
// reservation, in-memory apply. The mutation becomes visible only after it
// is durable; a log failure aborts before any in-memory state changes.
func (d *DB) Apply(ctx context.Context, mut *mutation.Mutation) error {
	err := d.apply(ctx, mut)
	d.metrics.WriteObserved(err != nil, errors.Is(err, memdirty.ErrReservationTimeout))
	return err
}

func (d *DB) apply(ctx context.Context, mut *mutation.Mutation) error {
	t, err := d.TableByID(mut.TableID)
	if err != nil {
		return err
	}

	if err := t.beginOp(); err != nil {
		return err
	}
	defer t.endOp()

	if mut.HasCounterUpdates() {
		return d.applyCounter(ctx, t, mut)
	}
	return d.applyStandard(ctx, t, mut)
}

func (d *DB) applyStandard(ctx context.Context, t *Table, mut *mutation.Mutation) error {
	s := t.Schema()
	if !s.IsSynced() || s.Version() != mut.SchemaVersion {
		return errors.Wrapf(ErrStaleSchema,
			"table %s: mutation built against version %s", s, mut.SchemaVersion)
	}

	// a base table with views holds its row lock across the whole write so
	// dependent view updates always observe a stable base row
	if t.HasViews() {
		release, err := d.rowLocks.LockRow(ctx, t.id, mut.Key)
		if err != nil {
			return err
		}
		defer release()
	}

	return d.logAndApply(ctx, t, mut)
}

// logAndApply is the tail of every write: durability first, then memory.
func (d *DB) logAndApply(ctx context.Context, t *Table, mut *mutation.Mutation) error {
	s := t.Schema()
	mgr := d.managerFor(poolOf(s))

	var rp commitlog.ReplayPosition
	durable := true
	if ks, err := d.Keyspace(s.KsName()); err == nil {
		durable = ks.DurableWrites()
	}
	if durable {
		// the marker pins the flush barrier below this write's position
		// until the write reaches a memtable; without it a concurrent flush
		// could advance the barrier past an acked entry that is not yet in
		// any memtable, and replay would skip it after a crash
		marker := d.log.Head()
		t.trackUnflushed(marker)
		defer t.untrackUnflushed(marker)

		var err error
		rp, err = d.log.AddEntry(ctx, t.id, mut)
		if err != nil {
			return errors.Wrap(err, "append to durability log")
		}
	}

	reservation, err := mgr.Reserve(ctx, mut.Footprint())
	if err != nil {
		return err
	}

	// held shared across the truncation check and the apply, so a truncate
	// cannot move the cut between them and see this write reappear
	t.truncateMu.RLock()
	defer t.truncateMu.RUnlock()

	// a concurrent truncate moved the cut past our log position: the write
	// is semantically already deleted and must never become visible
	if durable && rp.Cmp(t.LowReplayMark()) < 0 {
		reservation.Release()
		t.logger.WithError(commitlog.ErrPositionReordered).
			WithField("replay_position", rp.String()).
			Debug("dropping write reordered with truncate")
		return nil
	}

	if err := applyToList(t.memtables, mut, rp); err != nil {
		reservation.Release()
		return err
	}
	reservation.Transferred()

	d.metrics.SetMemtableSize(s.KsName(), s.CfName(), t.memtables.TotalSize())
	return nil
}

// ApplyStreaming ingests a mutation through the streaming pool: no
// durability log entry, isolated memory accounting, its own memtable set.
// The data becomes durable when the streaming memtable flushes.
func (d *DB) ApplyStreaming(ctx context.Context, mut *mutation.Mutation) error {
	t, err := d.TableByID(mut.TableID)
	if err != nil {
		return err
	}

	if err := t.beginOp(); err != nil {
		return err
	}
	defer t.endOp()

	s := t.Schema()
	if !s.IsSynced() || s.Version() != mut.SchemaVersion {
		return errors.Wrapf(ErrStaleSchema,
			"table %s: mutation built against version %s", s, mut.SchemaVersion)
	}

	reservation, err := d.streaming.Reserve(ctx, mut.Footprint())
	if err != nil {
		return err
	}

	t.truncateMu.RLock()
	defer t.truncateMu.RUnlock()

	if err := applyToList(t.streaming, mut, commitlog.ReplayPosition{}); err != nil {
		reservation.Release()
		return err
	}
	reservation.Transferred()
	return nil
}

// applyToList retries the memtable apply when the active memtable gets
// sealed between lookup and apply.
func applyToList(list *memtable.List, mut *mutation.Mutation,
	rp commitlog.ReplayPosition,
) error {
	for {
		if err := list.Active().Apply(mut, rp); err == nil {
			return nil
		}
	}
}

// FlushTable explicitly flushes one table's active memtable, coalescing
// with any flush request already underway.
func (d *DB) FlushTable(ctx context.Context, ksName, cfName string) error {
	t, err := d.FindTable(ksName, cfName)
	if err != nil {
		return err
	}

	if err := t.beginOp(); err != nil {
		return err
	}
	defer t.endOp()

	return t.memtables.RequestFlush(ctx)
}

// FlushAll flushes every table in parallel. Tables dropped while the flush
// is in flight are skipped.
func (d *DB) FlushAll(ctx context.Context) error {
	d.dirMu.RLock()
	tables := make([]*Table, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	d.dirMu.RUnlock()

	eg, ctx := errgroup.WithContext(ctx)
	for _, t := range tables {
		t := t
		eg.Go(func() error {
			if err := t.beginOp(); err != nil {
				return nil
			}
			defer t.endOp()
			return t.memtables.RequestFlush(ctx)
		})
	}
	return eg.Wait()
}
