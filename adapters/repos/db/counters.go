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
	"time"

	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/adapters/repos/db/sstable"
	"github.com/tidemark/tidemark/entities/cells"
	"github.com/tidemark/tidemark/entities/mutation"
)

// counterState resolves one counter cell shard-wise across memtables,
// streaming memtables and artifacts. Last-write-wins merging is wrong for
// counters: two sources holding disjoint shard sets would drop one side's
// contributions. Deletion still wins by timestamp: shard states older than
// the newest tombstone stay dead.
func (t *Table) counterState(key []byte, column string) (cells.CounterState, int64, bool, error) {
	var versions []cells.Cell

	for _, mt := range t.memtables.All() {
		if cell, ok := mt.Get(key, column); ok {
			versions = append(versions, cell)
		}
	}
	for _, mt := range t.streaming.All() {
		if cell, ok := mt.Get(key, column); ok {
			versions = append(versions, cell)
		}
	}
	for _, desc := range t.Artifacts() {
		partition, err := sstable.ReadPartition(desc.Path, key)
		if err != nil {
			return nil, 0, false, err
		}
		if cell, ok := partition[column]; ok {
			versions = append(versions, cell)
		}
	}

	var maxTimestamp, deadline int64
	dead := false
	for _, cell := range versions {
		if cell.Timestamp > maxTimestamp {
			maxTimestamp = cell.Timestamp
		}
		if !cell.Live && cell.Timestamp > deadline {
			deadline = cell.Timestamp
			dead = true
		}
	}

	var state cells.CounterState
	found := false
	for _, cell := range versions {
		if !cell.Live || (dead && cell.Timestamp <= deadline) {
			continue
		}
		s, err := cells.CounterStateFromBytes(cell.Value)
		if err != nil {
			return nil, 0, false, errors.Wrapf(err, "decode counter %q", column)
		}
		state = cells.MergeCounterStates(state, s)
		found = true
	}

	return state, maxTimestamp, found, nil
}

// applyCounter runs the counter write path: take the ordered cell locks,
// read the current merged counter state, fold the delta into this node's
// shard, then push the materialized mutation through the standard
// pipeline. The locks stay held until the write is fully applied, which is
// what makes read-transform-apply atomic per cell.
func (d *DB) applyCounter(ctx context.Context, t *Table, mut *mutation.Mutation) error {
	s := t.Schema()
	if !s.IsSynced() || s.Version() != mut.SchemaVersion {
		return errors.Wrapf(ErrStaleSchema,
			"table %s: mutation built against version %s", s, mut.SchemaVersion)
	}

	release, err := d.cellLocks.LockCells(ctx, t.id, mut.Key, mut.ColumnNames())
	if err != nil {
		return err
	}
	defer release()

	transformed, err := d.materializeCounters(t, mut)
	if err != nil {
		return err
	}

	if t.HasViews() {
		releaseRow, err := d.rowLocks.LockRow(ctx, t.id, mut.Key)
		if err != nil {
			return err
		}
		defer releaseRow()
	}

	return d.logAndApply(ctx, t, transformed)
}

// materializeCounters turns every counter delta into a full versioned
// shard state, leaving non-counter updates untouched.
func (d *DB) materializeCounters(t *Table, mut *mutation.Mutation) (*mutation.Mutation, error) {
	updates := make([]mutation.CellUpdate, 0, len(mut.Updates))

	for _, u := range mut.Updates {
		if !u.IsCounter {
			updates = append(updates, u)
			continue
		}

		state, maxTimestamp, _, err := t.counterState(mut.Key, u.Column)
		if err != nil {
			return nil, errors.Wrapf(err, "read counter %q", u.Column)
		}

		state = state.ApplyDelta(d.localHostID, u.CounterDelta)

		timestamp := time.Now().UnixMicro()
		if timestamp <= maxTimestamp {
			timestamp = maxTimestamp + 1
		}

		updates = append(updates, mutation.CellUpdate{
			Column: u.Column,
			Cell: cells.Cell{
				Timestamp: timestamp,
				Live:      true,
				Value:     state.Bytes(),
			},
		})
	}

	return &mutation.Mutation{
		TableID:       mut.TableID,
		SchemaVersion: mut.SchemaVersion,
		Key:           mut.Key,
		Updates:       updates,
	}, nil
}

// ReadCounter returns the merged total of one counter cell.
func (d *DB) ReadCounter(ctx context.Context, ksName, cfName string,
	key []byte, column string,
) (int64, error) {
	t, err := d.FindTable(ksName, cfName)
	if err != nil {
		return 0, err
	}

	if err := t.beginOp(); err != nil {
		return 0, err
	}
	defer t.endOp()

	state, _, found, err := t.counterState(key, column)
	if err != nil || !found {
		return 0, err
	}
	return state.Total(), nil
}
