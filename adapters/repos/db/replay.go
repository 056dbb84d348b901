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
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/entities/mutation"
)

// Replay re-applies surviving durability log entries after a restart. An
// entry is skipped when its table is gone, when its position is already
// covered by a durable artifact, or when it precedes the table's
// truncation cut — replaying twice is therefore harmless. Explicit flushes
// are suppressed while the replay runs.
func (d *DB) Replay(ctx context.Context) error {
	d.replaying.Store(true)
	defer d.replaying.Store(false)

	replayed, skipped := 0, 0

	err := commitlog.Replay(filepath.Join(d.cfg.DataDir, "commitlog"),
		func(tableID uuid.UUID, rp commitlog.ReplayPosition, payload []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}

			t, err := d.TableByID(tableID)
			if err != nil {
				// the table was dropped after this entry was logged
				skipped++
				return nil
			}

			// FlushedTo is exclusive: only entries strictly below it are
			// already durable in an artifact
			if rp.Cmp(t.FlushedTo()) < 0 || rp.Cmp(t.LowReplayMark()) < 0 {
				skipped++
				return nil
			}

			mut, err := mutation.FromBytes(payload)
			if err != nil {
				return errors.Wrapf(err, "decode entry at %s", rp)
			}

			mgr := d.managerFor(poolOf(t.Schema()))
			reservation, err := mgr.Reserve(ctx, mut.Footprint())
			if err != nil {
				return errors.Wrapf(err, "reserve for entry at %s", rp)
			}

			if err := applyToList(t.memtables, mut, rp); err != nil {
				reservation.Release()
				return err
			}
			reservation.Transferred()
			replayed++
			return nil
		})
	if err != nil {
		return errors.Wrap(err, "replay durability log")
	}

	d.logger.WithField("action", "replay").
		WithField("replayed", replayed).
		WithField("skipped", skipped).
		Info("durability log replay finished")
	return nil
}
