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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// SnapshotTable flushes the table and hard-links its artifacts into a
// tagged snapshot directory. The snapshot is a consistent image of
// everything durable at the moment the flush completed.
func (d *DB) SnapshotTable(ctx context.Context, ksName, cfName, tag string) error {
	if tag == "" {
		return errors.New("snapshot tag must not be empty")
	}

	t, err := d.FindTable(ksName, cfName)
	if err != nil {
		return err
	}

	if err := t.beginOp(); err != nil {
		return err
	}
	defer t.endOp()

	if err := t.memtables.RequestFlush(ctx); err != nil {
		return errors.Wrap(err, "flush before snapshot")
	}
	if err := t.streaming.RequestFlush(ctx); err != nil {
		return errors.Wrap(err, "flush streaming data before snapshot")
	}

	return t.snapshotArtifacts(t.Artifacts(), tag)
}

// ClearSnapshot removes snapshots. An empty tag removes every snapshot; an
// empty keyspace name covers all keyspaces.
func (d *DB) ClearSnapshot(tag, ksName string) error {
	pattern := filepath.Join(d.cfg.DataDir, "data", "*", "*", "snapshots")
	if ksName != "" {
		pattern = filepath.Join(d.cfg.DataDir, "data", ksName, "*", "snapshots")
	}

	snapshotDirs, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrap(err, "scan snapshot directories")
	}

	for _, dir := range snapshotDirs {
		target := dir
		if tag != "" {
			target = filepath.Join(dir, tag)
		}
		if err := os.RemoveAll(target); err != nil {
			return errors.Wrapf(err, "remove snapshot %q", target)
		}
	}

	d.logger.WithField("action", "clear_snapshot").
		WithField("tag", tag).WithField("keyspace", ksName).
		Info("snapshots cleared")
	return nil
}
