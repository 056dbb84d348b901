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
	"fmt"
	"time"

	"github.com/tidemark/tidemark/entities/errorcompounder"
)

func autoSnapshotTag(reason string) string {
	return fmt.Sprintf("%d-%s", time.Now().Unix(), reason)
}

// TruncateTable discards all data of a table and of every view depending
// on it. When auto-snapshot is configured the discarded artifacts are
// snapshotted first. Writes racing the truncate and logged before the cut
// are dropped, not failed: from the caller's point of view the truncate
// simply deleted them.
func (d *DB) TruncateTable(ctx context.Context, ksName, cfName string) error {
	t, err := d.FindTable(ksName, cfName)
	if err != nil {
		return err
	}

	if err := t.beginOp(); err != nil {
		return err
	}
	defer t.endOp()

	tag := ""
	if d.cfg.AutoSnapshot {
		tag = autoSnapshotTag("truncated")
	}

	ec := errorcompounder.New()
	ec.AddWrap(t.truncate(tag), "truncate base table")

	// dependent views hold derived data only; they follow the base cut
	for _, viewID := range t.viewIDs() {
		view, err := d.TableByID(viewID)
		if err != nil {
			continue
		}
		ec.AddWrap(view.truncate(tag), "truncate dependent view")
	}

	return ec.ToError()
}
