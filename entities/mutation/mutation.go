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

package mutation

import (
	"sort"

	"github.com/google/uuid"

	"github.com/tidemark/tidemark/entities/cells"
)

// CellUpdate is one cell-level change within a mutation. For counter
// updates the cell value is not yet materialized: the caller supplies a
// delta which the write path transforms into a versioned shard update
// before applying.
type CellUpdate struct {
	Column       string
	Cell         cells.Cell
	IsCounter    bool
	CounterDelta int64
}

// Mutation is a single-partition write against one table, built against a
// specific schema version. The schema version must match the table's
// currently synced schema at apply time.
type Mutation struct {
	TableID       uuid.UUID
	SchemaVersion uuid.UUID
	Key           []byte
	Updates       []CellUpdate
}

// fixed per-cell overhead charged on top of raw key/value bytes when
// estimating memory footprint (timestamps, flags, map entry overhead)
const perCellOverhead = 48

// Footprint estimates the dirty-memory cost of applying this mutation. The
// estimate is used for admission control and must be reserved before the
// mutation reaches a memtable.
func (m *Mutation) Footprint() int64 {
	size := int64(len(m.Key)) + perCellOverhead
	for _, u := range m.Updates {
		size += int64(len(u.Column)) + int64(len(u.Cell.Value)) + perCellOverhead
	}
	return size
}

// ColumnNames returns the sorted, de-duplicated set of columns touched by
// this mutation. The order is the cell lock acquisition order.
func (m *Mutation) ColumnNames() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(m.Updates))
	for _, u := range m.Updates {
		if _, ok := seen[u.Column]; ok {
			continue
		}
		seen[u.Column] = struct{}{}
		out = append(out, u.Column)
	}
	sort.Strings(out)
	return out
}

// HasCounterUpdates reports whether any update is a counter delta.
func (m *Mutation) HasCounterUpdates() bool {
	for _, u := range m.Updates {
		if u.IsCounter {
			return true
		}
	}
	return false
}
