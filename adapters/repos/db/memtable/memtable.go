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

package memtable

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/entities/cells"
	"github.com/tidemark/tidemark/entities/mutation"
)

// Memtable accumulates reconciled cells per partition key until it is
// sealed and handed to the flush pipeline. Its size mirrors the dirty
// memory reserved for the writes it holds; the flush pipeline returns that
// memory once the content is durable elsewhere.
type Memtable struct {
	mu sync.RWMutex

	partitions map[string]map[string]cells.Cell
	size       int64

	// replay positions covered by this memtable, for segment discard and
	// artifact bookkeeping
	replayFrom commitlog.ReplayPosition
	replayTo   commitlog.ReplayPosition
	hasWrites  bool

	sealed bool

	// claimed by exactly one in-flight flush; reset if that flush fails
	flushClaimed atomic.Bool
}

func newMemtable() *Memtable {
	return &Memtable{
		partitions: map[string]map[string]cells.Cell{},
	}
}

// Apply reconciles the mutation into the memtable and extends the covered
// replay range. The caller must hold a dirty-memory reservation of at least
// the mutation's footprint; ownership of that memory transfers here.
func (m *Memtable) Apply(mut *mutation.Mutation, rp commitlog.ReplayPosition) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sealed {
		return errors.New("apply on sealed memtable")
	}

	key := string(mut.Key)
	partition, ok := m.partitions[key]
	if !ok {
		partition = map[string]cells.Cell{}
		m.partitions[key] = partition
	}

	for _, u := range mut.Updates {
		existing, ok := partition[u.Column]
		if !ok {
			partition[u.Column] = u.Cell
			continue
		}
		partition[u.Column] = cells.Merge(existing, u.Cell)
	}

	m.size += mut.Footprint()

	if !m.hasWrites || rp.Cmp(m.replayFrom) < 0 {
		m.replayFrom = rp
	}
	if !m.hasWrites || rp.Cmp(m.replayTo) > 0 {
		m.replayTo = rp
	}
	m.hasWrites = true

	return nil
}

// Get returns the current version of one cell.
func (m *Memtable) Get(key []byte, column string) (cells.Cell, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	partition, ok := m.partitions[string(key)]
	if !ok {
		return cells.Cell{}, false
	}
	cell, ok := partition[column]
	return cell, ok
}

// GetPartition returns a copy of one partition's cells.
func (m *Memtable) GetPartition(key []byte) map[string]cells.Cell {
	m.mu.RLock()
	defer m.mu.RUnlock()

	partition, ok := m.partitions[string(key)]
	if !ok {
		return nil
	}
	out := make(map[string]cells.Cell, len(partition))
	for column, cell := range partition {
		out[column] = cell
	}
	return out
}

func (m *Memtable) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *Memtable) Empty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.hasWrites
}

// ReplayRange returns the lowest and highest replay positions applied to
// this memtable. Only meaningful when the memtable is non-empty.
func (m *Memtable) ReplayRange() (from, to commitlog.ReplayPosition) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.replayFrom, m.replayTo
}

func (m *Memtable) seal() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
}

// TryClaimFlush reserves this memtable for one flush attempt. With more
// than one flush permit per pool, two flushes of the same table must not
// write the same sealed memtable twice.
func (m *Memtable) TryClaimFlush() bool {
	return m.flushClaimed.CompareAndSwap(false, true)
}

// UnclaimFlush makes a sealed memtable eligible for flushing again after a
// failed attempt.
func (m *Memtable) UnclaimFlush() {
	m.flushClaimed.Store(false)
}

// Partition is one flattened partition in key order.
type Partition struct {
	Key     []byte
	Columns map[string]cells.Cell
}

// FlattenInOrder returns all partitions sorted by key, for sequential
// artifact writing. Intended for sealed memtables; the column maps are the
// live ones, not copies.
func (m *Memtable) FlattenInOrder() []Partition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.partitions))
	for key := range m.partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]Partition, 0, len(keys))
	for _, key := range keys {
		out = append(out, Partition{Key: []byte(key), Columns: m.partitions[key]})
	}
	return out
}
