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
	"context"
	"sync"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
	"github.com/tidemark/tidemark/entities/cells"
)

// Flusher seals the list's active memtable and moves its content to a
// durable artifact, holding the given permit for the duration.
type Flusher interface {
	FlushOne(ctx context.Context, permit *memdirty.FlushPermit) error
}

// List is one table's memtable set: exactly one active memtable taking
// writes plus the sealed ones still being flushed. At no point is the set
// empty or does it hold two active memtables.
type List struct {
	mu sync.RWMutex

	active   *Memtable
	flushing []*Memtable

	flushMu sync.Mutex
	// non-nil while a flush request waits for its permit; later requests
	// coalesce onto it instead of starting their own
	coalescing *flushRequest

	mgr     *memdirty.Manager
	flusher Flusher

	// mayFlush gates explicit flush requests, e.g. off during replay
	mayFlush func() bool
}

type flushRequest struct {
	done chan struct{}
	err  error
}

func NewList(mgr *memdirty.Manager, flusher Flusher, mayFlush func() bool) *List {
	if mayFlush == nil {
		mayFlush = func() bool { return true }
	}
	return &List{
		active:   newMemtable(),
		mgr:      mgr,
		flusher:  flusher,
		mayFlush: mayFlush,
	}
}

// Active returns the memtable currently taking writes.
func (l *List) Active() *Memtable {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.active
}

// All returns the active memtable followed by the sealed ones, newest
// sealed first.
func (l *List) All() []*Memtable {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Memtable, 0, len(l.flushing)+1)
	out = append(out, l.active)
	for i := len(l.flushing) - 1; i >= 0; i-- {
		out = append(out, l.flushing[i])
	}
	return out
}

// Get resolves a cell across the whole set, merging every version found.
func (l *List) Get(key []byte, column string) (cells.Cell, bool) {
	var merged cells.Cell
	found := false
	for _, mt := range l.All() {
		if cell, ok := mt.Get(key, column); ok {
			if !found {
				merged = cell
				found = true
				continue
			}
			merged = cells.Merge(merged, cell)
		}
	}
	return merged, found
}

// GetPartition resolves a whole partition across the set.
func (l *List) GetPartition(key []byte) map[string]cells.Cell {
	var merged map[string]cells.Cell
	for _, mt := range l.All() {
		partition := mt.GetPartition(key)
		if partition == nil {
			continue
		}
		if merged == nil {
			merged = partition
			continue
		}
		for column, cell := range partition {
			if existing, ok := merged[column]; ok {
				merged[column] = cells.Merge(existing, cell)
			} else {
				merged[column] = cell
			}
		}
	}
	return merged
}

// ActiveSize is the unflushed footprint, the victim-selection criterion of
// the flush controller.
func (l *List) ActiveSize() int64 {
	return l.Active().Size()
}

// TotalSize covers the active memtable plus everything still flushing.
func (l *List) TotalSize() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.active.Size()
	for _, mt := range l.flushing {
		size += mt.Size()
	}
	return size
}

// OldestUnflushedPosition returns the lowest replay position still held in
// memory by this list, ignoring skip (the memtable currently being written
// out) and memtables without logged writes. The second return is false when
// no such position exists.
func (l *List) OldestUnflushedPosition(skip *Memtable) (commitlog.ReplayPosition, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var oldest commitlog.ReplayPosition
	found := false
	consider := func(mt *Memtable) {
		if mt == skip || mt.Empty() {
			return
		}
		from, _ := mt.ReplayRange()
		if from.IsZero() {
			return
		}
		if !found || from.Cmp(oldest) < 0 {
			oldest = from
			found = true
		}
	}
	consider(l.active)
	for _, mt := range l.flushing {
		consider(mt)
	}
	return oldest, found
}

// SealActive atomically retires the active memtable into the flushing set
// and installs a fresh one. Returns nil without sealing when the active
// memtable is empty.
func (l *List) SealActive() *Memtable {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active.Empty() {
		return nil
	}

	sealed := l.active
	sealed.seal()
	l.flushing = append(l.flushing, sealed)
	l.active = newMemtable()
	return sealed
}

// ClaimPendingFlush returns the oldest sealed memtable not yet claimed by
// a flush, claiming it, or nil. Sealed memtables stranded by a failed
// flush attempt are retried through here before the active one is sealed.
func (l *List) ClaimPendingFlush() *Memtable {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, mt := range l.flushing {
		if mt.TryClaimFlush() {
			return mt
		}
	}
	return nil
}

// Clear drops every memtable, installing a fresh active one, and returns
// the total footprint discarded. Used by truncate, which abandons the data
// instead of flushing it.
func (l *List) Clear() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	dropped := l.active.Size()
	for _, mt := range l.flushing {
		dropped += mt.Size()
	}
	l.active = newMemtable()
	l.flushing = nil
	return dropped
}

// MarkFlushed drops a fully flushed memtable from the set.
func (l *List) MarkFlushed(mt *Memtable) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, flushing := range l.flushing {
		if flushing == mt {
			l.flushing = append(l.flushing[:i], l.flushing[i+1:]...)
			return
		}
	}
}

// RequestFlush explicitly flushes the active memtable. Concurrent requests
// against the same list coalesce: whoever arrives while a request is still
// waiting for its flush permit shares that request's outcome. The
// coalescing window closes the moment the permit is granted, so a request
// arriving after that starts a fresh flush and observes writes applied in
// the meantime.
func (l *List) RequestFlush(ctx context.Context) error {
	if !l.mayFlush() {
		return nil
	}

	l.flushMu.Lock()
	if current := l.coalescing; current != nil {
		l.flushMu.Unlock()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-current.done:
			return current.err
		}
	}

	request := &flushRequest{done: make(chan struct{})}
	l.coalescing = request
	l.flushMu.Unlock()

	l.mgr.StartExtraneousFlush()
	defer l.mgr.FinishExtraneousFlush()

	permit, err := l.mgr.GetFlushPermit(ctx)

	// the permit is ours (or unobtainable): close the coalescing window
	l.flushMu.Lock()
	l.coalescing = nil
	l.flushMu.Unlock()

	if err != nil {
		request.err = err
		close(request.done)
		return err
	}

	request.err = l.flusher.FlushOne(ctx, permit)
	close(request.done)
	return request.err
}
