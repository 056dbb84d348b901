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
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
	"github.com/tidemark/tidemark/adapters/repos/db/memtable"
	"github.com/tidemark/tidemark/adapters/repos/db/sstable"
	"github.com/tidemark/tidemark/entities/cells"
	"github.com/tidemark/tidemark/entities/schema"
	"github.com/tidemark/tidemark/usecases/monitoring"
)

// Table owns one table's write path state: the current schema, the regular
// and streaming memtable sets, the durable artifacts and the replay
// bookkeeping that ties them to the durability log.
type Table struct {
	id     uuid.UUID
	schema atomic.Pointer[schema.Schema]

	mgr          *memdirty.Manager
	streamingMgr *memdirty.Manager
	log          commitlog.Log
	writer       *sstable.FileWriter
	dir          string

	memtables *memtable.List
	streaming *memtable.List

	// exposed to the flush controllers, one per memtable set
	regularTarget   *flushTarget
	streamingTarget *flushTarget

	mu            sync.Mutex
	artifacts     []sstable.Descriptor
	lowReplayMark commitlog.ReplayPosition
	flushedTo     commitlog.ReplayPosition
	views         []uuid.UUID

	// logged-but-not-yet-applied write positions, by refcount. They hold
	// the flush barrier down until the write reaches a memtable.
	unflushed map[commitlog.ReplayPosition]int

	// serializes flush completion against truncate, which abandons the
	// very memtables a flush may be writing out
	flushOpMu sync.Mutex

	// writers hold it shared between the truncation check and the memtable
	// apply; truncate holds it exclusively while moving the cut
	truncateMu sync.RWMutex

	dropped  atomic.Bool
	inFlight sync.WaitGroup

	logger  logrus.FieldLogger
	metrics *monitoring.PrometheusMetrics
}

func newTable(s *schema.Schema, dir string, mgr, streamingMgr *memdirty.Manager,
	log commitlog.Log, mayFlush func() bool, logger logrus.FieldLogger,
	metrics *monitoring.PrometheusMetrics,
) (*Table, error) {
	writer, err := sstable.NewFileWriter(dir, s.ID())
	if err != nil {
		return nil, errors.Wrapf(err, "table %s", s)
	}

	t := &Table{
		id:           s.ID(),
		mgr:          mgr,
		streamingMgr: streamingMgr,
		log:          log,
		writer:       writer,
		dir:          dir,
		unflushed:    map[commitlog.ReplayPosition]int{},
		logger: logger.WithField("keyspace", s.KsName()).
			WithField("table", s.CfName()),
		metrics: metrics,
	}
	t.schema.Store(s)

	t.regularTarget = &flushTarget{t: t}
	t.streamingTarget = &flushTarget{t: t}
	t.memtables = memtable.NewList(mgr, t.regularTarget, mayFlush)
	t.streaming = memtable.NewList(streamingMgr, t.streamingTarget, mayFlush)
	t.regularTarget.list = t.memtables
	t.regularTarget.mgr = mgr
	t.streamingTarget.list = t.streaming
	t.streamingTarget.mgr = streamingMgr

	if err := t.loadArtifacts(); err != nil {
		return nil, err
	}

	return t, nil
}

// loadArtifacts rediscovers existing artifacts on startup and derives the
// replay barrier from their headers.
func (t *Table) loadArtifacts() error {
	paths, err := filepath.Glob(filepath.Join(t.dir, "gen-*.tmk"))
	if err != nil {
		return errors.Wrap(err, "scan artifacts")
	}

	for _, path := range paths {
		desc, err := sstable.ReadDescriptor(path)
		if err != nil {
			return errors.Wrapf(err, "load artifact %q", path)
		}
		t.artifacts = append(t.artifacts, desc)
		t.flushedTo = commitlog.Max(t.flushedTo, desc.Barrier)
	}
	return nil
}

func (t *Table) ID() uuid.UUID {
	return t.id
}

func (t *Table) Schema() *schema.Schema {
	return t.schema.Load()
}

func (t *Table) setSchema(s *schema.Schema) {
	t.schema.Store(s)
}

// HasViews reports whether any materialized view depends on this table.
// Writers hold the row lock for the whole write when it does.
func (t *Table) HasViews() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.views) > 0
}

func (t *Table) addView(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.views = append(t.views, id)
}

func (t *Table) removeView(id uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, v := range t.views {
		if v == id {
			t.views = append(t.views[:i], t.views[i+1:]...)
			return
		}
	}
}

func (t *Table) viewIDs() []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uuid.UUID(nil), t.views...)
}

// beginOp admits one read or write against the table; endOp is its
// counterpart. DropTable waits for the in-flight count to drain.
func (t *Table) beginOp() error {
	if t.dropped.Load() {
		return errors.Wrapf(ErrTableDropped, "table %s", t.Schema())
	}
	t.inFlight.Add(1)
	// re-check: a drop may have slipped in between the check and the Add
	if t.dropped.Load() {
		t.inFlight.Done()
		return errors.Wrapf(ErrTableDropped, "table %s", t.Schema())
	}
	return nil
}

func (t *Table) endOp() {
	t.inFlight.Done()
}

// awaitInFlight blocks until every admitted operation has finished.
func (t *Table) awaitInFlight(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		t.inFlight.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return errors.Wrapf(ctx.Err(), "waiting for table %s to quiesce", t.Schema())
	case <-done:
		return nil
	}
}

// FlushedTo returns the replay barrier: every logged entry strictly below
// it is already covered by a durable artifact, or was abandoned by a
// truncate. Entries at or above it must still be replayed after a crash.
func (t *Table) FlushedTo() commitlog.ReplayPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushedTo
}

// LowReplayMark returns the truncation cut. Writes whose log position
// precedes it were semantically removed before they became visible.
func (t *Table) LowReplayMark() commitlog.ReplayPosition {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lowReplayMark
}

// trackUnflushed records a conservative lower bound on a write that has
// been handed to the log but not yet applied to a memtable. Until
// untrackUnflushed drops it again, no flush barrier may pass it.
func (t *Table) trackUnflushed(pos commitlog.ReplayPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unflushed[pos]++
}

func (t *Table) untrackUnflushed(pos commitlog.ReplayPosition) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.unflushed[pos] <= 1 {
		delete(t.unflushed, pos)
		return
	}
	t.unflushed[pos]--
}

// flushBarrier computes the position below which every logged entry will be
// durable in an artifact once flushed lands on disk: the log head, lowered
// by any write still between log append and memtable apply and by the
// oldest position held in a memtable other than flushed.
func (t *Table) flushBarrier(flushed *memtable.Memtable) commitlog.ReplayPosition {
	barrier := t.log.Head()

	t.mu.Lock()
	for pos := range t.unflushed {
		if pos.Cmp(barrier) < 0 {
			barrier = pos
		}
	}
	t.mu.Unlock()

	if oldest, ok := t.memtables.OldestUnflushedPosition(flushed); ok && oldest.Cmp(barrier) < 0 {
		barrier = oldest
	}
	return barrier
}

// Artifacts returns a snapshot of the current artifact descriptors.
func (t *Table) Artifacts() []sstable.Descriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]sstable.Descriptor(nil), t.artifacts...)
}

// flushTarget adapts one of the table's memtable sets to the flush
// controller and to explicit flush requests.
type flushTarget struct {
	t    *Table
	list *memtable.List
	mgr  *memdirty.Manager
}

func (ft *flushTarget) UnflushedFootprint() int64 {
	// counts sealed-but-unflushed memtables too, so a table whose previous
	// flush failed stays eligible as a victim
	return ft.list.TotalSize()
}

func (ft *flushTarget) FlushOne(ctx context.Context, permit *memdirty.FlushPermit) error {
	return ft.t.flushOne(ctx, permit, ft.list, ft.mgr)
}

// flushOne moves one sealed memtable (a stranded one from a failed attempt,
// or the freshly sealed active one) into a durable artifact, then releases
// the dirty memory it held. The permit is owned and released here.
func (t *Table) flushOne(ctx context.Context, permit *memdirty.FlushPermit,
	list *memtable.List, mgr *memdirty.Manager,
) error {
	defer permit.Release()

	if err := ctx.Err(); err != nil {
		return err
	}

	t.flushOpMu.Lock()
	defer t.flushOpMu.Unlock()

	sealed := list.ClaimPendingFlush()
	if sealed == nil {
		sealed = list.SealActive()
		if sealed == nil {
			return nil
		}
		sealed.TryClaimFlush()
	}

	size := sealed.Size()
	from, to := sealed.ReplayRange()

	// streaming memtables hold unlogged writes; they carry no barrier and
	// never advance the table's replay bookkeeping
	regular := list == t.memtables
	var barrier commitlog.ReplayPosition
	if regular {
		barrier = t.flushBarrier(sealed)
	}
	t.metrics.FlushStarted(mgr.Pool(), size)

	desc, err := t.writer.Write(sealed.FlattenInOrder(), from, to, barrier)
	if err != nil {
		sealed.UnclaimFlush()
		t.metrics.FlushFinished(mgr.Pool(), size, true)
		return errors.Wrapf(err, "flush table %s", t.Schema())
	}

	// the content is durable: it no longer contributes to flush pressure
	mgr.ReleaseVirtual(size)

	t.mu.Lock()
	t.artifacts = append(t.artifacts, desc)
	if regular {
		t.flushedTo = commitlog.Max(t.flushedTo, barrier)
	}
	t.mu.Unlock()

	if regular {
		t.log.DiscardCompletedSegments(t.id, barrier)
	}

	list.MarkFlushed(sealed)
	mgr.ReleaseReal(size)

	t.metrics.FlushFinished(mgr.Pool(), size, false)
	s := t.Schema()
	t.metrics.SetMemtableSize(s.KsName(), s.CfName(), list.TotalSize())

	t.logger.WithFields(logrus.Fields{
		"action":     "memtable_flush",
		"bytes":      size,
		"generation": desc.Generation,
	}).Debug("flushed memtable to artifact")

	return nil
}

// readCell resolves the current version of one cell across memtables,
// streaming memtables and artifacts.
func (t *Table) readCell(key []byte, column string) (cells.Cell, bool, error) {
	merged, found := t.memtables.Get(key, column)
	if cell, ok := t.streaming.Get(key, column); ok {
		if found {
			merged = cells.Merge(merged, cell)
		} else {
			merged, found = cell, true
		}
	}

	for _, desc := range t.Artifacts() {
		partition, err := sstable.ReadPartition(desc.Path, key)
		if err != nil {
			return cells.Cell{}, false, err
		}
		if cell, ok := partition[column]; ok {
			if found {
				merged = cells.Merge(merged, cell)
			} else {
				merged, found = cell, true
			}
		}
	}

	return merged, found, nil
}

// readPartition resolves a whole partition the same way. The second return
// reports whether on-disk artifacts contributed any cells.
func (t *Table) readPartition(key []byte) (map[string]cells.Cell, bool, error) {
	merged := t.memtables.GetPartition(key)
	merged = mergePartitions(merged, t.streaming.GetPartition(key))

	fromDisk := false
	for _, desc := range t.Artifacts() {
		partition, err := sstable.ReadPartition(desc.Path, key)
		if err != nil {
			return nil, false, err
		}
		if len(partition) > 0 {
			fromDisk = true
		}
		merged = mergePartitions(merged, partition)
	}
	return merged, fromDisk, nil
}

func mergePartitions(into, from map[string]cells.Cell) map[string]cells.Cell {
	if from == nil {
		return into
	}
	if into == nil {
		into = map[string]cells.Cell{}
	}
	for column, cell := range from {
		if existing, ok := into[column]; ok {
			into[column] = cells.Merge(existing, cell)
		} else {
			into[column] = cell
		}
	}
	return into
}

// truncate abandons all of the table's data: memtables are discarded
// without flushing, artifacts are removed, and the low replay mark moves to
// the current log head so that in-flight writes logged before the cut
// never become visible. The cut is published before any memtable is
// cleared; writers mid-apply are fenced out by truncateMu, so nothing
// logged before the cut can land in the fresh memtables afterwards.
func (t *Table) truncate(snapshotTag string) error {
	t.flushOpMu.Lock()
	defer t.flushOpMu.Unlock()

	t.truncateMu.Lock()
	mark := t.log.Head()

	t.mu.Lock()
	t.lowReplayMark = mark
	t.flushedTo = commitlog.Max(t.flushedTo, mark)
	t.mu.Unlock()

	if dropped := t.memtables.Clear(); dropped > 0 {
		t.mgr.ReleaseVirtual(dropped)
		t.mgr.ReleaseReal(dropped)
	}
	if dropped := t.streaming.Clear(); dropped > 0 {
		t.streamingMgr.ReleaseVirtual(dropped)
		t.streamingMgr.ReleaseReal(dropped)
	}
	t.truncateMu.Unlock()

	t.mu.Lock()
	artifacts := t.artifacts
	t.artifacts = nil
	t.mu.Unlock()

	if snapshotTag != "" {
		if err := t.snapshotArtifacts(artifacts, snapshotTag); err != nil {
			return err
		}
	}

	for _, desc := range artifacts {
		if err := os.Remove(desc.Path); err != nil && !os.IsNotExist(err) {
			t.logger.WithError(err).WithField("path", desc.Path).
				Warn("failed to remove truncated artifact")
		}
	}

	t.log.DiscardCompletedSegments(t.id, mark)

	s := t.Schema()
	t.metrics.SetMemtableSize(s.KsName(), s.CfName(), 0)
	t.logger.WithField("action", "truncate").WithField("mark", mark.String()).
		Info("table truncated")

	return nil
}

// snapshotArtifacts hard-links the given artifacts into a tagged snapshot
// directory, falling back to a byte copy on filesystems without links.
func (t *Table) snapshotArtifacts(artifacts []sstable.Descriptor, tag string) error {
	snapDir := filepath.Join(t.dir, "snapshots", tag)
	if err := os.MkdirAll(snapDir, 0o755); err != nil {
		return errors.Wrap(err, "create snapshot directory")
	}

	for _, desc := range artifacts {
		target := filepath.Join(snapDir, filepath.Base(desc.Path))
		if err := os.Link(desc.Path, target); err != nil {
			if err := copyFile(desc.Path, target); err != nil {
				return errors.Wrapf(err, "snapshot artifact %q", desc.Path)
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, in, 0o644)
}
