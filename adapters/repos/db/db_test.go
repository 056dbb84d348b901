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
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/entities/cells"
	"github.com/tidemark/tidemark/entities/mutation"
	"github.com/tidemark/tidemark/entities/schema"
	"github.com/tidemark/tidemark/usecases/config"
)

func testConfig(dir string) config.Config {
	return config.Config{
		DataDir:         dir,
		AvailableMemory: 64 << 20,
	}
}

func newTestDB(t *testing.T) *DB {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	d, err := New(testConfig(t.TempDir()), logger, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		d.Stop(context.Background())
	})
	return d
}

func newTestTable(t *testing.T, d *DB) (*Table, *schema.Schema) {
	t.Helper()
	_, err := d.CreateKeyspace("app", map[string]string{"class": "SimpleStrategy"}, true)
	require.NoError(t, err)

	s := schema.New("app", "events", []schema.Column{
		{Name: "title", Type: "text"},
		{Name: "hits", Type: "counter"},
	})
	table, err := d.CreateTable(s)
	require.NoError(t, err)
	return table, s
}

func writeMutation(s *schema.Schema, key, column, value string, ts int64) *mutation.Mutation {
	return &mutation.Mutation{
		TableID:       s.ID(),
		SchemaVersion: s.Version(),
		Key:           []byte(key),
		Updates: []mutation.CellUpdate{
			{Column: column, Cell: cells.Cell{Timestamp: ts, Live: true, Value: []byte(value)}},
		},
	}
}

func counterMutation(s *schema.Schema, key, column string, delta int64) *mutation.Mutation {
	return &mutation.Mutation{
		TableID:       s.ID(),
		SchemaVersion: s.Version(),
		Key:           []byte(key),
		Updates: []mutation.CellUpdate{
			{Column: column, IsCounter: true, CounterDelta: delta},
		},
	}
}

func TestApplyAndQueryRoundtrip(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "hello", 1)))
	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "world", 2)))

	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	require.Contains(t, result.Columns, "title")
	assert.Equal(t, []byte("world"), result.Columns["title"].Value)
	assert.Equal(t, CacheHot, result.Temperature, "memory-only reads are hot")
}

func TestTombstoneHidesColumn(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "hello", 1)))

	del := &mutation.Mutation{
		TableID:       s.ID(),
		SchemaVersion: s.Version(),
		Key:           []byte("k1"),
		Updates:       []mutation.CellUpdate{{Column: "title", Cell: cells.Tombstone(2, 100)}},
	}
	require.NoError(t, d.Apply(context.Background(), del))

	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.NotContains(t, result.Columns, "title")
}

func TestApplyRejectsStaleSchemaVersion(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	stale := writeMutation(s, "k1", "title", "hello", 1)

	next := s.WithColumns(append(s.Columns(), schema.Column{Name: "extra", Type: "text"}))
	require.NoError(t, d.UpdateTable(next))

	err := d.Apply(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleSchema))

	// the current version keeps working
	require.NoError(t, d.Apply(context.Background(), writeMutation(next, "k1", "title", "hello", 1)))
}

func TestDirectoryTypedErrors(t *testing.T) {
	d := newTestDB(t)

	_, err := d.Keyspace("missing")
	assert.True(t, errors.Is(err, ErrKeyspaceNotFound))

	_, err = d.FindTable("missing", "events")
	assert.True(t, errors.Is(err, ErrKeyspaceNotFound))

	_, err = d.CreateKeyspace("app", nil, true)
	require.NoError(t, err)
	_, err = d.FindTable("app", "missing")
	assert.True(t, errors.Is(err, ErrTableNotFound))

	_, err = d.CreateKeyspace("app", nil, true)
	assert.True(t, errors.Is(err, ErrKeyspaceExists))

	s := schema.New("app", "events", nil)
	_, err = d.CreateTable(s)
	require.NoError(t, err)
	_, err = d.CreateTable(schema.New("app", "events", nil))
	assert.True(t, errors.Is(err, ErrTableExists))

	err = d.Apply(context.Background(), writeMutation(schema.New("app", "ghost", nil), "k", "c", "v", 1))
	assert.True(t, errors.Is(err, ErrTableNotFound))
}

func TestExplicitFlushReturnsMemoryAndKeepsData(t *testing.T) {
	d := newTestDB(t)
	table, s := newTestTable(t, d)

	mut := writeMutation(s, "k1", "title", "hello", 1)
	require.NoError(t, d.Apply(context.Background(), mut))
	assert.Equal(t, mut.Footprint(), d.regular.RealDirty())

	require.NoError(t, d.FlushTable(context.Background(), "app", "events"))

	assert.Zero(t, d.regular.RealDirty(), "flush must return the dirty memory")
	assert.Zero(t, d.regular.VirtualDirty())
	require.Len(t, table.Artifacts(), 1)

	// the data now comes from the artifact
	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), result.Columns["title"].Value)
	assert.Equal(t, CacheCold, result.Temperature)
}

func TestFlushAllCoversEveryTable(t *testing.T) {
	d := newTestDB(t)
	t1, s1 := newTestTable(t, d)

	s2 := schema.New("app", "users", []schema.Column{{Name: "title", Type: "text"}})
	t2, err := d.CreateTable(s2)
	require.NoError(t, err)

	require.NoError(t, d.Apply(context.Background(), writeMutation(s1, "k1", "title", "a", 1)))
	require.NoError(t, d.Apply(context.Background(), writeMutation(s2, "k2", "title", "b", 1)))

	require.NoError(t, d.FlushAll(context.Background()))

	assert.Len(t, t1.Artifacts(), 1)
	assert.Len(t, t2.Artifacts(), 1)
	assert.Zero(t, d.regular.RealDirty())
}

func TestCounterUpdatesAccumulate(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	for _, delta := range []int64{5, 7, -2} {
		require.NoError(t, d.Apply(context.Background(), counterMutation(s, "k1", "hits", delta)))
	}

	total, err := d.ReadCounter(context.Background(), "app", "events", []byte("k1"), "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(10), total)
}

func TestCounterSurvivesFlushBoundary(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), counterMutation(s, "k1", "hits", 5)))
	require.NoError(t, d.FlushTable(context.Background(), "app", "events"))
	require.NoError(t, d.Apply(context.Background(), counterMutation(s, "k1", "hits", 3)))

	total, err := d.ReadCounter(context.Background(), "app", "events", []byte("k1"), "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(8), total)
}

func TestCounterMergesShardsAcrossSources(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), counterMutation(s, "k1", "hits", 5)))
	require.NoError(t, d.FlushTable(context.Background(), "app", "events"))

	// a remote replica's shard arrives with an older timestamp; a
	// last-write-wins read would drop the local contribution on disk
	remote := cells.CounterState{}.ApplyDelta(uuid.New(), 3)
	mut := &mutation.Mutation{
		TableID:       s.ID(),
		SchemaVersion: s.Version(),
		Key:           []byte("k1"),
		Updates: []mutation.CellUpdate{{Column: "hits", Cell: cells.Cell{
			Timestamp: 1, Live: true, Value: remote.Bytes(),
		}}},
	}
	require.NoError(t, d.Apply(context.Background(), mut))

	total, err := d.ReadCounter(context.Background(), "app", "events", []byte("k1"), "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(8), total, "shards from different sources must both count")
}

func TestDeletedCounterReadsZero(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), counterMutation(s, "k1", "hits", 5)))

	del := &mutation.Mutation{
		TableID:       s.ID(),
		SchemaVersion: s.Version(),
		Key:           []byte("k1"),
		Updates: []mutation.CellUpdate{{
			Column: "hits",
			Cell:   cells.Tombstone(time.Now().UnixMicro()+int64(time.Hour/time.Microsecond), 100),
		}},
	}
	require.NoError(t, d.Apply(context.Background(), del))

	total, err := d.ReadCounter(context.Background(), "app", "events", []byte("k1"), "hits")
	require.NoError(t, err)
	assert.Zero(t, total, "shard states older than the tombstone must stay dead")
}

func TestReplayRestoresUnflushedWrites(t *testing.T) {
	dir := t.TempDir()
	logger, _ := logrustest.NewNullLogger()

	d1, err := New(testConfig(dir), logger, nil)
	require.NoError(t, err)
	_, err = d1.CreateKeyspace("app", nil, true)
	require.NoError(t, err)
	s := schema.New("app", "events", []schema.Column{
		{Name: "title", Type: "text"},
		{Name: "hits", Type: "counter"},
	})
	_, err = d1.CreateTable(s)
	require.NoError(t, err)

	require.NoError(t, d1.Apply(context.Background(), writeMutation(s, "k1", "title", "survives", 1)))
	require.NoError(t, d1.Apply(context.Background(), counterMutation(s, "k1", "hits", 4)))
	// no clean stop: simulate a crash by abandoning d1

	d2, err := New(testConfig(dir), logger, nil)
	require.NoError(t, err)
	defer d2.Stop(context.Background())
	_, err = d2.CreateKeyspace("app", nil, true)
	require.NoError(t, err)

	restored := schema.Restore(s.ID(), s.Version(), "app", "events", s.Columns())
	_, err = d2.CreateTable(restored)
	require.NoError(t, err)

	require.NoError(t, d2.Replay(context.Background()))

	result, err := d2.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.Equal(t, []byte("survives"), result.Columns["title"].Value)

	// counter writes are logged as full shard states: replaying them again
	// must not double-count
	require.NoError(t, d2.Replay(context.Background()))
	total, err := d2.ReadCounter(context.Background(), "app", "events", []byte("k1"), "hits")
	require.NoError(t, err)
	assert.Equal(t, int64(4), total)
}

func TestReplaySkipsFlushedEntries(t *testing.T) {
	dir := t.TempDir()
	logger, _ := logrustest.NewNullLogger()

	d1, err := New(testConfig(dir), logger, nil)
	require.NoError(t, err)
	_, err = d1.CreateKeyspace("app", nil, true)
	require.NoError(t, err)
	s := schema.New("app", "events", []schema.Column{{Name: "title", Type: "text"}})
	_, err = d1.CreateTable(s)
	require.NoError(t, err)

	require.NoError(t, d1.Apply(context.Background(), writeMutation(s, "k1", "title", "flushed", 1)))
	require.NoError(t, d1.FlushTable(context.Background(), "app", "events"))

	d2, err := New(testConfig(dir), logger, nil)
	require.NoError(t, err)
	defer d2.Stop(context.Background())
	_, err = d2.CreateKeyspace("app", nil, true)
	require.NoError(t, err)
	restored := schema.Restore(s.ID(), s.Version(), "app", "events", s.Columns())
	table, err := d2.CreateTable(restored)
	require.NoError(t, err)
	require.Len(t, table.Artifacts(), 1, "artifacts must be rediscovered on startup")

	require.NoError(t, d2.Replay(context.Background()))
	assert.Zero(t, d2.regular.RealDirty(),
		"entries covered by artifacts must not be re-applied")

	result, err := d2.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.Equal(t, []byte("flushed"), result.Columns["title"].Value)
}

func TestReplayKeepsWriteDelayedPastAConcurrentFlush(t *testing.T) {
	dir := t.TempDir()
	logger, _ := logrustest.NewNullLogger()

	d1, err := New(testConfig(dir), logger, nil)
	require.NoError(t, err)
	_, err = d1.CreateKeyspace("app", nil, true)
	require.NoError(t, err)
	s := schema.New("app", "events", []schema.Column{{Name: "title", Type: "text"}})
	table, err := d1.CreateTable(s)
	require.NoError(t, err)

	// first half of a write: logged and acked, but not yet in a memtable
	stalled := writeMutation(s, "k1", "title", "stalled", 1)
	marker := d1.log.Head()
	table.trackUnflushed(marker)
	rp, err := d1.log.AddEntry(context.Background(), table.id, stalled)
	require.NoError(t, err)

	// a second write lands and flushes while the first is still in limbo
	require.NoError(t, d1.Apply(context.Background(), writeMutation(s, "k2", "title", "flushed", 1)))
	require.NoError(t, d1.FlushTable(context.Background(), "app", "events"))

	// the barrier must not pass the stalled write's position
	assert.True(t, table.FlushedTo().Cmp(rp) <= 0,
		"flush advanced past a logged write that is in no memtable")

	// second half of the write: it reaches the next memtable
	reservation, err := d1.regular.Reserve(context.Background(), stalled.Footprint())
	require.NoError(t, err)
	require.NoError(t, applyToList(table.memtables, stalled, rp))
	reservation.Transferred()
	table.untrackUnflushed(marker)
	// crash: d1 is abandoned without a clean stop

	d2, err := New(testConfig(dir), logger, nil)
	require.NoError(t, err)
	defer d2.Stop(context.Background())
	_, err = d2.CreateKeyspace("app", nil, true)
	require.NoError(t, err)
	restored := schema.Restore(s.ID(), s.Version(), "app", "events", s.Columns())
	_, err = d2.CreateTable(restored)
	require.NoError(t, err)

	require.NoError(t, d2.Replay(context.Background()))

	result, err := d2.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	require.Contains(t, result.Columns, "title", "acked write lost across recovery")
	assert.Equal(t, []byte("stalled"), result.Columns["title"].Value)

	result, err = d2.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k2")})
	require.NoError(t, err)
	assert.Equal(t, []byte("flushed"), result.Columns["title"].Value)
}

// gatedLog stalls every append after it hits the file, between the ack and
// the caller's memtable apply.
type gatedLog struct {
	commitlog.Log
	appended chan struct{}
	release  chan struct{}
}

func (g *gatedLog) AddEntry(ctx context.Context, tableID uuid.UUID,
	entry commitlog.EntryWriter,
) (commitlog.ReplayPosition, error) {
	pos, err := g.Log.AddEntry(ctx, tableID, entry)
	if err == nil {
		g.appended <- struct{}{}
		<-g.release
	}
	return pos, err
}

func TestWriteRacingATruncateNeverResurrects(t *testing.T) {
	d := newTestDB(t)
	gated := &gatedLog{Log: d.log, appended: make(chan struct{}), release: make(chan struct{})}
	d.log = gated
	_, s := newTestTable(t, d)

	done := make(chan error, 1)
	go func() {
		done <- d.Apply(context.Background(), writeMutation(s, "k1", "title", "late", 1))
	}()

	// the write is logged; truncate the table before it reaches a memtable
	<-gated.appended
	require.NoError(t, d.TruncateTable(context.Background(), "app", "events"))
	close(gated.release)
	require.NoError(t, <-done)

	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.Empty(t, result.Columns, "write logged before the cut became visible after truncate")
	assert.Zero(t, d.regular.RealDirty(), "the dropped write must not leak dirty memory")
}

func TestTruncateWaitsForWritersInTheApplyWindow(t *testing.T) {
	d := newTestDB(t)
	table, _ := newTestTable(t, d)

	table.truncateMu.RLock()
	done := make(chan error, 1)
	go func() {
		done <- d.TruncateTable(context.Background(), "app", "events")
	}()

	select {
	case <-done:
		t.Fatal("truncate completed while a writer held the apply window")
	case <-time.After(30 * time.Millisecond):
	}

	table.truncateMu.RUnlock()
	require.NoError(t, <-done)
}

// failingLog rejects every append, like a full or broken disk would.
type failingLog struct {
	commitlog.Log
}

func (f *failingLog) AddEntry(context.Context, uuid.UUID,
	commitlog.EntryWriter,
) (commitlog.ReplayPosition, error) {
	return commitlog.ReplayPosition{}, errors.New("segment write failed")
}

func TestFailedLogAppendKeepsWriteInvisible(t *testing.T) {
	d := newTestDB(t)
	d.log = &failingLog{Log: d.log}
	_, s := newTestTable(t, d)

	err := d.Apply(context.Background(), writeMutation(s, "k1", "title", "doomed", 1))
	require.Error(t, err)

	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.Empty(t, result.Columns, "a write must not be visible without durability")
	assert.Zero(t, d.regular.RealDirty())
	assert.Zero(t, d.regular.VirtualDirty())
}

func TestDropTableWaitsForInFlightOperations(t *testing.T) {
	d := newTestDB(t)
	table, s := newTestTable(t, d)
	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "v", 1)))

	require.NoError(t, table.beginOp())

	done := make(chan error, 1)
	go func() {
		done <- d.DropTable(context.Background(), "app", "events")
	}()

	select {
	case <-done:
		t.Fatal("drop completed with an operation still in flight")
	case <-time.After(30 * time.Millisecond):
	}

	// operations arriving after the drop started are turned away
	require.Eventually(t, func() bool {
		if err := table.beginOp(); err != nil {
			return errors.Is(err, ErrTableDropped)
		}
		table.endOp()
		return false
	}, time.Second, 5*time.Millisecond)

	table.endOp()
	require.NoError(t, <-done)

	err := d.Apply(context.Background(), writeMutation(s, "k2", "title", "late", 2))
	assert.True(t, errors.Is(err, ErrTableNotFound))
}

func TestTruncateDiscardsEverything(t *testing.T) {
	d := newTestDB(t)
	table, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "old", 1)))
	require.NoError(t, d.FlushTable(context.Background(), "app", "events"))
	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k2", "title", "newer", 2)))

	require.NoError(t, d.TruncateTable(context.Background(), "app", "events"))

	assert.Zero(t, d.regular.RealDirty())
	assert.Empty(t, table.Artifacts())

	for _, key := range []string{"k1", "k2"} {
		result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte(key)})
		require.NoError(t, err)
		assert.Empty(t, result.Columns)
	}

	// replaying the log after a truncate must not resurrect the data
	require.NoError(t, d.Replay(context.Background()))
	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k2")})
	require.NoError(t, err)
	assert.Empty(t, result.Columns)

	// the table stays writable
	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k3", "title", "fresh", 3)))
}

func TestTruncateCascadesToViews(t *testing.T) {
	d := newTestDB(t)
	base, s := newTestTable(t, d)

	view := schema.NewView("app", "events_by_title", s.ID(), s.Columns())
	viewTable, err := d.CreateTable(view)
	require.NoError(t, err)
	assert.True(t, base.HasViews())

	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "base", 1)))
	require.NoError(t, d.Apply(context.Background(), writeMutation(view, "t1", "title", "derived", 1)))

	require.NoError(t, d.TruncateTable(context.Background(), "app", "events"))

	result, err := d.Query(context.Background(), ReadCommand{TableID: view.ID(), Key: []byte("t1")})
	require.NoError(t, err)
	assert.Empty(t, result.Columns, "view data must follow the base truncate")
	assert.Zero(t, viewTable.memtables.TotalSize())
}

func TestDropTable(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "v", 1)))
	require.NoError(t, d.DropTable(context.Background(), "app", "events"))

	_, err := d.FindTable("app", "events")
	assert.True(t, errors.Is(err, ErrTableNotFound))

	err = d.Apply(context.Background(), writeMutation(s, "k2", "title", "v", 1))
	assert.True(t, errors.Is(err, ErrTableNotFound))

	assert.Zero(t, d.regular.RealDirty(), "dropping must return the dirty memory")
}

func TestDropBaseWithViewsRefused(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	view := schema.NewView("app", "events_by_title", s.ID(), nil)
	_, err := d.CreateTable(view)
	require.NoError(t, err)

	assert.Error(t, d.DropTable(context.Background(), "app", "events"))

	// dropping the view first unblocks the base
	require.NoError(t, d.DropTable(context.Background(), "app", "events_by_title"))
	require.NoError(t, d.DropTable(context.Background(), "app", "events"))
}

func TestStreamingWritesUseTheStreamingPool(t *testing.T) {
	d := newTestDB(t)
	_, s := newTestTable(t, d)

	mut := writeMutation(s, "k1", "title", "bulk", 1)
	require.NoError(t, d.ApplyStreaming(context.Background(), mut))

	assert.Zero(t, d.regular.RealDirty(), "streaming must not charge the regular pool")
	assert.Equal(t, mut.Footprint(), d.streaming.RealDirty())

	// streamed data is visible to reads
	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k1")})
	require.NoError(t, err)
	assert.Equal(t, []byte("bulk"), result.Columns["title"].Value)
}

func TestSystemKeyspaceUsesTheSystemPool(t *testing.T) {
	d := newTestDB(t)
	_, err := d.CreateKeyspace("system", nil, true)
	require.NoError(t, err)

	s := schema.New("system", "local", []schema.Column{{Name: "title", Type: "text"}})
	_, err = d.CreateTable(s)
	require.NoError(t, err)

	mut := writeMutation(s, "k1", "title", "meta", 1)
	require.NoError(t, d.Apply(context.Background(), mut))

	assert.Equal(t, mut.Footprint(), d.system.RealDirty())
	assert.Zero(t, d.regular.RealDirty())
}

func TestNonDurableKeyspaceSkipsTheLog(t *testing.T) {
	d := newTestDB(t)
	_, err := d.CreateKeyspace("cachelike", nil, false)
	require.NoError(t, err)
	s := schema.New("cachelike", "tmp", []schema.Column{{Name: "title", Type: "text"}})
	_, err = d.CreateTable(s)
	require.NoError(t, err)

	head := d.log.Head()
	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k", "title", "v", 1)))
	assert.Zero(t, d.log.Head().Cmp(head), "durable_writes=false must not append to the log")

	result, err := d.Query(context.Background(), ReadCommand{TableID: s.ID(), Key: []byte("k")})
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), result.Columns["title"].Value)
}

func TestSnapshotAndClear(t *testing.T) {
	d := newTestDB(t)
	table, s := newTestTable(t, d)

	require.NoError(t, d.Apply(context.Background(), writeMutation(s, "k1", "title", "v", 1)))
	require.NoError(t, d.SnapshotTable(context.Background(), "app", "events", "backup-1"))

	snapDir := filepath.Join(table.dir, "snapshots", "backup-1")
	snapshots, err := filepath.Glob(filepath.Join(snapDir, "gen-*.tmk"))
	require.NoError(t, err)
	assert.NotEmpty(t, snapshots, "the snapshot must contain the flushed artifact")

	require.NoError(t, d.ClearSnapshot("backup-1", "app"))
	snapshots, err = filepath.Glob(filepath.Join(snapDir, "gen-*.tmk"))
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestUpdateKeyspaceOptions(t *testing.T) {
	d := newTestDB(t)
	_, err := d.CreateKeyspace("app", map[string]string{"rf": "1"}, true)
	require.NoError(t, err)

	require.NoError(t, d.UpdateKeyspace("app", map[string]string{"rf": "3"}, false))
	ks, err := d.Keyspace("app")
	require.NoError(t, err)
	assert.Equal(t, "3", ks.ReplicationOptions()["rf"])
	assert.False(t, ks.DurableWrites())

	assert.True(t, errors.Is(
		d.UpdateKeyspace("ghost", nil, true), ErrKeyspaceNotFound))
}
