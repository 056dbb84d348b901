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
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
	"github.com/tidemark/tidemark/adapters/repos/db/flush"
	"github.com/tidemark/tidemark/adapters/repos/db/locking"
	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
	"github.com/tidemark/tidemark/entities/schema"
	"github.com/tidemark/tidemark/usecases/config"
	"github.com/tidemark/tidemark/usecases/monitoring"
	"github.com/tidemark/tidemark/usecases/ratelimiter"
)

const (
	// PoolSystem holds internal bookkeeping tables; its small fixed budget
	// keeps system writes flowing even when user writes are throttled.
	PoolSystem = "system"
	// PoolRegular holds all user table writes.
	PoolRegular = "regular"
	// PoolStreaming holds bulk ingest, isolated so it cannot starve
	// foreground writes.
	PoolStreaming = "streaming"

	systemKeyspace = "system"
)

// DB is one shard of the storage engine: a full, independent instance of
// the write path with its own dirty-memory pools, flush controllers,
// durability log and table directory. Shards share nothing.
type DB struct {
	cfg     config.Config
	logger  logrus.FieldLogger
	metrics *monitoring.PrometheusMetrics

	// identifies this node's counter shard contributions
	localHostID uuid.UUID

	system    *memdirty.Manager
	regular   *memdirty.Manager
	streaming *memdirty.Manager

	controllers []*flush.Controller
	backlogs    []*flush.BacklogController

	readLimiters map[string]*ratelimiter.ConcurrencyLimiter

	log commitlog.Log

	rowLocks  *locking.RowLocker
	cellLocks *locking.CellLocker

	dirMu     sync.RWMutex
	keyspaces map[string]*schema.KeyspaceMetadata
	tables    map[uuid.UUID]*Table
	byName    map[string]uuid.UUID

	replaying atomic.Bool
	stopped   atomic.Bool
}

// New builds a shard. Start must be called before it accepts work.
func New(cfg config.Config, logger logrus.FieldLogger,
	metrics *monitoring.PrometheusMetrics,
) (*DB, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create data directory")
	}

	log, err := commitlog.NewFileLog(filepath.Join(cfg.DataDir, "commitlog"),
		cfg.CommitLogSegmentSize, logger)
	if err != nil {
		return nil, err
	}

	d := &DB{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		localHostID: uuid.New(),
		log:         log,
		rowLocks:    locking.NewRowLocker(metrics),
		cellLocks:   locking.NewCellLocker(metrics),
		keyspaces:   map[string]*schema.KeyspaceMetadata{},
		tables:      map[uuid.UUID]*Table{},
		byName:      map[string]uuid.UUID{},
	}

	d.system = d.newPool(PoolSystem, cfg.SystemPoolBudget())
	d.regular = d.newPool(PoolRegular, cfg.RegularPoolBudget())
	d.streaming = d.newPool(PoolStreaming, cfg.StreamingPoolBudget())

	for _, mgr := range []*memdirty.Manager{d.system, d.regular, d.streaming} {
		d.controllers = append(d.controllers, flush.NewController(mgr, d, logger))
		d.backlogs = append(d.backlogs, flush.NewBacklogController(mgr,
			flush.DefaultControlPoints, cfg.MemtableFlushStaticShares, 0,
			flush.NoopScheduler{}, logger, metrics))
	}

	d.readLimiters = map[string]*ratelimiter.ConcurrencyLimiter{
		PoolSystem: ratelimiter.New(PoolSystem, cfg.MaxConcurrentReads,
			cfg.MaxConcurrentReadMem, cfg.MaxReadQueueLength, metrics),
		PoolRegular: ratelimiter.New(PoolRegular, cfg.MaxConcurrentReads,
			cfg.MaxConcurrentReadMem, cfg.MaxReadQueueLength, metrics),
	}

	return d, nil
}

func (d *DB) newPool(pool string, budget int64) *memdirty.Manager {
	return memdirty.NewManager(pool, memdirty.Config{
		HardLimit:        budget,
		SoftLimit:        int64(float64(budget) * d.cfg.VirtualDirtySoftLimitRatio),
		FlushConcurrency: int64(d.cfg.FlushConcurrency),
	}, d.logger, d.metrics)
}

// Start launches the flush control loops. Call after schema bootstrap and
// before Replay.
func (d *DB) Start() {
	for _, c := range d.controllers {
		c.Start()
	}
	for _, b := range d.backlogs {
		b.Start()
	}
}

// LocalHostID identifies this node in counter shards.
func (d *DB) LocalHostID() uuid.UUID {
	return d.localHostID
}

// mayFlush gates explicit flush requests while log replay runs.
func (d *DB) mayFlush() bool {
	return !d.replaying.Load()
}

// poolOf maps a table to its dirty-memory pool by keyspace.
func poolOf(s *schema.Schema) string {
	if s.KsName() == systemKeyspace {
		return PoolSystem
	}
	return PoolRegular
}

func (d *DB) managerFor(pool string) *memdirty.Manager {
	switch pool {
	case PoolSystem:
		return d.system
	case PoolStreaming:
		return d.streaming
	default:
		return d.regular
	}
}

// FlushCandidates implements the flush controllers' victim enumeration:
// every table whose memtable set belongs to the given pool.
func (d *DB) FlushCandidates(pool string) []flush.Flushable {
	d.dirMu.RLock()
	defer d.dirMu.RUnlock()

	out := make([]flush.Flushable, 0, len(d.tables))
	for _, t := range d.tables {
		if pool == PoolStreaming {
			out = append(out, t.streamingTarget)
			continue
		}
		if poolOf(t.Schema()) == pool {
			out = append(out, t.regularTarget)
		}
	}
	return out
}

// CreateKeyspace registers a new keyspace.
func (d *DB) CreateKeyspace(name string, replicationOptions map[string]string,
	durableWrites bool,
) (*schema.KeyspaceMetadata, error) {
	d.dirMu.Lock()
	defer d.dirMu.Unlock()

	if _, ok := d.keyspaces[name]; ok {
		return nil, errors.Wrapf(ErrKeyspaceExists, "%q", name)
	}

	ks := schema.NewKeyspaceMetadata(name, replicationOptions, durableWrites)
	d.keyspaces[name] = ks
	d.logger.WithField("action", "create_keyspace").WithField("keyspace", name).
		Info("keyspace created")
	return ks, nil
}

// UpdateKeyspace alters replication options and durability in place.
func (d *DB) UpdateKeyspace(name string, replicationOptions map[string]string,
	durableWrites bool,
) error {
	d.dirMu.RLock()
	ks, ok := d.keyspaces[name]
	d.dirMu.RUnlock()
	if !ok {
		return errors.Wrapf(ErrKeyspaceNotFound, "%q", name)
	}

	ks.UpdateOptions(replicationOptions, durableWrites)
	return nil
}

// Keyspace returns the metadata of one keyspace.
func (d *DB) Keyspace(name string) (*schema.KeyspaceMetadata, error) {
	d.dirMu.RLock()
	defer d.dirMu.RUnlock()

	ks, ok := d.keyspaces[name]
	if !ok {
		return nil, errors.Wrapf(ErrKeyspaceNotFound, "%q", name)
	}
	return ks, nil
}

// DropKeyspace drops every table of the keyspace, then the keyspace itself.
func (d *DB) DropKeyspace(ctx context.Context, name string) error {
	ks, err := d.Keyspace(name)
	if err != nil {
		return err
	}

	// views before base tables, so no base loses a view it still serves
	for _, s := range ks.Views() {
		if err := d.DropTable(ctx, name, s.CfName()); err != nil {
			return err
		}
	}
	for _, s := range ks.Tables() {
		if err := d.DropTable(ctx, name, s.CfName()); err != nil {
			return err
		}
	}

	d.dirMu.Lock()
	delete(d.keyspaces, name)
	d.dirMu.Unlock()

	d.logger.WithField("action", "drop_keyspace").WithField("keyspace", name).
		Info("keyspace dropped")
	return nil
}

func nameKey(ks, cf string) string {
	return ks + "/" + cf
}

// CreateTable registers a table (or view) under an existing keyspace and
// marks its schema synced. View schemas must reference a registered base
// table, which learns about its new dependent.
func (d *DB) CreateTable(s *schema.Schema) (*Table, error) {
	d.dirMu.Lock()
	defer d.dirMu.Unlock()

	ks, ok := d.keyspaces[s.KsName()]
	if !ok {
		return nil, errors.Wrapf(ErrKeyspaceNotFound, "%q", s.KsName())
	}
	if _, ok := d.byName[nameKey(s.KsName(), s.CfName())]; ok {
		return nil, errors.Wrapf(ErrTableExists, "%s", s)
	}
	if _, ok := d.tables[s.ID()]; ok {
		return nil, errors.Wrapf(ErrTableExists, "table id %s", s.ID())
	}

	var base *Table
	if s.IsView() {
		base, ok = d.tables[s.BaseID()]
		if !ok {
			return nil, errors.Wrapf(ErrTableNotFound,
				"base table %s of view %s", s.BaseID(), s)
		}
	}

	pool := poolOf(s)
	dir := filepath.Join(d.cfg.DataDir, "data", s.KsName(),
		fmt.Sprintf("%s-%s", s.CfName(), s.ID()))

	t, err := newTable(s, dir, d.managerFor(pool), d.streaming, d.log,
		d.mayFlush, d.logger, d.metrics)
	if err != nil {
		return nil, err
	}

	s.MarkSynced()
	d.tables[s.ID()] = t
	d.byName[nameKey(s.KsName(), s.CfName())] = s.ID()
	ks.AddOrUpdateTable(s)
	if base != nil {
		base.addView(s.ID())
	}

	d.logger.WithField("action", "create_table").WithField("table", s.String()).
		Info("table created")
	return t, nil
}

// UpdateTable installs a new schema version for an existing table. The
// table id must be preserved; only the version and column set change. The
// new version starts taking writes once marked synced here.
func (d *DB) UpdateTable(s *schema.Schema) error {
	d.dirMu.Lock()
	defer d.dirMu.Unlock()

	t, ok := d.tables[s.ID()]
	if !ok {
		return errors.Wrapf(ErrTableNotFound, "table id %s", s.ID())
	}

	current := t.Schema()
	if current.KsName() != s.KsName() || current.CfName() != s.CfName() {
		return errors.Errorf("schema update must not rename %s to %s", current, s)
	}

	s.MarkSynced()
	t.setSchema(s)
	if ks, ok := d.keyspaces[s.KsName()]; ok {
		ks.AddOrUpdateTable(s)
	}

	d.logger.WithField("action", "update_table").WithField("table", s.String()).
		Info("table schema updated")
	return nil
}

// FindTable resolves a table by name.
func (d *DB) FindTable(ksName, cfName string) (*Table, error) {
	d.dirMu.RLock()
	defer d.dirMu.RUnlock()

	if _, ok := d.keyspaces[ksName]; !ok {
		return nil, errors.Wrapf(ErrKeyspaceNotFound, "%q", ksName)
	}
	id, ok := d.byName[nameKey(ksName, cfName)]
	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "%s.%s", ksName, cfName)
	}
	return d.tables[id], nil
}

// TableByID resolves a table by its stable id.
func (d *DB) TableByID(id uuid.UUID) (*Table, error) {
	d.dirMu.RLock()
	defer d.dirMu.RUnlock()

	t, ok := d.tables[id]
	if !ok {
		return nil, errors.Wrapf(ErrTableNotFound, "table id %s", id)
	}
	return t, nil
}

// DropTable removes a table: new operations are rejected, in-flight ones
// are awaited, then the data is abandoned (snapshotted first when
// configured). A base table with live views cannot be dropped.
func (d *DB) DropTable(ctx context.Context, ksName, cfName string) error {
	t, err := d.FindTable(ksName, cfName)
	if err != nil {
		return err
	}
	s := t.Schema()

	if len(t.viewIDs()) > 0 {
		return errors.Errorf("cannot drop %s: views still depend on it", s)
	}

	t.dropped.Store(true)
	if err := t.awaitInFlight(ctx); err != nil {
		return err
	}

	tag := ""
	if d.cfg.AutoSnapshot {
		tag = autoSnapshotTag("dropped")
	}
	if err := t.truncate(tag); err != nil {
		return err
	}

	d.dirMu.Lock()
	delete(d.tables, s.ID())
	delete(d.byName, nameKey(ksName, cfName))
	if ks, ok := d.keyspaces[ksName]; ok {
		ks.RemoveTable(cfName)
	}
	d.dirMu.Unlock()

	if s.IsView() {
		if base, err := d.TableByID(s.BaseID()); err == nil {
			base.removeView(s.ID())
		}
	}

	d.logger.WithField("action", "drop_table").WithField("table", s.String()).
		Info("table dropped")
	return nil
}

// Stop shuts the shard down: control loops first, then a final flush of
// every table, then the permit drain and the durability log.
func (d *DB) Stop(ctx context.Context) error {
	if !d.stopped.CompareAndSwap(false, true) {
		return nil
	}

	var result *multierror.Error

	for _, b := range d.backlogs {
		if err := b.Stop(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "stop backlog controller"))
		}
	}
	for _, c := range d.controllers {
		if err := c.Stop(ctx); err != nil {
			result = multierror.Append(result, errors.Wrap(err, "stop flush controller"))
		}
	}

	// final flush so a clean shutdown leaves nothing to replay
	d.dirMu.RLock()
	tables := make([]*Table, 0, len(d.tables))
	for _, t := range d.tables {
		tables = append(tables, t)
	}
	d.dirMu.RUnlock()

	for _, t := range tables {
		if err := t.memtables.RequestFlush(ctx); err != nil {
			result = multierror.Append(result,
				errors.Wrapf(err, "final flush of %s", t.Schema()))
		}
		if err := t.streaming.RequestFlush(ctx); err != nil {
			result = multierror.Append(result,
				errors.Wrapf(err, "final streaming flush of %s", t.Schema()))
		}
	}

	for _, mgr := range []*memdirty.Manager{d.system, d.regular, d.streaming} {
		if err := mgr.Shutdown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}

	if err := d.log.Shutdown(ctx); err != nil {
		result = multierror.Append(result, errors.Wrap(err, "stop commit log"))
	}

	return result.ErrorOrNil()
}
