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

package locking

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/usecases/monitoring"
)

// keyedLocker hands out exclusive, context-aware locks on string keys.
// Entries are refcounted so the lock table only holds keys someone is
// actually holding or waiting on.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*lockEntry

	metrics *monitoring.PrometheusMetrics
}

type lockEntry struct {
	// capacity 1: holding the token in the channel means holding the lock
	ch   chan struct{}
	refs int
}

func newKeyedLocker(metrics *monitoring.PrometheusMetrics) *keyedLocker {
	return &keyedLocker{
		locks:   map[string]*lockEntry{},
		metrics: metrics,
	}
}

func (kl *keyedLocker) acquire(ctx context.Context, key string) error {
	kl.mu.Lock()
	entry, ok := kl.locks[key]
	if !ok {
		entry = &lockEntry{ch: make(chan struct{}, 1)}
		kl.locks[key] = entry
	}
	entry.refs++
	kl.mu.Unlock()

	kl.metrics.CellLockWaiting(1)
	defer kl.metrics.CellLockWaiting(-1)

	select {
	case entry.ch <- struct{}{}:
		kl.metrics.CellLockAcquired()
		return nil
	case <-ctx.Done():
		kl.unref(key, entry)
		return errors.Wrapf(ctx.Err(), "waiting for lock on %q", key)
	}
}

func (kl *keyedLocker) release(key string) {
	kl.mu.Lock()
	entry, ok := kl.locks[key]
	kl.mu.Unlock()
	if !ok {
		return
	}

	<-entry.ch
	kl.unref(key, entry)
}

func (kl *keyedLocker) unref(key string, entry *lockEntry) {
	kl.mu.Lock()
	defer kl.mu.Unlock()

	entry.refs--
	if entry.refs == 0 {
		delete(kl.locks, key)
	}
}

// pending returns how many keys are currently tracked, for tests.
func (kl *keyedLocker) pending() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.locks)
}

// CellLocker serializes concurrent writers of individual cells. Counter
// updates need it because their read-transform-apply sequence is not
// otherwise atomic.
type CellLocker struct {
	inner *keyedLocker
}

func NewCellLocker(metrics *monitoring.PrometheusMetrics) *CellLocker {
	return &CellLocker{inner: newKeyedLocker(metrics)}
}

func cellKey(tableID uuid.UUID, key []byte, column string) string {
	return fmt.Sprintf("%s/%x/%s", tableID, key, column)
}

// LockCells locks the given columns of one partition. Columns MUST already
// be sorted; the deterministic order is what prevents deadlock between
// writers touching overlapping column sets. On any failure every lock
// taken so far is rolled back.
func (cl *CellLocker) LockCells(ctx context.Context, tableID uuid.UUID,
	key []byte, columns []string,
) (func(), error) {
	held := make([]string, 0, len(columns))

	rollback := func() {
		for i := len(held) - 1; i >= 0; i-- {
			cl.inner.release(held[i])
		}
	}

	for _, column := range columns {
		lockKey := cellKey(tableID, key, column)
		if err := cl.inner.acquire(ctx, lockKey); err != nil {
			rollback()
			return nil, err
		}
		held = append(held, lockKey)
	}

	var once sync.Once
	return func() { once.Do(rollback) }, nil
}

// Pending returns the number of tracked cell locks.
func (cl *CellLocker) Pending() int {
	return cl.inner.pending()
}

// RowLocker serializes all writers of a partition. Tables with dependent
// views hold the row lock across the whole write so view updates observe a
// stable base row.
type RowLocker struct {
	inner *keyedLocker
}

func NewRowLocker(metrics *monitoring.PrometheusMetrics) *RowLocker {
	return &RowLocker{inner: newKeyedLocker(metrics)}
}

func rowKey(tableID uuid.UUID, key []byte) string {
	return fmt.Sprintf("%s/%x", tableID, key)
}

// LockRow takes the exclusive lock on one partition of one table.
func (rl *RowLocker) LockRow(ctx context.Context, tableID uuid.UUID,
	key []byte,
) (func(), error) {
	lockKey := rowKey(tableID, key)
	if err := rl.inner.acquire(ctx, lockKey); err != nil {
		return nil, err
	}

	var once sync.Once
	return func() { once.Do(func() { rl.inner.release(lockKey) }) }, nil
}

// Pending returns the number of tracked row locks.
func (rl *RowLocker) Pending() int {
	return rl.inner.pending()
}
