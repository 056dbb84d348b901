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
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCellLockerSerializesSameCell(t *testing.T) {
	cl := NewCellLocker(nil)
	tableID := uuid.New()
	key := []byte("k")

	release, err := cl.LockCells(context.Background(), tableID, key, []string{"a"})
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r2, err := cl.LockCells(context.Background(), tableID, key, []string{"a"})
		if err == nil {
			r2()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second locker must wait for the first")
	case <-time.After(30 * time.Millisecond):
	}

	release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over")
	}
}

func TestCellLockerDisjointCellsDoNotBlock(t *testing.T) {
	cl := NewCellLocker(nil)
	tableID := uuid.New()

	r1, err := cl.LockCells(context.Background(), tableID, []byte("k"), []string{"a"})
	require.NoError(t, err)
	defer r1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	r2, err := cl.LockCells(ctx, tableID, []byte("k"), []string{"b"})
	require.NoError(t, err)
	r2()

	// same column on another key is also independent
	r3, err := cl.LockCells(ctx, tableID, []byte("other"), []string{"a"})
	require.NoError(t, err)
	r3()
}

func TestCellLockerOrderedAcquisitionAvoidsDeadlock(t *testing.T) {
	cl := NewCellLocker(nil)
	tableID := uuid.New()
	key := []byte("k")
	columns := []string{"a", "b", "c", "d"}

	// many writers over overlapping column sets, all in sorted order
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			subset := columns[i%len(columns):]
			for j := 0; j < 25; j++ {
				release, err := cl.LockCells(context.Background(), tableID, key, subset)
				assert.NoError(t, err)
				release()
			}
		}(i)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("writers deadlocked")
	}
	assert.Zero(t, cl.Pending(), "lock table must be empty when no one holds locks")
}

func TestCellLockerRollsBackOnContextExpiry(t *testing.T) {
	cl := NewCellLocker(nil)
	tableID := uuid.New()
	key := []byte("k")

	// hold "c" so the multi-cell acquisition gets stuck mid-way
	releaseC, err := cl.LockCells(context.Background(), tableID, key, []string{"c"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = cl.LockCells(ctx, tableID, key, []string{"a", "b", "c"})
	require.Error(t, err)

	// "a" and "b" must have been rolled back
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	release, err := cl.LockCells(ctx2, tableID, key, []string{"a", "b"})
	require.NoError(t, err)
	release()

	releaseC()
	assert.Zero(t, cl.Pending())
}

func TestCellLockerReleaseIsIdempotent(t *testing.T) {
	cl := NewCellLocker(nil)

	release, err := cl.LockCells(context.Background(), uuid.New(), []byte("k"), []string{"a"})
	require.NoError(t, err)
	release()
	release()
	assert.Zero(t, cl.Pending())
}

func TestRowLockerSerializesSameRow(t *testing.T) {
	rl := NewRowLocker(nil)
	tableID := uuid.New()

	release, err := rl.LockRow(context.Background(), tableID, []byte("row"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = rl.LockRow(ctx, tableID, []byte("row"))
	assert.Error(t, err)

	// another row of the same table is independent
	r2, err := rl.LockRow(context.Background(), tableID, []byte("other"))
	require.NoError(t, err)
	r2()

	// and the same row of another table as well
	r3, err := rl.LockRow(context.Background(), uuid.New(), []byte("row"))
	require.NoError(t, err)
	r3()

	release()
	assert.Zero(t, rl.Pending())
}
