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

package flush

import (
	"context"
	"sync"
	"testing"
	"time"

	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
)

type recordingScheduler struct {
	mu      sync.Mutex
	updates []float64
}

func (s *recordingScheduler) UpdateShares(_ string, shares float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, shares)
	return nil
}

func (s *recordingScheduler) last() (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return 0, false
	}
	return s.updates[len(s.updates)-1], true
}

func newBacklogMgr(t *testing.T, hardLimit int64) *memdirty.Manager {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	return memdirty.NewManager("regular", memdirty.Config{
		HardLimit: hardLimit, SoftLimit: hardLimit * 6 / 10, FlushConcurrency: 1,
	}, logger, nil)
}

func newTestBacklogController(t *testing.T, mgr *memdirty.Manager,
	staticShares float64, scheduler Scheduler,
) *BacklogController {
	t.Helper()
	logger, _ := logrustest.NewNullLogger()
	return NewBacklogController(mgr, DefaultControlPoints, staticShares,
		time.Hour, scheduler, logger, nil)
}

func TestSharesInterpolation(t *testing.T) {
	bc := newTestBacklogController(t, newBacklogMgr(t, 1000), 0, nil)

	assert.Zero(t, bc.SharesOfBacklog(0))
	assert.InDelta(t, 20, bc.SharesOfBacklog(0.1), 1e-9)
	assert.InDelta(t, 100, bc.SharesOfBacklog(0.65), 1e-9)
	assert.InDelta(t, 1000, bc.SharesOfBacklog(1.0), 1e-9)

	// midway between two control points
	mid := bc.SharesOfBacklog(0.375)
	assert.InDelta(t, 60, mid, 1e-9)
}

func TestBacklogOfSharesIsInverse(t *testing.T) {
	bc := newTestBacklogController(t, newBacklogMgr(t, 1000), 0, nil)

	for _, backlog := range []float64{0.05, 0.1, 0.3, 0.65, 0.8, 1.0} {
		shares := bc.SharesOfBacklog(backlog)
		assert.InDelta(t, backlog, bc.BacklogOfShares(shares), 1e-9,
			"backlog %f did not round-trip", backlog)
	}
}

func TestBacklogClampsToLastControlPoint(t *testing.T) {
	mgr := newBacklogMgr(t, 100)
	bc := newTestBacklogController(t, mgr, 0, nil)

	// virtual dirty may exceed the hard limit; the backlog must not
	res, err := mgr.Reserve(context.Background(), 100)
	require.NoError(t, err)
	defer res.Release()
	mgr.ReleaseReal(60)
	res2, err := mgr.Reserve(context.Background(), 60)
	require.NoError(t, err)
	defer res2.Release()

	assert.LessOrEqual(t, bc.Backlog(), 1.0)
	assert.LessOrEqual(t, bc.SharesOfBacklog(bc.Backlog()), 1000.0)
}

func TestExtraneousFlushRaisesUrgencyFloor(t *testing.T) {
	mgr := newBacklogMgr(t, 1000)
	bc := newTestBacklogController(t, mgr, 0, nil)

	require.Zero(t, bc.Backlog())

	mgr.StartExtraneousFlush()
	floor := bc.BacklogOfShares(200)
	assert.InDelta(t, floor, bc.Backlog(), 1e-9)
	assert.GreaterOrEqual(t, bc.SharesOfBacklog(bc.Backlog()), 200.0)

	mgr.FinishExtraneousFlush()
	assert.Zero(t, bc.Backlog())
}

func TestAdjustPushesSharesToScheduler(t *testing.T) {
	mgr := newBacklogMgr(t, 1000)
	scheduler := &recordingScheduler{}
	bc := newTestBacklogController(t, mgr, 0, scheduler)

	res, err := mgr.Reserve(context.Background(), 650)
	require.NoError(t, err)
	defer res.Release()

	assert.True(t, bc.Adjust())
	last, ok := scheduler.last()
	require.True(t, ok)
	assert.InDelta(t, 100, last, 1e-9)
	assert.InDelta(t, 100, bc.CurrentShares(), 1e-9)
}

func TestStaticSharesDisableInterpolation(t *testing.T) {
	mgr := newBacklogMgr(t, 1000)
	scheduler := &recordingScheduler{}
	bc := newTestBacklogController(t, mgr, 42, scheduler)

	res, err := mgr.Reserve(context.Background(), 900)
	require.NoError(t, err)
	defer res.Release()

	assert.True(t, bc.Adjust())
	last, ok := scheduler.last()
	require.True(t, ok)
	assert.Equal(t, 42.0, last)
}

func TestAdjustDropsTickWhileUpdateInFlight(t *testing.T) {
	mgr := newBacklogMgr(t, 1000)
	bc := newTestBacklogController(t, mgr, 0, nil)

	bc.updateInFlight.Store(true)
	assert.False(t, bc.Adjust(), "a tick racing an in-flight update is dropped")

	bc.updateInFlight.Store(false)
	assert.True(t, bc.Adjust())
}
