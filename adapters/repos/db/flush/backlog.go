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
	"math"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
	"github.com/tidemark/tidemark/entities/cyclemanager"
	"github.com/tidemark/tidemark/usecases/monitoring"
)

// ControlPoint maps one backlog level (fraction of the pool's throttle
// threshold) to a shares value for the flush work. The controller
// interpolates linearly between consecutive points.
type ControlPoint struct {
	Input  float64
	Output float64
}

// DefaultControlPoints ramps flush shares slowly while the backlog is low
// and steeply once it approaches the hard limit.
var DefaultControlPoints = []ControlPoint{
	{Input: 0.0, Output: 0.0},
	{Input: 0.1, Output: 20},
	{Input: 0.65, Output: 100},
	{Input: 1.0, Output: 1000},
}

// extraneousFlushShares is the urgency floor applied while explicit flush
// requests are outstanding, regardless of the raw memory backlog.
const extraneousFlushShares = 200

// Scheduler receives the shares the backlog controller computes. Shares
// are a relative priority for the flush work against other background
// work.
type Scheduler interface {
	UpdateShares(pool string, shares float64) error
}

// NoopScheduler ignores share updates. Used where no scheduler integration
// exists; the computed shares still show up in metrics.
type NoopScheduler struct{}

func (NoopScheduler) UpdateShares(string, float64) error { return nil }

// BacklogController periodically maps one pool's dirty-memory backlog to
// flush shares through a piecewise-linear function and pushes the result
// to the scheduler. At most one share update is in flight at a time; a
// tick that finds one pending is dropped, not queued.
type BacklogController struct {
	mgr    *memdirty.Manager
	points []ControlPoint

	// if > 0, interpolation is disabled and this value is always used
	staticShares float64

	scheduler Scheduler
	cycle     cyclemanager.CycleManager

	updateInFlight atomic.Bool
	currentShares  atomic.Uint64 // math.Float64bits

	logger  logrus.FieldLogger
	metrics *monitoring.PrometheusMetrics
}

func NewBacklogController(mgr *memdirty.Manager, points []ControlPoint,
	staticShares float64, interval time.Duration, scheduler Scheduler,
	logger logrus.FieldLogger, metrics *monitoring.PrometheusMetrics,
) *BacklogController {
	if len(points) < 2 {
		points = DefaultControlPoints
	}
	if scheduler == nil {
		scheduler = NoopScheduler{}
	}
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	bc := &BacklogController{
		mgr:          mgr,
		points:       points,
		staticShares: staticShares,
		scheduler:    scheduler,
		logger: logger.WithField("action", "backlog_controller").
			WithField("pool", mgr.Pool()),
		metrics: metrics,
	}
	bc.cycle = cyclemanager.New(interval, bc.Adjust)
	return bc
}

func (bc *BacklogController) Start() {
	bc.cycle.Start()
}

func (bc *BacklogController) Stop(ctx context.Context) error {
	return bc.cycle.StopAndWait(ctx)
}

// Backlog returns the pool's current backlog as a fraction of its throttle
// threshold, raised to the extraneous-flush urgency floor while explicit
// flushes are outstanding.
func (bc *BacklogController) Backlog() float64 {
	threshold := bc.mgr.ThrottleThreshold()
	if threshold <= 0 {
		return 0
	}

	backlog := float64(bc.mgr.VirtualDirty()) / float64(threshold)
	if bc.mgr.HasExtraneousFlushes() {
		if floor := bc.BacklogOfShares(extraneousFlushShares); floor > backlog {
			backlog = floor
		}
	}
	if backlog > bc.points[len(bc.points)-1].Input {
		backlog = bc.points[len(bc.points)-1].Input
	}
	return backlog
}

// SharesOfBacklog interpolates the shares for a given backlog level.
func (bc *BacklogController) SharesOfBacklog(backlog float64) float64 {
	idx := 1
	for idx < len(bc.points)-1 && bc.points[idx].Input < backlog {
		idx++
	}
	cp, next := bc.points[idx-1], bc.points[idx]
	return cp.Output + (backlog-cp.Input)*(next.Output-cp.Output)/(next.Input-cp.Input)
}

// BacklogOfShares is the inverse of SharesOfBacklog over the same control
// points.
func (bc *BacklogController) BacklogOfShares(shares float64) float64 {
	idx := 1
	for idx < len(bc.points)-1 && bc.points[idx].Output < shares {
		idx++
	}
	cp, next := bc.points[idx-1], bc.points[idx]
	if next.Output == cp.Output {
		return cp.Input
	}
	return cp.Input + (shares-cp.Output)*(next.Input-cp.Input)/(next.Output-cp.Output)
}

// Adjust runs one controller tick. Returns whether a share update was
// pushed.
func (bc *BacklogController) Adjust() bool {
	shares := bc.staticShares
	if shares <= 0 {
		shares = bc.SharesOfBacklog(bc.Backlog())
	}

	if !bc.updateInFlight.CompareAndSwap(false, true) {
		return false
	}
	defer bc.updateInFlight.Store(false)

	bc.storeShares(shares)
	bc.metrics.SetFlushShares(bc.mgr.Pool(), shares)

	if err := bc.scheduler.UpdateShares(bc.mgr.Pool(), shares); err != nil {
		bc.logger.WithError(err).Warn("failed to update flush shares")
		return false
	}
	return true
}

func (bc *BacklogController) storeShares(shares float64) {
	bc.currentShares.Store(floatBits(shares))
}

// CurrentShares returns the last shares value pushed to the scheduler.
func (bc *BacklogController) CurrentShares() float64 {
	return floatFromBits(bc.currentShares.Load())
}

func floatBits(f float64) uint64     { return math.Float64bits(f) }
func floatFromBits(b uint64) float64 { return math.Float64frombits(b) }
