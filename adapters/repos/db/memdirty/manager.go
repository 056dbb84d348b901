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

package memdirty

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/tidemark/tidemark/usecases/monitoring"
)

// ErrReservationTimeout is returned when a dirty-memory reservation could
// not be granted before the caller's deadline. It is distinct from
// resource exhaustion: capacity may well free up later, the caller just
// stopped waiting.
var ErrReservationTimeout = errors.New("dirty memory reservation timed out")

// ErrShuttingDown is returned for reservations and flush permits requested
// after shutdown started.
var ErrShuttingDown = errors.New("dirty memory manager is shutting down")

// Config sizes one dirty-memory pool.
type Config struct {
	// HardLimit bounds real dirty bytes; reservations block at this ceiling.
	HardLimit int64
	// SoftLimit is the virtual dirty threshold that raises flush pressure.
	SoftLimit int64
	// FlushConcurrency is the number of flush permits.
	FlushConcurrency int64
}

// Manager tracks the dirty memory of one pool (regular, system or
// streaming). Real dirty bytes are physically allocated and not yet
// reclaimable; they are bounded by the hard limit and gate admission.
// Virtual dirty bytes are logically spoken for by not-yet-flushed writes;
// they are unbounded and only raise flush pressure once they cross the
// soft limit.
//
// Pools are strictly partitioned: a Manager never borrows from another.
type Manager struct {
	mu sync.Mutex

	pool      string
	hardLimit int64
	softLimit int64

	realDirty    int64
	virtualDirty int64

	// closed and replaced whenever real dirty memory is released, waking
	// all blocked reservations
	released chan struct{}

	// buffered, capacity 1: the flush controller's wait condition
	pressure chan struct{}

	extraneousFlushes int64

	flushPermits  *semaphore.Weighted
	permitWaiters int64
	concurrency   int64

	shuttingDown atomic.Bool

	logger  logrus.FieldLogger
	metrics *monitoring.PrometheusMetrics
}

func NewManager(pool string, cfg Config, logger logrus.FieldLogger,
	metrics *monitoring.PrometheusMetrics,
) *Manager {
	concurrency := cfg.FlushConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	return &Manager{
		pool:         pool,
		hardLimit:    cfg.HardLimit,
		softLimit:    cfg.SoftLimit,
		released:     make(chan struct{}),
		pressure:     make(chan struct{}, 1),
		flushPermits: semaphore.NewWeighted(concurrency),
		concurrency:  concurrency,
		logger:       logger.WithField("action", "dirty_memory").WithField("pool", pool),
		metrics:      metrics,
	}
}

func (m *Manager) Pool() string {
	return m.pool
}

// Reserve blocks until size bytes fit under the pool's hard limit, then
// accounts them as both real and virtual dirty. It never fails outright:
// either capacity shows up, or the context expires and the reservation
// fails with ErrReservationTimeout. Nothing stays reserved on failure.
func (m *Manager) Reserve(ctx context.Context, size int64) (*Reservation, error) {
	m.mu.Lock()

	blocked := false
	for m.realDirty+size > m.hardLimit {
		if m.shuttingDown.Load() {
			m.unblock(blocked)
			m.mu.Unlock()
			return nil, ErrShuttingDown
		}

		wait := m.released
		if !blocked {
			blocked = true
			m.metrics.RequestBlocked(m.pool)
		}
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			m.metrics.RequestUnblocked(m.pool)
			return nil, errors.Wrapf(ErrReservationTimeout,
				"pool %q: %d bytes requested: %s", m.pool, size, ctx.Err())
		case <-wait:
		}

		m.mu.Lock()
	}

	m.unblock(blocked)
	m.realDirty += size
	m.virtualDirty += size
	m.observeLocked()
	signal := m.virtualDirty >= m.softLimit
	m.mu.Unlock()

	if signal {
		m.signalPressure()
	}

	return &Reservation{mgr: m, size: size}, nil
}

// must be called with m.mu held
func (m *Manager) unblock(wasBlocked bool) {
	if wasBlocked {
		m.metrics.RequestUnblocked(m.pool)
	}
}

// ReleaseVirtual returns virtual dirty bytes. Called once sealed content
// has been written out: the data no longer contributes to flush pressure
// even though its memory is not yet reclaimable.
func (m *Manager) ReleaseVirtual(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.virtualDirty -= size
	if m.virtualDirty < 0 {
		m.logger.WithField("virtual_dirty", m.virtualDirty).
			Error("virtual dirty memory went negative, clamping")
		m.virtualDirty = 0
	}
	m.observeLocked()
}

// ReleaseReal returns real dirty bytes and wakes blocked reservations.
// Called only after the flushed artifact is durable and the covering log
// segments are discarded.
func (m *Manager) ReleaseReal(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.realDirty -= size
	if m.realDirty < 0 {
		m.logger.WithField("real_dirty", m.realDirty).
			Error("real dirty memory went negative, clamping")
		m.realDirty = 0
	}
	m.observeLocked()

	close(m.released)
	m.released = make(chan struct{})
}

// must be called with m.mu held
func (m *Manager) observeLocked() {
	m.metrics.ObserveDirtyMemory(m.pool, m.realDirty, m.virtualDirty)
}

func (m *Manager) RealDirty() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.realDirty
}

func (m *Manager) VirtualDirty() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.virtualDirty
}

// HasPressure reports whether virtual dirty memory reached the soft limit.
func (m *Manager) HasPressure() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.virtualDirty >= m.softLimit
}

// Pressure is the flush controller's wait condition. The channel carries
// at most one pending signal; the controller re-checks HasPressure after
// every wakeup.
func (m *Manager) Pressure() <-chan struct{} {
	return m.pressure
}

func (m *Manager) signalPressure() {
	select {
	case m.pressure <- struct{}{}:
	default:
	}
}

// StartExtraneousFlush records an explicit (non-pressure) flush request.
// While any are outstanding the backlog controller treats the pool as more
// urgent than its raw backlog suggests.
func (m *Manager) StartExtraneousFlush() {
	atomic.AddInt64(&m.extraneousFlushes, 1)
}

func (m *Manager) FinishExtraneousFlush() {
	atomic.AddInt64(&m.extraneousFlushes, -1)
}

func (m *Manager) HasExtraneousFlushes() bool {
	return atomic.LoadInt64(&m.extraneousFlushes) > 0
}

// ThrottleThreshold returns the hard limit; the backlog controller uses it
// to normalize virtual dirty into a backlog ratio.
func (m *Manager) ThrottleThreshold() int64 {
	return m.hardLimit
}

// GetFlushPermit blocks until one of the pool's flush permits is free.
// The permit caps concurrent flush+log-write operations.
func (m *Manager) GetFlushPermit(ctx context.Context) (*FlushPermit, error) {
	if m.shuttingDown.Load() {
		return nil, ErrShuttingDown
	}

	atomic.AddInt64(&m.permitWaiters, 1)
	defer atomic.AddInt64(&m.permitWaiters, -1)

	if err := m.flushPermits.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "acquire flush permit")
	}
	return &FlushPermit{mgr: m}, nil
}

// PermitWaiters returns how many callers are currently waiting for a flush
// permit. The flush controller uses it to yield to explicit requests.
func (m *Manager) PermitWaiters() int64 {
	return atomic.LoadInt64(&m.permitWaiters)
}

// Shutdown refuses new reservations and permits, then blocks until every
// outstanding flush permit is back, guaranteeing no flush is mid-flight
// when it returns.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shuttingDown.Store(true)

	// wake blocked reservations so they can fail fast
	m.mu.Lock()
	close(m.released)
	m.released = make(chan struct{})
	m.mu.Unlock()

	if err := m.flushPermits.Acquire(ctx, m.concurrency); err != nil {
		return errors.Wrapf(err, "pool %q: drain flush permits", m.pool)
	}
	m.flushPermits.Release(m.concurrency)
	return nil
}

// Reservation is the caller's hold on reserved dirty memory. Ownership
// normally transfers to the memtable the write lands in; Release exists
// for the failure paths where it does not.
type Reservation struct {
	mgr      *Manager
	size     int64
	released atomic.Bool
}

func (r *Reservation) Size() int64 {
	return r.size
}

// Release returns both the virtual and real share of the reservation.
// Safe to call more than once; only the first call has an effect.
func (r *Reservation) Release() {
	if !r.released.CompareAndSwap(false, true) {
		return
	}
	r.mgr.ReleaseVirtual(r.size)
	r.mgr.ReleaseReal(r.size)
}

// Transferred marks the reservation as owned by a memtable from now on;
// the memory will be returned through the flush pipeline instead.
func (r *Reservation) Transferred() {
	r.released.Store(true)
}

// FlushPermit is a scoped capability for one flush+log-write operation.
type FlushPermit struct {
	mgr      *Manager
	released atomic.Bool
}

func (p *FlushPermit) Release() {
	if !p.released.CompareAndSwap(false, true) {
		return
	}
	p.mgr.flushPermits.Release(1)
}
