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

package ratelimiter

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/tidemark/tidemark/usecases/monitoring"
)

// ErrQueueOverload is returned when a caller cannot be admitted and the
// wait queue is already at its configured bound. Callers may retry with
// backoff.
var ErrQueueOverload = errors.New("admission wait queue overloaded")

// ConcurrencyLimiter admits operations up to a maximum in-flight count and
// a maximum in-flight memory footprint. Callers that cannot be admitted
// immediately wait in a bounded FIFO queue; when the queue is full they
// fail fast with ErrQueueOverload.
type ConcurrencyLimiter struct {
	mu sync.Mutex

	pool      string
	maxCount  int
	maxMemory int64
	maxQueue  int

	curCount  int
	curMemory int64
	queue     []chan struct{}

	metrics *monitoring.PrometheusMetrics
}

// New creates a limiter. Non-positive maxCount or maxMemory disable the
// respective bound; a non-positive maxQueue means no caller ever waits.
func New(pool string, maxCount int, maxMemory int64, maxQueue int,
	metrics *monitoring.PrometheusMetrics,
) *ConcurrencyLimiter {
	return &ConcurrencyLimiter{
		pool:      pool,
		maxCount:  maxCount,
		maxMemory: maxMemory,
		maxQueue:  maxQueue,
		metrics:   metrics,
	}
}

// Enter blocks until the operation is admitted or ctx expires. The
// returned release function must be called exactly once when the
// operation finishes.
func (l *ConcurrencyLimiter) Enter(ctx context.Context, memory int64) (func(), error) {
	l.mu.Lock()

	for !l.fits(memory) {
		if len(l.queue) >= l.maxQueue {
			l.mu.Unlock()
			l.metrics.ReadQueueOverloaded(l.pool)
			return nil, errors.Wrapf(ErrQueueOverload, "pool %q", l.pool)
		}

		wake := make(chan struct{})
		l.queue = append(l.queue, wake)
		l.mu.Unlock()
		l.metrics.ReadQueued(l.pool)

		select {
		case <-ctx.Done():
			l.metrics.ReadDequeued(l.pool)
			l.abandon(wake)
			return nil, errors.Wrap(ctx.Err(), "waiting for read admission")
		case <-wake:
			l.metrics.ReadDequeued(l.pool)
		}

		l.mu.Lock()
	}

	l.curCount++
	l.curMemory += memory
	l.mu.Unlock()
	l.metrics.ReadAdmitted(l.pool)

	var once sync.Once
	return func() {
		once.Do(func() { l.exit(memory) })
	}, nil
}

func (l *ConcurrencyLimiter) fits(memory int64) bool {
	if l.maxCount > 0 && l.curCount >= l.maxCount {
		return false
	}
	if l.maxMemory > 0 && l.curMemory+memory > l.maxMemory {
		return false
	}
	return true
}

func (l *ConcurrencyLimiter) exit(memory int64) {
	l.mu.Lock()
	l.curCount--
	l.curMemory -= memory
	l.wakeAllLocked()
	l.mu.Unlock()
	l.metrics.ReadReleased(l.pool)
}

// wakeAllLocked releases every waiter; they re-check capacity themselves.
func (l *ConcurrencyLimiter) wakeAllLocked() {
	for _, wake := range l.queue {
		close(wake)
	}
	l.queue = nil
}

// abandon removes a waiter that gave up before being woken.
func (l *ConcurrencyLimiter) abandon(wake chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, w := range l.queue {
		if w == wake {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// InFlight returns the current admitted count and memory.
func (l *ConcurrencyLimiter) InFlight() (int, int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.curCount, l.curMemory
}

// Waiters returns the current wait queue length.
func (l *ConcurrencyLimiter) Waiters() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}
