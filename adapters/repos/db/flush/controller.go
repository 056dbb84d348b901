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
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/tidemark/tidemark/adapters/repos/db/memdirty"
)

// Flushable is one flush victim candidate, typically a table's memtable
// set. FlushOne owns the permit and must release it when done.
type Flushable interface {
	// UnflushedFootprint is the victim-selection criterion: the memory of
	// writes not yet handed to the flush pipeline.
	UnflushedFootprint() int64
	FlushOne(ctx context.Context, permit *memdirty.FlushPermit) error
}

// VictimSource enumerates the current flush candidates of one pool.
type VictimSource interface {
	FlushCandidates(pool string) []Flushable
}

// emptyVictimDelay is how long the controller backs off when pressure is
// raised but no candidate has unflushed data, which happens transiently
// while every dirty memtable is already mid-flush.
const emptyVictimDelay = time.Millisecond

// Controller is one pool's flush control loop. It sleeps until the pool
// signals memory pressure, then flushes the candidate with the largest
// unflushed footprint, one permit per flush, until pressure subsides.
// Explicit flush requests waiting for a permit take priority: the loop
// yields its permit to them. A failed flush is logged and retried with
// exponential backoff; it never stops the loop.
type Controller struct {
	mgr     *memdirty.Manager
	victims VictimSource

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	backoffMu    sync.Mutex
	backoff      backoff.BackOff
	pendingDelay time.Duration

	logger logrus.FieldLogger
}

func NewController(mgr *memdirty.Manager, victims VictimSource,
	logger logrus.FieldLogger,
) *Controller {
	ctx, cancel := context.WithCancel(context.Background())

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.MaxElapsedTime = 0 // retry forever

	return &Controller{
		mgr:     mgr,
		victims: victims,
		ctx:     ctx,
		cancel:  cancel,
		backoff: bo,
		logger: logger.WithField("action", "flush_controller").
			WithField("pool", mgr.Pool()),
	}
}

func (c *Controller) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop halts the loop and waits for in-flight flushes it started. It does
// not drain the pool's permits; that is the memory manager's shutdown.
func (c *Controller) Stop(ctx context.Context) error {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (c *Controller) run() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.mgr.Pressure():
		}

		c.drainPressure()
	}
}

// drainPressure flushes victims until the pool drops below its soft limit.
func (c *Controller) drainPressure() {
	for c.mgr.HasPressure() {
		if c.ctx.Err() != nil {
			return
		}

		// a recent flush failure throttles the whole loop, not just the
		// goroutine that observed it
		if delay := c.takePendingBackoff(); delay > 0 {
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		permit, err := c.mgr.GetFlushPermit(c.ctx)
		if err != nil {
			return
		}

		// explicit flush requests outrank pressure-driven work
		if c.mgr.PermitWaiters() > 0 {
			permit.Release()
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(emptyVictimDelay):
			}
			continue
		}

		// pressure may have subsided while we waited for the permit
		if !c.mgr.HasPressure() {
			permit.Release()
			return
		}

		victim := c.pickVictim()
		if victim == nil {
			permit.Release()
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(emptyVictimDelay):
			}
			continue
		}

		c.wg.Add(1)
		go c.flush(victim, permit)
	}
}

// pickVictim returns the candidate with the largest unflushed footprint,
// or nil when nothing has unflushed data.
func (c *Controller) pickVictim() Flushable {
	var victim Flushable
	var largest int64

	for _, candidate := range c.victims.FlushCandidates(c.mgr.Pool()) {
		if size := candidate.UnflushedFootprint(); size > largest {
			victim = candidate
			largest = size
		}
	}
	return victim
}

func (c *Controller) flush(victim Flushable, permit *memdirty.FlushPermit) {
	defer c.wg.Done()

	if err := victim.FlushOne(c.ctx, permit); err != nil {
		c.logger.WithError(err).Error("flush failed, backing off")

		c.backoffMu.Lock()
		c.pendingDelay = c.backoff.NextBackOff()
		c.backoffMu.Unlock()
		return
	}

	c.backoffMu.Lock()
	c.backoff.Reset()
	c.pendingDelay = 0
	c.backoffMu.Unlock()
}

func (c *Controller) takePendingBackoff() time.Duration {
	c.backoffMu.Lock()
	defer c.backoffMu.Unlock()

	delay := c.pendingDelay
	c.pendingDelay = 0
	return delay
}
