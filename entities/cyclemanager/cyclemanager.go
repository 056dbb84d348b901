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

package cyclemanager

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// CycleFunc is executed once per tick of a CycleManager. Its return value
// reports whether any actual work was done, which lets adaptive tickers
// stretch the interval on idle cycles.
type CycleFunc func() bool

// CycleManager runs a single callback on a fixed interval on its own
// goroutine. It is used for low-frequency control loops that must not sit
// on any hot path, such as the flush backlog controller tick.
type CycleManager interface {
	Start()
	StopAndWait(ctx context.Context) error
	Running() bool
}

type cycleManager struct {
	sync.Mutex

	interval time.Duration
	cycle    CycleFunc

	running bool
	stopCh  chan struct{}
	stopped chan struct{}
}

func New(interval time.Duration, cycle CycleFunc) CycleManager {
	return &cycleManager{
		interval: interval,
		cycle:    cycle,
	}
}

// Start launches the loop. Calling Start on a running instance is a no-op.
func (c *cycleManager) Start() {
	c.Lock()
	defer c.Unlock()

	if c.running {
		return
	}

	c.stopCh = make(chan struct{})
	c.stopped = make(chan struct{})
	c.running = true

	go c.run(c.stopCh, c.stopped)
}

func (c *cycleManager) run(stopCh, stopped chan struct{}) {
	defer close(stopped)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// stop wins over a tick that became ready at the same time
			select {
			case <-stopCh:
				return
			default:
			}
			c.cycle()
		}
	}
}

// StopAndWait stops the loop and blocks until the current cycle (if any)
// has finished, or the context expires.
func (c *cycleManager) StopAndWait(ctx context.Context) error {
	c.Lock()
	if !c.running {
		c.Unlock()
		return nil
	}
	close(c.stopCh)
	stopped := c.stopped
	c.running = false
	c.Unlock()

	select {
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "stop cycle")
	case <-stopped:
		return nil
	}
}

func (c *cycleManager) Running() bool {
	c.Lock()
	defer c.Unlock()
	return c.running
}
