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

package config

import "github.com/pkg/errors"

const (
	// fraction of available memory granted to the regular dirty pool
	DefaultRegularPoolFraction = 0.45
	// fraction of available memory granted to the streaming dirty pool
	DefaultStreamingPoolFraction = 0.10
	// fixed hard budget of the system dirty pool
	DefaultSystemPoolBudget = 10 << 20
)

// Config carries every tunable of the engine. Zero values are filled in by
// SetDefaults; Validate rejects combinations that cannot work.
type Config struct {
	DataDir string

	// total memory the engine may consider for dirty-memory budgets
	AvailableMemory int64

	// virtual dirty soft limit, as a fraction of each pool's hard budget
	VirtualDirtySoftLimitRatio float64

	// if > 0, the backlog controller pins this shares value and never
	// interpolates
	MemtableFlushStaticShares float64

	// concurrent flush+log-write operations per pool
	FlushConcurrency int

	// commit log segment rotation size
	CommitLogSegmentSize int64

	// read admission, per pool
	MaxConcurrentReads   int
	MaxConcurrentReadMem int64
	MaxReadQueueLength   int

	// snapshot the table contents before a truncate discards them
	AutoSnapshot bool

	// number of independent shards (engine instances)
	ShardCount int
}

func (c *Config) SetDefaults() {
	if c.AvailableMemory == 0 {
		c.AvailableMemory = 1 << 30
	}
	if c.VirtualDirtySoftLimitRatio == 0 {
		c.VirtualDirtySoftLimitRatio = 0.60
	}
	if c.FlushConcurrency == 0 {
		c.FlushConcurrency = 1
	}
	if c.CommitLogSegmentSize == 0 {
		c.CommitLogSegmentSize = 32 << 20
	}
	if c.MaxConcurrentReads == 0 {
		c.MaxConcurrentReads = 100
	}
	if c.MaxConcurrentReadMem == 0 {
		c.MaxConcurrentReadMem = c.AvailableMemory / 10
	}
	if c.MaxReadQueueLength == 0 {
		c.MaxReadQueueLength = 1000
	}
	if c.ShardCount == 0 {
		c.ShardCount = 1
	}
}

func (c *Config) Validate() error {
	if c.DataDir == "" {
		return errors.New("config: data dir must be set")
	}
	if c.AvailableMemory < 0 {
		return errors.New("config: available memory must not be negative")
	}
	if c.VirtualDirtySoftLimitRatio <= 0 || c.VirtualDirtySoftLimitRatio > 1 {
		return errors.Errorf("config: virtual dirty soft limit ratio must be in (0, 1], got %f",
			c.VirtualDirtySoftLimitRatio)
	}
	if c.FlushConcurrency < 1 {
		return errors.Errorf("config: flush concurrency must be at least 1, got %d",
			c.FlushConcurrency)
	}
	if c.ShardCount < 1 {
		return errors.Errorf("config: shard count must be at least 1, got %d", c.ShardCount)
	}
	return nil
}

// RegularPoolBudget returns the hard dirty-memory budget of the regular pool.
func (c *Config) RegularPoolBudget() int64 {
	return int64(float64(c.AvailableMemory) * DefaultRegularPoolFraction)
}

// StreamingPoolBudget returns the hard dirty-memory budget of the streaming pool.
func (c *Config) StreamingPoolBudget() int64 {
	return int64(float64(c.AvailableMemory) * DefaultStreamingPoolFraction)
}

// SystemPoolBudget returns the hard dirty-memory budget of the system pool.
func (c *Config) SystemPoolBudget() int64 {
	return DefaultSystemPoolBudget
}
