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
	"path/filepath"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"github.com/spaolacci/murmur3"
	"golang.org/x/sync/errgroup"

	"github.com/tidemark/tidemark/usecases/config"
	"github.com/tidemark/tidemark/usecases/monitoring"
)

// Sharded partitions the engine into independent shards. Each shard is a
// complete DB with its own pools, controllers and log; a partition key
// belongs to exactly one shard and all its operations run there. Shards
// never touch each other's state, so no cross-shard locking exists.
type Sharded struct {
	shards []*DB
	logger logrus.FieldLogger
}

// NewSharded builds cfg.ShardCount shards, each rooted in its own
// subdirectory of the data dir.
func NewSharded(cfg config.Config, logger logrus.FieldLogger,
	metrics *monitoring.PrometheusMetrics,
) (*Sharded, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// each shard gets an equal slice of the memory budgets
	shardCfg := cfg
	shardCfg.AvailableMemory = cfg.AvailableMemory / int64(cfg.ShardCount)

	shards := make([]*DB, cfg.ShardCount)
	for i := range shards {
		shardCfg.DataDir = filepath.Join(cfg.DataDir, fmt.Sprintf("shard-%d", i))
		shard, err := New(shardCfg, logger.WithField("shard", i), metrics)
		if err != nil {
			return nil, err
		}
		shards[i] = shard
	}

	return &Sharded{shards: shards, logger: logger}, nil
}

// ShardOf routes a partition key to its owning shard.
func (s *Sharded) ShardOf(key []byte) *DB {
	return s.shards[murmur3.Sum32(key)%uint32(len(s.shards))]
}

func (s *Sharded) Shard(i int) *DB {
	return s.shards[i]
}

func (s *Sharded) Len() int {
	return len(s.shards)
}

// InvokeOnAll runs fn on every shard concurrently and returns the first
// error.
func (s *Sharded) InvokeOnAll(ctx context.Context, fn func(ctx context.Context, shard *DB) error) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, shard := range s.shards {
		shard := shard
		eg.Go(func() error {
			return fn(ctx, shard)
		})
	}
	return eg.Wait()
}

// Start launches every shard's control loops.
func (s *Sharded) Start() {
	for _, shard := range s.shards {
		shard.Start()
	}
}

// Replay replays every shard's durability log concurrently.
func (s *Sharded) Replay(ctx context.Context) error {
	return s.InvokeOnAll(ctx, func(ctx context.Context, shard *DB) error {
		return shard.Replay(ctx)
	})
}

// Stop stops every shard, aggregating all failures instead of giving up on
// the first one.
func (s *Sharded) Stop(ctx context.Context) error {
	var result *multierror.Error
	for _, shard := range s.shards {
		if err := shard.Stop(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
