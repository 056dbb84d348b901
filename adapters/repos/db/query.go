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

	"github.com/google/uuid"

	"github.com/tidemark/tidemark/entities/cells"
)

// CacheTemperature is the caller's expectation of how much IO a read will
// cost. It is recorded for observability; admission is pool-based either
// way.
type CacheTemperature string

const (
	CacheHot     CacheTemperature = "hot"
	CacheCold    CacheTemperature = "cold"
	CacheUnknown CacheTemperature = ""
)

// defaultReadFootprint is charged against the read admission memory bound
// when the caller gives no estimate.
const defaultReadFootprint = 4096

// ReadCommand describes one partition read.
type ReadCommand struct {
	TableID uuid.UUID
	Key     []byte

	// empty selects every column
	Columns []string

	// admission accounting; 0 falls back to a fixed default
	EstimatedMemory int64

	Temperature CacheTemperature
}

// Result is the live cells of one partition. Tombstoned columns are
// absent. Temperature reports how the read was served: hot when memory
// alone answered it, cold when artifacts had to be consulted.
type Result struct {
	Columns     map[string]cells.Cell
	Temperature CacheTemperature
}

// Query serves one partition read under read admission: the pool's
// concurrency limiter bounds in-flight reads by count and memory, queueing
// up to its bound and failing fast beyond it.
func (d *DB) Query(ctx context.Context, cmd ReadCommand) (*Result, error) {
	result, err := d.query(ctx, cmd)
	d.metrics.ReadObserved(err != nil)
	return result, err
}

func (d *DB) query(ctx context.Context, cmd ReadCommand) (*Result, error) {
	t, err := d.TableByID(cmd.TableID)
	if err != nil {
		return nil, err
	}

	if err := t.beginOp(); err != nil {
		return nil, err
	}
	defer t.endOp()

	footprint := cmd.EstimatedMemory
	if footprint <= 0 {
		footprint = defaultReadFootprint
	}

	limiter := d.readLimiters[poolOf(t.Schema())]
	release, err := limiter.Enter(ctx, footprint)
	if err != nil {
		return nil, err
	}
	defer release()

	partition, fromDisk, err := t.readPartition(cmd.Key)
	if err != nil {
		return nil, err
	}
	temperature := CacheHot
	if fromDisk {
		temperature = CacheCold
	}

	out := map[string]cells.Cell{}
	if len(cmd.Columns) == 0 {
		for column, cell := range partition {
			if cell.Live {
				out[column] = cell
			}
		}
	} else {
		for _, column := range cmd.Columns {
			if cell, ok := partition[column]; ok && cell.Live {
				out[column] = cell
			}
		}
	}

	return &Result{Columns: out, Temperature: temperature}, nil
}
