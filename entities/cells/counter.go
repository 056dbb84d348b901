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

package cells

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// CounterShard is one replica's contribution to a counter cell. Shards are
// versioned by a logical clock so that replaying the same update does not
// double-apply: a shard with a lower or equal clock loses to the stored one.
type CounterShard struct {
	ShardID uuid.UUID
	Clock   int64
	Value   int64
}

// CounterState is the full value of a counter cell: the set of shards,
// sorted by shard id.
type CounterState []CounterShard

const counterShardEncodedSize = 16 + 8 + 8

// Total sums all shard contributions.
func (s CounterState) Total() int64 {
	var total int64
	for _, shard := range s {
		total += shard.Value
	}
	return total
}

// ApplyDelta folds a local delta into the state, bumping the local shard's
// clock. The result stays sorted by shard id.
func (s CounterState) ApplyDelta(localShard uuid.UUID, delta int64) CounterState {
	out := make(CounterState, len(s))
	copy(out, s)

	for i := range out {
		if out[i].ShardID == localShard {
			out[i].Clock++
			out[i].Value += delta
			return out
		}
	}

	out = append(out, CounterShard{ShardID: localShard, Clock: 1, Value: delta})
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ShardID[:], out[j].ShardID[:]) < 0
	})
	return out
}

// MergeCounterStates reconciles two counter states shard-wise: for a shard
// present in both, the higher clock wins.
func MergeCounterStates(left, right CounterState) CounterState {
	merged := map[uuid.UUID]CounterShard{}
	for _, shard := range left {
		merged[shard.ShardID] = shard
	}
	for _, shard := range right {
		if existing, ok := merged[shard.ShardID]; !ok || shard.Clock > existing.Clock {
			merged[shard.ShardID] = shard
		}
	}

	out := make(CounterState, 0, len(merged))
	for _, shard := range merged {
		out = append(out, shard)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ShardID[:], out[j].ShardID[:]) < 0
	})
	return out
}

// Bytes encodes the state for storage as a cell value.
func (s CounterState) Bytes() []byte {
	out := make([]byte, 8, 8+len(s)*counterShardEncodedSize)
	binary.LittleEndian.PutUint64(out, uint64(len(s)))
	for _, shard := range s {
		var buf [counterShardEncodedSize]byte
		copy(buf[:16], shard.ShardID[:])
		binary.LittleEndian.PutUint64(buf[16:24], uint64(shard.Clock))
		binary.LittleEndian.PutUint64(buf[24:32], uint64(shard.Value))
		out = append(out, buf[:]...)
	}
	return out
}

// CounterStateFromBytes decodes a cell value previously produced by Bytes.
// A nil or empty input decodes to an empty state.
func CounterStateFromBytes(in []byte) (CounterState, error) {
	if len(in) == 0 {
		return nil, nil
	}
	if len(in) < 8 {
		return nil, errors.Errorf("counter state too short: %d bytes", len(in))
	}

	count := binary.LittleEndian.Uint64(in)
	if uint64(len(in)-8) != count*counterShardEncodedSize {
		return nil, errors.Errorf("counter state length mismatch: "+
			"%d shards declared, %d bytes of payload", count, len(in)-8)
	}

	out := make(CounterState, count)
	offset := 8
	for i := range out {
		copy(out[i].ShardID[:], in[offset:offset+16])
		out[i].Clock = int64(binary.LittleEndian.Uint64(in[offset+16 : offset+24]))
		out[i].Value = int64(binary.LittleEndian.Uint64(in[offset+24 : offset+32]))
		offset += counterShardEncodedSize
	}
	return out, nil
}
