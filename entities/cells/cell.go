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

import "bytes"

// Cell is the smallest reconcilable unit of data. A cell is either live
// (optionally with an expiry) or dead (a tombstone carrying its deletion
// time). Reconciliation between two versions of the same cell is a total
// order implemented by CompareForMerge.
type Cell struct {
	Timestamp int64
	Live      bool
	Value     []byte

	// only meaningful while Live
	HasExpiry bool
	Expiry    int64

	// only meaningful while !Live
	DeletionTime int64
}

// Tombstone returns a dead cell for the given timestamp and deletion time.
func Tombstone(timestamp, deletionTime int64) Cell {
	return Cell{Timestamp: timestamp, Live: false, DeletionTime: deletionTime}
}

// CompareForMerge imposes a total order on two versions of the same cell.
// It returns >0 if left wins, <0 if right wins and 0 if the cells are
// indistinguishable for merge purposes.
//
// The order is: timestamp descending; at equal timestamps a live cell beats
// a dead one; among live cells the value bytes compare unsigned
// lexicographically, then a cell with an expiry beats one without, then the
// later expiry wins; among dead cells the one with the numerically larger
// encoded deletion time wins.
func CompareForMerge(left, right Cell) int {
	if left.Timestamp != right.Timestamp {
		if left.Timestamp > right.Timestamp {
			return 1
		}
		return -1
	}

	if left.Live != right.Live {
		if left.Live {
			return 1
		}
		return -1
	}

	if left.Live {
		if c := bytes.Compare(left.Value, right.Value); c != 0 {
			return c
		}
		if left.HasExpiry != right.HasExpiry {
			// prefer expiring cells
			if left.HasExpiry {
				return 1
			}
			return -1
		}
		if left.HasExpiry && left.Expiry != right.Expiry {
			if left.Expiry > right.Expiry {
				return 1
			}
			return -1
		}
		return 0
	}

	// both dead: deletion times compare as their unsigned encoded form
	if left.DeletionTime != right.DeletionTime {
		if uint64(left.DeletionTime) > uint64(right.DeletionTime) {
			return 1
		}
		return -1
	}

	return 0
}

// Merge returns the winning cell of the two according to CompareForMerge.
// On a perfect tie the left cell is returned.
func Merge(left, right Cell) Cell {
	if CompareForMerge(left, right) >= 0 {
		return left
	}
	return right
}
