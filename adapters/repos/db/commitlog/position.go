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

package commitlog

import "fmt"

// ReplayPosition is a monotonically ordered marker into the durability
// log. Every flushed artifact records the position range it covers; log
// segments become discardable once all positions they hold are covered by
// durable artifacts.
type ReplayPosition struct {
	Segment uint64
	Offset  uint64
}

// Cmp returns -1, 0 or 1 as p orders before, equal to or after o.
func (p ReplayPosition) Cmp(o ReplayPosition) int {
	if p.Segment != o.Segment {
		if p.Segment < o.Segment {
			return -1
		}
		return 1
	}
	if p.Offset != o.Offset {
		if p.Offset < o.Offset {
			return -1
		}
		return 1
	}
	return 0
}

func (p ReplayPosition) IsZero() bool {
	return p.Segment == 0 && p.Offset == 0
}

func (p ReplayPosition) String() string {
	return fmt.Sprintf("%d:%d", p.Segment, p.Offset)
}

// Max returns the later of the two positions.
func Max(a, b ReplayPosition) ReplayPosition {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}
