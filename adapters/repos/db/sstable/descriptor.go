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

package sstable

import (
	"github.com/google/uuid"

	"github.com/tidemark/tidemark/adapters/repos/db/commitlog"
)

// Descriptor identifies one durable artifact, the replay range it covers
// and the flush barrier in effect when it was written: every log entry
// strictly below Barrier was durable in some artifact at that moment. The
// barrier is what startup uses to decide which entries replay may skip.
type Descriptor struct {
	Path       string
	TableID    uuid.UUID
	Generation uint64
	Size       int64

	ReplayFrom commitlog.ReplayPosition
	ReplayTo   commitlog.ReplayPosition
	Barrier    commitlog.ReplayPosition
}
