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

import "github.com/pkg/errors"

var (
	// ErrStaleSchema rejects a mutation built against a schema version the
	// table no longer (or does not yet) agree on.
	ErrStaleSchema = errors.New("mutation schema version is not the synced one")

	// ErrKeyspaceNotFound and friends are the directory's typed lookup
	// failures.
	ErrKeyspaceNotFound = errors.New("keyspace not found")
	ErrTableNotFound    = errors.New("table not found")

	ErrKeyspaceExists = errors.New("keyspace already exists")
	ErrTableExists    = errors.New("table already exists")

	// ErrTableDropped rejects operations racing a concurrent DROP.
	ErrTableDropped = errors.New("table is being dropped")
)
