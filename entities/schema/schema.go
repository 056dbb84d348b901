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

package schema

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Column describes a single column of a table schema.
type Column struct {
	Name string
	Type string
}

// Schema is one immutable version of a table definition. The table id is
// stable across ALTERs, the version changes with every column change. A
// schema must be marked synced before mutations built against it are
// admitted; mutations carrying a stale version are rejected.
type Schema struct {
	id       uuid.UUID
	version  uuid.UUID
	keyspace string
	name     string
	columns  []Column
	synced   atomic.Bool

	isView bool
	baseID uuid.UUID
}

func New(keyspace, name string, columns []Column) *Schema {
	return &Schema{
		id:       uuid.New(),
		version:  uuid.New(),
		keyspace: keyspace,
		name:     name,
		columns:  append([]Column(nil), columns...),
	}
}

// Restore rebuilds a schema with known identifiers, e.g. when loading
// table definitions back from disk. The restored schema starts unsynced.
func Restore(id, version uuid.UUID, keyspace, name string, columns []Column) *Schema {
	return &Schema{
		id:       id,
		version:  version,
		keyspace: keyspace,
		name:     name,
		columns:  append([]Column(nil), columns...),
	}
}

// NewView builds a materialized-view schema. The view references its base
// table by id only; resolution goes through the table directory.
func NewView(keyspace, name string, baseID uuid.UUID, columns []Column) *Schema {
	s := New(keyspace, name, columns)
	s.isView = true
	s.baseID = baseID
	return s
}

func (s *Schema) ID() uuid.UUID      { return s.id }
func (s *Schema) Version() uuid.UUID { return s.version }
func (s *Schema) KsName() string     { return s.keyspace }
func (s *Schema) CfName() string     { return s.name }
func (s *Schema) IsView() bool       { return s.isView }
func (s *Schema) BaseID() uuid.UUID  { return s.baseID }

func (s *Schema) Columns() []Column {
	return append([]Column(nil), s.columns...)
}

func (s *Schema) IsSynced() bool {
	return s.synced.Load()
}

// MarkSynced flags the schema version as agreed-upon; only synced schemas
// admit mutations.
func (s *Schema) MarkSynced() {
	s.synced.Store(true)
}

// EqualColumns reports whether both schemas define the same column set in
// the same order.
func (s *Schema) EqualColumns(other *Schema) bool {
	if len(s.columns) != len(other.columns) {
		return false
	}
	for i, col := range s.columns {
		if other.columns[i] != col {
			return false
		}
	}
	return true
}

// WithColumns derives the next version of this schema: same table id, new
// version id, new column set. The derived schema starts out unsynced.
func (s *Schema) WithColumns(columns []Column) *Schema {
	return &Schema{
		id:       s.id,
		version:  uuid.New(),
		keyspace: s.keyspace,
		name:     s.name,
		columns:  append([]Column(nil), columns...),
		isView:   s.isView,
		baseID:   s.baseID,
	}
}

func (s *Schema) String() string {
	return fmt.Sprintf("%s.%s (id=%s version=%s)", s.keyspace, s.name, s.id, s.version)
}
