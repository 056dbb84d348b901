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
	"sort"
	"sync"
)

// UserType is a user-defined composite type owned by a keyspace.
type UserType struct {
	Name   string
	Fields []Column
}

// KeyspaceMetadata is the mutable definition of one keyspace: replication
// options, durability choice, user types and the set of table definitions.
// It is mutated in place on ALTER; concurrent readers are allowed.
type KeyspaceMetadata struct {
	mu sync.RWMutex

	name               string
	replicationOptions map[string]string
	durableWrites      bool
	userTypes          map[string]UserType
	tables             map[string]*Schema
}

func NewKeyspaceMetadata(name string, replicationOptions map[string]string,
	durableWrites bool,
) *KeyspaceMetadata {
	opts := map[string]string{}
	for k, v := range replicationOptions {
		opts[k] = v
	}
	return &KeyspaceMetadata{
		name:               name,
		replicationOptions: opts,
		durableWrites:      durableWrites,
		userTypes:          map[string]UserType{},
		tables:             map[string]*Schema{},
	}
}

func (m *KeyspaceMetadata) Name() string {
	return m.name
}

func (m *KeyspaceMetadata) DurableWrites() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.durableWrites
}

func (m *KeyspaceMetadata) ReplicationOptions() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := map[string]string{}
	for k, v := range m.replicationOptions {
		out[k] = v
	}
	return out
}

// UpdateOptions swaps replication options and durability in place (ALTER
// KEYSPACE). Table definitions are untouched.
func (m *KeyspaceMetadata) UpdateOptions(replicationOptions map[string]string,
	durableWrites bool,
) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.replicationOptions = map[string]string{}
	for k, v := range replicationOptions {
		m.replicationOptions[k] = v
	}
	m.durableWrites = durableWrites
}

func (m *KeyspaceMetadata) AddUserType(ut UserType) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.userTypes[ut.Name] = ut
}

func (m *KeyspaceMetadata) RemoveUserType(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.userTypes, name)
}

func (m *KeyspaceMetadata) UserType(name string) (UserType, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ut, ok := m.userTypes[name]
	return ut, ok
}

func (m *KeyspaceMetadata) AddOrUpdateTable(s *Schema) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[s.CfName()] = s
}

func (m *KeyspaceMetadata) RemoveTable(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tables, name)
}

// Tables returns the non-view table definitions sorted by name.
func (m *KeyspaceMetadata) Tables() []*Schema {
	return m.filtered(func(s *Schema) bool { return !s.IsView() })
}

// Views returns the view definitions sorted by name.
func (m *KeyspaceMetadata) Views() []*Schema {
	return m.filtered(func(s *Schema) bool { return s.IsView() })
}

func (m *KeyspaceMetadata) filtered(keep func(*Schema) bool) []*Schema {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Schema, 0, len(m.tables))
	for _, s := range m.tables {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CfName() < out[j].CfName() })
	return out
}
