package core

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"roadcore/pkg/domain"
)

// ErrIdentityMapFull is returned when an insert would exceed the map capacity.
// It aborts the pass.
var ErrIdentityMapFull = errors.New("identity map capacity exhausted")

// ErrIdentityMapFrozen is returned when inserting after the builder barrier.
var ErrIdentityMapFrozen = errors.New("identity map is frozen")

// IdentityKey addresses an edge as seen from one of its junction nodes.
type IdentityKey struct {
	Node domain.Handle
	Edge domain.Handle
}

// IdentityConflictError reports an insert whose key already maps elsewhere.
// The existing value is kept.
type IdentityConflictError struct {
	Key      IdentityKey
	Existing domain.Handle
	Rejected domain.Handle
}

func (e IdentityConflictError) Error() string {
	return fmt.Sprintf("identity map key (%s,%s) already maps to %s, rejected %s",
		e.Key.Node, e.Key.Edge, e.Existing, e.Rejected)
}

const identityShards = 16

type identityShard struct {
	mu      sync.RWMutex
	entries map[IdentityKey]domain.Handle
}

// IdentityMap translates an edge handle across an edit that replaced it,
// keyed by the junction node. It is safe for concurrent inserts until Freeze
// is called, after which it is read-only.
type IdentityMap struct {
	shards   [identityShards]identityShard
	capacity int64
	size     atomic.Int64
	frozen   atomic.Bool
}

// NewIdentityMap returns a map that accepts at most capacity entries.
// A capacity <= 0 means unbounded.
func NewIdentityMap(capacity int) *IdentityMap {
	m := &IdentityMap{capacity: int64(capacity)}
	for i := range m.shards {
		m.shards[i].entries = make(map[IdentityKey]domain.Handle)
	}
	return m
}

func (m *IdentityMap) shard(node domain.Handle) *identityShard {
	// Fibonacci hashing spreads sequential handles across shards.
	h := uint64(node) * 0x9E3779B97F4A7C15
	return &m.shards[h>>60]
}

// Insert adds key → value unless key is already present. Re-inserting the same
// pair is a no-op; a different value yields IdentityConflictError.
func (m *IdentityMap) Insert(key IdentityKey, value domain.Handle) (bool, error) {
	if m.frozen.Load() {
		return false, ErrIdentityMapFrozen
	}
	sh := m.shard(key.Node)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if existing, ok := sh.entries[key]; ok {
		if existing == value {
			return false, nil
		}
		return false, IdentityConflictError{Key: key, Existing: existing, Rejected: value}
	}
	if n := m.size.Add(1); m.capacity > 0 && n > m.capacity {
		m.size.Add(-1)
		return false, fmt.Errorf("%w: capacity %d", ErrIdentityMapFull, m.capacity)
	}
	sh.entries[key] = value
	return true, nil
}

// InsertPair records the swap of before for after at node in both directions.
// Both keys are written or neither is: a conflict on either key leaves the map
// unchanged and returns every conflict found.
func (m *IdentityMap) InsertPair(node, before, after domain.Handle) error {
	if m.frozen.Load() {
		return ErrIdentityMapFrozen
	}
	pair := [2]struct {
		key   IdentityKey
		value domain.Handle
	}{
		{IdentityKey{Node: node, Edge: before}, after},
		{IdentityKey{Node: node, Edge: after}, before},
	}
	// both keys share node, so one shard lock covers the pair
	sh := m.shard(node)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var errs []error
	missing := 0
	for i, e := range pair {
		if i == 1 && e.key == pair[0].key {
			break
		}
		existing, ok := sh.entries[e.key]
		switch {
		case !ok:
			missing++
		case existing != e.value:
			errs = append(errs, IdentityConflictError{Key: e.key, Existing: existing, Rejected: e.value})
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if missing == 0 {
		return nil
	}
	if n := m.size.Add(int64(missing)); m.capacity > 0 && n > m.capacity {
		m.size.Add(-int64(missing))
		return fmt.Errorf("%w: capacity %d", ErrIdentityMapFull, m.capacity)
	}
	for _, e := range pair {
		sh.entries[e.key] = e.value
	}
	return nil
}

// Lookup returns the substitute edge for (node, edge). A miss means no
// substitution happened for that pair.
func (m *IdentityMap) Lookup(node, edge domain.Handle) (domain.Handle, bool) {
	sh := m.shard(node)
	sh.mu.RLock()
	v, ok := sh.entries[IdentityKey{Node: node, Edge: edge}]
	sh.mu.RUnlock()
	return v, ok
}

// Freeze closes the map for writes.
func (m *IdentityMap) Freeze() { m.frozen.Store(true) }

// Frozen reports whether Freeze has been called.
func (m *IdentityMap) Frozen() bool { return m.frozen.Load() }

// Len returns the number of entries.
func (m *IdentityMap) Len() int { return int(m.size.Load()) }

// Entries returns a copy of all entries.
func (m *IdentityMap) Entries() map[IdentityKey]domain.Handle {
	out := make(map[IdentityKey]domain.Handle, m.Len())
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.RLock()
		for k, v := range sh.entries {
			out[k] = v
		}
		sh.mu.RUnlock()
	}
	return out
}
