// Package store holds the process-wide key-value mapping served by kvgate.
//
// The mapping is unbounded and in-memory only. Every operation takes the
// store lock, so single operations are atomic with respect to each other,
// but there is no way to group several of them into one transaction.
package store

import "sync"

// Entry is one key/value pair of a Snapshot.
type Entry struct {
	Key   string
	Value []byte
}

// Snapshot is a point-in-time copy of the store, ordered by the first time
// each key was written.
type Snapshot []Entry

// Store maps non-empty string keys to opaque byte values.
type Store struct {
	mu     sync.RWMutex
	values map[string][]byte
	order  []string
}

func New() *Store {
	return &Store{
		values: make(map[string][]byte),
	}
}

// Get returns a copy of the value stored under key.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Put stores value under key, replacing any previous value. An overwritten
// key keeps its position in snapshots.
func (s *Store) Put(key string, value []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		s.order = append(s.order, key)
	}
	s.values[key] = clone(value)
}

// Delete removes key and reports whether it was present.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.values[key]; !ok {
		return false
	}
	delete(s.values, key)

	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot copies every current entry. Later mutations do not affect the
// returned value.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := make(Snapshot, 0, len(s.order))
	for _, k := range s.order {
		snap = append(snap, Entry{Key: k, Value: clone(s.values[k])})
	}
	return snap
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
