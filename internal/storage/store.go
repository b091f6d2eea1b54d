package storage

import (
	"sync"
	"time"
)

// Entry is the versioned content of one key on one node.
type Entry struct {
	Value     string
	Timestamp time.Time
}

// Store defines the interface for the replica table.
type Store interface {
	// Put writes unconditionally. Used by the coordinator for its own writes.
	Put(key, value string, ts time.Time)
	// Merge folds in a replicated write and reports whether it replaced the
	// stored entry.
	Merge(key, value string, ts time.Time, versioned bool) bool
	// Get returns the stored value. Missing keys return "", false.
	Get(key string) (string, bool)
	// Entry returns the full entry for key.
	Entry(key string) (Entry, bool)
	// DumpValues returns key -> value for every stored key.
	DumpValues() map[string]string
	// DumpTimestamps returns key -> Unix milliseconds for every stored key.
	DumpTimestamps() map[string]int64
	// Len returns the number of stored keys.
	Len() int
}

// slot guards a single key. A slot is created on first touch and never
// removed, so a pointer obtained from the map stays valid.
type slot struct {
	mu    sync.Mutex
	entry Entry
	set   bool
}

// InMemoryStore is a Store backed by a sync.Map of per-key slots.
type InMemoryStore struct {
	slots sync.Map // string -> *slot
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) slotFor(key string) *slot {
	if v, ok := s.slots.Load(key); ok {
		return v.(*slot)
	}
	v, _ := s.slots.LoadOrStore(key, &slot{})
	return v.(*slot)
}

// Put stores value at ts, replacing whatever was there.
func (s *InMemoryStore) Put(key, value string, ts time.Time) {
	sl := s.slotFor(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	sl.entry = Entry{Value: value, Timestamp: ts}
	sl.set = true
}

// Merge applies a replicated write.
//
// Versioned: the entry is replaced only when ts is strictly after the stored
// timestamp; equal timestamps keep the entry applied first.
// Non-versioned: the incoming write always replaces the entry, so delivery
// order decides the final value.
func (s *InMemoryStore) Merge(key, value string, ts time.Time, versioned bool) bool {
	sl := s.slotFor(key)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if versioned && sl.set && !ts.After(sl.entry.Timestamp) {
		return false
	}
	sl.entry = Entry{Value: value, Timestamp: ts}
	sl.set = true
	return true
}

// Get returns the current value of key.
func (s *InMemoryStore) Get(key string) (string, bool) {
	e, ok := s.Entry(key)
	return e.Value, ok
}

// Value returns the current value of key, or "" if it was never written.
func (s *InMemoryStore) Value(key string) string {
	v, _ := s.Get(key)
	return v
}

// Entry returns a copy of the entry for key.
func (s *InMemoryStore) Entry(key string) (Entry, bool) {
	v, ok := s.slots.Load(key)
	if !ok {
		return Entry{}, false
	}
	sl := v.(*slot)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	if !sl.set {
		return Entry{}, false
	}
	return sl.entry, true
}

// DumpValues snapshots every key's value. Each key is read atomically; the
// result is not a consistent cross-key snapshot.
func (s *InMemoryStore) DumpValues() map[string]string {
	out := make(map[string]string)
	s.each(func(key string, e Entry) {
		out[key] = e.Value
	})
	return out
}

// DumpTimestamps snapshots every key's timestamp in Unix milliseconds.
func (s *InMemoryStore) DumpTimestamps() map[string]int64 {
	out := make(map[string]int64)
	s.each(func(key string, e Entry) {
		out[key] = e.Timestamp.UnixMilli()
	})
	return out
}

// Len returns the number of keys holding an entry.
func (s *InMemoryStore) Len() int {
	n := 0
	s.each(func(string, Entry) { n++ })
	return n
}

func (s *InMemoryStore) each(fn func(key string, e Entry)) {
	s.slots.Range(func(k, v any) bool {
		sl := v.(*slot)
		sl.mu.Lock()
		e, set := sl.entry, sl.set
		sl.mu.Unlock()
		if set {
			fn(k.(string), e)
		}
		return true
	})
}
