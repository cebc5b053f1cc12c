package blobcache

import (
	"bytes"
	"container/list"
	"context"
	"fmt"
	"sync"
	"time"
)

// memEntry is the internal structure stored in the recency list.
type memEntry struct {
	key       string
	data      []byte
	createdAt time.Time
	expiresAt time.Time
}

// InMemoryStore is a thread-safe, in-memory BlobStore. It is the reference
// implementation of the store contract and is intended for tests and for
// processes that do not need persistence.
//
// When a maximum size is configured, inserting past it evicts the least
// recently used entry.
type InMemoryStore struct {
	clock    Clock
	maxItems int

	mu      sync.Mutex
	ll      *list.List               // Used to track the order of items (recency).
	entries map[string]*list.Element // Used for fast key lookups.
}

// InMemoryOption configures an InMemoryStore.
type InMemoryOption func(*InMemoryStore)

// WithClock sets the clock an InMemoryStore uses for expiration.
func WithClock(c Clock) InMemoryOption {
	return func(s *InMemoryStore) {
		s.clock = c
	}
}

// WithMaxEntries bounds the store to n entries. Zero means unbounded.
func WithMaxEntries(n int) InMemoryOption {
	return func(s *InMemoryStore) {
		s.maxItems = n
	}
}

// NewInMemoryStore creates a new in-memory store.
func NewInMemoryStore(opts ...InMemoryOption) (*InMemoryStore, error) {
	s := &InMemoryStore{
		clock:   SystemClock{},
		ll:      list.New(),
		entries: make(map[string]*list.Element),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.maxItems < 0 {
		return nil, fmt.Errorf("maxEntries must not be negative")
	}
	if s.clock == nil {
		return nil, fmt.Errorf("clock cannot be nil")
	}
	return s, nil
}

// Insert stores a copy of data under key.
func (s *InMemoryStore) Insert(ctx context.Context, key string, data []byte, expiresAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entry := &memEntry{
		key:       key,
		data:      bytes.Clone(data),
		createdAt: s.clock.Now(),
		expiresAt: expiresAt,
	}
	if entry.data == nil {
		entry.data = []byte{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.entries[key]; ok {
		elem.Value = entry
		s.ll.MoveToFront(elem)
		return nil
	}
	s.entries[key] = s.ll.PushFront(entry)

	if s.maxItems > 0 && s.ll.Len() > s.maxItems {
		s.evict()
	}
	return nil
}

// Get returns a copy of the live entry stored under key.
func (s *InMemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(key)
	if !ok {
		return nil, NotFound(key)
	}
	return bytes.Clone(entry.data), nil
}

// GetCreatedAt returns the insertion time of the live entry under key.
func (s *InMemoryStore) GetCreatedAt(ctx context.Context, key string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.live(key)
	if !ok {
		return time.Time{}, false, nil
	}
	return entry.createdAt, true, nil
}

// Invalidate removes key.
func (s *InMemoryStore) Invalidate(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.entries[key]; ok {
		s.ll.Remove(elem)
		delete(s.entries, key)
	}
	return nil
}

// InvalidateAll removes every entry.
func (s *InMemoryStore) InvalidateAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Init()
	s.entries = make(map[string]*list.Element)
	return nil
}

// Vacuum drops every expired entry.
func (s *InMemoryStore) Vacuum(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for elem := s.ll.Front(); elem != nil; {
		next := elem.Next()
		entry := elem.Value.(*memEntry)
		if Expired(entry.expiresAt, now) {
			s.ll.Remove(elem)
			delete(s.entries, entry.key)
		}
		elem = next
	}
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ll.Len()
}

// Clock returns the store's clock.
func (s *InMemoryStore) Clock() Clock {
	return s.clock
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

// live returns the unexpired entry for key, dropping it if it has expired.
// It must be called with the mutex held.
func (s *InMemoryStore) live(key string) (*memEntry, bool) {
	elem, ok := s.entries[key]
	if !ok {
		return nil, false
	}
	entry := elem.Value.(*memEntry)
	if Expired(entry.expiresAt, s.clock.Now()) {
		s.ll.Remove(elem)
		delete(s.entries, key)
		return nil, false
	}
	s.ll.MoveToFront(elem)
	return entry, true
}

// evict removes the least recently used item from the store.
// It must be called with the mutex held.
func (s *InMemoryStore) evict() {
	elementToRemove := s.ll.Back()
	if elementToRemove != nil {
		itemToRemove := s.ll.Remove(elementToRemove).(*memEntry)
		delete(s.entries, itemToRemove.key)
	}
}
