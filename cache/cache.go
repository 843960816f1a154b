// Package cache implements the shared, size-bounded block store with
// request-coalescing placeholder semantics described in spec §4.2. The
// eviction structure (doubly linked list + map, byte cap)
// is adapted from the teacher's generic witness LRU; the placeholder
// protocol on top of it is new.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/ilastik/blockpipeline/blockmodel"
)

// entry is one LRU-resident value: either a real payload or a
// placeholder (Placeholder == true, Payload zero-valued).
type entry struct {
	id          int64
	payload     blockmodel.Payload
	placeholder bool
	createdAt   time.Time
	size        int
}

// Store is the in-process LRU cache a cacheserver process wraps in an
// HTTP API, or that a single-process test harness can use directly.
// Evictions are LRU ordered across placeholders and payloads alike
// (§4.2: "placeholders are evictable, treated as any other entry").
type Store struct {
	mu sync.Mutex

	ll       *list.List
	elements map[int64]*list.Element

	capBytes int
	curBytes int

	placeholderTTL time.Duration
	now            func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithPlaceholderTTL sets the TTL after which a Get treats a
// placeholder as absent and re-issues a fresh one to the caller. This
// is the resolution to the "worker crash mid-computation" open
// question (spec §9a): zero disables the TTL check entirely.
func WithPlaceholderTTL(d time.Duration) Option {
	return func(s *Store) { s.placeholderTTL = d }
}

// withClock overrides the time source; used by tests to simulate TTL
// expiry deterministically.
func withClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store with the given byte budget. A
// capBytes of 0 disables byte-based eviction (entry count is
// unbounded in that case, matching the original's unbudgeted Redis
// store).
func NewStore(capBytes int, opts ...Option) *Store {
	s := &Store{
		ll:       list.New(),
		elements: make(map[int64]*list.Element),
		capBytes: capBytes,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetResult is the outcome of a Get call.
type GetResult struct {
	Payload     blockmodel.Payload
	Found       bool // a real payload was returned
	Placeholder bool // a placeholder exists (computation in flight)
}

// Get implements the atomic probe-or-placeholder contract that is the
// cache's key correctness property: if insertPlaceholder is true and
// neither a payload nor a live placeholder exists for id, a
// placeholder is inserted under the same lock and the caller is told
// it must compute the block. Two concurrent callers can never both
// receive "you must compute this."
func (s *Store) Get(id int64, insertPlaceholder bool) GetResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.elements[id]; ok {
		en := el.Value.(*entry)
		if en.placeholder {
			if s.placeholderExpired(en) {
				s.removeLocked(el)
				// fall through to treat as absent
			} else {
				s.ll.MoveToFront(el)
				return GetResult{Placeholder: true}
			}
		} else {
			s.ll.MoveToFront(el)
			return GetResult{Payload: en.payload, Found: true}
		}
	}

	if insertPlaceholder {
		s.insertLocked(&entry{id: id, placeholder: true, createdAt: s.now()})
	}
	return GetResult{}
}

func (s *Store) placeholderExpired(en *entry) bool {
	if s.placeholderTTL <= 0 {
		return false
	}
	return s.now().Sub(en.createdAt) > s.placeholderTTL
}

// Put writes payload for id, overwriting any placeholder for the same
// id (spec §4.2).
func (s *Store) Put(id int64, payload blockmodel.Payload) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.elements[id]; ok {
		s.removeLocked(el)
	}
	s.insertLocked(&entry{id: id, payload: payload, size: len(payload.Bytes)})
}

// List returns the ids of payloads currently resident, excluding
// placeholders.
func (s *Store) List() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []int64
	for el := s.ll.Front(); el != nil; el = el.Next() {
		en := el.Value.(*entry)
		if !en.placeholder {
			ids = append(ids, en.id)
		}
	}
	return ids
}

// Clear removes every entry, payloads and placeholders alike.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ll.Init()
	s.elements = make(map[int64]*list.Element)
	s.curBytes = 0
}

func (s *Store) insertLocked(en *entry) {
	el := s.ll.PushFront(en)
	s.elements[en.id] = el
	s.curBytes += en.size
	s.evictLocked()
}

func (s *Store) removeLocked(el *list.Element) {
	en := el.Value.(*entry)
	delete(s.elements, en.id)
	s.curBytes -= en.size
	s.ll.Remove(el)
}

func (s *Store) evictLocked() {
	for s.capBytes > 0 && s.curBytes > s.capBytes {
		back := s.ll.Back()
		if back == nil {
			return
		}
		s.removeLocked(back)
	}
}
