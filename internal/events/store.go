package events

import (
	"context"
	"sync"
)

// DefaultCapacity is the number of events kept before the oldest are evicted.
const DefaultCapacity = 500

// Store is the bounded in-memory event log. Events are kept in insertion
// order internally and handed out newest-first.
type Store struct {
	mu       sync.Mutex
	items    []Event
	capacity int
	nextID   int64
	version  uint64
	epoch    uint64

	subMu  sync.Mutex
	subs   map[uint64]*mailbox
	subSeq uint64
}

func NewStore(capacity int) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		items:    make([]Event, 0, capacity),
		capacity: capacity,
		subs:     map[uint64]*mailbox{},
	}
}

var _ EventLog = (*Store)(nil)

// Add assigns the next id to e, stores it and notifies subscribers.
func (s *Store) Add(e Event) int64 {
	s.mu.Lock()
	e.ID = s.nextID
	s.nextID++
	if len(s.items) == s.capacity {
		copy(s.items, s.items[1:])
		s.items[len(s.items)-1] = e
	} else {
		s.items = append(s.items, e)
	}
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
	return e.ID
}

// FindByKey returns the newest event with the given key. A Posted/Removed
// pair shares its key, so this is whichever of the two arrived last.
func (s *Store) FindByKey(key string) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].Key == key {
			return s.items[i], true
		}
	}
	return Event{}, false
}

func (s *Store) FindByID(id int64) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.items) == 0 {
		return Event{}, false
	}
	// ids are contiguous from the oldest retained event
	idx := id - s.items[0].ID
	if idx < 0 || idx >= int64(len(s.items)) {
		return Event{}, false
	}
	return s.items[idx], true
}

// Clear drops every event and restarts ids at zero.
func (s *Store) Clear() {
	s.mu.Lock()
	s.items = s.items[:0]
	s.nextID = 0
	s.epoch++
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.publish(snap)
}

func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Version: s.version, Epoch: s.epoch, Events: s.reversedLocked()}
}

func (s *Store) snapshotLocked() Snapshot {
	s.version++
	return Snapshot{Version: s.version, Epoch: s.epoch, Events: s.reversedLocked()}
}

func (s *Store) reversedLocked() []Event {
	out := make([]Event, len(s.items))
	for i, e := range s.items {
		out[len(s.items)-1-i] = e
	}
	return out
}

// Subscribe registers an observer. The current snapshot is queued right
// away; afterwards every change is delivered. A subscriber that falls behind
// skips intermediate snapshots but always ends up with the latest one.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	m := &mailbox{ch: make(chan Snapshot, 1)}

	s.subMu.Lock()
	s.subSeq++
	id := s.subSeq
	s.subs[id] = m
	s.subMu.Unlock()

	m.offer(s.Snapshot())

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			s.subMu.Unlock()
			m.close()
		})
	}
	return m.ch, unsub
}

// Watch calls fn for every delivered snapshot until ctx is done.
func (s *Store) Watch(ctx context.Context, fn func(Snapshot)) {
	ch, unsub := s.Subscribe()
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			fn(snap)
		}
	}
}

func (s *Store) publish(snap Snapshot) {
	s.subMu.Lock()
	boxes := make([]*mailbox, 0, len(s.subs))
	for _, m := range s.subs {
		boxes = append(boxes, m)
	}
	s.subMu.Unlock()

	for _, m := range boxes {
		m.offer(snap)
	}
}

// mailbox holds at most one pending snapshot and only ever moves forward
// in version.
type mailbox struct {
	mu     sync.Mutex
	ch     chan Snapshot
	last   uint64
	seen   bool
	closed bool
}

func (m *mailbox) offer(snap Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || (m.seen && snap.Version <= m.last) {
		return
	}
	select {
	case <-m.ch:
	default:
	}
	m.ch <- snap
	m.last = snap.Version
	m.seen = true
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.ch)
}
