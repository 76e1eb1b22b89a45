package logging

import (
	"sync"
	"time"
)

// DefaultRingCapacity bounds the in-memory log history.
const DefaultRingCapacity = 1000

// Entry is one structured log record as held in the ring.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Subscriber receives ring entries as they are appended. Delivery happens on
// the logging goroutine; subscribers must not block.
type Subscriber func(Entry)

// Ring is a bounded in-memory log buffer with subscriber fan-out. A subscriber
// that panics during delivery is dropped.
type Ring struct {
	mu       sync.Mutex
	entries  []Entry
	head     int
	size     int
	capacity int
	nextID   int
	subs     map[int]Subscriber
}

// NewRing creates a ring holding at most capacity entries.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		entries:  make([]Entry, capacity),
		capacity: capacity,
		subs:     make(map[int]Subscriber),
	}
}

// Append stores the entry, evicting the oldest when full, and fans it out to
// all subscribers.
func (r *Ring) Append(entry Entry) {
	r.mu.Lock()

	idx := (r.head + r.size) % r.capacity
	r.entries[idx] = entry
	if r.size < r.capacity {
		r.size++
	} else {
		r.head = (r.head + 1) % r.capacity
	}

	subs := make(map[int]Subscriber, len(r.subs))
	for id, sub := range r.subs {
		subs[id] = sub
	}
	r.mu.Unlock()

	for id, sub := range subs {
		r.deliver(id, sub, entry)
	}
}

// deliver invokes one subscriber, unsubscribing it if it panics.
func (r *Ring) deliver(id int, sub Subscriber, entry Entry) {
	defer func() {
		if recover() != nil {
			r.Unsubscribe(id)
		}
	}()
	sub(entry)
}

// Subscribe registers a consumer and returns an id for Unsubscribe.
func (r *Ring) Subscribe(sub Subscriber) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.subs[id] = sub
	return id
}

// Unsubscribe removes a previously registered consumer.
func (r *Ring) Unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.subs, id)
}

// Snapshot returns the buffered entries oldest-first.
func (r *Ring) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Entry, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.entries[(r.head+i)%r.capacity]
	}
	return out
}

// Len returns the number of buffered entries.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}
