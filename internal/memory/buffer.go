package memory

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/734ai/neuroforge/internal/types"
)

// BufferStats holds counters for buffer effectiveness monitoring.
type BufferStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Entries   int   `json:"entries"`
	SizeBytes int64 `json:"size_bytes"`
	MaxBytes  int64 `json:"max_bytes"`
}

// bufferEntry is the per-record bookkeeping unit inside the LRU list.
type bufferEntry struct {
	record *Record
	size   int64
	pins   int
}

// Buffer is an in-process cache of recently written and read records,
// bounded by an exact byte budget. Eviction is strict LRU over unpinned
// entries: when an insertion would exceed the budget, least recently used
// records are dropped until the new record fits. Pinned entries are never
// evicted; the engine pins a record while its durable write is in flight
// so a buffered record can never vanish before it is persisted.
type Buffer struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	entries  map[types.ID]*list.Element
	order    *list.List // front = most recently used

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

// NewBuffer creates a buffer with the given byte budget.
func NewBuffer(maxBytes int64) *Buffer {
	return &Buffer{
		maxBytes: maxBytes,
		entries:  make(map[types.ID]*list.Element),
		order:    list.New(),
	}
}

// Put inserts a record and marks it most recently used, evicting from the
// LRU end as needed. It reports false when the record alone exceeds the
// byte budget or when the budget cannot be reclaimed because every
// remaining entry is pinned; the record is then served from durable
// storage only.
func (b *Buffer) Put(record *Record) bool {
	return b.put(record, false)
}

// PutPinned inserts a record that is already pinned, in one critical
// section. A Put followed by a separate Pin leaves a window where a
// concurrent insert can evict the record before the pin lands.
func (b *Buffer) PutPinned(record *Record) bool {
	return b.put(record, true)
}

func (b *Buffer) put(record *Record, pinned bool) bool {
	size := record.SizeBytes()
	if size > b.maxBytes {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if elem, ok := b.entries[record.ID]; ok {
		// Records are immutable, so a re-put only refreshes recency.
		b.order.MoveToFront(elem)
		if pinned {
			elem.Value.(*bufferEntry).pins++
		}
		return true
	}

	if !b.evictUntil(size) {
		return false
	}

	entry := &bufferEntry{record: record, size: size}
	if pinned {
		entry.pins = 1
	}
	elem := b.order.PushFront(entry)
	b.entries[record.ID] = elem
	b.size += size
	return true
}

// Get returns a copy of the buffered record for id and marks it most
// recently used. The entry is pinned while the copy is made, so exclusion
// against eviction is per key: the buffer lock is only held for the O(1)
// bookkeeping, and a concurrent insert can evict other entries while this
// one is being read but never this one.
func (b *Buffer) Get(id types.ID) (*Record, bool) {
	b.mu.Lock()
	elem, ok := b.entries[id]
	if !ok {
		b.mu.Unlock()
		b.misses.Add(1)
		return nil, false
	}

	b.order.MoveToFront(elem)
	entry := elem.Value.(*bufferEntry)
	entry.pins++
	b.mu.Unlock()

	record := entry.record.Clone()

	b.mu.Lock()
	if entry.pins > 0 {
		entry.pins--
	}
	b.mu.Unlock()

	b.hits.Add(1)
	return record, true
}

// Contains reports buffer membership without touching recency or counters.
func (b *Buffer) Contains(id types.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok
}

// Pin excludes the entry from eviction until a matching Unpin.
func (b *Buffer) Pin(id types.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.entries[id]
	if !ok {
		return false
	}
	elem.Value.(*bufferEntry).pins++
	return true
}

// Unpin releases one pin on the entry.
func (b *Buffer) Unpin(id types.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.entries[id]
	if !ok {
		return
	}
	entry := elem.Value.(*bufferEntry)
	if entry.pins > 0 {
		entry.pins--
	}
}

// Remove drops the entry regardless of recency. Pins do not protect
// against explicit removal; the caller owns the entry lifecycle.
func (b *Buffer) Remove(id types.ID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elem, ok := b.entries[id]
	if !ok {
		return false
	}
	b.removeElement(elem)
	return true
}

// Len returns the number of buffered records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// SizeBytes returns the current byte footprint.
func (b *Buffer) SizeBytes() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Stats returns a snapshot of buffer counters.
func (b *Buffer) Stats() BufferStats {
	b.mu.Lock()
	entries := len(b.entries)
	size := b.size
	b.mu.Unlock()

	return BufferStats{
		Hits:      b.hits.Load(),
		Misses:    b.misses.Load(),
		Evictions: b.evictions.Load(),
		Entries:   entries,
		SizeBytes: size,
		MaxBytes:  b.maxBytes,
	}
}

// evictUntil frees space for an incoming entry of the given size, walking
// from the LRU end and skipping pinned entries. Reports whether enough
// space was reclaimed. Caller must hold b.mu.
func (b *Buffer) evictUntil(incoming int64) bool {
	if b.size+incoming <= b.maxBytes {
		return true
	}

	for elem := b.order.Back(); elem != nil && b.size+incoming > b.maxBytes; {
		prev := elem.Prev()
		entry := elem.Value.(*bufferEntry)
		if entry.pins == 0 {
			b.removeElement(elem)
			b.evictions.Add(1)
		}
		elem = prev
	}

	return b.size+incoming <= b.maxBytes
}

// removeElement unlinks an element from both the map and the list.
// Caller must hold b.mu.
func (b *Buffer) removeElement(elem *list.Element) {
	entry := elem.Value.(*bufferEntry)
	delete(b.entries, entry.record.ID)
	b.order.Remove(elem)
	b.size -= entry.size
}
