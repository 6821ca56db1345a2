package routecache

import (
	"sync"
	"time"
)

type fifoEntry[V any] struct {
	value V
	added time.Time
}

// FIFO is a bounded cache with a TTL. When full, the oldest inserted entry
// is evicted first; reads do not change the order.
type FIFO[K comparable, V any] struct {
	mu    sync.Mutex
	size  int
	ttl   time.Duration
	order []K
	items map[K]fifoEntry[V]

	now func() time.Time
}

// NewFIFO creates a cache for at most size entries living ttl each.
// A zero ttl means entries never expire.
func NewFIFO[K comparable, V any](size int, ttl time.Duration) *FIFO[K, V] {
	if size < 1 {
		size = 1
	}
	return &FIFO[K, V]{
		size:  size,
		ttl:   ttl,
		items: make(map[K]fifoEntry[V], size),
		now:   time.Now,
	}
}

// Get returns the value for k unless it is missing or expired.
func (f *FIFO[K, V]) Get(k K) (V, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.items[k]
	if !ok {
		var zero V
		return zero, false
	}
	if f.ttl > 0 && f.now().Sub(e.added) > f.ttl {
		f.remove(k)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Put stores v under k. Updating a key keeps its place in the queue.
func (f *FIFO[K, V]) Put(k K, v V) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[k]; ok {
		f.items[k] = fifoEntry[V]{value: v, added: f.now()}
		return
	}
	for len(f.order) >= f.size {
		oldest := f.order[0]
		f.order = f.order[1:]
		delete(f.items, oldest)
	}
	f.order = append(f.order, k)
	f.items[k] = fifoEntry[V]{value: v, added: f.now()}
}

// Len returns the number of stored entries, expired ones included.
func (f *FIFO[K, V]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *FIFO[K, V]) remove(k K) {
	delete(f.items, k)
	for i, x := range f.order {
		if x == k {
			f.order = append(f.order[:i], f.order[i+1:]...)
			return
		}
	}
}
