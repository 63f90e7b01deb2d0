// Package observable holds a value that many readers can load or watch while a
// single writer replaces it.
//
// Readers never block the writer: the current value lives behind an atomic
// pointer and subscribers get buffered channels with latest-wins delivery.
package observable

import (
	"sync"
	"sync/atomic"
)

// Value is an atomically swapped snapshot of T.
//
// Stored values must be treated as immutable once passed to Set/Update.
type Value[T any] struct {
	cur atomic.Pointer[T]

	// wmu serializes writers so Update is read-modify-write safe.
	wmu sync.Mutex

	// subsMu guards subs and ensures we never send on a channel that is
	// concurrently being closed by an unsubscribe.
	subsMu sync.Mutex
	subs   map[uint64]chan T
	seq    uint64
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	v := &Value[T]{}
	v.cur.Store(&initial)
	return v
}

// Load returns the current value.
func (v *Value[T]) Load() T {
	p := v.cur.Load()
	if p == nil {
		var zero T
		return zero
	}
	return *p
}

// Set replaces the current value and notifies subscribers.
func (v *Value[T]) Set(next T) {
	v.wmu.Lock()
	v.cur.Store(&next)
	v.publish(next)
	v.wmu.Unlock()
}

// Update applies fn to the current value and stores the result.
// fn must not mutate its argument in place.
func (v *Value[T]) Update(fn func(T) T) T {
	v.wmu.Lock()
	next := fn(v.Load())
	v.cur.Store(&next)
	v.publish(next)
	v.wmu.Unlock()
	return next
}

// Subscribe returns a channel that receives the current value immediately and
// then every later value. A slow subscriber skips intermediate values but always
// ends up holding the latest one.
func (v *Value[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	// Hold wmu so no write can slip between the initial send and registration.
	v.wmu.Lock()
	ch <- v.Load()
	v.subsMu.Lock()
	if v.subs == nil {
		v.subs = make(map[uint64]chan T)
	}
	v.seq++
	id := v.seq
	v.subs[id] = ch
	v.subsMu.Unlock()
	v.wmu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			v.subsMu.Lock()
			delete(v.subs, id)
			close(ch)
			v.subsMu.Unlock()
		})
	}
	return ch, unsub
}

func (v *Value[T]) publish(next T) {
	v.subsMu.Lock()
	defer v.subsMu.Unlock()
	for _, ch := range v.subs {
		select {
		case ch <- next:
			continue
		default:
		}
		// Full: drop the oldest pending value, then push the newest.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
