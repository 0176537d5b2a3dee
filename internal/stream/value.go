// Package stream provides a replay-last publish/subscribe value.
//
// Every subscriber owns a single-slot channel. Publish overwrites an unread
// slot instead of queueing, so a slow observer only ever sees the newest
// value and a publisher never blocks on it.
package stream

import "sync"

// Value holds the latest published T and fans it out to subscribers.
type Value[T any] struct {
	mu      sync.Mutex
	cur     T
	version uint64
	subs    map[int]chan T
	nextID  int
}

// NewValue creates a Value whose current value is initial.
func NewValue[T any](initial T) *Value[T] {
	return &Value[T]{
		cur:  initial,
		subs: make(map[int]chan T),
	}
}

// Current returns the most recently published value.
func (v *Value[T]) Current() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Version counts Publish calls since creation.
func (v *Value[T]) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.version
}

// Publish stores x and hands it to every subscriber, replacing any value
// the subscriber has not read yet.
func (v *Value[T]) Publish(x T) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.cur = x
	v.version++
	for _, ch := range v.subs {
		// Only Publish sends, and it holds mu, so after the drain the slot is free.
		select {
		case <-ch:
		default:
		}
		ch <- x
	}
}

// Subscribe returns a channel pre-loaded with the current value and a cancel
// function that closes it. Cancel is safe to call more than once.
func (v *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = ch
	ch <- v.cur
	v.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.subs, id)
			v.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}
