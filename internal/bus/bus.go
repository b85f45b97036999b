// Package bus provides in-process typed publish-subscribe primitives.
//
// Observers register callbacks on a Topic and receive every published value
// synchronously, in subscription order, on the publisher's goroutine. Value
// additionally retains the most recent published value and replays it to new
// subscribers, mirroring a current-value subject.
package bus

import "sync"

// Topic fans a published value out to all subscribers.
type Topic[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

type subscriber[T any] struct {
	id int
	fn func(T)
}

// NewTopic creates an empty topic.
func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{}
}

// Subscribe registers fn and returns a function that removes the
// subscription. Unsubscribing twice is a no-op.
func (t *Topic[T]) Subscribe(fn func(T)) func() {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	t.subs = append(t.subs, subscriber[T]{id: id, fn: fn})

	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		for i, s := range t.subs {
			if s.id == id {
				t.subs = append(t.subs[:i], t.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers v to every current subscriber, in subscription order.
// Delivery is synchronous: Publish returns after all callbacks have run.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	subs := make([]subscriber[T], len(t.subs))
	copy(subs, t.subs)
	t.mu.Unlock()

	for _, s := range subs {
		s.fn(v)
	}
}

// Len returns the number of active subscriptions.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Value is a Topic that retains the most recently published value and
// replays it to new subscribers.
type Value[T any] struct {
	topic Topic[T]

	mu    sync.Mutex
	set   bool
	value T
}

// NewValue creates a Value with no initial value.
func NewValue[T any]() *Value[T] {
	return &Value[T]{}
}

// Set publishes v and retains it as the current value.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	v.value = val
	v.set = true
	v.mu.Unlock()

	v.topic.Publish(val)
}

// Get returns the current value and whether one has been set.
func (v *Value[T]) Get() (T, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.value, v.set
}

// Subscribe registers fn, replaying the current value first if one exists.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	if v.set {
		current := v.value
		v.mu.Unlock()
		fn(current)
	} else {
		v.mu.Unlock()
	}
	return v.topic.Subscribe(fn)
}
