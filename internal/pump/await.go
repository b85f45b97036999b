package pump

import (
	"context"
	"sync"
)

// Resolver converts a callback-style driver completion into a value that can
// be awaited exactly once. Drivers built on BLE stacks deliver results via
// callbacks that can fire more than once on reconnect; only the first
// resolution is kept, later ones are dropped.
type Resolver[T any] struct {
	once sync.Once
	ch   chan T
}

// NewResolver creates an unresolved Resolver.
func NewResolver[T any]() *Resolver[T] {
	return &Resolver[T]{ch: make(chan T, 1)}
}

// Resolve records the result. The first call wins; subsequent calls are
// no-ops.
func (r *Resolver[T]) Resolve(v T) {
	r.once.Do(func() {
		r.ch <- v
	})
}

// Await blocks until the resolver is resolved or the context is done.
func (r *Resolver[T]) Await(ctx context.Context) (T, error) {
	select {
	case v := <-r.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// AwaitCommand runs a callback-style command and blocks until its completion
// callback fires. start receives a resolve function that must be called with
// the command outcome (nil on success); double resolution is guarded.
func AwaitCommand(ctx context.Context, start func(resolve func(error))) error {
	r := NewResolver[error]()
	start(r.Resolve)
	result, err := r.Await(ctx)
	if err != nil {
		return err
	}
	return result
}
