// Package task gives every asynchronous operation the same three-way
// outcome: a value, a failure, or cancellation.
package task

import (
	"context"
	"errors"
)

// Outcome classifies how a task ended.
type Outcome int

const (
	Succeeded Outcome = iota
	Failed
	Cancelled
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is the settled state of a task.
type Result[T any] struct {
	Outcome Outcome
	Value   T
	Err     error
}

// Run executes fn and classifies its result. An error caused by ctx ending
// is reported as Cancelled rather than Failed.
func Run[T any](ctx context.Context, fn func(context.Context) (T, error)) Result[T] {
	if err := ctx.Err(); err != nil {
		return Result[T]{Outcome: Cancelled, Err: err}
	}

	v, err := fn(ctx)
	switch {
	case err == nil:
		return Result[T]{Outcome: Succeeded, Value: v}
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return Result[T]{Outcome: Cancelled, Err: err}
	default:
		return Result[T]{Outcome: Failed, Err: err}
	}
}

// Handle dispatches the result to exactly one of the handlers. All three
// are required.
func (r Result[T]) Handle(onSuccess func(T), onFailure func(error), onCancel func()) {
	switch r.Outcome {
	case Succeeded:
		onSuccess(r.Value)
	case Cancelled:
		onCancel()
	default:
		onFailure(r.Err)
	}
}

// Go runs fn in a goroutine and delivers its result on the returned
// channel, which receives exactly one value.
func Go[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Result[T] {
	ch := make(chan Result[T], 1)
	go func() {
		ch <- Run(ctx, fn)
	}()
	return ch
}
