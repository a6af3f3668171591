// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

import "context"

// Sender is the canonical dispatch operation the result adapters are built
// on. *Client implements it.
type Sender interface {
	Send(ctx context.Context, d Descriptor, out interface{}) *Error
}

// Submit dispatches r and blocks until its outcome is known.
func Submit[T any](ctx context.Context, s Sender, r Request[T]) Outcome[T] {
	var v T
	if err := s.Send(ctx, r, &v); err != nil {
		return failed[T](err)
	}
	return success(v)
}

// SubmitFunc dispatches r on a new goroutine and calls fn with the outcome.
func SubmitFunc[T any](ctx context.Context, s Sender, r Request[T], fn func(Outcome[T])) {
	go func() {
		fn(Submit(ctx, s, r))
	}()
}

// SubmitStream dispatches r and returns a channel that yields its outcome
// once and is then closed.
func SubmitStream[T any](ctx context.Context, s Sender, r Request[T]) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		defer close(ch)
		ch <- Submit(ctx, s, r)
	}()
	return ch
}
