// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package courier

// Outcome is the terminal result of one submission: a value or a classified
// failure, never both.
type Outcome[T any] struct {
	Value T
	Err   *Error
}

// OK reports whether the dispatch succeeded.
func (o Outcome[T]) OK() bool { return o.Err == nil }

// Kind returns the failure kind, or "" on success.
func (o Outcome[T]) Kind() Kind {
	if o.Err == nil {
		return ""
	}
	return o.Err.Kind
}

// Get returns the value and, on failure, the *Error as an error.
func (o Outcome[T]) Get() (T, error) {
	if o.Err != nil {
		return o.Value, o.Err
	}
	return o.Value, nil
}

func success[T any](v T) Outcome[T] { return Outcome[T]{Value: v} }

func failed[T any](err *Error) Outcome[T] { return Outcome[T]{Err: err} }
