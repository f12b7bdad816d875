package client

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrAlreadyConnected = errors.New("already connected or connecting")
	ErrNotConnected     = errors.New("not connected")
)

// Category classifies a failure for retry decisions and user-facing
// messages.
type Category string

const (
	CategoryConnection Category = "connection"
	CategoryTimeout    Category = "timeout"
	CategoryAuth       Category = "auth"
	CategoryTask       Category = "task"
)

type ClassifiedError struct {
	Category Category
	Err      error
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Category, e.Err)
}

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt can succeed. Auth failures
// never do.
func (e *ClassifiedError) Retryable() bool {
	return e.Category != CategoryAuth
}

func classifyDialError(err error) *ClassifiedError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &ClassifiedError{Category: CategoryTimeout, Err: err}
	default:
		return &ClassifiedError{Category: CategoryConnection, Err: err}
	}
}
