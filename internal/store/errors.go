package store

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrInvalidState   = errors.New("invalid state for operation")
	ErrRetryExhausted = errors.New("retry limit reached")
)
