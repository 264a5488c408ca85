package apperrors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoHandler is returned when a confirmation type has no registered handler.
	ErrNoHandler = errors.New("no handler registered")
)
