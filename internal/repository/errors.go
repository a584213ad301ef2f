package repository

import (
	"errors"
	"fmt"
)

// ValidationError means the caller sent something unusable. It is shown to
// the user as-is and never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError means a referenced comment does not exist.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

// StoreError wraps a backend failure. Its message is not meant for users.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsStore(err error) bool {
	var target *StoreError
	return errors.As(err, &target)
}

var (
	errUnauthenticated = &ValidationError{Message: "must be authenticated"}
	errEmptyContent    = &ValidationError{Message: "comment content cannot be empty"}
	errTooLong         = &ValidationError{Message: "comment is too long"}
	errMissingComment  = &ValidationError{Message: "comment id is required"}
	errNoParent        = &NotFoundError{Message: "parent comment does not exist"}
	errNoComment       = &NotFoundError{Message: "comment does not exist"}
)
