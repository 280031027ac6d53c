// Package errors provides error wrapping utilities for context-aware error messages
// and the failure taxonomy shared by the build pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Failure kinds. Every error produced inside the pipeline is tagged with one
// of these so logs can name the category without parsing messages.
var (
	ErrValidation          = stderrors.New("validation error")
	ErrResourceUnavailable = stderrors.New("resource unavailable")
	ErrResourceBusy        = stderrors.New("resource busy")
	ErrInsufficientSpace   = stderrors.New("insufficient space")
	ErrProcessFailure      = stderrors.New("process failure")
	ErrFilesystemFailure   = stderrors.New("filesystem failure")
	ErrCancelled           = stderrors.New("cancelled")
)

var kinds = []error{
	ErrValidation,
	ErrResourceUnavailable,
	ErrResourceBusy,
	ErrInsufficientSpace,
	ErrProcessFailure,
	ErrFilesystemFailure,
	ErrCancelled,
}

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// E tags err with kind and the operation that produced it. A nil err yields
// an error carrying only the kind and operation.
func E(kind error, op string, err error) error {
	if err == nil {
		return fmt.Errorf("%s: %w", op, kind)
	}
	return fmt.Errorf("%s: %w: %w", op, kind, err)
}

// KindOf returns the taxonomy kind carried by err, or nil when untagged.
func KindOf(err error) error {
	for _, k := range kinds {
		if stderrors.Is(err, k) {
			return k
		}
	}
	return nil
}

// LocalizedError is a tagged error that also carries a message catalog key
// and arguments describing the failure to a user.
type LocalizedError struct {
	Kind error
	Op   string
	Key  string
	Args []any
	Err  error
}

// Localized builds a LocalizedError. err may be nil.
func Localized(kind error, op, key string, err error, args ...any) error {
	return &LocalizedError{Kind: kind, Op: op, Key: key, Args: args, Err: err}
}

func (e *LocalizedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %s: %v", e.Op, e.Kind, e.Key, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Key)
}

func (e *LocalizedError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// AsLocalized extracts the first LocalizedError in err's tree.
func AsLocalized(err error) (*LocalizedError, bool) {
	var le *LocalizedError
	if stderrors.As(err, &le) {
		return le, true
	}
	return nil, false
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}
