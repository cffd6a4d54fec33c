// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or a duplicate record.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates the caller supplied invalid input.
// Wrap it with the field-level message: fmt.Errorf("%w: amount must be positive", domain.ErrValidation).
var ErrValidation = errors.New("validation failed")
