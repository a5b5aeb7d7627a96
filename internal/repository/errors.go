// Package repository defines the persistence contract of the access
// service and its implementations.  Sentinel errors let higher layers
// such as the access service distinguish failure scenarios without
// inspecting driver specific error values.
package repository

import "github.com/pkg/errors"

// ErrNotFound is returned when the requested row does not exist.
// Callers translate it into their own "unknown token" or "no active
// binding" outcome.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert would violate a uniqueness
// constraint, such as a second binding row for the same QR/device pair.
var ErrConflict = errors.New("conflict")
