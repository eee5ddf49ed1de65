// Package repository holds the MySQL data access code.  Repositories
// return the sentinel values below, wrapped with context; services map
// them onto apperror kinds.  ErrConflict in particular is the normal
// outcome of a conditional write that lost a race and must never be
// logged as a failure.
package repository

import "errors"

// ErrConflict is returned when a conditional write found the row in a
// different state than expected (a seat no longer AVAILABLE, a
// reservation no longer PENDING).
var ErrConflict = errors.New("conflict")

// ErrNotFound is returned when the addressed row does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an insert hits a unique key, such as a
// second entitlement for the same member and schedule.
var ErrDuplicate = errors.New("duplicate")
