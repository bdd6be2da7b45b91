// Package repository defines the storage contract for the reservation
// engine and its two implementations: MySQL for production and an
// in-memory store for tests.  Sentinel errors declared here let the
// service layer distinguish failure scenarios without inspecting driver
// errors directly.
package repository

import "errors"

// ErrNotFound is returned when a row does not exist within the caller's
// organization scope.  A row that exists in another organization is
// indistinguishable from one that does not exist at all.
var ErrNotFound = errors.New("not found")

// ErrBusy is returned when a per-instance lock could not be acquired
// within the bounded wait.  Callers may retry with backoff.
var ErrBusy = errors.New("busy")

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint, such as (organization_id, email) on customers or
// (organization_id, number) on reservations.
var ErrDuplicate = errors.New("duplicate")

// ErrConflict is returned when an update cannot proceed because of
// conflicting state observed inside the transaction.
var ErrConflict = errors.New("conflict")
