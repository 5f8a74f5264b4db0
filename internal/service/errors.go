// Package service provides business logic implementations.
package service

import (
	"errors"
	"fmt"
	"time"
)

// lockWaitTimeout bounds how long a settlement path waits on the in-process
// per-user lock before giving up. A caller that hits the timeout gets
// lock.ErrLockTimeout and can retry; the at-least-once delivery upstream
// makes that safe.
const lockWaitTimeout = 5 * time.Second

// Error taxonomy surfaced to callers. Idempotent duplicates are not in this
// list on purpose: replayed events return success with an already-processed
// flag, never an error.
var (
	// ErrInsufficientFunds means a debit was denied and the balance is
	// unchanged.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrNotFound means a referenced ticket, user, transaction or room
	// config does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState means a ticket is not in the lifecycle state the
	// requested transition needs. Retrying will never succeed.
	ErrInvalidState = errors.New("invalid ticket state")

	// ErrUnauthorized means a shared secret or credential did not match.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidEvent means an external event was malformed or semantically
	// rejected.
	ErrInvalidEvent = errors.New("invalid event")
)

// Ticket state rejections. Each wraps ErrInvalidState so callers can branch
// on the class or on the specific state.
var (
	ErrTicketConsumed  = fmt.Errorf("%w: already consumed", ErrInvalidState)
	ErrTicketCancelled = fmt.Errorf("%w: cancelled", ErrInvalidState)
	ErrTicketExpired   = fmt.Errorf("%w: expired", ErrInvalidState)
)
