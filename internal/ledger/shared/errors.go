// Package shared holds the error taxonomy common to the ledger core.
package shared

import "errors"

var (
	// ErrInvalidState indicates an operation attempted on an entity not in
	// the required state, e.g. posting a non-draft entry.
	ErrInvalidState = errors.New("ledger: invalid state for operation")
	// ErrPeriodClosed indicates a posting into a closed fiscal period.
	ErrPeriodClosed = errors.New("ledger: fiscal period is closed")
	// ErrAlreadyClosed indicates a close on an already closed period or year.
	ErrAlreadyClosed = errors.New("ledger: already closed")
	// ErrPeriodsStillOpen indicates a year close while child periods remain open.
	ErrPeriodsStillOpen = errors.New("ledger: fiscal year has open periods")
	// ErrUnbalanced indicates debit and credit totals differ beyond tolerance.
	ErrUnbalanced = errors.New("ledger: journal lines must balance")
	// ErrEntryLocked indicates a mutation attempted on a posted entry.
	ErrEntryLocked = errors.New("ledger: posted entries are immutable")
	// ErrTooFewLines indicates an entry with less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrNotFound indicates a referenced account, period, entry or invoice is missing.
	ErrNotFound = errors.New("ledger: not found")
	// ErrReferentialIntegrity indicates a delete of a row still referenced by lines.
	ErrReferentialIntegrity = errors.New("ledger: record is still referenced")
	// ErrConflict indicates a concurrency conflict; callers retry the whole operation.
	ErrConflict = errors.New("ledger: concurrent modification, retry")
	// ErrDateOutOfRange indicates an entry date outside its fiscal period.
	ErrDateOutOfRange = errors.New("ledger: date outside period")
)
