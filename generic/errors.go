/*
errors.go - Centralized error types for the settlement engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error the core returns maps to exactly one ErrorKind, which the
  API layer turns into an error envelope and an HTTP status.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before the store is read
  2. State errors - the obligation cannot accept the operation
  3. Lookup errors - missing (or other-tenant) obligations and subjects
  4. Store errors - optimistic lock conflicts and database failures

USAGE:
  _, err := settler.Apply(ctx, actor, in)
  var exceeds *generic.ExceedsRemainingError
  if errors.As(err, &exceeds) {
      // exceeds.Allowed is the largest amount that would be accepted
  }
  kind := generic.KindOf(err) // EXCEEDS_REMAINING

SEE ALSO:
  - settlement.go: produces state errors
  - store.go: produces lookup and conflict errors
  - api/handlers.go: maps ErrorKind to HTTP status
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrAmountNotPositive = errors.New("amount must be positive")

	// ErrAlreadySettled is returned when an obligation has nothing left to pay.
	ErrAlreadySettled = errors.New("obligation already settled")

	ErrExceedsRemaining = errors.New("amount exceeds remaining balance")

	ErrObligationCancelled = errors.New("obligation is cancelled")

	ErrNoPeriodsRequested = errors.New("at least one period must be requested")

	// ErrDuplicatePeriod is returned when the (tenant, kind, subject, month, year)
	// key already has an obligation.
	ErrDuplicatePeriod = errors.New("obligation already exists for period")

	ErrHasPayments = errors.New("obligation has recorded payments")

	// ErrObligationNotFound is also returned for obligations owned by another
	// tenant, so callers cannot probe for foreign ids.
	ErrObligationNotFound = errors.New("obligation not found")

	ErrSubjectNotFound = errors.New("subject not found")

	ErrDuplicateSubject = errors.New("subject already registered")

	// ErrConcurrentModification is returned when optimistic locking detects a conflict.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	ErrUnauthorized = errors.New("unauthorized")

	ErrValidation = errors.New("validation failed")

	// ErrInvariantViolation means derived fields disagree with the amounts.
	// Seeing it is always a bug.
	ErrInvariantViolation = errors.New("invariant violation")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ExceedsRemainingError reports the largest acceptable contribution.
type ExceedsRemainingError struct {
	ObligationID ObligationID
	Requested    decimal.Decimal
	Allowed      decimal.Decimal
}

func (e *ExceedsRemainingError) Error() string {
	return fmt.Sprintf("amount %s exceeds remaining %s on obligation %s",
		e.Requested, e.Allowed, e.ObligationID)
}

func (e *ExceedsRemainingError) Unwrap() error {
	return ErrExceedsRemaining
}

// ValidationError names the offending input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// DuplicatePeriodError identifies the colliding key.
type DuplicatePeriodError struct {
	Subject SubjectRef
	Period  Period
}

func (e *DuplicatePeriodError) Error() string {
	return fmt.Sprintf("obligation already exists for %s in %s", e.Subject, e.Period)
}

func (e *DuplicatePeriodError) Unwrap() error {
	return ErrDuplicatePeriod
}

// =============================================================================
// ERROR KINDS - Stable codes exposed to callers
// =============================================================================

type ErrorKind string

const (
	ErrKindValidation          ErrorKind = "VALIDATION"
	ErrKindAmountNotPositive   ErrorKind = "AMOUNT_NOT_POSITIVE"
	ErrKindNotFound            ErrorKind = "NOT_FOUND"
	ErrKindSubjectNotFound     ErrorKind = "SUBJECT_NOT_FOUND"
	ErrKindAlreadySettled      ErrorKind = "ALREADY_SETTLED"
	ErrKindExceedsRemaining    ErrorKind = "EXCEEDS_REMAINING"
	ErrKindObligationCancelled ErrorKind = "OBLIGATION_CANCELLED"
	ErrKindNoPeriodsRequested  ErrorKind = "NO_PERIODS_REQUESTED"
	ErrKindDuplicatePeriod     ErrorKind = "DUPLICATE_PERIOD"
	ErrKindDuplicateSubject    ErrorKind = "DUPLICATE_SUBJECT"
	ErrKindHasPayments         ErrorKind = "HAS_PAYMENTS"
	ErrKindConflict            ErrorKind = "CONFLICT"
	ErrKindUnauthorized        ErrorKind = "UNAUTHORIZED"
	ErrKindInternal            ErrorKind = "INTERNAL"
)

var kindBySentinel = []struct {
	err  error
	kind ErrorKind
}{
	{ErrUnauthorized, ErrKindUnauthorized},
	{ErrAmountNotPositive, ErrKindAmountNotPositive},
	{ErrNoPeriodsRequested, ErrKindNoPeriodsRequested},
	{ErrValidation, ErrKindValidation},
	{ErrObligationNotFound, ErrKindNotFound},
	{ErrSubjectNotFound, ErrKindSubjectNotFound},
	{ErrAlreadySettled, ErrKindAlreadySettled},
	{ErrExceedsRemaining, ErrKindExceedsRemaining},
	{ErrObligationCancelled, ErrKindObligationCancelled},
	{ErrDuplicatePeriod, ErrKindDuplicatePeriod},
	{ErrDuplicateSubject, ErrKindDuplicateSubject},
	{ErrHasPayments, ErrKindHasPayments},
	{ErrConcurrentModification, ErrKindConflict},
}

// KindOf classifies err. Unknown errors are INTERNAL.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	for _, m := range kindBySentinel {
		if errors.Is(err, m.err) {
			return m.kind
		}
	}
	return ErrKindInternal
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}
