/*
store.go - Persistence interface for obligations, subjects and expenses

PURPOSE:
  Defines the interface between the settlement logic and the database.
  Different implementations can use SQLite or in-memory storage.

KEY INTERFACES:
  ObligationStore: obligations plus their append-only contribution log
  SubjectStore:    subject records and their rate history
  ExpenseStore:    operating expense ledger
  Store:           all three
  TxStore:         Store plus atomic multi-write transactions

TENANT SCOPING:
  Every read takes the TenantID as a required argument and every write
  carries it on the record. A record owned by another tenant is reported
  exactly like a missing one.

OPTIMISTIC LOCKING:
  UpdateObligation writes only when the stored version still equals the
  version the caller read. Otherwise it returns ErrConcurrentModification
  and writes nothing; the caller re-reads and retries. The contribution row
  (if any) is inserted in the same database transaction as the update.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - generic/store/memory.go: In-memory for testing

SEE ALSO:
  - settlement.go: the read-modify-write that relies on UpdateObligation
  - generator.go: runs inside WithTx
*/
package generic

import (
	"context"
	"time"
)

// =============================================================================
// OBLIGATION STORE
// =============================================================================

// ObligationFilter narrows ListObligations. Zero fields match everything.
type ObligationFilter struct {
	Kind      string
	SubjectID SubjectID
	Status    Status
	Year      int
	Period    *Period
	OpenOnly  bool // PENDING or PARTIALLY_PAID with remaining > 0
}

func (f ObligationFilter) Matches(o Obligation) bool {
	if f.Kind != "" && (o.Subject.Kind == nil || o.Subject.Kind.KindID() != f.Kind) {
		return false
	}
	if f.SubjectID != "" && o.Subject.ID != f.SubjectID {
		return false
	}
	if f.Status != "" && o.Status != f.Status {
		return false
	}
	if f.Year != 0 && (o.Period == nil || o.Period.Year != f.Year) {
		return false
	}
	if f.Period != nil && (o.Period == nil || *o.Period != *f.Period) {
		return false
	}
	if f.OpenOnly && (!o.Status.IsOpen() || !o.RemainingAmount.IsPositive()) {
		return false
	}
	return true
}

type ObligationStore interface {
	// CreateObligation inserts a new obligation. Returns ErrDuplicatePeriod
	// when the subject already has an obligation for the same period.
	CreateObligation(ctx context.Context, o Obligation) error

	// GetObligation returns ErrObligationNotFound for missing or foreign ids.
	GetObligation(ctx context.Context, tenant TenantID, id ObligationID) (Obligation, error)

	// FindByPeriod looks up the obligation keyed by (tenant, subject, period).
	FindByPeriod(ctx context.Context, tenant TenantID, subject SubjectRef, period Period) (Obligation, bool, error)

	// ListObligations returns matches ordered by period, then creation time.
	ListObligations(ctx context.Context, tenant TenantID, filter ObligationFilter) ([]Obligation, error)

	// UpdateObligation stores o if the stored version equals expectedVersion,
	// appending c (when non-nil) atomically with the update.
	UpdateObligation(ctx context.Context, o Obligation, expectedVersion int64, c *Contribution) error

	// DeleteObligation removes an obligation under the same version check.
	DeleteObligation(ctx context.Context, tenant TenantID, id ObligationID, expectedVersion int64) error

	// ListContributions returns an obligation's contributions in acceptance order.
	ListContributions(ctx context.Context, tenant TenantID, id ObligationID) ([]Contribution, error)

	// ContributionsBetween returns contributions recorded in [from, to).
	ContributionsBetween(ctx context.Context, tenant TenantID, from, to time.Time) ([]Contribution, error)
}

// =============================================================================
// SUBJECT STORE
// =============================================================================

type SubjectStore interface {
	// CreateSubject returns ErrDuplicateSubject when the ref is taken.
	CreateSubject(ctx context.Context, s Subject) error

	// GetSubject returns ErrSubjectNotFound for missing or foreign subjects.
	GetSubject(ctx context.Context, tenant TenantID, ref SubjectRef) (Subject, error)

	ListSubjects(ctx context.Context, tenant TenantID, kind string) ([]Subject, error)

	// AppendRate adds one entry to a subject's rate history.
	AppendRate(ctx context.Context, tenant TenantID, ref SubjectRef, rc RateChange) error
}

// =============================================================================
// EXPENSE STORE
// =============================================================================

type ExpenseStore interface {
	CreateExpense(ctx context.Context, e Expense) error

	// ExpensesBetween returns expenses spent in [from, to).
	ExpensesBetween(ctx context.Context, tenant TenantID, from, to time.Time) ([]Expense, error)
}

// =============================================================================
// STORE
// =============================================================================

type Store interface {
	ObligationStore
	SubjectStore
	ExpenseStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}
