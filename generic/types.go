/*
Package generic provides the core settlement engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for tracking
  money owed. Whether a student owes tuition or the school owes a teacher a
  salary, the same engine handles obligation state, partial settlement,
  bulk period generation and income/expense aggregation.

KEY CONCEPTS IN THIS FILE (types.go):
  - Obligation: one amount owed for a period (or a one-off charge)
  - Contribution: one settlement event applied against an obligation
  - Status / Method / Direction: the enums the invariants are written in
  - Tenant/Actor/Obligation IDs: type-safe identifiers

INVARIANTS (checked by Obligation.CheckInvariants after every mutation):
  0 <= PaidAmount <= Amount
  RemainingAmount == max(Amount - PaidAmount, 0)
  PAID           <=> RemainingAmount == 0 and PaidAmount > 0
  PENDING        <=> PaidAmount == 0 (and not cancelled)
  PARTIALLY_PAID <=> 0 < PaidAmount < Amount
  CANCELLED is terminal.

SEE ALSO:
  - money.go: decimal helpers
  - kind.go: subject kinds (student / teacher / staff)
  - settlement.go: the state transition applied by every contribution
  - store.go: persistence interface
*/
package generic

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type TenantID string
type ActorID string
type ObligationID string
type SubjectID string
type ContributionID string
type ExpenseID string
type CategoryID string

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusPaid          Status = "PAID"
	StatusCancelled     Status = "CANCELLED"
)

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusPartiallyPaid, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// IsOpen reports whether contributions may still be applied.
func (s Status) IsOpen() bool {
	return s == StatusPending || s == StatusPartiallyPaid
}

// =============================================================================
// PAYMENT METHOD
// =============================================================================

// Method is how a contribution was paid. Every method belongs to exactly one
// family: cash, or the card family (cards, e-wallets, bank transfers).
type Method string

const (
	MethodCash     Method = "CASH"
	MethodCard     Method = "CARD"
	MethodClick    Method = "CLICK"
	MethodPayme    Method = "PAYME"
	MethodUzum     Method = "UZUM"
	MethodTransfer Method = "TRANSFER"
)

// Methods lists every known method in display order.
var Methods = []Method{MethodCash, MethodCard, MethodClick, MethodPayme, MethodUzum, MethodTransfer}

func (m Method) IsValid() bool {
	for _, known := range Methods {
		if m == known {
			return true
		}
	}
	return false
}

// IsCash reports whether m is attributed to the cash family.
func (m Method) IsCash() bool { return m == MethodCash }

// IsCard reports whether m is attributed to the card family.
func (m Method) IsCard() bool { return m.IsValid() && m != MethodCash }

// ParseMethod accepts the canonical upper-case names.
func ParseMethod(s string) (Method, error) {
	m := Method(s)
	if !m.IsValid() {
		return "", &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", s)}
	}
	return m, nil
}

// =============================================================================
// DIRECTION
// =============================================================================

// Direction says whether money came in (tuition) or went out (salary, expenses).
type Direction string

const (
	DirectionIncome  Direction = "INCOME"
	DirectionExpense Direction = "EXPENSE"
)

// =============================================================================
// OBLIGATION - An amount owed, settled over time
// =============================================================================

type Obligation struct {
	ID          ObligationID
	TenantID    TenantID
	Subject     SubjectRef
	Period      *Period // nil for one-off obligations
	Description string

	Amount          decimal.Decimal
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal // cached, never negative

	Status        Status
	PaymentMethod Method     // method of the latest contribution
	PaymentDate   *time.Time // nil while PENDING
	Notes         string     // append-only audit lines

	// Version is incremented on every write and checked by the store.
	Version int64

	CreatedBy ActorID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsCompleted reports whether the obligation is fully settled.
func (o Obligation) IsCompleted() bool {
	return o.Status == StatusPaid
}

// DeriveStatus returns the status implied by paid and amount.
// A cancelled obligation stays cancelled.
func DeriveStatus(current Status, amount, paid decimal.Decimal) Status {
	if current == StatusCancelled {
		return StatusCancelled
	}
	switch {
	case paid.IsZero():
		return StatusPending
	case paid.GreaterThanOrEqual(amount):
		return StatusPaid
	default:
		return StatusPartiallyPaid
	}
}

// CheckInvariants verifies the monetary invariants of a single obligation.
func (o Obligation) CheckInvariants() error {
	fail := func(format string, args ...any) error {
		return fmt.Errorf("%w: obligation %s: %s", ErrInvariantViolation, o.ID, fmt.Sprintf(format, args...))
	}
	if o.PaidAmount.IsNegative() {
		return fail("paid amount %s is negative", o.PaidAmount)
	}
	if o.PaidAmount.GreaterThan(o.Amount) {
		return fail("paid amount %s exceeds amount %s", o.PaidAmount, o.Amount)
	}
	if !o.RemainingAmount.Equal(ClampZero(o.Amount.Sub(o.PaidAmount))) {
		return fail("remaining %s != amount %s - paid %s", o.RemainingAmount, o.Amount, o.PaidAmount)
	}
	if o.Status == StatusCancelled {
		return nil
	}
	if want := DeriveStatus(o.Status, o.Amount, o.PaidAmount); o.Status != want {
		return fail("status %s, want %s", o.Status, want)
	}
	if o.Status == StatusPending && o.PaymentDate != nil {
		return fail("pending obligation has a payment date")
	}
	return nil
}

// =============================================================================
// CONTRIBUTION - One settlement event
// =============================================================================

// Contribution is one call to the settlement applier. Contributions are
// append-only; the obligation's derived fields can always be rebuilt from them.
type Contribution struct {
	ID           ContributionID
	TenantID     TenantID
	ObligationID ObligationID
	Subject      SubjectRef
	Amount       decimal.Decimal
	Method       Method
	Direction    Direction
	ActorID      ActorID
	RecordedAt   time.Time
	Note         string
}

// =============================================================================
// EXPENSE - Operating outflows that are not salary obligations
// =============================================================================

type Expense struct {
	ID         ExpenseID
	TenantID   TenantID
	CategoryID CategoryID
	Amount     decimal.Decimal
	Method     Method
	SpentAt    time.Time
	Note       string
	ActorID    ActorID
	CreatedAt  time.Time
}
