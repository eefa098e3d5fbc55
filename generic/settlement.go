/*
settlement.go - Partial settlement of obligations

PURPOSE:
  A settlement is one incremental payment against one obligation. The same
  transition serves tuition and salary; only the subject kind differs, and
  with it the direction the contribution is reported under.

STATE TRANSITION (NextState):
  newPaid      = min(paid + amount, obligation amount)
  newRemaining = amount - newPaid
  status       = derived from the invariants in types.go
  paymentDate  = now on the transition into PAID, otherwise the existing
                 first-payment date, otherwise now
  notes       += "[YYYY-MM-DD HH:MM] +<amount> UZS via <METHOD> by <actor>: <note>"
  version     += 1

REJECTIONS (nothing is written):
  amount <= 0                       -> ErrAmountNotPositive
  obligation cancelled              -> ErrObligationCancelled
  status PAID or remaining == 0     -> ErrAlreadySettled
  amount > remaining                -> *ExceedsRemainingError (carries Allowed)

CONCURRENCY:
  Apply is a read-modify-write. The write is conditioned on the version that
  was read; a conflict re-reads the obligation and tries again, up to
  MaxRetries times, before surfacing ErrConcurrentModification. Each
  accepted contribution is appended in the same store transaction as the
  obligation update, so contributions are ordered exactly as accepted.

SEE ALSO:
  - store.go: UpdateObligation contract
  - generator.go: applies an initial payment through the same path
*/
package generic

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// INPUT / RESULT
// =============================================================================

type SettleInput struct {
	ObligationID ObligationID
	Amount       decimal.Decimal
	Method       Method
	Note         string
}

func (in SettleInput) Validate() error {
	if in.ObligationID == "" {
		return &ValidationError{Field: "obligation_id", Message: "obligation id is required"}
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrAmountNotPositive, in.Amount)
	}
	if !in.Method.IsValid() {
		return &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", in.Method)}
	}
	return nil
}

type SettlementResult struct {
	Obligation      Obligation
	Contribution    Contribution
	PaidAmount      decimal.Decimal
	RemainingAmount decimal.Decimal
	Status          Status
	IsCompleted     bool
	Attempts        int
}

// =============================================================================
// PURE TRANSITION
// =============================================================================

// NextState computes the obligation after accepting in. It does not touch
// the store; callers persist the result.
func NextState(o Obligation, in SettleInput, actor ActorID, now time.Time) (Obligation, error) {
	if !in.Amount.IsPositive() {
		return o, fmt.Errorf("%w: got %s", ErrAmountNotPositive, in.Amount)
	}
	if o.Status == StatusCancelled {
		return o, fmt.Errorf("%w: %s", ErrObligationCancelled, o.ID)
	}
	if o.Status == StatusPaid || !o.RemainingAmount.IsPositive() {
		return o, fmt.Errorf("%w: %s", ErrAlreadySettled, o.ID)
	}
	if in.Amount.GreaterThan(o.RemainingAmount) {
		return o, &ExceedsRemainingError{
			ObligationID: o.ID,
			Requested:    in.Amount,
			Allowed:      o.RemainingAmount,
		}
	}

	next := o
	next.PaidAmount = MinDecimal(o.PaidAmount.Add(in.Amount), o.Amount)
	next.RemainingAmount = ClampZero(o.Amount.Sub(next.PaidAmount))
	next.Status = DeriveStatus(o.Status, o.Amount, next.PaidAmount)
	next.PaymentMethod = in.Method

	switch {
	case next.Status == StatusPaid:
		t := now
		next.PaymentDate = &t
	case o.PaymentDate == nil:
		t := now
		next.PaymentDate = &t
	}

	next.Notes = appendNote(o.Notes, FormatNote(now, in.Amount, in.Method, actor, in.Note))
	next.Version = o.Version + 1
	next.UpdatedAt = now

	if err := next.CheckInvariants(); err != nil {
		return o, err
	}
	return next, nil
}

// FormatNote renders one audit line.
func FormatNote(at time.Time, amount decimal.Decimal, method Method, actor ActorID, note string) string {
	line := fmt.Sprintf("[%s] +%s via %s by %s", at.UTC().Format(NoteTimeLayout), FormatAmount(amount), method, actor)
	if note = strings.TrimSpace(note); note != "" {
		line += ": " + note
	}
	return line
}

func appendNote(notes, line string) string {
	if notes == "" {
		return line
	}
	return notes + "\n" + line
}

// =============================================================================
// SETTLER - Applies contributions with conflict retry
// =============================================================================

type Settler struct {
	deps
	maxRetries int
}

// Apply records one contribution against an obligation in the actor's tenant.
func (s *Settler) Apply(ctx context.Context, actor Actor, in SettleInput) (SettlementResult, error) {
	if err := s.guard.Authorize(actor, ActionSettle); err != nil {
		return SettlementResult{}, err
	}
	if err := in.Validate(); err != nil {
		return SettlementResult{}, err
	}
	return s.apply(ctx, s.store, actor, in)
}

// apply runs the read-modify-write against st, which may be a transaction view.
func (s *Settler) apply(ctx context.Context, st Store, actor Actor, in SettleInput) (SettlementResult, error) {
	log := s.log.With(
		zap.String("tenant_id", string(actor.TenantID)),
		zap.String("obligation_id", string(in.ObligationID)),
	)

	attempts := s.maxRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return SettlementResult{}, err
		}

		current, err := st.GetObligation(ctx, actor.TenantID, in.ObligationID)
		if err != nil {
			return SettlementResult{}, err
		}

		now := s.now()
		next, err := NextState(current, in, actor.ActorID, now)
		if err != nil {
			return SettlementResult{}, err
		}

		contrib := Contribution{
			ID:           ContributionID(s.newID()),
			TenantID:     actor.TenantID,
			ObligationID: current.ID,
			Subject:      current.Subject,
			Amount:       in.Amount,
			Method:       in.Method,
			Direction:    directionOf(current.Subject),
			ActorID:      actor.ActorID,
			RecordedAt:   now,
			Note:         strings.TrimSpace(in.Note),
		}

		err = st.UpdateObligation(ctx, next, current.Version, &contrib)
		if IsRetryable(err) {
			log.Warn("settlement conflict, retrying",
				zap.Int("attempt", attempt),
				zap.Int64("version", current.Version),
			)
			continue
		}
		if err != nil {
			return SettlementResult{}, fmt.Errorf("save settlement: %w", err)
		}

		log.Info("settlement applied",
			zap.String("amount", in.Amount.String()),
			zap.String("method", string(in.Method)),
			zap.String("status", string(next.Status)),
			zap.String("remaining", next.RemainingAmount.String()),
		)
		return SettlementResult{
			Obligation:      next,
			Contribution:    contrib,
			PaidAmount:      next.PaidAmount,
			RemainingAmount: next.RemainingAmount,
			Status:          next.Status,
			IsCompleted:     next.IsCompleted(),
			Attempts:        attempt,
		}, nil
	}

	log.Error("settlement abandoned after conflicts", zap.Int("attempts", attempts))
	return SettlementResult{}, fmt.Errorf("%w: obligation %s after %d attempts",
		ErrConcurrentModification, in.ObligationID, attempts)
}

func directionOf(ref SubjectRef) Direction {
	if ref.Kind == nil {
		return DirectionIncome
	}
	return ref.Kind.Direction()
}
