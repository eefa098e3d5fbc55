/*
ledger.go - Obligation lifecycle outside of settlement

PURPOSE:
  Single-obligation creation, lookup, cancellation and deletion, plus the
  contribution log. Settlement itself lives in settlement.go; this file
  never changes PaidAmount.

CONTRIBUTION LOG:
  Contributions are append-only. An obligation's derived fields (paid,
  remaining, status, latest method, payment date) can always be rebuilt
  from its contributions with Rebuild; Verify compares the stored row
  against that rebuild.

LIFECYCLE RULES:
  - Cancel: ADMIN only, terminal, refused for PAID obligations
  - Delete: only while nothing has been paid (ErrHasPayments otherwise)

SEE ALSO:
  - settlement.go: the only writer of paid amounts
  - store.go: version-checked writes
*/
package generic

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CreateObligationInput struct {
	Subject     SubjectRef
	Period      *Period
	Amount      decimal.Decimal
	Description string
}

func (in CreateObligationInput) Validate() error {
	if in.Subject.IsZero() {
		return &ValidationError{Field: "subject", Message: "subject kind and id are required"}
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrAmountNotPositive, in.Amount)
	}
	if in.Period != nil {
		if err := in.Period.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Obligations manages obligations for the actor's tenant.
type Obligations struct {
	deps
}

// Create records a single invoice or salary record.
func (l *Obligations) Create(ctx context.Context, actor Actor, in CreateObligationInput) (Obligation, error) {
	if err := l.guard.Authorize(actor, ActionCreate); err != nil {
		return Obligation{}, err
	}
	if err := in.Validate(); err != nil {
		return Obligation{}, err
	}

	if _, err := l.store.GetSubject(ctx, actor.TenantID, in.Subject); err != nil {
		return Obligation{}, err
	}

	now := l.now()
	o := Obligation{
		ID:              ObligationID(l.newID()),
		TenantID:        actor.TenantID,
		Subject:         in.Subject,
		Description:     strings.TrimSpace(in.Description),
		Amount:          in.Amount,
		PaidAmount:      decimal.Zero,
		RemainingAmount: in.Amount,
		Status:          StatusPending,
		Version:         1,
		CreatedBy:       actor.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if in.Period != nil {
		p := *in.Period
		o.Period = &p
	}

	if err := l.store.CreateObligation(ctx, o); err != nil {
		return Obligation{}, fmt.Errorf("create obligation: %w", err)
	}
	l.log.Info("obligation created",
		zap.String("tenant_id", string(actor.TenantID)),
		zap.String("obligation_id", string(o.ID)),
		zap.String("subject", in.Subject.String()),
		zap.String("amount", in.Amount.String()),
	)
	return o, nil
}

func (l *Obligations) Get(ctx context.Context, actor Actor, id ObligationID) (Obligation, error) {
	if err := l.guard.Authorize(actor, ActionRead); err != nil {
		return Obligation{}, err
	}
	return l.store.GetObligation(ctx, actor.TenantID, id)
}

func (l *Obligations) List(ctx context.Context, actor Actor, filter ObligationFilter) ([]Obligation, error) {
	if err := l.guard.Authorize(actor, ActionRead); err != nil {
		return nil, err
	}
	return l.store.ListObligations(ctx, actor.TenantID, filter)
}

// Contributions returns the settlement history of one obligation.
func (l *Obligations) Contributions(ctx context.Context, actor Actor, id ObligationID) ([]Contribution, error) {
	if err := l.guard.Authorize(actor, ActionRead); err != nil {
		return nil, err
	}
	if _, err := l.store.GetObligation(ctx, actor.TenantID, id); err != nil {
		return nil, err
	}
	return l.store.ListContributions(ctx, actor.TenantID, id)
}

// Cancel terminates an unpaid or partially paid obligation.
func (l *Obligations) Cancel(ctx context.Context, actor Actor, id ObligationID, reason string) (Obligation, error) {
	if err := l.guard.Authorize(actor, ActionCancel); err != nil {
		return Obligation{}, err
	}

	for attempt := 0; ; attempt++ {
		current, err := l.store.GetObligation(ctx, actor.TenantID, id)
		if err != nil {
			return Obligation{}, err
		}
		switch current.Status {
		case StatusCancelled:
			return Obligation{}, fmt.Errorf("%w: %s", ErrObligationCancelled, id)
		case StatusPaid:
			return Obligation{}, fmt.Errorf("%w: %s cannot be cancelled", ErrAlreadySettled, id)
		}

		now := l.now()
		next := current
		next.Status = StatusCancelled
		line := fmt.Sprintf("[%s] cancelled by %s", now.Format(NoteTimeLayout), actor.ActorID)
		if reason = strings.TrimSpace(reason); reason != "" {
			line += ": " + reason
		}
		next.Notes = appendNote(current.Notes, line)
		next.Version = current.Version + 1
		next.UpdatedAt = now

		err = l.store.UpdateObligation(ctx, next, current.Version, nil)
		if IsRetryable(err) && attempt == 0 {
			continue
		}
		if err != nil {
			return Obligation{}, err
		}
		l.log.Info("obligation cancelled",
			zap.String("tenant_id", string(actor.TenantID)),
			zap.String("obligation_id", string(id)),
		)
		return next, nil
	}
}

// Delete removes an obligation nobody has paid anything against.
func (l *Obligations) Delete(ctx context.Context, actor Actor, id ObligationID) error {
	if err := l.guard.Authorize(actor, ActionDelete); err != nil {
		return err
	}
	current, err := l.store.GetObligation(ctx, actor.TenantID, id)
	if err != nil {
		return err
	}
	if !current.PaidAmount.IsZero() {
		return fmt.Errorf("%w: %s has %s paid", ErrHasPayments, id, FormatAmount(current.PaidAmount))
	}
	if err := l.store.DeleteObligation(ctx, actor.TenantID, id, current.Version); err != nil {
		return err
	}
	l.log.Info("obligation deleted",
		zap.String("tenant_id", string(actor.TenantID)),
		zap.String("obligation_id", string(id)),
	)
	return nil
}

// Verify rebuilds the obligation from its contributions and reports an
// ErrInvariantViolation if the stored derived fields disagree.
func (l *Obligations) Verify(ctx context.Context, actor Actor, id ObligationID) (Obligation, error) {
	if err := l.guard.Authorize(actor, ActionRead); err != nil {
		return Obligation{}, err
	}
	stored, err := l.store.GetObligation(ctx, actor.TenantID, id)
	if err != nil {
		return Obligation{}, err
	}
	contribs, err := l.store.ListContributions(ctx, actor.TenantID, id)
	if err != nil {
		return Obligation{}, err
	}
	rebuilt := Rebuild(stored, contribs)
	if !rebuilt.PaidAmount.Equal(stored.PaidAmount) ||
		!rebuilt.RemainingAmount.Equal(stored.RemainingAmount) ||
		rebuilt.Status != stored.Status {
		return rebuilt, fmt.Errorf("%w: obligation %s stored paid %s/%s, log says %s/%s",
			ErrInvariantViolation, id, stored.PaidAmount, stored.Status, rebuilt.PaidAmount, rebuilt.Status)
	}
	return rebuilt, stored.CheckInvariants()
}

// Rebuild recomputes the derived fields of o from its contributions, which
// must be in acceptance order.
func Rebuild(o Obligation, contributions []Contribution) Obligation {
	out := o
	out.PaidAmount = decimal.Zero
	out.PaymentDate = nil
	out.PaymentMethod = ""

	for _, c := range contributions {
		out.PaidAmount = MinDecimal(out.PaidAmount.Add(c.Amount), o.Amount)
		out.PaymentMethod = c.Method
		at := c.RecordedAt
		if out.PaymentDate == nil || out.PaidAmount.GreaterThanOrEqual(o.Amount) {
			out.PaymentDate = &at
		}
	}

	out.RemainingAmount = ClampZero(o.Amount.Sub(out.PaidAmount))
	out.Status = DeriveStatus(o.Status, o.Amount, out.PaidAmount)
	return out
}
