package generic

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// BULK RATE CHANGE
// =============================================================================

// RateChangeInput sets a new recurring rate for several subjects at once.
// The change lands in each subject's rate history; obligations that already
// exist keep their amount.
type RateChangeInput struct {
	Subjects      []SubjectRef
	NewRate       decimal.Decimal
	EffectiveFrom time.Time
}

type RateChangeResult struct {
	UpdatedCount int
}

func (in RateChangeInput) Validate() error {
	if len(in.Subjects) == 0 {
		return &ValidationError{Field: "subjects", Message: "at least one subject is required"}
	}
	for _, ref := range in.Subjects {
		if ref.IsZero() {
			return &ValidationError{Field: "subjects", Message: "subject kind and id are required"}
		}
	}
	if in.NewRate.IsNegative() {
		return &ValidationError{Field: "new_rate", Message: "rate must not be negative"}
	}
	if in.EffectiveFrom.IsZero() {
		return &ValidationError{Field: "effective_from", Message: "effective date is required"}
	}
	return nil
}

type RateChanger struct {
	deps
}

// Apply validates every subject before writing any of them, so an unknown
// subject rejects the whole call.
func (r *RateChanger) Apply(ctx context.Context, actor Actor, in RateChangeInput) (RateChangeResult, error) {
	if err := r.guard.Authorize(actor, ActionChangeRates); err != nil {
		return RateChangeResult{}, err
	}
	if err := in.Validate(); err != nil {
		return RateChangeResult{}, err
	}

	refs := dedupeRefs(in.Subjects)
	change := RateChange{
		Rate:          in.NewRate,
		EffectiveFrom: startOfDay(in.EffectiveFrom),
		ActorID:       actor.ActorID,
		RecordedAt:    r.now(),
	}

	err := r.store.WithTx(ctx, func(st Store) error {
		for _, ref := range refs {
			if _, err := st.GetSubject(ctx, actor.TenantID, ref); err != nil {
				return fmt.Errorf("rate change for %s: %w", ref, err)
			}
		}
		for _, ref := range refs {
			if err := st.AppendRate(ctx, actor.TenantID, ref, change); err != nil {
				return fmt.Errorf("rate change for %s: %w", ref, err)
			}
		}
		return nil
	})
	if err != nil {
		return RateChangeResult{}, err
	}

	r.log.Info("rates changed",
		zap.String("tenant_id", string(actor.TenantID)),
		zap.Int("subjects", len(refs)),
		zap.String("new_rate", in.NewRate.String()),
		zap.String("effective_from", change.EffectiveFrom.Format(DateLayout)),
	)
	return RateChangeResult{UpdatedCount: len(refs)}, nil
}

func dedupeRefs(refs []SubjectRef) []SubjectRef {
	seen := make(map[SubjectKey]bool, len(refs))
	out := make([]SubjectRef, 0, len(refs))
	for _, ref := range refs {
		if seen[ref.Key()] {
			continue
		}
		seen[ref.Key()] = true
		out = append(out, ref)
	}
	return out
}
