/*
generator.go - Bulk monthly obligation generation

PURPOSE:
  Materializes one obligation per month for a subject, starting at a given
  month and walking forward Count months (December wraps to January of the
  next year). Re-running the same call is safe: periods that already have
  an obligation are skipped and reported apart from the created ones.

AMOUNTS:
  PerPeriodAmount, when given, is used for every period and may be zero
  (a waived month, still recorded). Without it each period uses the rate
  the subject had on that period's first day, so a rate change only affects
  periods generated after it takes effect.

INITIAL PAYMENT:
  An optional payment is spread over the newly created periods, earliest
  first, each receiving min(leftover, remaining) through the settlement
  path. Skipped periods are never paid from it. Anything left once every
  created period is settled is returned as Unapplied.

ATOMICITY:
  Creation and the initial payment run in one store transaction.

SEE ALSO:
  - period.go: WalkPeriods
  - settlement.go: the applier used for the initial payment
*/
package generic

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type GenerateInput struct {
	Subject         SubjectRef
	StartMonth      int
	StartYear       int
	Count           int
	PerPeriodAmount *decimal.Decimal
	Method          Method
	InitialPayment  *decimal.Decimal
	Description     string
	Note            string
}

type GenerateResult struct {
	Created     []Obligation
	Skipped     []Period
	TotalAmount decimal.Decimal

	// Applied / Unapplied split the initial payment, if one was given.
	Applied     decimal.Decimal
	Unapplied   decimal.Decimal
	Settlements []SettlementResult
}

type Generator struct {
	deps
	settler    *Settler
	maxPeriods int
}

func (g *Generator) validate(in GenerateInput) error {
	if in.Count < 1 {
		return fmt.Errorf("%w: count %d", ErrNoPeriodsRequested, in.Count)
	}
	if in.Count > g.maxPeriods {
		return &ValidationError{Field: "count", Message: fmt.Sprintf("count %d exceeds the limit of %d periods", in.Count, g.maxPeriods)}
	}
	if in.Subject.IsZero() {
		return &ValidationError{Field: "subject", Message: "subject kind and id are required"}
	}
	if _, err := NewPeriod(in.StartMonth, in.StartYear); err != nil {
		return err
	}
	if in.PerPeriodAmount != nil && in.PerPeriodAmount.IsNegative() {
		return &ValidationError{Field: "per_period_amount", Message: "per-period amount must not be negative"}
	}
	if in.Method != "" && !in.Method.IsValid() {
		return &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", in.Method)}
	}
	if in.InitialPayment != nil {
		if !in.InitialPayment.IsPositive() {
			return fmt.Errorf("%w: initial payment %s", ErrAmountNotPositive, in.InitialPayment)
		}
		if in.Method == "" {
			return &ValidationError{Field: "method", Message: "method is required with an initial payment"}
		}
	}
	return nil
}

// Generate creates the requested periods for one subject.
func (g *Generator) Generate(ctx context.Context, actor Actor, in GenerateInput) (GenerateResult, error) {
	if err := g.guard.Authorize(actor, ActionGenerate); err != nil {
		return GenerateResult{}, err
	}
	if err := g.validate(in); err != nil {
		return GenerateResult{}, err
	}

	start := Period{Month: time.Month(in.StartMonth), Year: in.StartYear}
	periods := WalkPeriods(start, in.Count)

	var result GenerateResult
	err := g.store.WithTx(ctx, func(st Store) error {
		result = GenerateResult{TotalAmount: decimal.Zero, Applied: decimal.Zero, Unapplied: decimal.Zero}

		subj, err := st.GetSubject(ctx, actor.TenantID, in.Subject)
		if err != nil {
			return err
		}

		for _, p := range periods {
			created, err := g.createPeriod(ctx, st, actor, subj, in, p)
			if errors.Is(err, ErrDuplicatePeriod) {
				result.Skipped = append(result.Skipped, p)
				continue
			}
			if err != nil {
				return err
			}
			result.Created = append(result.Created, created)
			result.TotalAmount = result.TotalAmount.Add(created.Amount)
		}

		if in.InitialPayment != nil {
			return g.applyInitialPayment(ctx, st, actor, in, &result)
		}
		return nil
	})
	if err != nil {
		return GenerateResult{}, err
	}

	g.log.Info("periods generated",
		zap.String("tenant_id", string(actor.TenantID)),
		zap.String("subject", in.Subject.String()),
		zap.Int("created", len(result.Created)),
		zap.Int("skipped", len(result.Skipped)),
		zap.String("total_amount", result.TotalAmount.String()),
	)
	return result, nil
}

func (g *Generator) createPeriod(ctx context.Context, st Store, actor Actor, subj Subject, in GenerateInput, p Period) (Obligation, error) {
	if _, found, err := st.FindByPeriod(ctx, actor.TenantID, in.Subject, p); err != nil {
		return Obligation{}, err
	} else if found {
		return Obligation{}, &DuplicatePeriodError{Subject: in.Subject, Period: p}
	}

	amount, err := g.periodAmount(subj, in, p)
	if err != nil {
		return Obligation{}, err
	}

	now := g.now()
	period := p
	o := Obligation{
		ID:              ObligationID(g.newID()),
		TenantID:        actor.TenantID,
		Subject:         subj.Ref,
		Period:          &period,
		Description:     strings.TrimSpace(in.Description),
		Amount:          amount,
		PaidAmount:      decimal.Zero,
		RemainingAmount: amount,
		Status:          StatusPending,
		Version:         1,
		CreatedBy:       actor.ActorID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := o.CheckInvariants(); err != nil {
		return Obligation{}, err
	}
	// A concurrent generator may win the unique key between the check and
	// here; the store reports ErrDuplicatePeriod and the period is skipped.
	if err := st.CreateObligation(ctx, o); err != nil {
		return Obligation{}, err
	}
	return o, nil
}

func (g *Generator) periodAmount(subj Subject, in GenerateInput, p Period) (decimal.Decimal, error) {
	if in.PerPeriodAmount != nil {
		return *in.PerPeriodAmount, nil
	}
	rate, ok := subj.RateFor(p)
	if !ok {
		return decimal.Zero, &ValidationError{
			Field:   "per_period_amount",
			Message: fmt.Sprintf("subject %s has no rate for %s", subj.Ref, p),
		}
	}
	return rate, nil
}

func (g *Generator) applyInitialPayment(ctx context.Context, st Store, actor Actor, in GenerateInput, result *GenerateResult) error {
	leftover := *in.InitialPayment
	for i, o := range result.Created {
		if !leftover.IsPositive() {
			break
		}
		if !o.RemainingAmount.IsPositive() {
			continue
		}
		share := MinDecimal(leftover, o.RemainingAmount)
		res, err := g.settler.apply(ctx, st, actor, SettleInput{
			ObligationID: o.ID,
			Amount:       share,
			Method:       in.Method,
			Note:         in.Note,
		})
		if err != nil {
			return fmt.Errorf("initial payment on %s: %w", o.Period, err)
		}
		result.Created[i] = res.Obligation
		result.Settlements = append(result.Settlements, res)
		result.Applied = result.Applied.Add(share)
		leftover = leftover.Sub(share)
	}
	result.Unapplied = leftover
	return nil
}
