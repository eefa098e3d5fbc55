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
// SUBJECT - A student or employee with a recurring rate history
// =============================================================================

// RateChange is one entry of a subject's rate history. Entries are only ever
// appended; a change never rewrites obligations that already exist.
type RateChange struct {
	Rate          decimal.Decimal
	EffectiveFrom time.Time
	ActorID       ActorID
	RecordedAt    time.Time
}

type Subject struct {
	TenantID  TenantID
	Ref       SubjectRef
	Name      string
	Rates     []RateChange
	CreatedAt time.Time
}

// RateFor returns the rate in force on the first day of p: the change with
// the latest EffectiveFrom not after that day. Of two changes with the same
// EffectiveFrom the later recorded one wins.
func (s Subject) RateFor(p Period) (decimal.Decimal, bool) {
	return s.RateAt(p.Start())
}

func (s Subject) RateAt(t time.Time) (decimal.Decimal, bool) {
	var (
		best  *RateChange
		found bool
	)
	for i := range s.Rates {
		rc := &s.Rates[i]
		if rc.EffectiveFrom.After(t) {
			continue
		}
		if !found || !rc.EffectiveFrom.Before(best.EffectiveFrom) {
			best, found = rc, true
		}
	}
	if !found {
		return decimal.Zero, false
	}
	return best.Rate, true
}

// =============================================================================
// SUBJECTS SERVICE
// =============================================================================

type RegisterSubjectInput struct {
	Ref           SubjectRef
	Name          string
	Rate          *decimal.Decimal
	EffectiveFrom time.Time
}

func (in RegisterSubjectInput) Validate() error {
	if in.Ref.IsZero() {
		return &ValidationError{Field: "subject", Message: "subject kind and id are required"}
	}
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if in.Rate != nil && in.Rate.IsNegative() {
		return &ValidationError{Field: "rate", Message: "rate must not be negative"}
	}
	return nil
}

type Subjects struct {
	deps
}

// Register creates a subject, optionally with its first rate.
func (s *Subjects) Register(ctx context.Context, actor Actor, in RegisterSubjectInput) (Subject, error) {
	if err := s.guard.Authorize(actor, ActionManageSubjects); err != nil {
		return Subject{}, err
	}
	if err := in.Validate(); err != nil {
		return Subject{}, err
	}

	now := s.now()
	subj := Subject{
		TenantID:  actor.TenantID,
		Ref:       in.Ref,
		Name:      strings.TrimSpace(in.Name),
		CreatedAt: now,
	}
	if in.Rate != nil {
		// A zero EffectiveFrom applies to every period.
		subj.Rates = []RateChange{{Rate: *in.Rate, EffectiveFrom: in.EffectiveFrom.UTC(), ActorID: actor.ActorID, RecordedAt: now}}
	}

	if err := s.store.CreateSubject(ctx, subj); err != nil {
		return Subject{}, fmt.Errorf("register subject %s: %w", in.Ref, err)
	}
	s.log.Info("subject registered",
		zap.String("tenant_id", string(actor.TenantID)),
		zap.String("subject", in.Ref.String()),
	)
	return subj, nil
}

func (s *Subjects) Get(ctx context.Context, actor Actor, ref SubjectRef) (Subject, error) {
	if err := s.guard.Authorize(actor, ActionRead); err != nil {
		return Subject{}, err
	}
	if ref.IsZero() {
		return Subject{}, &ValidationError{Field: "subject", Message: "subject kind and id are required"}
	}
	return s.store.GetSubject(ctx, actor.TenantID, ref)
}

// List returns the tenant's subjects; an empty kind lists all kinds.
func (s *Subjects) List(ctx context.Context, actor Actor, kind string) ([]Subject, error) {
	if err := s.guard.Authorize(actor, ActionRead); err != nil {
		return nil, err
	}
	return s.store.ListSubjects(ctx, actor.TenantID, kind)
}
