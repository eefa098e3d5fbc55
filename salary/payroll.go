package salary

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// PAYROLL - Salary owed and paid for one month
// =============================================================================

// ObligationLister is the part of generic.Obligations the projection needs.
type ObligationLister interface {
	List(ctx context.Context, actor generic.Actor, filter generic.ObligationFilter) ([]generic.Obligation, error)
}

type PayrollRow struct {
	Employee     generic.SubjectRef
	ObligationID generic.ObligationID
	Owed         decimal.Decimal
	Paid         decimal.Decimal
	Remaining    decimal.Decimal
	Status       generic.Status
}

type Payroll struct {
	Period         generic.Period
	Rows           []PayrollRow
	TotalOwed      decimal.Decimal
	TotalPaid      decimal.Decimal
	TotalRemaining decimal.Decimal
}

// BuildPayroll collects teacher and staff obligations for period.
// Cancelled obligations are left out.
func BuildPayroll(ctx context.Context, obligations ObligationLister, actor generic.Actor, period generic.Period) (Payroll, error) {
	if err := period.Validate(); err != nil {
		return Payroll{}, err
	}

	p := Payroll{
		Period:         period,
		TotalOwed:      decimal.Zero,
		TotalPaid:      decimal.Zero,
		TotalRemaining: decimal.Zero,
	}
	for _, kind := range Kinds {
		obs, err := obligations.List(ctx, actor, generic.ObligationFilter{
			Kind:   kind.KindID(),
			Period: &period,
		})
		if err != nil {
			return Payroll{}, err
		}
		for _, o := range obs {
			if o.Status == generic.StatusCancelled {
				continue
			}
			p.Rows = append(p.Rows, PayrollRow{
				Employee:     o.Subject,
				ObligationID: o.ID,
				Owed:         o.Amount,
				Paid:         o.PaidAmount,
				Remaining:    o.RemainingAmount,
				Status:       o.Status,
			})
			p.TotalOwed = p.TotalOwed.Add(o.Amount)
			p.TotalPaid = p.TotalPaid.Add(o.PaidAmount)
			p.TotalRemaining = p.TotalRemaining.Add(o.RemainingAmount)
		}
	}

	sort.SliceStable(p.Rows, func(i, j int) bool {
		a, b := p.Rows[i].Employee.Key(), p.Rows[j].Employee.Key()
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.ID < b.ID
	})
	return p, nil
}

// Unpaid returns the rows that still have something owed.
func (p Payroll) Unpaid() []PayrollRow {
	var rows []PayrollRow
	for _, r := range p.Rows {
		if r.Remaining.IsPositive() {
			rows = append(rows, r)
		}
	}
	return rows
}
