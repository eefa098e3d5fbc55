/*
report.go - Income / expense aggregation

PURPOSE:
  Sums money that actually moved within a window. Income is every
  contribution on an INCOME subject (tuition); expense is every
  contribution on an EXPENSE subject (salary) plus the operating expense
  ledger. Invoiced but unpaid amounts never count.

METHOD SPLIT:
  Each amount is attributed to exactly one family: CASH, or the card family
  (CARD, CLICK, PAYME, UZUM, TRANSFER). The card subtypes are also reported
  one by one in ByMethod for drill-down.

  Balance = TotalIncome - TotalExpense and may be negative.

SEE ALSO:
  - settlement.go: produces the contributions summed here
  - expense.go: the operating expense ledger
*/
package generic

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type MethodTotals struct {
	Income  decimal.Decimal
	Expense decimal.Decimal
}

type BalanceReport struct {
	Window       Window
	CashIncome   decimal.Decimal
	CashExpense  decimal.Decimal
	CardIncome   decimal.Decimal
	CardExpense  decimal.Decimal
	TotalIncome  decimal.Decimal
	TotalExpense decimal.Decimal
	Balance      decimal.Decimal
	ByMethod     map[Method]MethodTotals
}

func newBalanceReport(w Window) BalanceReport {
	r := BalanceReport{
		Window:       w,
		CashIncome:   decimal.Zero,
		CashExpense:  decimal.Zero,
		CardIncome:   decimal.Zero,
		CardExpense:  decimal.Zero,
		TotalIncome:  decimal.Zero,
		TotalExpense: decimal.Zero,
		Balance:      decimal.Zero,
		ByMethod:     make(map[Method]MethodTotals, len(Methods)),
	}
	for _, m := range Methods {
		r.ByMethod[m] = MethodTotals{Income: decimal.Zero, Expense: decimal.Zero}
	}
	return r
}

func (r *BalanceReport) addIncome(m Method, amount decimal.Decimal) {
	if m.IsCash() {
		r.CashIncome = r.CashIncome.Add(amount)
	} else {
		r.CardIncome = r.CardIncome.Add(amount)
	}
	t := r.ByMethod[m]
	t.Income = t.Income.Add(amount)
	r.ByMethod[m] = t
}

func (r *BalanceReport) addExpense(m Method, amount decimal.Decimal) {
	if m.IsCash() {
		r.CashExpense = r.CashExpense.Add(amount)
	} else {
		r.CardExpense = r.CardExpense.Add(amount)
	}
	t := r.ByMethod[m]
	t.Expense = t.Expense.Add(amount)
	r.ByMethod[m] = t
}

func (r *BalanceReport) finish() {
	r.TotalIncome = r.CashIncome.Add(r.CardIncome)
	r.TotalExpense = r.CashExpense.Add(r.CardExpense)
	r.Balance = r.TotalIncome.Sub(r.TotalExpense)
}

// Aggregate is the pure core of the reporter. Entries outside w are ignored.
func Aggregate(w Window, contributions []Contribution, expenses []Expense) BalanceReport {
	r := newBalanceReport(w)
	for _, c := range contributions {
		if !w.Contains(c.RecordedAt) {
			continue
		}
		if c.Direction == DirectionExpense {
			r.addExpense(c.Method, c.Amount)
		} else {
			r.addIncome(c.Method, c.Amount)
		}
	}
	for _, e := range expenses {
		if !w.Contains(e.SpentAt) {
			continue
		}
		r.addExpense(e.Method, e.Amount)
	}
	r.finish()
	return r
}

// =============================================================================
// REPORTER
// =============================================================================

type Reporter struct {
	deps
}

// Balance computes the income/expense split for the actor's tenant.
func (r *Reporter) Balance(ctx context.Context, actor Actor, w Window) (BalanceReport, error) {
	if err := r.guard.Authorize(actor, ActionReport); err != nil {
		return BalanceReport{}, err
	}
	if err := w.Validate(); err != nil {
		return BalanceReport{}, err
	}
	contribs, expenses, err := r.load(ctx, actor.TenantID, w)
	if err != nil {
		return BalanceReport{}, err
	}
	return Aggregate(w, contribs, expenses), nil
}

type MonthlyRow struct {
	Period Period
	BalanceReport
}

type MonthlyReport struct {
	Year   int
	Months []MonthlyRow
	Total  BalanceReport
}

// Monthly returns twelve rows for year plus the yearly total.
func (r *Reporter) Monthly(ctx context.Context, actor Actor, year int) (MonthlyReport, error) {
	if err := r.guard.Authorize(actor, ActionReport); err != nil {
		return MonthlyReport{}, err
	}
	if _, err := NewPeriod(1, year); err != nil {
		return MonthlyReport{}, err
	}

	yw := YearWindow(year)
	contribs, expenses, err := r.load(ctx, actor.TenantID, yw)
	if err != nil {
		return MonthlyReport{}, err
	}

	report := MonthlyReport{Year: year, Total: Aggregate(yw, contribs, expenses)}
	for p := (Period{Month: time.January, Year: year}); p.Year == year; p = p.Next() {
		report.Months = append(report.Months, MonthlyRow{
			Period:        p,
			BalanceReport: Aggregate(MonthWindow(p), contribs, expenses),
		})
	}
	return report, nil
}

func (r *Reporter) load(ctx context.Context, tenant TenantID, w Window) ([]Contribution, []Expense, error) {
	lo, hi := w.Bounds()
	contribs, err := r.store.ContributionsBetween(ctx, tenant, lo, hi)
	if err != nil {
		return nil, nil, err
	}
	expenses, err := r.store.ExpensesBetween(ctx, tenant, lo, hi)
	if err != nil {
		return nil, nil, err
	}
	return contribs, expenses, nil
}
