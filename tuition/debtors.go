/*
debtors.go - Students with unpaid tuition

PURPOSE:
  The read-side projection behind the "debtors" list: every student with at
  least one open tuition obligation, the total still owed and the periods it
  is owed for. Cancelled and fully paid obligations never appear; neither do
  waived (zero amount) months.

ORDERING:
  Debtors with the oldest unpaid period come first; ties by larger debt,
  then by student id.

SEE ALSO:
  - salary/payroll.go: the mirror projection for employees
*/
package tuition

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
)

// ObligationLister is the part of generic.Obligations the projections need.
type ObligationLister interface {
	List(ctx context.Context, actor generic.Actor, filter generic.ObligationFilter) ([]generic.Obligation, error)
}

type Debtor struct {
	Student     generic.SubjectID
	Outstanding decimal.Decimal
	Periods     []generic.Period
	OneOff      int // open obligations without a period
	Oldest      *generic.Period
}

// Debtors lists students who still owe tuition in the actor's tenant.
func Debtors(ctx context.Context, obligations ObligationLister, actor generic.Actor) ([]Debtor, error) {
	open, err := obligations.List(ctx, actor, generic.ObligationFilter{
		Kind:     KindStudent.KindID(),
		OpenOnly: true,
	})
	if err != nil {
		return nil, err
	}

	byStudent := make(map[generic.SubjectID]*Debtor)
	var order []generic.SubjectID
	for _, o := range open {
		d, ok := byStudent[o.Subject.ID]
		if !ok {
			d = &Debtor{Student: o.Subject.ID, Outstanding: decimal.Zero}
			byStudent[o.Subject.ID] = d
			order = append(order, o.Subject.ID)
		}
		d.Outstanding = d.Outstanding.Add(o.RemainingAmount)
		if o.Period == nil {
			d.OneOff++
			continue
		}
		d.Periods = append(d.Periods, *o.Period)
		if d.Oldest == nil || o.Period.Before(*d.Oldest) {
			p := *o.Period
			d.Oldest = &p
		}
	}

	result := make([]Debtor, 0, len(order))
	for _, id := range order {
		d := byStudent[id]
		sort.Slice(d.Periods, func(i, j int) bool { return d.Periods[i].Before(d.Periods[j]) })
		result = append(result, *d)
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		switch {
		case a.Oldest != nil && b.Oldest == nil:
			return true
		case a.Oldest == nil && b.Oldest != nil:
			return false
		case a.Oldest != nil && *a.Oldest != *b.Oldest:
			return a.Oldest.Before(*b.Oldest)
		case !a.Outstanding.Equal(b.Outstanding):
			return a.Outstanding.GreaterThan(b.Outstanding)
		}
		return a.Student < b.Student
	})
	return result, nil
}

// TotalOutstanding sums what every debtor owes.
func TotalOutstanding(debtors []Debtor) decimal.Decimal {
	total := decimal.Zero
	for _, d := range debtors {
		total = total.Add(d.Outstanding)
	}
	return total
}
