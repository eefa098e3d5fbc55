package generic

import (
	"fmt"
	"time"
)

// =============================================================================
// PERIOD - One calendar month an obligation is billed for
// =============================================================================

// Period is a calendar month. Obligations generated in bulk carry one; a
// one-off charge has none.
type Period struct {
	Month time.Month
	Year  int
}

func NewPeriod(month, year int) (Period, error) {
	p := Period{Month: time.Month(month), Year: year}
	return p, p.Validate()
}

func (p Period) Validate() error {
	if p.Month < time.January || p.Month > time.December {
		return &ValidationError{Field: "month", Message: fmt.Sprintf("month %d out of range 1..12", int(p.Month))}
	}
	if p.Year < 1900 || p.Year > 9999 {
		return &ValidationError{Field: "year", Message: fmt.Sprintf("year %d out of range", p.Year)}
	}
	return nil
}

// Next steps one month; December wraps to January of the next year.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Month: time.January, Year: p.Year + 1}
	}
	return Period{Month: p.Month + 1, Year: p.Year}
}

// Start is the first instant of the month in UTC.
func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

// End is the first instant of the following month.
func (p Period) End() time.Time {
	return p.Next().Start()
}

func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// WalkPeriods returns count consecutive periods starting at start.
func WalkPeriods(start Period, count int) []Period {
	if count <= 0 {
		return nil
	}
	periods := make([]Period, 0, count)
	p := start
	for i := 0; i < count; i++ {
		periods = append(periods, p)
		p = p.Next()
	}
	return periods
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Month: t.Month(), Year: t.Year()}
}

// =============================================================================
// WINDOW - Reporting range of calendar days
// =============================================================================

// Window is a reporting range over whole calendar days, inclusive on both
// ends: From 2024-01-01 To 2024-01-31 covers all of January.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow parses YYYY-MM-DD bounds.
func NewWindow(from, to string) (Window, error) {
	f, err := time.Parse(DateLayout, from)
	if err != nil {
		return Window{}, &ValidationError{Field: "from", Message: fmt.Sprintf("invalid date %q", from)}
	}
	t, err := time.Parse(DateLayout, to)
	if err != nil {
		return Window{}, &ValidationError{Field: "to", Message: fmt.Sprintf("invalid date %q", to)}
	}
	w := Window{From: f, To: t}
	return w, w.Validate()
}

// MonthWindow covers every day of one period.
func MonthWindow(p Period) Window {
	return Window{From: p.Start(), To: p.End().AddDate(0, 0, -1)}
}

// YearWindow covers every day of one calendar year.
func YearWindow(year int) Window {
	return Window{
		From: time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC),
	}
}

func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return &ValidationError{Field: "window", Message: "from and to are required"}
	}
	if startOfDay(w.From).After(startOfDay(w.To)) {
		return &ValidationError{Field: "window", Message: "from is after to"}
	}
	return nil
}

// Bounds returns the half-open instant range [lo, hi).
func (w Window) Bounds() (time.Time, time.Time) {
	return startOfDay(w.From), startOfDay(w.To).AddDate(0, 0, 1)
}

func (w Window) Contains(t time.Time) bool {
	lo, hi := w.Bounds()
	t = t.UTC()
	return !t.Before(lo) && t.Before(hi)
}

func (w Window) String() string {
	return "[" + w.From.Format(DateLayout) + ", " + w.To.Format(DateLayout) + "]"
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
