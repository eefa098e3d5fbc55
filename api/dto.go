/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

CONVENTIONS:
  - *Request: request bodies, validated with go-playground/validator tags
  - *DTO: response payloads
  - Every amount is a decimal string ("300000", "1250.50"); numbers in JSON
    are never used for money.
  - Every response carries "success". Failures add "error" and "error_kind".

SEE ALSO:
  - handlers.go: uses these types
  - factory/subject.go: SubjectJSON, the subject onboarding format
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/salary"
	"github.com/warp/settlement-engine/tuition"
)

// =============================================================================
// ENVELOPES
// =============================================================================

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind"`
	Allowed   string `json:"allowed,omitempty"` // EXCEEDS_REMAINING only
}

// =============================================================================
// REQUESTS
// =============================================================================

type SubjectRefRequest struct {
	Kind string `json:"kind" validate:"required"`
	ID   string `json:"id" validate:"required,max=64"`
}

type RegisterSubjectRequest struct {
	Kind          string `json:"kind" validate:"required"`
	ID            string `json:"id" validate:"required,max=64"`
	Name          string `json:"name" validate:"required,max=200"`
	Rate          string `json:"rate,omitempty"`
	EffectiveFrom string `json:"effective_from,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type CreateObligationRequest struct {
	Kind        string `json:"kind" validate:"required"`
	SubjectID   string `json:"subject_id" validate:"required,max=64"`
	Month       int    `json:"month,omitempty" validate:"required_with=Year,gte=0,lte=12"`
	Year        int    `json:"year,omitempty" validate:"required_with=Month"`
	Amount      string `json:"amount" validate:"required"`
	Description string `json:"description,omitempty" validate:"max=500"`
}

type SettleRequest struct {
	Amount string `json:"amount" validate:"required"`
	Method string `json:"method" validate:"required"`
	Note   string `json:"note,omitempty" validate:"max=500"`
}

type GenerateRequest struct {
	StartMonth      int    `json:"start_month" validate:"min=1,max=12"`
	StartYear       int    `json:"start_year" validate:"required"`
	Count           int    `json:"count"`
	PerPeriodAmount string `json:"per_period_amount,omitempty"`
	Method          string `json:"method,omitempty"`
	InitialPayment  string `json:"initial_payment,omitempty"`
	Description     string `json:"description,omitempty" validate:"max=500"`
	Note            string `json:"note,omitempty" validate:"max=500"`
}

type RateChangeRequest struct {
	Subjects      []SubjectRefRequest `json:"subjects" validate:"required,min=1,dive"`
	NewRate       string              `json:"new_rate" validate:"required"`
	EffectiveFrom string              `json:"effective_from" validate:"required,datetime=2006-01-02"`
}

type CancelRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type ExpenseRequest struct {
	CategoryID string `json:"category_id" validate:"required,max=64"`
	Amount     string `json:"amount" validate:"required"`
	Method     string `json:"method" validate:"required"`
	SpentAt    string `json:"spent_at,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Note       string `json:"note,omitempty" validate:"max=500"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type ObligationDTO struct {
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	SubjectID       string  `json:"subject_id"`
	Period          string  `json:"period,omitempty"`
	Month           int     `json:"month,omitempty"`
	Year            int     `json:"year,omitempty"`
	Description     string  `json:"description,omitempty"`
	Amount          string  `json:"amount"`
	PaidAmount      string  `json:"paid_amount"`
	RemainingAmount string  `json:"remaining_amount"`
	Status          string  `json:"status"`
	PaymentMethod   string  `json:"payment_method,omitempty"`
	PaymentDate     *string `json:"payment_date,omitempty"`
	Notes           string  `json:"notes,omitempty"`
	Version         int64   `json:"version"`
	CreatedBy       string  `json:"created_by,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

type ContributionDTO struct {
	ID           string `json:"id"`
	ObligationID string `json:"obligation_id"`
	Kind         string `json:"kind"`
	SubjectID    string `json:"subject_id"`
	Amount       string `json:"amount"`
	Method       string `json:"method"`
	Direction    string `json:"direction"`
	ActorID      string `json:"actor_id"`
	RecordedAt   string `json:"recorded_at"`
	Note         string `json:"note,omitempty"`
}

type SettlementDTO struct {
	Success         bool            `json:"success"`
	PaidAmount      string          `json:"paid_amount"`
	RemainingAmount string          `json:"remaining_amount"`
	Status          string          `json:"status"`
	IsCompleted     bool            `json:"is_completed"`
	Obligation      ObligationDTO   `json:"obligation"`
	Contribution    ContributionDTO `json:"contribution"`
}

type GenerateDTO struct {
	Success     bool            `json:"success"`
	Created     int             `json:"created"`
	Skipped     int             `json:"skipped"`
	SkippedList []string        `json:"skipped_periods"`
	TotalAmount string          `json:"total_amount"`
	Applied     string          `json:"applied"`
	Unapplied   string          `json:"unapplied"`
	Obligations []ObligationDTO `json:"obligations"`
}

type RateChangeDTO struct {
	Success      bool `json:"success"`
	UpdatedCount int  `json:"updated_count"`
}

type RateDTO struct {
	Rate          string `json:"rate"`
	EffectiveFrom string `json:"effective_from,omitempty"`
	ActorID       string `json:"actor_id,omitempty"`
	RecordedAt    string `json:"recorded_at"`
}

type SubjectDTO struct {
	Kind        string    `json:"kind"`
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CurrentRate string    `json:"current_rate,omitempty"`
	Rates       []RateDTO `json:"rates"`
	CreatedAt   string    `json:"created_at"`
}

type ExpenseDTO struct {
	ID         string `json:"id"`
	CategoryID string `json:"category_id"`
	Amount     string `json:"amount"`
	Method     string `json:"method"`
	SpentAt    string `json:"spent_at"`
	Note       string `json:"note,omitempty"`
	ActorID    string `json:"actor_id"`
}

type MethodTotalsDTO struct {
	Income  string `json:"income"`
	Expense string `json:"expense"`
}

type BalanceDTO struct {
	Success      bool                       `json:"success"`
	From         string                     `json:"from"`
	To           string                     `json:"to"`
	CashIncome   string                     `json:"cash_income"`
	CashExpense  string                     `json:"cash_expense"`
	CardIncome   string                     `json:"card_income"`
	CardExpense  string                     `json:"card_expense"`
	TotalIncome  string                     `json:"total_income"`
	TotalExpense string                     `json:"total_expense"`
	Balance      string                     `json:"balance"`
	ByMethod     map[string]MethodTotalsDTO `json:"by_method"`
}

type MonthlyRowDTO struct {
	Period string     `json:"period"`
	Totals BalanceDTO `json:"totals"`
}

type MonthlyDTO struct {
	Success bool            `json:"success"`
	Year    int             `json:"year"`
	Months  []MonthlyRowDTO `json:"months"`
	Total   BalanceDTO      `json:"total"`
}

type DebtorDTO struct {
	StudentID   string   `json:"student_id"`
	Outstanding string   `json:"outstanding"`
	Periods     []string `json:"periods"`
	OneOff      int      `json:"one_off,omitempty"`
	Oldest      string   `json:"oldest,omitempty"`
}

type PayrollRowDTO struct {
	Kind         string `json:"kind"`
	EmployeeID   string `json:"employee_id"`
	ObligationID string `json:"obligation_id"`
	Owed         string `json:"owed"`
	Paid         string `json:"paid"`
	Remaining    string `json:"remaining"`
	Status       string `json:"status"`
}

type PayrollDTO struct {
	Success        bool            `json:"success"`
	Period         string          `json:"period"`
	Rows           []PayrollRowDTO `json:"rows"`
	TotalOwed      string          `json:"total_owed"`
	TotalPaid      string          `json:"total_paid"`
	TotalRemaining string          `json:"total_remaining"`
}

// ScenarioDTO describes a demo data set.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"` // tuition, salary, mixed
}

// =============================================================================
// CONVERTERS
// =============================================================================

func amountString(d decimal.Decimal) string {
	return d.String()
}

func toObligationDTO(o generic.Obligation) ObligationDTO {
	dto := ObligationDTO{
		ID:              string(o.ID),
		Kind:            o.Subject.Kind.KindID(),
		SubjectID:       string(o.Subject.ID),
		Description:     o.Description,
		Amount:          amountString(o.Amount),
		PaidAmount:      amountString(o.PaidAmount),
		RemainingAmount: amountString(o.RemainingAmount),
		Status:          string(o.Status),
		PaymentMethod:   string(o.PaymentMethod),
		Notes:           o.Notes,
		Version:         o.Version,
		CreatedBy:       string(o.CreatedBy),
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
	if o.Period != nil {
		dto.Period = o.Period.String()
		dto.Month = int(o.Period.Month)
		dto.Year = o.Period.Year
	}
	if o.PaymentDate != nil {
		s := o.PaymentDate.Format(time.RFC3339)
		dto.PaymentDate = &s
	}
	return dto
}

func toObligationDTOs(obs []generic.Obligation) []ObligationDTO {
	dtos := make([]ObligationDTO, 0, len(obs))
	for _, o := range obs {
		dtos = append(dtos, toObligationDTO(o))
	}
	return dtos
}

func toContributionDTO(c generic.Contribution) ContributionDTO {
	dto := ContributionDTO{
		ID:           string(c.ID),
		ObligationID: string(c.ObligationID),
		SubjectID:    string(c.Subject.ID),
		Amount:       amountString(c.Amount),
		Method:       string(c.Method),
		Direction:    string(c.Direction),
		ActorID:      string(c.ActorID),
		RecordedAt:   c.RecordedAt.Format(time.RFC3339),
		Note:         c.Note,
	}
	if c.Subject.Kind != nil {
		dto.Kind = c.Subject.Kind.KindID()
	}
	return dto
}

func toSubjectDTO(s generic.Subject, asOf time.Time) SubjectDTO {
	dto := SubjectDTO{
		Kind:      s.Ref.Kind.KindID(),
		ID:        string(s.Ref.ID),
		Name:      s.Name,
		Rates:     make([]RateDTO, 0, len(s.Rates)),
		CreatedAt: s.CreatedAt.Format(time.RFC3339),
	}
	if rate, ok := s.RateAt(asOf); ok {
		dto.CurrentRate = amountString(rate)
	}
	for _, rc := range s.Rates {
		r := RateDTO{
			Rate:       amountString(rc.Rate),
			ActorID:    string(rc.ActorID),
			RecordedAt: rc.RecordedAt.Format(time.RFC3339),
		}
		if !rc.EffectiveFrom.IsZero() {
			r.EffectiveFrom = rc.EffectiveFrom.Format(generic.DateLayout)
		}
		dto.Rates = append(dto.Rates, r)
	}
	return dto
}

func toExpenseDTO(e generic.Expense) ExpenseDTO {
	return ExpenseDTO{
		ID:         string(e.ID),
		CategoryID: string(e.CategoryID),
		Amount:     amountString(e.Amount),
		Method:     string(e.Method),
		SpentAt:    e.SpentAt.Format(generic.DateLayout),
		Note:       e.Note,
		ActorID:    string(e.ActorID),
	}
}

func toBalanceDTO(r generic.BalanceReport) BalanceDTO {
	dto := BalanceDTO{
		Success:      true,
		From:         r.Window.From.Format(generic.DateLayout),
		To:           r.Window.To.Format(generic.DateLayout),
		CashIncome:   amountString(r.CashIncome),
		CashExpense:  amountString(r.CashExpense),
		CardIncome:   amountString(r.CardIncome),
		CardExpense:  amountString(r.CardExpense),
		TotalIncome:  amountString(r.TotalIncome),
		TotalExpense: amountString(r.TotalExpense),
		Balance:      amountString(r.Balance),
		ByMethod:     make(map[string]MethodTotalsDTO, len(r.ByMethod)),
	}
	for m, t := range r.ByMethod {
		dto.ByMethod[string(m)] = MethodTotalsDTO{
			Income:  amountString(t.Income),
			Expense: amountString(t.Expense),
		}
	}
	return dto
}

func toMonthlyDTO(r generic.MonthlyReport) MonthlyDTO {
	dto := MonthlyDTO{
		Success: true,
		Year:    r.Year,
		Months:  make([]MonthlyRowDTO, 0, len(r.Months)),
		Total:   toBalanceDTO(r.Total),
	}
	for _, row := range r.Months {
		dto.Months = append(dto.Months, MonthlyRowDTO{
			Period: row.Period.String(),
			Totals: toBalanceDTO(row.BalanceReport),
		})
	}
	return dto
}

func toDebtorDTO(d tuition.Debtor) DebtorDTO {
	dto := DebtorDTO{
		StudentID:   string(d.Student),
		Outstanding: amountString(d.Outstanding),
		Periods:     make([]string, 0, len(d.Periods)),
		OneOff:      d.OneOff,
	}
	for _, p := range d.Periods {
		dto.Periods = append(dto.Periods, p.String())
	}
	if d.Oldest != nil {
		dto.Oldest = d.Oldest.String()
	}
	return dto
}

func toPayrollDTO(p salary.Payroll) PayrollDTO {
	dto := PayrollDTO{
		Success:        true,
		Period:         p.Period.String(),
		Rows:           make([]PayrollRowDTO, 0, len(p.Rows)),
		TotalOwed:      amountString(p.TotalOwed),
		TotalPaid:      amountString(p.TotalPaid),
		TotalRemaining: amountString(p.TotalRemaining),
	}
	for _, r := range p.Rows {
		dto.Rows = append(dto.Rows, PayrollRowDTO{
			Kind:         r.Employee.Kind.KindID(),
			EmployeeID:   string(r.Employee.ID),
			ObligationID: string(r.ObligationID),
			Owed:         amountString(r.Owed),
			Paid:         amountString(r.Paid),
			Remaining:    amountString(r.Remaining),
			Status:       string(r.Status),
		})
	}
	return dto
}
