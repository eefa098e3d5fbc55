/*
handlers.go - HTTP API handlers for the settlement engine

PURPOSE:
  Exposes the settlement engine via REST API. Handles HTTP request/response,
  JSON serialization and validation, and delegates to the core services.
  Handlers never check roles or tenants themselves; the core does, using
  the actor resolved by WithActor.

ENDPOINTS:
  Obligations:
    GET    /api/obligations                      List (kind, subject_id, status, year, month, open)
    POST   /api/obligations                      Create a single obligation
    GET    /api/obligations/{id}                 Get one
    DELETE /api/obligations/{id}                 Delete (only without payments)
    GET    /api/obligations/{id}/contributions   Settlement history
    GET    /api/obligations/{id}/verify          Recompute from contributions
    POST   /api/obligations/{id}/settlements     Apply a partial payment
    POST   /api/obligations/{id}/cancel          Cancel (ADMIN)

  Subjects:
    GET    /api/subjects                         List (kind)
    POST   /api/subjects                         Register with starting rate
    GET    /api/subjects/{kind}/{id}             Get with rate history
    POST   /api/subjects/{kind}/{id}/periods     Bulk monthly generation

  Other:
    POST   /api/rates                            Bulk rate change
    POST   /api/expenses                         Record operating expense
    GET    /api/reports/balance?from=&to=        Cash/card income/expense split
    GET    /api/reports/monthly?year=            Twelve monthly rows
    GET    /api/reports/debtors                  Students with open tuition
    GET    /api/reports/payroll?month=&year=     Salary owed and paid

ERROR HANDLING:
  Failures are {success:false, error, error_kind}; statusForKind maps each
  error kind to an HTTP status. Internal errors are logged and their text is
  not returned to the client.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/logging"
	"github.com/warp/settlement-engine/salary"
	"github.com/warp/settlement-engine/tuition"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine   *generic.Engine
	Subjects *factory.SubjectFactory

	log      *zap.Logger
	validate *validator.Validate
	clock    generic.Clock

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a handler over engine. clock is only used for the
// "current rate" shown on subjects; nil means the system clock.
func NewHandler(engine *generic.Engine, logger *zap.Logger, clock generic.Clock) *Handler {
	if clock == nil {
		clock = generic.SystemClock{}
	}
	return &Handler{
		Engine:   engine,
		Subjects: factory.NewSubjectFactory(),
		log:      logging.OrNop(logger).Named("api"),
		validate: newValidator(),
		clock:    clock,
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "ok"})
}

// =============================================================================
// OBLIGATION HANDLERS
// =============================================================================

// ListObligations returns the tenant's obligations.
// GET /api/obligations
func (h *Handler) ListObligations(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionRead) {
		return
	}
	filter, err := parseObligationFilter(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	obs, err := h.Engine.Obligations.List(r.Context(), actorFrom(r), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"obligations": toObligationDTOs(obs),
	})
}

func parseObligationFilter(r *http.Request) (generic.ObligationFilter, error) {
	q := r.URL.Query()
	filter := generic.ObligationFilter{
		Kind:      q.Get("kind"),
		SubjectID: generic.SubjectID(q.Get("subject_id")),
		OpenOnly:  q.Get("open") == "true",
	}
	if s := q.Get("status"); s != "" {
		st := generic.Status(strings.ToUpper(s))
		if !st.IsValid() {
			return filter, &generic.ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", s)}
		}
		filter.Status = st
	}
	year, err := queryInt(r, "year")
	if err != nil {
		return filter, err
	}
	month, err := queryInt(r, "month")
	if err != nil {
		return filter, err
	}
	switch {
	case month != 0:
		p, err := generic.NewPeriod(month, year)
		if err != nil {
			return filter, err
		}
		filter.Period = &p
	case year != 0:
		filter.Year = year
	}
	return filter, nil
}

// CreateObligation records a single obligation (one invoice or salary entry).
// POST /api/obligations
func (h *Handler) CreateObligation(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionCreate) {
		return
	}
	var req CreateObligationRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	ref, err := parseRef(req.Kind, req.SubjectID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in := generic.CreateObligationInput{
		Subject:     ref,
		Amount:      amount,
		Description: req.Description,
	}
	if req.Month != 0 {
		p, err := generic.NewPeriod(req.Month, req.Year)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		in.Period = &p
	}

	o, err := h.Engine.Obligations.Create(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":    true,
		"obligation": toObligationDTO(o),
	})
}

// GetObligation returns one obligation.
// GET /api/obligations/{id}
func (h *Handler) GetObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Obligations.Get(r.Context(), actorFrom(r), obligationID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"obligation": toObligationDTO(o),
	})
}

// DeleteObligation removes an obligation that never received a payment.
// DELETE /api/obligations/{id}
func (h *Handler) DeleteObligation(w http.ResponseWriter, r *http.Request) {
	if err := h.Engine.Obligations.Delete(r.Context(), actorFrom(r), obligationID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "deleted"})
}

// ListContributions returns the settlement history of one obligation.
// GET /api/obligations/{id}/contributions
func (h *Handler) ListContributions(w http.ResponseWriter, r *http.Request) {
	contribs, err := h.Engine.Obligations.Contributions(r.Context(), actorFrom(r), obligationID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]ContributionDTO, 0, len(contribs))
	for _, c := range contribs {
		dtos = append(dtos, toContributionDTO(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "contributions": dtos})
}

// VerifyObligation checks the stored totals against the contribution log.
// GET /api/obligations/{id}/verify
func (h *Handler) VerifyObligation(w http.ResponseWriter, r *http.Request) {
	o, err := h.Engine.Obligations.Verify(r.Context(), actorFrom(r), obligationID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"consistent": true,
		"obligation": toObligationDTO(o),
	})
}

// Settle applies one partial (or final) payment.
// POST /api/obligations/{id}/settlements
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionSettle) {
		return
	}
	var req SettleRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Engine.Settler.Apply(r.Context(), actorFrom(r), generic.SettleInput{
		ObligationID: obligationID(r),
		Amount:       amount,
		Method:       generic.Method(strings.ToUpper(req.Method)),
		Note:         req.Note,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, SettlementDTO{
		Success:         true,
		PaidAmount:      amountString(res.PaidAmount),
		RemainingAmount: amountString(res.RemainingAmount),
		Status:          string(res.Status),
		IsCompleted:     res.IsCompleted,
		Obligation:      toObligationDTO(res.Obligation),
		Contribution:    toContributionDTO(res.Contribution),
	})
}

// CancelObligation cancels an unpaid or partially paid obligation.
// POST /api/obligations/{id}/cancel
func (h *Handler) CancelObligation(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionCancel) {
		return
	}
	var req CancelRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	o, err := h.Engine.Obligations.Cancel(r.Context(), actorFrom(r), obligationID(r), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"obligation": toObligationDTO(o),
	})
}

// =============================================================================
// SUBJECT HANDLERS
// =============================================================================

// ListSubjects returns the tenant's subjects, optionally of one kind.
// GET /api/subjects?kind=student
func (h *Handler) ListSubjects(w http.ResponseWriter, r *http.Request) {
	subjects, err := h.Engine.Subjects.List(r.Context(), actorFrom(r), r.URL.Query().Get("kind"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	now := h.clock.Now()
	dtos := make([]SubjectDTO, 0, len(subjects))
	for _, s := range subjects {
		dtos = append(dtos, toSubjectDTO(s, now))
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "subjects": dtos})
}

// RegisterSubject creates a student or employee with an optional starting rate.
// POST /api/subjects
func (h *Handler) RegisterSubject(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionManageSubjects) {
		return
	}
	var req RegisterSubjectRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	in, err := h.Subjects.FromJSON(factory.SubjectJSON{
		Kind:          req.Kind,
		ID:            req.ID,
		Name:          req.Name,
		Rate:          req.Rate,
		EffectiveFrom: req.EffectiveFrom,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	subj, err := h.Engine.Subjects.Register(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"subject": toSubjectDTO(subj, h.clock.Now()),
	})
}

// GetSubject returns one subject with its rate history.
// GET /api/subjects/{kind}/{id}
func (h *Handler) GetSubject(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionRead) {
		return
	}
	ref, err := parseRef(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	subj, err := h.Engine.Subjects.Get(r.Context(), actorFrom(r), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"subject": toSubjectDTO(subj, h.clock.Now()),
	})
}

// GeneratePeriods creates consecutive monthly obligations for one subject.
// POST /api/subjects/{kind}/{id}/periods
func (h *Handler) GeneratePeriods(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionGenerate) {
		return
	}
	ref, err := parseRef(chi.URLParam(r, "kind"), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req GenerateRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	in := generic.GenerateInput{
		Subject:     ref,
		StartMonth:  req.StartMonth,
		StartYear:   req.StartYear,
		Count:       req.Count,
		Method:      generic.Method(strings.ToUpper(req.Method)),
		Description: req.Description,
		Note:        req.Note,
	}
	if in.PerPeriodAmount, err = optionalAmount("per_period_amount", req.PerPeriodAmount); err != nil {
		h.writeError(w, r, err)
		return
	}
	if in.InitialPayment, err = optionalAmount("initial_payment", req.InitialPayment); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.Engine.Generator.Generate(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	skipped := make([]string, 0, len(res.Skipped))
	for _, p := range res.Skipped {
		skipped = append(skipped, p.String())
	}
	writeJSON(w, http.StatusOK, GenerateDTO{
		Success:     true,
		Created:     len(res.Created),
		Skipped:     len(res.Skipped),
		SkippedList: skipped,
		TotalAmount: amountString(res.TotalAmount),
		Applied:     amountString(res.Applied),
		Unapplied:   amountString(res.Unapplied),
		Obligations: toObligationDTOs(res.Created),
	})
}

// =============================================================================
// RATES AND EXPENSES
// =============================================================================

// ChangeRates appends a new rate to every listed subject.
// POST /api/rates
func (h *Handler) ChangeRates(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionChangeRates) {
		return
	}
	var req RateChangeRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	in := generic.RateChangeInput{Subjects: make([]generic.SubjectRef, 0, len(req.Subjects))}
	for _, s := range req.Subjects {
		ref, err := parseRef(s.Kind, s.ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		in.Subjects = append(in.Subjects, ref)
	}
	rate, err := generic.ParseAmount(req.NewRate)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in.NewRate = rate
	// the datetime tag already checked the layout
	in.EffectiveFrom, _ = time.Parse(generic.DateLayout, req.EffectiveFrom)

	res, err := h.Engine.Rates.Apply(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, RateChangeDTO{Success: true, UpdatedCount: res.UpdatedCount})
}

// RecordExpense adds an entry to the operating expense ledger.
// POST /api/expenses
func (h *Handler) RecordExpense(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionRecordExpense) {
		return
	}
	var req ExpenseRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := generic.ParseAmount(req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	in := generic.ExpenseInput{
		CategoryID: generic.CategoryID(req.CategoryID),
		Amount:     amount,
		Method:     generic.Method(strings.ToUpper(req.Method)),
		Note:       req.Note,
	}
	if req.SpentAt != "" {
		in.SpentAt, _ = time.Parse(generic.DateLayout, req.SpentAt)
	}

	e, err := h.Engine.Expenses.Record(r.Context(), actorFrom(r), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "expense": toExpenseDTO(e)})
}

// =============================================================================
// REPORTS
// =============================================================================

// BalanceReport returns the income/expense split over a day range.
// GET /api/reports/balance?from=2024-01-01&to=2024-01-31
func (h *Handler) BalanceReport(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionReport) {
		return
	}
	win, err := generic.NewWindow(r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	report, err := h.Engine.Reporter.Balance(r.Context(), actorFrom(r), win)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toBalanceDTO(report))
}

// MonthlyReport returns one balance row per month of a year.
// GET /api/reports/monthly?year=2024
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionReport) {
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if year == 0 {
		year = h.clock.Now().Year()
	}
	report, err := h.Engine.Reporter.Monthly(r.Context(), actorFrom(r), year)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyDTO(report))
}

// Debtors lists students with open tuition.
// GET /api/reports/debtors
func (h *Handler) Debtors(w http.ResponseWriter, r *http.Request) {
	debtors, err := tuition.Debtors(r.Context(), h.Engine.Obligations, actorFrom(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]DebtorDTO, 0, len(debtors))
	for _, d := range debtors {
		dtos = append(dtos, toDebtorDTO(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"debtors":           dtos,
		"total_outstanding": amountString(tuition.TotalOutstanding(debtors)),
	})
}

// Payroll returns salary owed and paid for one month.
// GET /api/reports/payroll?month=9&year=2024
func (h *Handler) Payroll(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r, generic.ActionReport) {
		return
	}
	month, err := queryInt(r, "month")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	year, err := queryInt(r, "year")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	period := generic.PeriodOf(h.clock.Now())
	if month != 0 || year != 0 {
		if period, err = generic.NewPeriod(month, year); err != nil {
			h.writeError(w, r, err)
			return
		}
	}

	payroll, err := salary.BuildPayroll(r.Context(), h.Engine.Obligations, actorFrom(r), period)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPayrollDTO(payroll))
}

// =============================================================================
// HELPERS
// =============================================================================

// authorize runs the role check ahead of body and query parsing, so a
// caller without the role gets UNAUTHORIZED whatever it sent.
func (h *Handler) authorize(w http.ResponseWriter, r *http.Request, action generic.Action) bool {
	if err := h.Engine.Guard.Authorize(actorFrom(r), action); err != nil {
		h.writeError(w, r, err)
		return false
	}
	return true
}

func obligationID(r *http.Request) generic.ObligationID {
	return generic.ObligationID(chi.URLParam(r, "id"))
}

func parseRef(kind, id string) (generic.SubjectRef, error) {
	k, err := generic.ParseKind(strings.TrimSpace(kind))
	if err != nil {
		return generic.SubjectRef{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return generic.SubjectRef{}, &generic.ValidationError{Field: "id", Message: "subject id is required"}
	}
	return generic.SubjectRef{Kind: k, ID: generic.SubjectID(id)}, nil
}

func optionalAmount(field, s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := generic.ParseAmount(s)
	if err != nil {
		var ve *generic.ValidationError
		if errors.As(err, &ve) {
			ve.Field = field
		}
		return nil, err
	}
	return &d, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, &generic.ValidationError{Field: key, Message: fmt.Sprintf("expected an integer, got %q", s)}
	}
	return n, nil
}

// decode reads a JSON body into dst and runs the struct's validate tags.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &generic.ValidationError{Field: "body", Message: "invalid JSON: " + err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return &generic.ValidationError{
				Field:   fe.Field(),
				Message: fmt.Sprintf("failed %q check", fe.Tag()),
			}
		}
		return &generic.ValidationError{Field: "body", Message: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// statusForKind maps a core error kind to an HTTP status.
func statusForKind(kind generic.ErrorKind) int {
	switch kind {
	case generic.ErrKindValidation, generic.ErrKindAmountNotPositive, generic.ErrKindNoPeriodsRequested:
		return http.StatusBadRequest
	case generic.ErrKindUnauthorized:
		return http.StatusForbidden
	case generic.ErrKindNotFound, generic.ErrKindSubjectNotFound:
		return http.StatusNotFound
	case generic.ErrKindExceedsRemaining:
		return http.StatusUnprocessableEntity
	case generic.ErrKindAlreadySettled, generic.ErrKindObligationCancelled,
		generic.ErrKindDuplicatePeriod, generic.ErrKindDuplicateSubject,
		generic.ErrKindHasPayments, generic.ErrKindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := generic.KindOf(err)
	status := statusForKind(kind)
	resp := ErrorResponse{
		Success:   false,
		Error:     err.Error(),
		ErrorKind: string(kind),
	}

	var exceeds *generic.ExceedsRemainingError
	if errors.As(err, &exceeds) {
		resp.Allowed = amountString(exceeds.Allowed)
	}

	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		resp.Error = "internal error"
	}
	writeJSON(w, status, resp)
}
