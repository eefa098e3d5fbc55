/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	school data for demos and frontend development. Each scenario registers
	subjects through the factory presets and then drives the same engine
	operations the API exposes: generation, settlement, rate changes,
	expenses.

AVAILABLE SCENARIOS:

	school-year:  Students, teachers and expenses for the 2024/25 year
	debtors:      Students at different stages of paying, for the debtors list
	rate-change:  Tuition raised from January; autumn months keep the old fee
	payroll:      September salaries, some paid, some partially

HOW SCENARIOS WORK:
 1. Reset the store (all tenants)
 2. Register subjects from preset JSON
 3. Generate monthly obligations, with initial payments where relevant
 4. Apply further settlements and expenses

All writes go through the engine as the requesting actor, so the role
rules still apply: loading needs ADMIN or ACCOUNTANT.

NOTE:

	Scenarios reset the store. The routes are only mounted when
	http.enable_scenarios is set, which production config forbids.

SEE ALSO:
  - tuition/factory.go, salary/factory.go: subject presets
  - factory/subject.go: JSON parsing
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/salary"
	"github.com/warp/settlement-engine/tuition"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "school-year",
		Name:        "School Year 2024/25",
		Description: "Students with prepayments, a scholarship, a contract student, two employees and operating expenses",
		Category:    "mixed",
	},
	{
		ID:          "debtors",
		Name:        "Debtors",
		Description: "Students who paid in full, in part, or not at all",
		Category:    "tuition",
	},
	{
		ID:          "rate-change",
		Name:        "Tuition Increase",
		Description: "Fee raised from January 2025; September to December keep the old amount",
		Category:    "tuition",
	},
	{
		ID:          "payroll",
		Name:        "September Payroll",
		Description: "Teachers and staff with paid, partial and unpaid salaries",
		Category:    "salary",
	},
}

// resetter is implemented by stores that can drop all data.
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "scenarios": scenarios})
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "scenario": s})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "scenario": nil})
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(actorFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	var req LoadScenarioRequest
	if err := h.decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	load, ok := h.scenarioLoaders()[req.ScenarioID]
	if !ok {
		h.writeError(w, r, &generic.ValidationError{
			Field:   "scenario_id",
			Message: fmt.Sprintf("unknown scenario %q", req.ScenarioID),
		})
		return
	}

	ctx := r.Context()
	actor := actorFrom(r)
	if err := h.reset(ctx, actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := load(ctx, actor); err != nil {
		h.writeError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}

	h.mu.Lock()
	h.currentScenario = req.ScenarioID
	h.mu.Unlock()
	h.log.Info("scenario loaded",
		zap.String("scenario", req.ScenarioID),
		zap.String("tenant_id", string(actor.TenantID)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "scenario_id": req.ScenarioID})
}

// ResetDatabase drops all data.
// POST /api/scenarios/reset
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.reset(r.Context(), actorFrom(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.mu.Lock()
	h.currentScenario = ""
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "status": "reset"})
}

// requireAdmin guards the scenario routes; they wipe every tenant.
func requireAdmin(actor generic.Actor) error {
	if actor.TenantID == "" || actor.ActorID == "" || actor.Role != generic.RoleAdmin {
		return fmt.Errorf("%w: reset requires ADMIN", generic.ErrUnauthorized)
	}
	return nil
}

func (h *Handler) reset(ctx context.Context, actor generic.Actor) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	rs, ok := h.Engine.Store.(resetter)
	if !ok {
		return fmt.Errorf("store %T cannot be reset", h.Engine.Store)
	}
	return rs.Reset(ctx)
}

func (h *Handler) scenarioLoaders() map[string]func(context.Context, generic.Actor) error {
	return map[string]func(context.Context, generic.Actor) error{
		"school-year": h.loadSchoolYearScenario,
		"debtors":     h.loadDebtorsScenario,
		"rate-change": h.loadRateChangeScenario,
		"payroll":     h.loadPayrollScenario,
	}
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func (h *Handler) loadSchoolYearScenario(ctx context.Context, actor generic.Actor) error {
	for _, js := range []string{
		tuition.MonthlyTuitionJSON("stu-001", "Aziza Karimova", "1200000", "2024-09-01"),
		tuition.MonthlyTuitionJSON("stu-002", "Bekzod Tursunov", "1200000", "2024-09-01"),
		tuition.ScholarshipJSON("stu-003", "Dilnoza Rahimova", "2024-09-01"),
		tuition.ContractStudentJSON("stu-004", "Jasur Aliyev"),
		salary.TeacherSalaryJSON("tch-001", "Nodira Yusupova", "6000000", "2024-09-01"),
		salary.StaffSalaryJSON("stf-001", "Rustam Qodirov", "3500000", "2024-09-01"),
	} {
		if err := h.registerFromJSON(ctx, actor, js); err != nil {
			return err
		}
	}

	// Three months prepaid in cash.
	if _, err := h.generate(ctx, actor, tuition.Student("stu-001"), 9, 2024, 10, generic.MethodCash, uzs(3_600_000)); err != nil {
		return err
	}
	// September paid, October partially.
	if _, err := h.generate(ctx, actor, tuition.Student("stu-002"), 9, 2024, 10, generic.MethodClick, uzs(1_500_000)); err != nil {
		return err
	}
	if _, err := h.generate(ctx, actor, tuition.Student("stu-003"), 9, 2024, 10, "", nil); err != nil {
		return err
	}

	contract, err := h.Engine.Obligations.Create(ctx, actor, generic.CreateObligationInput{
		Subject:     tuition.Student("stu-004"),
		Amount:      generic.UZS(5_000_000),
		Description: "contract fee 2024/25",
	})
	if err != nil {
		return err
	}
	if err := h.settle(ctx, actor, contract.ID, 2_000_000, generic.MethodTransfer, "first installment"); err != nil {
		return err
	}

	for _, emp := range []struct {
		ref    generic.SubjectRef
		method generic.Method
	}{
		{salary.Teacher("tch-001"), generic.MethodCard},
		{salary.Staff("stf-001"), generic.MethodCash},
	} {
		res, err := h.generate(ctx, actor, emp.ref, 9, 2024, 4, "", nil)
		if err != nil {
			return err
		}
		sep := res.Created[0]
		if err := h.settle(ctx, actor, sep.ID, sep.Amount.IntPart(), emp.method, "September salary"); err != nil {
			return err
		}
	}

	for _, e := range []generic.ExpenseInput{
		{CategoryID: "kitchen", Amount: generic.UZS(850_000), Method: generic.MethodCash, Note: "groceries"},
		{CategoryID: "utilities", Amount: generic.UZS(1_200_000), Method: generic.MethodTransfer, Note: "electricity"},
	} {
		if _, err := h.Engine.Expenses.Record(ctx, actor, e); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadDebtorsScenario(ctx context.Context, actor generic.Actor) error {
	students := []struct {
		id, name string
		paid     int64
	}{
		{"stu-101", "Malika Ismoilova", 4_000_000}, // all four months
		{"stu-102", "Sardor Nazarov", 1_500_000},   // one and a half
		{"stu-103", "Kamola Ergasheva", 0},
		{"stu-104", "Otabek Saidov", 500_000},
	}
	for _, s := range students {
		if err := h.registerFromJSON(ctx, actor, tuition.MonthlyTuitionJSON(s.id, s.name, "1000000", "2024-09-01")); err != nil {
			return err
		}
		var initial *decimal.Decimal
		if s.paid > 0 {
			initial = uzs(s.paid)
		}
		if _, err := h.generate(ctx, actor, tuition.Student(s.id), 9, 2024, 4, generic.MethodCash, initial); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadRateChangeScenario(ctx context.Context, actor generic.Actor) error {
	refs := []generic.SubjectRef{tuition.Student("stu-201"), tuition.Student("stu-202")}
	for i, name := range []string{"Shahzoda Umarova", "Timur Hasanov"} {
		js := tuition.MonthlyTuitionJSON(string(refs[i].ID), name, "1000000", "2024-09-01")
		if err := h.registerFromJSON(ctx, actor, js); err != nil {
			return err
		}
		if _, err := h.generate(ctx, actor, refs[i], 9, 2024, 4, "", nil); err != nil {
			return err
		}
	}

	if _, err := h.Engine.Rates.Apply(ctx, actor, generic.RateChangeInput{
		Subjects:      refs,
		NewRate:       generic.UZS(1_150_000),
		EffectiveFrom: generic.Date(2025, time.January, 1),
	}); err != nil {
		return err
	}

	for _, ref := range refs {
		if _, err := h.generate(ctx, actor, ref, 1, 2025, 5, "", nil); err != nil {
			return err
		}
	}
	return nil
}

func (h *Handler) loadPayrollScenario(ctx context.Context, actor generic.Actor) error {
	employees := []struct {
		json string
		ref  generic.SubjectRef
		pay  int64
	}{
		{salary.TeacherSalaryJSON("tch-101", "Gulnora Mirzayeva", "7000000", "2024-09-01"), salary.Teacher("tch-101"), 7_000_000},
		{salary.TeacherSalaryJSON("tch-102", "Akmal Yo'ldoshev", "6500000", "2024-09-01"), salary.Teacher("tch-102"), 3_000_000},
		{salary.TeacherSalaryJSON("tch-103", "Feruza Abdullayeva", "6000000", "2024-09-01"), salary.Teacher("tch-103"), 0},
		{salary.StaffSalaryJSON("stf-101", "Bahodir Karimov", "3200000", "2024-09-01"), salary.Staff("stf-101"), 3_200_000},
		{salary.StaffSalaryJSON("stf-102", "Zarina Tosheva", "2800000", "2024-09-01"), salary.Staff("stf-102"), 1_000_000},
	}
	for _, e := range employees {
		if err := h.registerFromJSON(ctx, actor, e.json); err != nil {
			return err
		}
		res, err := h.generate(ctx, actor, e.ref, 9, 2024, 1, "", nil)
		if err != nil {
			return err
		}
		if e.pay > 0 {
			if err := h.settle(ctx, actor, res.Created[0].ID, e.pay, generic.MethodTransfer, "September salary"); err != nil {
				return err
			}
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (h *Handler) registerFromJSON(ctx context.Context, actor generic.Actor, js string) error {
	in, err := h.Subjects.ParseSubject(js)
	if err != nil {
		return err
	}
	_, err = h.Engine.Subjects.Register(ctx, actor, in)
	return err
}

func (h *Handler) generate(ctx context.Context, actor generic.Actor, ref generic.SubjectRef, month, year, count int, method generic.Method, initial *decimal.Decimal) (generic.GenerateResult, error) {
	return h.Engine.Generator.Generate(ctx, actor, generic.GenerateInput{
		Subject:        ref,
		StartMonth:     month,
		StartYear:      year,
		Count:          count,
		Method:         method,
		InitialPayment: initial,
	})
}

func (h *Handler) settle(ctx context.Context, actor generic.Actor, id generic.ObligationID, amount int64, method generic.Method, note string) error {
	_, err := h.Engine.Settler.Apply(ctx, actor, generic.SettleInput{
		ObligationID: id,
		Amount:       generic.UZS(amount),
		Method:       method,
		Note:         note,
	})
	return err
}

func uzs(units int64) *decimal.Decimal {
	d := generic.UZS(units)
	return &d
}
