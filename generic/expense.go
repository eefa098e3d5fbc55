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
// EXPENSE LEDGER - Operating outflows (kitchen, utilities, supplies)
// =============================================================================

type ExpenseInput struct {
	CategoryID CategoryID
	Amount     decimal.Decimal
	Method     Method
	SpentAt    time.Time // zero means now
	Note       string
}

func (in ExpenseInput) Validate() error {
	if strings.TrimSpace(string(in.CategoryID)) == "" {
		return &ValidationError{Field: "category_id", Message: "category is required"}
	}
	if !in.Amount.IsPositive() {
		return fmt.Errorf("%w: got %s", ErrAmountNotPositive, in.Amount)
	}
	if !in.Method.IsValid() {
		return &ValidationError{Field: "method", Message: fmt.Sprintf("unknown payment method %q", in.Method)}
	}
	return nil
}

type Expenses struct {
	deps
}

// Record appends one expense for the actor's tenant.
func (e *Expenses) Record(ctx context.Context, actor Actor, in ExpenseInput) (Expense, error) {
	if err := e.guard.Authorize(actor, ActionRecordExpense); err != nil {
		return Expense{}, err
	}
	if err := in.Validate(); err != nil {
		return Expense{}, err
	}

	now := e.now()
	spent := in.SpentAt
	if spent.IsZero() {
		spent = now
	}
	exp := Expense{
		ID:         ExpenseID(e.newID()),
		TenantID:   actor.TenantID,
		CategoryID: in.CategoryID,
		Amount:     in.Amount,
		Method:     in.Method,
		SpentAt:    spent.UTC(),
		Note:       strings.TrimSpace(in.Note),
		ActorID:    actor.ActorID,
		CreatedAt:  now,
	}
	if err := e.store.CreateExpense(ctx, exp); err != nil {
		return Expense{}, fmt.Errorf("record expense: %w", err)
	}

	e.log.Info("expense recorded",
		zap.String("tenant_id", string(actor.TenantID)),
		zap.String("category_id", string(in.CategoryID)),
		zap.String("amount", in.Amount.String()),
		zap.String("method", string(in.Method)),
	)
	return exp, nil
}
