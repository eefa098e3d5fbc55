package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/store/sqlite"
	"github.com/warp/settlement-engine/tuition"
)

var accountant = generic.Actor{TenantID: "school-a", ActorID: "acc-1", Role: generic.RoleAccountant}

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(filepath.Join(t.TempDir(), "settlement.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func newEngine(t *testing.T, st *sqlite.Store, opts generic.Options) *generic.Engine {
	t.Helper()
	if opts.Clock == nil {
		opts.Clock = generic.NewFixedClock(time.Date(2024, time.November, 5, 10, 30, 0, 0, time.UTC))
	}
	return generic.NewEngine(st, opts)
}

func registerStudent(t *testing.T, eng *generic.Engine, id string, fee int64) generic.SubjectRef {
	t.Helper()
	rate := generic.UZS(fee)
	ref := tuition.Student(id)
	_, err := eng.Subjects.Register(context.Background(), accountant, generic.RegisterSubjectInput{
		Ref:           ref,
		Name:          "Student " + id,
		Rate:          &rate,
		EffectiveFrom: generic.Date(2024, time.September, 1),
	})
	require.NoError(t, err)
	return ref
}

// =============================================================================
// ROUND TRIPS
// =============================================================================

func TestStore_ObligationRoundTrip(t *testing.T) {
	// GIVEN: a student with two generated months
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 1_000_000)

	gen, err := eng.Generator.Generate(ctx, accountant, generic.GenerateInput{
		Subject: ref, StartMonth: 12, StartYear: 2024, Count: 2, Description: "Tuition",
	})
	require.NoError(t, err)
	require.Len(t, gen.Created, 2)

	// WHEN: the first month is partly paid
	_, err = eng.Settler.Apply(ctx, accountant, generic.SettleInput{
		ObligationID: gen.Created[0].ID, Amount: generic.MustParseDecimal("250000.50"), Method: generic.MethodClick, Note: "app",
	})
	require.NoError(t, err)

	// THEN: everything reads back exactly
	got, err := eng.Obligations.Get(ctx, accountant, gen.Created[0].ID)
	require.NoError(t, err)
	assert.Equal(t, tuition.KindStudent, got.Subject.Kind)
	assert.Equal(t, generic.Period{Month: time.December, Year: 2024}, *got.Period)
	assert.Equal(t, "250000.5", got.PaidAmount.String())
	assert.Equal(t, "749999.5", got.RemainingAmount.String())
	assert.Equal(t, generic.StatusPartiallyPaid, got.Status)
	assert.Equal(t, generic.MethodClick, got.PaymentMethod)
	require.NotNil(t, got.PaymentDate)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, "Tuition", got.Description)
	assert.Equal(t, "[2024-11-05 10:30] +250000.5 UZS via CLICK by acc-1: app", got.Notes)

	contribs, err := eng.Obligations.Contributions(ctx, accountant, got.ID)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, generic.DirectionIncome, contribs[0].Direction)

	verified, err := eng.Obligations.Verify(ctx, accountant, got.ID)
	require.NoError(t, err)
	assert.True(t, verified.PaidAmount.Equal(got.PaidAmount))

	jan := generic.Period{Month: time.January, Year: 2025}
	listed, err := eng.Obligations.List(ctx, accountant, generic.ObligationFilter{Kind: tuition.KindStudent.KindID(), Period: &jan})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, gen.Created[1].ID, listed[0].ID)
}

func TestStore_UniquePeriodKey(t *testing.T) {
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 100)

	p := generic.Period{Month: time.September, Year: 2024}
	o := generic.Obligation{
		ID: "o-1", TenantID: "school-a", Subject: ref, Period: &p,
		Amount: generic.UZS(100), PaidAmount: decimal.Zero, RemainingAmount: generic.UZS(100),
		Status: generic.StatusPending, Version: 1,
	}
	require.NoError(t, st.CreateObligation(ctx, o))

	o.ID = "o-2"
	err := st.CreateObligation(ctx, o)
	assert.ErrorIs(t, err, generic.ErrDuplicatePeriod)

	// One-off obligations carry no period and never collide.
	o.Period = nil
	require.NoError(t, st.CreateObligation(ctx, o))
	o.ID = "o-3"
	require.NoError(t, st.CreateObligation(ctx, o))

	// Another tenant may use the same key.
	o.ID, o.TenantID, o.Period = "o-4", "school-b", &p
	require.NoError(t, st.CreateObligation(ctx, o))
}

func TestStore_VersionCheck(t *testing.T) {
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 100)

	o, err := eng.Obligations.Create(ctx, accountant, generic.CreateObligationInput{Subject: ref, Amount: generic.UZS(100)})
	require.NoError(t, err)

	next := o
	next.Version = 2
	require.NoError(t, st.UpdateObligation(ctx, next, 1, nil))

	stale := o
	stale.Version = 2
	err = st.UpdateObligation(ctx, stale, 1, nil)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)

	err = st.UpdateObligation(ctx, generic.Obligation{ID: "nope", TenantID: "school-a"}, 1, nil)
	assert.ErrorIs(t, err, generic.ErrObligationNotFound)

	err = st.DeleteObligation(ctx, "school-a", o.ID, 1)
	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	require.NoError(t, st.DeleteObligation(ctx, "school-a", o.ID, 2))
}

func TestStore_SubjectsAndRates(t *testing.T) {
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 1_000_000)

	_, err := eng.Rates.Apply(ctx, accountant, generic.RateChangeInput{
		Subjects:      []generic.SubjectRef{ref},
		NewRate:       generic.UZS(1_200_000),
		EffectiveFrom: generic.Date(2025, time.January, 1),
	})
	require.NoError(t, err)

	subj, err := eng.Subjects.Get(ctx, accountant, ref)
	require.NoError(t, err)
	require.Len(t, subj.Rates, 2)
	rate, ok := subj.RateFor(generic.Period{Month: time.February, Year: 2025})
	require.True(t, ok)
	assert.Equal(t, "1200000", rate.String())

	err = st.CreateSubject(ctx, subj)
	assert.ErrorIs(t, err, generic.ErrDuplicateSubject)

	err = st.AppendRate(ctx, "school-a", tuition.Student("ghost"), generic.RateChange{Rate: generic.UZS(1), EffectiveFrom: generic.Date(2025, 1, 1)})
	assert.ErrorIs(t, err, generic.ErrSubjectNotFound)

	list, err := st.ListSubjects(ctx, "school-a", "student")
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 1_000_000)
	rate := generic.UZS(1_000_000)

	// WHEN: a transaction inserts an obligation and then fails
	err := st.WithTx(ctx, func(tx generic.Store) error {
		p := generic.Period{Month: time.December, Year: 2024}
		if err := tx.CreateObligation(ctx, generic.Obligation{
			ID: "tx-1", TenantID: "school-a", Subject: ref, Period: &p,
			Amount: rate, PaidAmount: decimal.Zero, RemainingAmount: rate, Status: generic.StatusPending, Version: 1,
		}); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")

	// THEN: nothing from it is visible
	all, err := st.ListObligations(ctx, "school-a", generic.ObligationFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestStore_ReportingWindows(t *testing.T) {
	st := newStore(t)
	clock := generic.NewFixedClock(time.Date(2024, time.October, 31, 23, 0, 0, 0, time.UTC))
	eng := newEngine(t, st, generic.Options{Clock: clock})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 1_000_000)

	o, err := eng.Obligations.Create(ctx, accountant, generic.CreateObligationInput{Subject: ref, Amount: generic.UZS(1_000_000)})
	require.NoError(t, err)
	_, err = eng.Settler.Apply(ctx, accountant, generic.SettleInput{ObligationID: o.ID, Amount: generic.UZS(100), Method: generic.MethodCash})
	require.NoError(t, err)

	clock.Set(time.Date(2024, time.November, 1, 0, 0, 0, 0, time.UTC))
	_, err = eng.Settler.Apply(ctx, accountant, generic.SettleInput{ObligationID: o.ID, Amount: generic.UZS(200), Method: generic.MethodCard})
	require.NoError(t, err)
	_, err = eng.Expenses.Record(ctx, accountant, generic.ExpenseInput{CategoryID: "kitchen", Amount: generic.UZS(50), Method: generic.MethodCash})
	require.NoError(t, err)

	w, err := generic.NewWindow("2024-11-01", "2024-11-30")
	require.NoError(t, err)
	report, err := eng.Reporter.Balance(ctx, accountant, w)
	require.NoError(t, err)
	assert.Equal(t, "200", report.CardIncome.String())
	assert.Equal(t, "0", report.CashIncome.String())
	assert.Equal(t, "150", report.Balance.String())
}

func TestStore_ConcurrentSettlements(t *testing.T) {
	// GIVEN: one obligation of 1,000,000
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{MaxRetries: 50})
	ctx := context.Background()
	ref := registerStudent(t, eng, "stu-1", 1_000_000)
	o, err := eng.Obligations.Create(ctx, accountant, generic.CreateObligationInput{Subject: ref, Amount: generic.UZS(1_000_000)})
	require.NoError(t, err)

	// WHEN: twelve 100,000 payments race
	var wg sync.WaitGroup
	results := make(chan error, 12)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Settler.Apply(ctx, accountant, generic.SettleInput{ObligationID: o.ID, Amount: generic.UZS(100_000), Method: generic.MethodCash})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	// THEN: exactly ten succeed and the total is exact
	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		assert.Equal(t, generic.ErrKindAlreadySettled, generic.KindOf(err))
	}
	assert.Equal(t, 10, ok)

	got, err := eng.Obligations.Get(ctx, accountant, o.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPaid, got.Status)
	contribs, err := st.ListContributions(ctx, "school-a", o.ID)
	require.NoError(t, err)
	assert.Len(t, contribs, 10)
}

func TestStore_Reset(t *testing.T) {
	st := newStore(t)
	eng := newEngine(t, st, generic.Options{})
	ctx := context.Background()
	registerStudent(t, eng, "stu-1", 100)

	require.NoError(t, st.Reset(ctx))

	list, err := st.ListSubjects(ctx, "school-a", "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

// =============================================================================
// SQL ERROR MAPPING (sqlmock)
// =============================================================================

func TestUpdateObligation_StaleVersionIsConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE obligations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	o := generic.Obligation{ID: "o-1", TenantID: "school-a", Version: 3}
	err = st.UpdateObligation(context.Background(), o, 2, nil)

	assert.ErrorIs(t, err, generic.ErrConcurrentModification)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateObligation_MissingRowIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE obligations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COUNT").WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	err = st.UpdateObligation(context.Background(), generic.Obligation{ID: "o-1", TenantID: "school-b"}, 1, nil)

	assert.ErrorIs(t, err, generic.ErrObligationNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateObligation_ContributionInsertedInSameTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE obligations").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO contributions").WillReturnError(errors.New("disk I/O error"))
	mock.ExpectRollback()

	c := &generic.Contribution{ID: "c-1", Subject: tuition.Student("stu-1"), Amount: generic.UZS(5), Method: generic.MethodCash}
	err = st.UpdateObligation(context.Background(), generic.Obligation{ID: "o-1", TenantID: "school-a"}, 1, c)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to insert contribution")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateObligation_UniqueViolationIsDuplicatePeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	st := sqlite.Open(db)

	mock.ExpectExec("INSERT INTO obligations").
		WillReturnError(errors.New("UNIQUE constraint failed: obligations.tenant_id, obligations.subject_kind"))

	p := generic.Period{Month: time.May, Year: 2025}
	err = st.CreateObligation(context.Background(), generic.Obligation{
		ID: "o-1", TenantID: "school-a", Subject: tuition.Student("stu-1"), Period: &p,
	})

	var dup *generic.DuplicatePeriodError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, p, dup.Period)
	assert.NoError(t, mock.ExpectationsWereMet())
}
