package generic_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
)

func TestObligations_CreateRequiresRegisteredSubject(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{
		Subject: pupil("ghost"),
		Amount:  uzs(100),
	})
	assert.Equal(t, generic.ErrKindSubjectNotFound, generic.KindOf(err))
}

func TestObligations_CreateValidation(t *testing.T) {
	f := newFixture(t)
	f.register(t, pupil("p-1"), 100)

	_, err := f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{Subject: pupil("p-1"), Amount: decimal.Zero})
	assert.Equal(t, generic.ErrKindAmountNotPositive, generic.KindOf(err))

	_, err = f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{Amount: uzs(100)})
	assert.Equal(t, generic.ErrKindValidation, generic.KindOf(err))

	bad := generic.Period{Month: 0, Year: 2024}
	_, err = f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{Subject: pupil("p-1"), Period: &bad, Amount: uzs(100)})
	assert.Equal(t, generic.ErrKindValidation, generic.KindOf(err))
}

func TestObligations_CreateDuplicatePeriod(t *testing.T) {
	f := newFixture(t)
	f.register(t, pupil("p-1"), 100)
	p := generic.Period{Month: time.September, Year: 2024}

	o, err := f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{Subject: pupil("p-1"), Period: &p, Amount: uzs(100)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.Version)
	assert.Equal(t, generic.ActorID("acc-1"), o.CreatedBy)

	_, err = f.engine.Obligations.Create(f.ctx, accountant, generic.CreateObligationInput{Subject: pupil("p-1"), Period: &p, Amount: uzs(100)})
	assert.Equal(t, generic.ErrKindDuplicatePeriod, generic.KindOf(err))
}

func TestObligations_TenantIsolation(t *testing.T) {
	// GIVEN: an obligation in school-a
	f := newFixture(t)
	o := f.oneOff(t, pupil("p-1"), 100_000)

	// WHEN: school-b reads or pays it
	_, getErr := f.engine.Obligations.Get(f.ctx, otherAdmin, o.ID)
	_, payErr := f.engine.Settler.Apply(f.ctx, otherAdmin, generic.SettleInput{ObligationID: o.ID, Amount: uzs(1), Method: generic.MethodCash})
	list, listErr := f.engine.Obligations.List(f.ctx, otherAdmin, generic.ObligationFilter{})

	// THEN: it does not exist for them
	assert.Equal(t, generic.ErrKindNotFound, generic.KindOf(getErr))
	assert.Equal(t, generic.ErrKindNotFound, generic.KindOf(payErr))
	require.NoError(t, listErr)
	assert.Empty(t, list)
	requireDecimal(t, 0, f.get(t, o.ID).PaidAmount)
}

func TestObligations_RoleMatrix(t *testing.T) {
	f := newFixture(t)
	o := f.oneOff(t, pupil("p-1"), 100_000)

	_, err := f.engine.Obligations.Get(f.ctx, director, o.ID)
	assert.NoError(t, err, "director may read")

	_, err = f.engine.Obligations.Get(f.ctx, teacher, o.ID)
	assert.Equal(t, generic.ErrKindUnauthorized, generic.KindOf(err))

	_, err = f.engine.Settler.Apply(f.ctx, director, generic.SettleInput{ObligationID: o.ID, Amount: uzs(1), Method: generic.MethodCash})
	assert.Equal(t, generic.ErrKindUnauthorized, generic.KindOf(err))

	_, err = f.engine.Obligations.Cancel(f.ctx, accountant, o.ID, "")
	assert.Equal(t, generic.ErrKindUnauthorized, generic.KindOf(err), "only admins cancel")

	anonymous := generic.Actor{TenantID: "school-a", Role: generic.RoleAdmin}
	_, err = f.engine.Obligations.Get(f.ctx, anonymous, o.ID)
	assert.Equal(t, generic.ErrKindUnauthorized, generic.KindOf(err))
}

func TestObligations_CancelPartiallyPaid(t *testing.T) {
	// GIVEN: a partially paid obligation
	f := newFixture(t)
	o := f.oneOff(t, pupil("p-1"), 1_000_000)
	_, err := f.settle(o.ID, 200_000, generic.MethodCash)
	require.NoError(t, err)

	// WHEN: an admin cancels it
	f.clock.Advance(time.Hour)
	cancelled, err := f.engine.Obligations.Cancel(f.ctx, admin, o.ID, " moved away ")

	// THEN: cancelled, amounts preserved, audit line appended
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
	requireDecimal(t, 200_000, cancelled.PaidAmount)
	assert.Equal(t, int64(3), cancelled.Version)
	assert.Contains(t, cancelled.Notes, "\n[2024-11-05 11:30] cancelled by admin-1: moved away")

	_, err = f.engine.Obligations.Cancel(f.ctx, admin, o.ID, "again")
	assert.Equal(t, generic.ErrKindObligationCancelled, generic.KindOf(err))

	open, err := f.engine.Obligations.List(f.ctx, accountant, generic.ObligationFilter{OpenOnly: true})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestObligations_CancelPaidIsRejected(t *testing.T) {
	f := newFixture(t)
	o := f.oneOff(t, pupil("p-1"), 100)
	_, err := f.settle(o.ID, 100, generic.MethodCash)
	require.NoError(t, err)

	_, err = f.engine.Obligations.Cancel(f.ctx, admin, o.ID, "")
	assert.Equal(t, generic.ErrKindAlreadySettled, generic.KindOf(err))
}

func TestObligations_Delete(t *testing.T) {
	f := newFixture(t)
	unpaid := f.oneOff(t, pupil("p-1"), 100)
	paid := f.oneOff(t, pupil("p-2"), 100)
	_, err := f.settle(paid.ID, 50, generic.MethodCash)
	require.NoError(t, err)

	require.NoError(t, f.engine.Obligations.Delete(f.ctx, accountant, unpaid.ID))
	_, err = f.engine.Obligations.Get(f.ctx, accountant, unpaid.ID)
	assert.Equal(t, generic.ErrKindNotFound, generic.KindOf(err))

	err = f.engine.Obligations.Delete(f.ctx, accountant, paid.ID)
	assert.Equal(t, generic.ErrKindHasPayments, generic.KindOf(err))
}

func TestObligations_ListFilters(t *testing.T) {
	f := newFixture(t)
	f.register(t, pupil("p-1"), 100)
	f.register(t, worker("w-1"), 500)
	_, err := f.engine.Generator.Generate(f.ctx, accountant, generateInput(pupil("p-1"), 11, 2024, 3))
	require.NoError(t, err)
	_, err = f.engine.Generator.Generate(f.ctx, accountant, generateInput(worker("w-1"), 12, 2024, 1))
	require.NoError(t, err)

	byKind, err := f.engine.Obligations.List(f.ctx, director, generic.ObligationFilter{Kind: "worker"})
	require.NoError(t, err)
	assert.Len(t, byKind, 1)

	byYear, err := f.engine.Obligations.List(f.ctx, director, generic.ObligationFilter{Year: 2025})
	require.NoError(t, err)
	assert.Len(t, byYear, 1)

	dec := generic.Period{Month: time.December, Year: 2024}
	byPeriod, err := f.engine.Obligations.List(f.ctx, director, generic.ObligationFilter{Period: &dec})
	require.NoError(t, err)
	assert.Len(t, byPeriod, 2)

	ordered, err := f.engine.Obligations.List(f.ctx, director, generic.ObligationFilter{SubjectID: "p-1"})
	require.NoError(t, err)
	require.Len(t, ordered, 3)
	assert.Equal(t, "2024-11", ordered[0].Period.String())
	assert.Equal(t, "2025-01", ordered[2].Period.String())
}

func TestObligations_VerifyMatchesContributionLog(t *testing.T) {
	f := newFixture(t)
	o := f.oneOff(t, pupil("p-1"), 1_000_000)
	_, err := f.settle(o.ID, 300_000, generic.MethodCash)
	require.NoError(t, err)
	_, err = f.settle(o.ID, 700_000, generic.MethodUzum)
	require.NoError(t, err)

	rebuilt, err := f.engine.Obligations.Verify(f.ctx, director, o.ID)
	require.NoError(t, err)
	assert.Equal(t, generic.StatusPaid, rebuilt.Status)
	assert.Equal(t, generic.MethodUzum, rebuilt.PaymentMethod)
}

func TestRebuild(t *testing.T) {
	o := pendingObligation(1_000_000)
	first := testNow
	second := testNow.Add(24 * time.Hour)
	contribs := []generic.Contribution{
		{Amount: uzs(400_000), Method: generic.MethodCash, RecordedAt: first},
		{Amount: uzs(600_000), Method: generic.MethodPayme, RecordedAt: second},
	}

	partial := generic.Rebuild(o, contribs[:1])
	assert.Equal(t, generic.StatusPartiallyPaid, partial.Status)
	requireDecimal(t, 600_000, partial.RemainingAmount)
	assert.Equal(t, first, *partial.PaymentDate)

	full := generic.Rebuild(o, contribs)
	assert.Equal(t, generic.StatusPaid, full.Status)
	assert.Equal(t, second, *full.PaymentDate)
	assert.NoError(t, full.CheckInvariants())

	empty := generic.Rebuild(full, nil)
	assert.Equal(t, generic.StatusPending, empty.Status)
	assert.Nil(t, empty.PaymentDate)
}

func TestCheckInvariants(t *testing.T) {
	o := pendingObligation(100)
	o.PaidAmount = uzs(150)
	o.RemainingAmount = decimal.Zero
	o.Status = generic.StatusPaid
	assert.ErrorIs(t, o.CheckInvariants(), generic.ErrInvariantViolation)

	o = pendingObligation(100)
	o.Status = generic.StatusPaid
	assert.ErrorIs(t, o.CheckInvariants(), generic.ErrInvariantViolation)
}

func TestObligations_CancelRetriesOnceOnConflict(t *testing.T) {
	// GIVEN: an obligation whose first cancel write conflicts
	f, st := newConflictFixture(t)
	o := f.oneOff(t, pupil("p-1"), 1_000_000)
	st.arm(1)

	// WHEN: the admin cancels
	cancelled, err := f.engine.Obligations.Cancel(f.ctx, admin, o.ID, "left school")

	// THEN: the second attempt wins
	require.NoError(t, err)
	assert.Equal(t, generic.StatusCancelled, cancelled.Status)
	assert.Equal(t, 2, st.updateCalls())
	assert.Equal(t, generic.StatusCancelled, f.get(t, o.ID).Status)
}

func TestObligations_CancelReportsPersistentConflict(t *testing.T) {
	// GIVEN: an obligation whose writes keep conflicting
	f, st := newConflictFixture(t)
	o := f.oneOff(t, pupil("p-1"), 1_000_000)
	st.arm(2)

	// WHEN: the admin cancels
	_, err := f.engine.Obligations.Cancel(f.ctx, admin, o.ID, "left school")

	// THEN: CONFLICT after one retry, obligation untouched
	assert.Equal(t, generic.ErrKindConflict, generic.KindOf(err))
	assert.Equal(t, 2, st.updateCalls())

	stored := f.get(t, o.ID)
	assert.Equal(t, generic.StatusPending, stored.Status)
	assert.Equal(t, int64(1), stored.Version)
	assert.Empty(t, stored.Notes)
}
