package salary_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/generic/store"
	"github.com/warp/settlement-engine/salary"
	"github.com/warp/settlement-engine/tuition"
)

var (
	accountant = generic.Actor{TenantID: "school-a", ActorID: "acc-1", Role: generic.RoleAccountant}
	admin      = generic.Actor{TenantID: "school-a", ActorID: "admin-1", Role: generic.RoleAdmin}
	september  = generic.Period{Month: time.September, Year: 2024}
)

func hire(t *testing.T, eng *generic.Engine, ref generic.SubjectRef, monthly int64) generic.Obligation {
	t.Helper()
	ctx := context.Background()
	rate := generic.UZS(monthly)
	_, err := eng.Subjects.Register(ctx, accountant, generic.RegisterSubjectInput{
		Ref: ref, Name: string(ref.ID), Rate: &rate, EffectiveFrom: generic.Date(2024, time.September, 1),
	})
	require.NoError(t, err)
	res, err := eng.Generator.Generate(ctx, accountant, generic.GenerateInput{Subject: ref, StartMonth: 9, StartYear: 2024, Count: 2})
	require.NoError(t, err)
	return res.Created[0]
}

func pay(t *testing.T, eng *generic.Engine, o generic.Obligation, amount int64) {
	t.Helper()
	_, err := eng.Settler.Apply(context.Background(), accountant, generic.SettleInput{
		ObligationID: o.ID, Amount: generic.UZS(amount), Method: generic.MethodTransfer,
	})
	require.NoError(t, err)
}

func TestBuildPayroll(t *testing.T) {
	// GIVEN: two teachers and a staff member for September
	eng := generic.NewEngine(store.NewTxMemory(), generic.Options{
		Clock: generic.NewFixedClock(time.Date(2024, time.October, 1, 12, 0, 0, 0, time.UTC)),
	})
	ctx := context.Background()
	t2 := hire(t, eng, salary.Teacher("tch-2"), 6_000_000)
	t1 := hire(t, eng, salary.Teacher("tch-1"), 7_000_000)
	s1 := hire(t, eng, salary.Staff("stf-1"), 3_500_000)
	pay(t, eng, t1, 7_000_000)
	pay(t, eng, t2, 2_000_000)

	// A student in the same month is not payroll.
	rate := generic.UZS(1_000_000)
	_, err := eng.Subjects.Register(ctx, accountant, generic.RegisterSubjectInput{Ref: tuition.Student("stu-1"), Name: "s", Rate: &rate})
	require.NoError(t, err)
	_, err = eng.Generator.Generate(ctx, accountant, generic.GenerateInput{Subject: tuition.Student("stu-1"), StartMonth: 9, StartYear: 2024, Count: 1})
	require.NoError(t, err)

	// WHEN: building September payroll
	p, err := salary.BuildPayroll(ctx, eng.Obligations, accountant, september)

	// THEN: three rows sorted by kind then id, with exact totals
	require.NoError(t, err)
	require.Len(t, p.Rows, 3)
	assert.Equal(t, salary.Staff("stf-1").Key(), p.Rows[0].Employee.Key())
	assert.Equal(t, salary.Teacher("tch-1").Key(), p.Rows[1].Employee.Key())
	assert.Equal(t, salary.Teacher("tch-2").Key(), p.Rows[2].Employee.Key())
	assert.Equal(t, s1.ID, p.Rows[0].ObligationID)
	assert.Equal(t, generic.StatusPaid, p.Rows[1].Status)
	assert.Equal(t, generic.StatusPartiallyPaid, p.Rows[2].Status)

	assert.True(t, p.TotalOwed.Equal(generic.UZS(16_500_000)))
	assert.True(t, p.TotalPaid.Equal(generic.UZS(9_000_000)))
	assert.True(t, p.TotalRemaining.Equal(generic.UZS(7_500_000)))

	unpaid := p.Unpaid()
	require.Len(t, unpaid, 2)
	assert.Equal(t, generic.SubjectID("stf-1"), unpaid[0].Employee.ID)
	assert.Equal(t, generic.SubjectID("tch-2"), unpaid[1].Employee.ID)
}

func TestBuildPayroll_SkipsCancelled(t *testing.T) {
	eng := generic.NewEngine(store.NewTxMemory(), generic.Options{})
	ctx := context.Background()
	o := hire(t, eng, salary.Staff("stf-1"), 3_000_000)
	_, err := eng.Obligations.Cancel(ctx, admin, o.ID, "left in August")
	require.NoError(t, err)

	p, err := salary.BuildPayroll(ctx, eng.Obligations, accountant, september)
	require.NoError(t, err)
	assert.Empty(t, p.Rows)
	assert.True(t, p.TotalOwed.IsZero())
}

func TestBuildPayroll_InvalidPeriod(t *testing.T) {
	eng := generic.NewEngine(store.NewTxMemory(), generic.Options{})
	_, err := salary.BuildPayroll(context.Background(), eng.Obligations, accountant, generic.Period{Month: 13, Year: 2024})
	assert.ErrorIs(t, err, generic.ErrValidation)
}

func TestSalaryKinds(t *testing.T) {
	assert.Equal(t, generic.DirectionExpense, salary.KindTeacher.Direction())
	assert.True(t, salary.IsSalaryKind(salary.KindStaff))
	assert.False(t, salary.IsSalaryKind(tuition.KindStudent))
	assert.False(t, salary.IsSalaryKind(nil))
	assert.Len(t, generic.ListKindsByDomain("salary"), 2)

	assert.JSONEq(t, `{"kind":"teacher","id":"tch-1","name":"Olim","rate":"6000000","effective_from":"2024-09-01"}`,
		salary.TeacherSalaryJSON("tch-1", "Olim", "6000000", "2024-09-01"))
	assert.JSONEq(t, `{"kind":"staff","id":"stf-1","name":"Nodira","rate":"3500000","effective_from":"2024-09-01"}`,
		salary.StaffSalaryJSON("stf-1", "Nodira", "3500000", "2024-09-01"))
}
