package generic_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/generic"
)

func TestRateChange_IsNotRetroactive(t *testing.T) {
	// GIVEN: September to December already generated at 1,000,000
	f := newFixture(t)
	f.register(t, pupil("p-1"), 1_000_000)
	f.register(t, pupil("p-2"), 1_000_000)
	_, err := f.engine.Generator.Generate(f.ctx, accountant, generateInput(pupil("p-1"), 9, 2024, 4))
	require.NoError(t, err)

	// WHEN: the rate goes up from January
	res, err := f.engine.Rates.Apply(f.ctx, accountant, generic.RateChangeInput{
		Subjects:      []generic.SubjectRef{pupil("p-1"), pupil("p-2"), pupil("p-1")},
		NewRate:       uzs(1_200_000),
		EffectiveFrom: generic.Date(2025, time.January, 1),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.UpdatedCount)

	// THEN: existing obligations keep their amount, new ones use the new rate
	existing, err := f.engine.Obligations.List(f.ctx, accountant, generic.ObligationFilter{SubjectID: "p-1"})
	require.NoError(t, err)
	require.Len(t, existing, 4)
	for _, o := range existing {
		requireDecimal(t, 1_000_000, o.Amount, o.Period)
	}

	gen, err := f.engine.Generator.Generate(f.ctx, accountant, generateInput(pupil("p-1"), 12, 2024, 3))
	require.NoError(t, err)
	require.Len(t, gen.Created, 2)
	requireDecimal(t, 1_200_000, gen.Created[0].Amount)
	requireDecimal(t, 1_200_000, gen.Created[1].Amount)

	subj, err := f.engine.Subjects.Get(f.ctx, director, pupil("p-1"))
	require.NoError(t, err)
	require.Len(t, subj.Rates, 2)
	rate, ok := subj.RateFor(generic.Period{Month: time.December, Year: 2024})
	require.True(t, ok)
	requireDecimal(t, 1_000_000, rate)
}

func TestRateChange_UnknownSubjectRejectsWholeCall(t *testing.T) {
	f := newFixture(t)
	f.register(t, pupil("p-1"), 1_000_000)

	_, err := f.engine.Rates.Apply(f.ctx, accountant, generic.RateChangeInput{
		Subjects:      []generic.SubjectRef{pupil("p-1"), pupil("ghost")},
		NewRate:       uzs(2_000_000),
		EffectiveFrom: generic.Date(2025, time.January, 1),
	})
	assert.Equal(t, generic.ErrKindSubjectNotFound, generic.KindOf(err))

	subj, err := f.engine.Subjects.Get(f.ctx, accountant, pupil("p-1"))
	require.NoError(t, err)
	assert.Len(t, subj.Rates, 1, "no subject may be updated")
}

func TestRateChange_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Rates.Apply(f.ctx, accountant, generic.RateChangeInput{NewRate: uzs(1), EffectiveFrom: testNow})
	assert.Equal(t, generic.ErrKindValidation, generic.KindOf(err))

	_, err = f.engine.Rates.Apply(f.ctx, accountant, generic.RateChangeInput{
		Subjects:      []generic.SubjectRef{pupil("p-1")},
		NewRate:       uzs(-1),
		EffectiveFrom: testNow,
	})
	assert.Equal(t, generic.ErrKindValidation, generic.KindOf(err))

	_, err = f.engine.Rates.Apply(f.ctx, director, generic.RateChangeInput{
		Subjects:      []generic.SubjectRef{pupil("p-1")},
		NewRate:       uzs(1),
		EffectiveFrom: testNow,
	})
	assert.Equal(t, generic.ErrKindUnauthorized, generic.KindOf(err))
}

func TestSubject_RateForPicksLatestEffective(t *testing.T) {
	subj := generic.Subject{Rates: []generic.RateChange{
		{Rate: uzs(100), EffectiveFrom: generic.Date(2024, time.September, 1)},
		{Rate: uzs(300), EffectiveFrom: generic.Date(2025, time.January, 1)},
		{Rate: uzs(200), EffectiveFrom: generic.Date(2024, time.November, 15)},
		{Rate: uzs(250), EffectiveFrom: generic.Date(2024, time.November, 15)},
	}}

	tests := []struct {
		period generic.Period
		want   int64
		found  bool
	}{
		{generic.Period{Month: time.August, Year: 2024}, 0, false},
		{generic.Period{Month: time.September, Year: 2024}, 100, true},
		{generic.Period{Month: time.November, Year: 2024}, 100, true},
		{generic.Period{Month: time.December, Year: 2024}, 250, true},
		{generic.Period{Month: time.March, Year: 2025}, 300, true},
	}
	for _, tt := range tests {
		t.Run(tt.period.String(), func(t *testing.T) {
			got, ok := subj.RateFor(tt.period)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				requireDecimal(t, tt.want, got)
			}
		})
	}
}

func TestSubjects_RegisterAndList(t *testing.T) {
	f := newFixture(t)
	f.register(t, pupil("p-1"), 100)
	f.register(t, worker("w-1"), 200)

	_, err := f.engine.Subjects.Register(f.ctx, accountant, generic.RegisterSubjectInput{Ref: pupil("p-1"), Name: "Again"})
	assert.Equal(t, generic.ErrKindDuplicateSubject, generic.KindOf(err))

	_, err = f.engine.Subjects.Register(f.ctx, accountant, generic.RegisterSubjectInput{Ref: pupil("p-3"), Name: "  "})
	assert.Equal(t, generic.ErrKindValidation, generic.KindOf(err))

	pupils, err := f.engine.Subjects.List(f.ctx, director, "pupil")
	require.NoError(t, err)
	require.Len(t, pupils, 1)
	assert.Equal(t, "Subject p-1", pupils[0].Name)

	everyone, err := f.engine.Subjects.List(f.ctx, director, "")
	require.NoError(t, err)
	assert.Len(t, everyone, 2)

	_, err = f.engine.Subjects.Get(f.ctx, otherAdmin, pupil("p-1"))
	assert.Equal(t, generic.ErrKindSubjectNotFound, generic.KindOf(err))
}
