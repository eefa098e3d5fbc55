package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/settlement-engine/factory"
	"github.com/warp/settlement-engine/generic"
	"github.com/warp/settlement-engine/salary"
	"github.com/warp/settlement-engine/tuition"
)

func TestParseSubject_Presets(t *testing.T) {
	f := factory.NewSubjectFactory()

	tests := []struct {
		name     string
		json     string
		wantKind generic.SubjectKind
		wantRate string // empty means no rate
		wantFrom time.Time
	}{
		{
			name:     "monthly tuition",
			json:     tuition.MonthlyTuitionJSON("stu-1", "Aziza Karimova", "1200000", "2024-09-01"),
			wantKind: tuition.KindStudent,
			wantRate: "1200000",
			wantFrom: generic.Date(2024, time.September, 1),
		},
		{
			name:     "scholarship",
			json:     tuition.ScholarshipJSON("stu-2", "Bobur", "2024-09-01"),
			wantKind: tuition.KindStudent,
			wantRate: "0",
			wantFrom: generic.Date(2024, time.September, 1),
		},
		{
			name:     "contract student",
			json:     tuition.ContractStudentJSON("stu-3", "Dilnoza"),
			wantKind: tuition.KindStudent,
		},
		{
			name:     "teacher",
			json:     salary.TeacherSalaryJSON("tch-1", "Olim", "6000000", "2024-09-01"),
			wantKind: salary.KindTeacher,
			wantRate: "6000000",
			wantFrom: generic.Date(2024, time.September, 1),
		},
		{
			name:     "staff",
			json:     salary.StaffSalaryJSON("stf-1", "Nodira", "3500000.50", "2025-01-15"),
			wantKind: salary.KindStaff,
			wantRate: "3500000.5",
			wantFrom: generic.Date(2025, time.January, 15),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in, err := f.ParseSubject(tt.json)
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, in.Ref.Kind)
			if tt.wantRate == "" {
				assert.Nil(t, in.Rate)
				return
			}
			require.NotNil(t, in.Rate)
			assert.Equal(t, tt.wantRate, in.Rate.String())
			assert.Equal(t, tt.wantFrom, in.EffectiveFrom)
		})
	}
}

func TestParseSubject_Rejections(t *testing.T) {
	f := factory.NewSubjectFactory()

	tests := []struct {
		name  string
		json  string
		field string
	}{
		{"unknown kind", `{"kind":"parent","id":"p-1","name":"x"}`, "kind"},
		{"blank id", `{"kind":"student","id":"  ","name":"x"}`, "id"},
		{"blank name", `{"kind":"student","id":"stu-1","name":""}`, "name"},
		{"bad rate", `{"kind":"student","id":"stu-1","name":"x","rate":"lots"}`, "amount"},
		{"too many decimals", `{"kind":"student","id":"stu-1","name":"x","rate":"1.001"}`, "amount"},
		{"negative rate", `{"kind":"student","id":"stu-1","name":"x","rate":"-5"}`, "rate"},
		{"bad date", `{"kind":"student","id":"stu-1","name":"x","rate":"5","effective_from":"01/09/2024"}`, "effective_from"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ParseSubject(tt.json)
			require.Error(t, err)
			var ve *generic.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}

	_, err := f.ParseSubject(`{"kind":"student","rate":1000000}`)
	assert.ErrorContains(t, err, "failed to parse subject JSON")
}

func TestParseSubjects(t *testing.T) {
	f := factory.NewSubjectFactory()

	list, err := f.ParseSubjects(`[
		{"kind":"student","id":"stu-1","name":"A","rate":"1000000","effective_from":"2024-09-01"},
		{"kind":"teacher","id":"tch-1","name":"B","rate":"6000000"}
	]`)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "teacher/tch-1", list[1].Ref.String())
	assert.True(t, list[1].EffectiveFrom.IsZero())

	_, err = f.ParseSubjects(`[{"kind":"student","id":"stu-1","name":"A"},{"kind":"ghost","id":"g","name":"B"}]`)
	assert.ErrorContains(t, err, "subject 1:")
}

func TestToJSON_UsesRateInForce(t *testing.T) {
	f := factory.NewSubjectFactory()
	subj := generic.Subject{
		Ref:  tuition.Student("stu-1"),
		Name: "Aziza",
		Rates: []generic.RateChange{
			{Rate: generic.UZS(1_000_000), EffectiveFrom: generic.Date(2024, time.September, 1)},
			{Rate: generic.UZS(1_200_000), EffectiveFrom: generic.Date(2025, time.January, 1)},
		},
	}

	before := f.ToJSON(subj, generic.Date(2024, time.December, 31))
	assert.Equal(t, factory.SubjectJSON{Kind: "student", ID: "stu-1", Name: "Aziza", Rate: "1000000", EffectiveFrom: "2024-09-01"}, before)

	after := f.ToJSON(subj, generic.Date(2025, time.February, 1))
	assert.Equal(t, "1200000", after.Rate)
	assert.Equal(t, "2025-01-01", after.EffectiveFrom)

	none := f.ToJSON(subj, generic.Date(2024, time.August, 1))
	assert.Empty(t, none.Rate)

	// Round trip through the parser.
	in, err := f.FromJSON(after)
	require.NoError(t, err)
	assert.Equal(t, "1200000", in.Rate.String())
}
