/*
Package factory provides JSON to Go subject conversion.

PURPOSE:
  Converts JSON subject definitions (a student, a teacher, a staff member
  together with their starting monthly rate) into generic.RegisterSubjectInput.
  Onboarding files and the demo scenarios describe subjects this way, so the
  accountant's spreadsheet export can be loaded without code changes.

JSON SCHEMA:
  {
    "kind": "student",
    "id": "stu-1",
    "name": "Aziza Karimova",
    "rate": "1000000",
    "effective_from": "2024-09-01"
  }

  "rate" is a decimal string in UZS; floats are rejected so no precision is
  lost on the way in. Omitting "rate" registers a subject without a recurring
  amount (one-off contract billing). Omitting "effective_from" makes the rate
  apply to every period.

USAGE:
  f := factory.NewSubjectFactory()
  in, err := f.ParseSubject(tuition.MonthlyTuitionJSON("stu-1", "Aziza", "1000000", "2024-09-01"))
  subj, err := engine.Subjects.Register(ctx, actor, in)

SEE ALSO:
  - generic/subject.go: Subject and RegisterSubjectInput
  - tuition/factory.go, salary/factory.go: preset JSON builders
*/
package factory

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/warp/settlement-engine/generic"

	// Domain packages register their subject kinds on init.
	_ "github.com/warp/settlement-engine/salary"
	_ "github.com/warp/settlement-engine/tuition"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// SubjectJSON is the JSON representation of a subject.
type SubjectJSON struct {
	Kind          string `json:"kind"`
	ID            string `json:"id"`
	Name          string `json:"name"`
	Rate          string `json:"rate,omitempty"`
	EffectiveFrom string `json:"effective_from,omitempty"` // YYYY-MM-DD
}

// =============================================================================
// SUBJECT FACTORY
// =============================================================================

// SubjectFactory converts JSON subjects to registration inputs.
type SubjectFactory struct{}

func NewSubjectFactory() *SubjectFactory {
	return &SubjectFactory{}
}

// ParseSubject parses a single JSON object.
func (f *SubjectFactory) ParseSubject(jsonStr string) (generic.RegisterSubjectInput, error) {
	var sj SubjectJSON
	if err := json.Unmarshal([]byte(jsonStr), &sj); err != nil {
		return generic.RegisterSubjectInput{}, fmt.Errorf("failed to parse subject JSON: %w", err)
	}
	return f.FromJSON(sj)
}

// ParseSubjects parses a JSON array of subjects. The first invalid entry
// fails the whole batch.
func (f *SubjectFactory) ParseSubjects(jsonStr string) ([]generic.RegisterSubjectInput, error) {
	var list []SubjectJSON
	if err := json.Unmarshal([]byte(jsonStr), &list); err != nil {
		return nil, fmt.Errorf("failed to parse subjects JSON: %w", err)
	}
	out := make([]generic.RegisterSubjectInput, 0, len(list))
	for i, sj := range list {
		in, err := f.FromJSON(sj)
		if err != nil {
			return nil, fmt.Errorf("subject %d: %w", i, err)
		}
		out = append(out, in)
	}
	return out, nil
}

// FromJSON converts SubjectJSON to generic.RegisterSubjectInput.
func (f *SubjectFactory) FromJSON(sj SubjectJSON) (generic.RegisterSubjectInput, error) {
	kind, err := generic.ParseKind(strings.TrimSpace(sj.Kind))
	if err != nil {
		return generic.RegisterSubjectInput{}, err
	}
	id := strings.TrimSpace(sj.ID)
	if id == "" {
		return generic.RegisterSubjectInput{}, &generic.ValidationError{Field: "id", Message: "id is required"}
	}

	in := generic.RegisterSubjectInput{
		Ref:  generic.SubjectRef{Kind: kind, ID: generic.SubjectID(id)},
		Name: sj.Name,
	}

	if sj.Rate != "" {
		rate, err := generic.ParseAmount(sj.Rate)
		if err != nil {
			return generic.RegisterSubjectInput{}, err
		}
		in.Rate = &rate
	}

	if sj.EffectiveFrom != "" {
		t, err := time.Parse(generic.DateLayout, sj.EffectiveFrom)
		if err != nil {
			return generic.RegisterSubjectInput{}, &generic.ValidationError{
				Field:   "effective_from",
				Message: fmt.Sprintf("expected YYYY-MM-DD, got %q", sj.EffectiveFrom),
			}
		}
		in.EffectiveFrom = t.UTC()
	}

	if err := in.Validate(); err != nil {
		return generic.RegisterSubjectInput{}, err
	}
	return in, nil
}

// ToJSON converts a stored subject back to its JSON form, using the rate
// currently in force at asOf.
func (f *SubjectFactory) ToJSON(subj generic.Subject, asOf time.Time) SubjectJSON {
	sj := SubjectJSON{
		Kind: subj.Ref.Kind.KindID(),
		ID:   string(subj.Ref.ID),
		Name: subj.Name,
	}

	var current *generic.RateChange
	for i := range subj.Rates {
		rc := &subj.Rates[i]
		if rc.EffectiveFrom.After(asOf) {
			continue
		}
		if current == nil || !rc.EffectiveFrom.Before(current.EffectiveFrom) {
			current = rc
		}
	}
	if current != nil {
		sj.Rate = current.Rate.String()
		if !current.EffectiveFrom.IsZero() {
			sj.EffectiveFrom = current.EffectiveFrom.Format(generic.DateLayout)
		}
	}
	return sj
}
