// Package tuition implements the student side of the settlement engine:
// tuition obligations owed to the school, counted as income.
package tuition

import "github.com/warp/settlement-engine/generic"

// =============================================================================
// TUITION SUBJECT KIND
// =============================================================================

// Kind is the concrete subject kind for the tuition domain.
// Implements generic.SubjectKind.
type Kind string

func (k Kind) KindID() string               { return string(k) }
func (k Kind) KindDomain() string           { return "tuition" }
func (k Kind) Direction() generic.Direction { return generic.DirectionIncome }

// Compile-time check that Kind implements generic.SubjectKind
var _ generic.SubjectKind = Kind("")

const KindStudent Kind = "student"

func init() {
	generic.RegisterKind(KindStudent)
}

// Student references a student by id.
func Student(id string) generic.SubjectRef {
	return generic.SubjectRef{Kind: KindStudent, ID: generic.SubjectID(id)}
}
