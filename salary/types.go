/*
Package salary implements the employee side of the settlement engine.

PURPOSE:
  Salary obligations are amounts the school owes its teachers and staff.
  They are generated, settled and cancelled through exactly the same
  generic engine as tuition; the only differences are the subject kinds
  and that contributions count as expense in reports.

SUBJECT KINDS:
  teacher: teaching staff
  staff:   everyone else on payroll (kitchen, dormitory, administration)

SEE ALSO:
  - payroll.go: per-period payroll projection
  - tuition/types.go: the income-side kind
*/
package salary

import (
	"github.com/warp/settlement-engine/generic"
)

// =============================================================================
// SALARY SUBJECT KINDS
// =============================================================================

// Kind is the concrete subject kind for the salary domain.
// Implements generic.SubjectKind.
type Kind string

func (k Kind) KindID() string               { return string(k) }
func (k Kind) KindDomain() string           { return "salary" }
func (k Kind) Direction() generic.Direction { return generic.DirectionExpense }

// Compile-time check that Kind implements generic.SubjectKind
var _ generic.SubjectKind = Kind("")

const (
	KindTeacher Kind = "teacher"
	KindStaff   Kind = "staff"
)

// Kinds lists every salary kind.
var Kinds = []Kind{KindTeacher, KindStaff}

func init() {
	for _, k := range Kinds {
		generic.RegisterKind(k)
	}
}

func Teacher(id string) generic.SubjectRef {
	return generic.SubjectRef{Kind: KindTeacher, ID: generic.SubjectID(id)}
}

func Staff(id string) generic.SubjectRef {
	return generic.SubjectRef{Kind: KindStaff, ID: generic.SubjectID(id)}
}

// IsSalaryKind reports whether k belongs to this domain.
func IsSalaryKind(k generic.SubjectKind) bool {
	return k != nil && k.KindDomain() == "salary"
}
