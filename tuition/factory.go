/*
Package tuition provides student subject presets as JSON.

These functions build JSON subject definitions for the factory package.
They construct JSON directly to avoid an import cycle with factory.

USAGE:
  jsonStr := tuition.MonthlyTuitionJSON("stu-1", "Aziza Karimova", "1000000", "2024-09-01")
  in, err := factory.ParseSubject(jsonStr)
*/
package tuition

import "encoding/json"

// MonthlyTuitionJSON returns JSON for a student on a fixed monthly fee.
func MonthlyTuitionJSON(id, name, monthlyFee, effectiveFrom string) string {
	sj := map[string]interface{}{
		"kind":           KindStudent.KindID(),
		"id":             id,
		"name":           name,
		"rate":           monthlyFee,
		"effective_from": effectiveFrom,
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}

// ScholarshipJSON returns JSON for a fully waived student: every generated
// month is recorded with a zero amount.
func ScholarshipJSON(id, name, effectiveFrom string) string {
	return MonthlyTuitionJSON(id, name, "0", effectiveFrom)
}

// ContractStudentJSON returns JSON for a student billed only through one-off
// contract obligations; no recurring rate is set.
func ContractStudentJSON(id, name string) string {
	sj := map[string]interface{}{
		"kind": KindStudent.KindID(),
		"id":   id,
		"name": name,
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}
