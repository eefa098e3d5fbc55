package salary

import "encoding/json"

// TeacherSalaryJSON returns JSON for a teacher on a monthly base salary.
func TeacherSalaryJSON(id, name, monthlySalary, effectiveFrom string) string {
	return employeeJSON(KindTeacher, id, name, monthlySalary, effectiveFrom)
}

// StaffSalaryJSON returns JSON for a non-teaching employee.
func StaffSalaryJSON(id, name, monthlySalary, effectiveFrom string) string {
	return employeeJSON(KindStaff, id, name, monthlySalary, effectiveFrom)
}

func employeeJSON(kind Kind, id, name, rate, effectiveFrom string) string {
	sj := map[string]interface{}{
		"kind":           kind.KindID(),
		"id":             id,
		"name":           name,
		"rate":           rate,
		"effective_from": effectiveFrom,
	}
	b, _ := json.MarshalIndent(sj, "", "  ")
	return string(b)
}
