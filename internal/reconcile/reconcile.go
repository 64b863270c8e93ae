// Package reconcile maps conversations recorded under the legacy schema
// (category + service tag) onto the structured department/location pair the
// rest of the system filters on.
package reconcile

import "strings"

// Target is the effective routing of a conversation.
type Target struct {
	Department string
	Location   string
}

// DefaultLocation is assumed for legacy records that carry no location at all.
const DefaultLocation = "Mateur"

// categoryDepartments maps legacy category slugs to department names. Anything
// unknown lands in Administration.
var categoryDepartments = map[string]string{
	"production_support":  "Production",
	"quality_control":     "Quality Control",
	"it_support":          "IT",
	"hr_service":          "Human Resources",
	"logistics_support":   "Logistics",
	"maintenance_support": "Maintenance",
}

// Effective resolves the department and location a conversation belongs to.
//
// Resolution order:
//  1. Both structured fields set: returned verbatim.
//  2. Legacy category and/or service tag present: category through the fixed
//     table, "Department - Location" service tags split on " - ", location
//     defaulting to DefaultLocation.
//  3. Nothing usable: ok is false. Callers must treat such records as visible
//     to every scope rather than silently hiding them.
//
// The function is pure; it never errors and never mutates its inputs.
func Effective(targetDepartment, targetLocation, category, service string) (Target, bool) {
	if targetDepartment != "" && targetLocation != "" {
		return Target{Department: targetDepartment, Location: targetLocation}, true
	}

	dept := targetDepartment
	loc := targetLocation

	if dept == "" && category != "" {
		dept = departmentForCategory(category)
	}
	if dept == "" && service != "" {
		if d, l, ok := splitServiceTag(service); ok {
			dept, loc = d, firstNonEmpty(loc, l)
		}
	}

	if dept == "" {
		return Target{}, false
	}
	if loc == "" {
		loc = DefaultLocation
	}
	return Target{Department: dept, Location: loc}, true
}

func departmentForCategory(category string) string {
	if d, ok := categoryDepartments[strings.ToLower(strings.TrimSpace(category))]; ok {
		return d
	}
	return "Administration"
}

// splitServiceTag parses the legacy "Department - Location" shape. Tags with
// no separator name just a department.
func splitServiceTag(service string) (department, location string, ok bool) {
	service = strings.TrimSpace(service)
	if service == "" {
		return "", "", false
	}
	if before, after, found := strings.Cut(service, " - "); found {
		return strings.TrimSpace(before), strings.TrimSpace(after), true
	}
	return service, "", true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
