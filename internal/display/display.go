// Package display provides human-readable names for machine codes.
//
// Rule: code is for machines, words are for humans.
// Use these functions in CLI tables and markdown output.
// Keep raw codes for JSON fields, map keys, and equality comparisons.
package display

import "strings"

// --- Metric Categories ---

var categories = map[string]string{
	"load_profile":        "Load Profile",
	"wait_events":         "Top Wait Events",
	"top_sql":             "Top SQL",
	"memory_stats":        "Memory Statistics",
	"io_stats":            "I/O Statistics",
	"instance_efficiency": "Instance Efficiency",
}

// Category returns the human-readable name for a metric category.
// Unknown categories are returned as-is.
func Category(code string) string {
	if name, ok := categories[code]; ok {
		return name
	}
	return code
}

// CategoryWithCode returns "Load Profile (load_profile)" format.
func CategoryWithCode(code string) string {
	name := Category(code)
	if name == code {
		return code
	}
	return name + " (" + code + ")"
}

// --- Rule Categories ---

var ruleCategories = map[string]string{
	"cpu":         "CPU",
	"io":          "I/O",
	"memory":      "Memory",
	"parsing":     "Parsing",
	"wait_events": "Wait Events",
	"load":        "Load",
}

// RuleCategory returns the human-readable name for a diagnostic rule's
// category. Unknown categories are returned as-is.
func RuleCategory(code string) string {
	if name, ok := ruleCategories[code]; ok {
		return name
	}
	return code
}

// --- Report Status ---

var statuses = map[string]string{
	"pending": "Pending",
	"parsing": "Parsing",
	"parsed":  "Parsed",
	"failed":  "Failed",
}

// Status returns the human-readable report status.
func Status(code string) string {
	if name, ok := statuses[code]; ok {
		return name
	}
	return code
}

// --- Severity ---

var severityMarks = map[string]string{
	"critical": "CRITICAL",
	"high":     "HIGH",
	"medium":   "MEDIUM",
	"low":      "LOW",
	"info":     "INFO",
}

// Severity returns the upper-case label shown in finding tables.
func Severity(code string) string {
	if name, ok := severityMarks[code]; ok {
		return name
	}
	return code
}

// --- Rule IDs ---

// acronyms stay upper-case when a rule id is humanized.
var acronyms = map[string]bool{
	"CPU": true, "IO": true, "SQL": true, "SGA": true, "PGA": true,
	"DB": true, "LGWR": true, "DBWR": true, "TX": true,
}

// RuleID humanizes an upper snake case rule id.
// "LOW_BUFFER_HIT_RATIO" -> "Low Buffer Hit Ratio", "HIGH_CPU_USAGE" -> "High CPU Usage".
func RuleID(id string) string {
	if id == "" {
		return ""
	}
	parts := strings.Split(id, "_")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		up := strings.ToUpper(p)
		if acronyms[up] {
			out = append(out, up)
			continue
		}
		lower := strings.ToLower(p)
		out = append(out, strings.ToUpper(lower[:1])+lower[1:])
	}
	return strings.Join(out, " ")
}
