package awr

import (
	"fmt"
	"strings"
)

// Severity ranks a diagnostic finding by urgency.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

// Severities lists every bucket from most to least urgent.
var Severities = []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow, SeverityInfo}

// Rank returns 0 for critical through 4 for info. Unknown severities sort last.
func (s Severity) Rank() int {
	for i, v := range Severities {
		if v == s {
			return i
		}
	}
	return len(Severities)
}

// Valid reports whether s is one of the five known buckets.
func (s Severity) Valid() bool { return s.Rank() < len(Severities) }

// ParseSeverity accepts any case.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	if !sev.Valid() {
		return "", fmt.Errorf("unknown severity %q", s)
	}
	return sev, nil
}
