package awr

import "sort"

// SeverityCounts holds one count per severity bucket.
type SeverityCounts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
}

// Get returns the count for sev, or 0 for an unknown severity.
func (c SeverityCounts) Get(sev Severity) int {
	switch sev {
	case SeverityCritical:
		return c.Critical
	case SeverityHigh:
		return c.High
	case SeverityMedium:
		return c.Medium
	case SeverityLow:
		return c.Low
	case SeverityInfo:
		return c.Info
	}
	return 0
}

// Total is the sum over all buckets.
func (c SeverityCounts) Total() int {
	return c.Critical + c.High + c.Medium + c.Low + c.Info
}

func (c *SeverityCounts) add(sev Severity) {
	switch sev {
	case SeverityCritical:
		c.Critical++
	case SeverityHigh:
		c.High++
	case SeverityMedium:
		c.Medium++
	case SeverityLow:
		c.Low++
	case SeverityInfo:
		c.Info++
	}
}

// DiagnosticSummary is the aggregate over a report's current diagnostic set.
// Summary is always derived from Diagnostics; construct it with Summarize.
type DiagnosticSummary struct {
	ReportID    int64              `json:"report_id"`
	RunID       int64              `json:"run_id"`
	Summary     SeverityCounts     `json:"summary"`
	Diagnostics []DiagnosticResult `json:"diagnostics"`
}

// Summarize builds a summary from results: the list is copied and stably
// sorted by severity rank, and the counts are a fold over that list.
func Summarize(reportID, runID int64, results []DiagnosticResult) DiagnosticSummary {
	sorted := SortBySeverity(results)
	var counts SeverityCounts
	for _, r := range sorted {
		counts.add(r.Severity)
	}
	return DiagnosticSummary{
		ReportID:    reportID,
		RunID:       runID,
		Summary:     counts,
		Diagnostics: sorted,
	}
}

// SortBySeverity returns a copy of results ordered critical first. Results
// with equal severity keep their input order.
func SortBySeverity(results []DiagnosticResult) []DiagnosticResult {
	out := make([]DiagnosticResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() < out[j].Severity.Rank()
	})
	return out
}

// BySeverity groups results by bucket, preserving order within each bucket.
func (s DiagnosticSummary) BySeverity(sev Severity) []DiagnosticResult {
	var out []DiagnosticResult
	for _, r := range s.Diagnostics {
		if r.Severity == sev {
			out = append(out, r)
		}
	}
	return out
}
