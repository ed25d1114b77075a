package awr

import (
	"errors"
	"fmt"
	"time"
)

// Terminal reports whether no further automatic transition can occur.
func (s Status) Terminal() bool { return s == StatusParsed || s == StatusFailed }

// Valid reports whether s is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusParsing, StatusParsed, StatusFailed:
		return true
	}
	return false
}

// CanTransition reports whether a report may move from one status to another.
// The only edges are pending→parsing, parsing→parsed and parsing→failed.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusParsing
	case StatusParsing:
		return to == StatusParsed || to == StatusFailed
	}
	return false
}

// ParseStatus validates a status string from a flag or query parameter.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// ErrInconsistentReport is wrapped by CheckConsistency failures.
var ErrInconsistentReport = errors.New("inconsistent report")

// CheckConsistency verifies the field population rules tied to Status:
// ParseTime and the descriptive fields are set together and only once parsed
// (ParseTime alone is also set for failed), and ErrorMessage is set only when
// failed.
func (r *Report) CheckConsistency() error {
	desc := r.descriptiveSet()
	switch r.Status {
	case StatusParsed:
		if r.ParseTime == nil || desc != allSet {
			return fmt.Errorf("%w: report %d is parsed but descriptive fields are incomplete", ErrInconsistentReport, r.ID)
		}
	case StatusFailed:
		if r.ParseTime == nil {
			return fmt.Errorf("%w: report %d failed without parse_time", ErrInconsistentReport, r.ID)
		}
		if desc != noneSet {
			return fmt.Errorf("%w: report %d failed but has descriptive fields", ErrInconsistentReport, r.ID)
		}
	default:
		if r.ParseTime != nil || desc != noneSet {
			return fmt.Errorf("%w: report %d is %s but has parse results", ErrInconsistentReport, r.ID, r.Status)
		}
	}
	if (r.ErrorMessage != nil) != (r.Status == StatusFailed) {
		return fmt.Errorf("%w: report %d error_message does not match status %s", ErrInconsistentReport, r.ID, r.Status)
	}
	return nil
}

type population int

const (
	noneSet population = iota
	someSet
	allSet
)

func (r *Report) descriptiveSet() population {
	fields := []bool{
		r.DBName != nil, r.DBVersion != nil, r.InstanceName != nil, r.HostName != nil,
		r.BeginSnapID != nil, r.EndSnapID != nil, r.BeginTime != nil, r.EndTime != nil,
	}
	n := 0
	for _, set := range fields {
		if set {
			n++
		}
	}
	switch n {
	case 0:
		return noneSet
	case len(fields):
		return allSet
	}
	return someSet
}

// Visible returns a copy of r holding only the fields its status allows.
// Descriptive fields survive only when parsed and ErrorMessage only when failed,
// so stale cached values never leak across a transition.
func (r Report) Visible() Report {
	out := Report{
		ID:         r.ID,
		Filename:   r.Filename,
		FileSize:   r.FileSize,
		Status:     r.Status,
		UploadTime: r.UploadTime,
	}
	switch r.Status {
	case StatusParsed:
		out.ParseTime = r.ParseTime
		out.DBName, out.DBVersion = r.DBName, r.DBVersion
		out.InstanceName, out.HostName = r.InstanceName, r.HostName
		out.BeginSnapID, out.EndSnapID = r.BeginSnapID, r.EndSnapID
		out.BeginTime, out.EndTime = r.BeginTime, r.EndTime
	case StatusFailed:
		out.ParseTime = r.ParseTime
		out.ErrorMessage = r.ErrorMessage
	}
	return out
}

// Descriptive returns the descriptive fields when the report is parsed.
func (r *Report) Descriptive() (Descriptive, bool) {
	if r.Status != StatusParsed || r.descriptiveSet() != allSet {
		return Descriptive{}, false
	}
	return Descriptive{
		DBName:       *r.DBName,
		DBVersion:    *r.DBVersion,
		InstanceName: *r.InstanceName,
		HostName:     *r.HostName,
		BeginSnapID:  *r.BeginSnapID,
		EndSnapID:    *r.EndSnapID,
		BeginTime:    *r.BeginTime,
		EndTime:      *r.EndTime,
	}, true
}

// Apply sets every descriptive field on r along with the parse time.
func (d Descriptive) Apply(r *Report, parseTime time.Time) {
	r.DBName = &d.DBName
	r.DBVersion = &d.DBVersion
	r.InstanceName = &d.InstanceName
	r.HostName = &d.HostName
	r.BeginSnapID = &d.BeginSnapID
	r.EndSnapID = &d.EndSnapID
	r.BeginTime = &d.BeginTime
	r.EndTime = &d.EndTime
	r.ParseTime = &parseTime
}

// Handle returns the upload handle view of r.
func (r *Report) Handle() ReportHandle {
	return ReportHandle{ID: r.ID, Filename: r.Filename, Status: r.Status, UploadTime: r.UploadTime}
}

// ErrorText returns the failure message verbatim, or "" unless failed.
func (r *Report) ErrorText() string {
	if r.Status != StatusFailed || r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}
