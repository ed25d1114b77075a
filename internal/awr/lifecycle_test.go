package awr

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition_OnlyForwardEdges(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPending, StatusParsing}: true,
		{StatusParsing, StatusParsed}:  true,
		{StatusParsing, StatusFailed}:  true,
	}
	all := []Status{StatusPending, StatusParsing, StatusParsed, StatusFailed}
	for _, from := range all {
		for _, to := range all {
			want := allowed[[2]Status{from, to}]
			if got := CanTransition(from, to); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	for st, want := range map[Status]bool{
		StatusPending: false, StatusParsing: false, StatusParsed: true, StatusFailed: true,
	} {
		if st.Terminal() != want {
			t.Errorf("%s.Terminal() = %v", st, !want)
		}
	}
	if _, err := ParseStatus("done"); err == nil {
		t.Error("expected error for unknown status")
	}
}

func TestCheckConsistency(t *testing.T) {
	now := time.Now().UTC()
	msg := "Failed to parse AWR report: not an AWR report"

	parsed := parsedReport(1, "PRODDB")

	partial := parsedReport(2, "PRODDB")
	partial.HostName = nil

	pendingWithTime := Report{ID: 3, Status: StatusPending, ParseTime: &now}

	failed := Report{ID: 4, Status: StatusFailed, ParseTime: &now, ErrorMessage: &msg}
	failedNoTime := Report{ID: 5, Status: StatusFailed, ErrorMessage: &msg}
	parsedWithError := parsedReport(6, "PRODDB")
	parsedWithError.ErrorMessage = &msg

	tests := []struct {
		name string
		r    Report
		ok   bool
	}{
		{"parsed complete", parsed, true},
		{"parsed partial", partial, false},
		{"pending clean", Report{ID: 7, Status: StatusPending}, true},
		{"pending with parse_time", pendingWithTime, false},
		{"failed", failed, true},
		{"failed without parse_time", failedNoTime, false},
		{"parsed with error_message", parsedWithError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.r.CheckConsistency()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInconsistentReport) {
				t.Fatalf("expected ErrInconsistentReport, got %v", err)
			}
		})
	}
}

func TestVisible_HidesFieldsOutsideParsed(t *testing.T) {
	stale := parsedReport(1, "PRODDB")
	stale.Status = StatusParsing

	v := stale.Visible()
	if v.DBName != nil || v.ParseTime != nil || v.BeginSnapID != nil {
		t.Errorf("descriptive fields leaked for %s report: %+v", v.Status, v)
	}
	if _, ok := stale.Descriptive(); ok {
		t.Error("Descriptive must be unavailable unless parsed")
	}

	ok := parsedReport(2, "PRODDB")
	v = ok.Visible()
	if v.DBName == nil || *v.DBName != "PRODDB" || v.ParseTime == nil {
		t.Errorf("parsed report lost fields: %+v", v)
	}
	d, found := ok.Descriptive()
	if !found || d.InstanceName != "orcl1" {
		t.Errorf("Descriptive = %+v, %v", d, found)
	}
}

func TestErrorText_VerbatimOnlyWhenFailed(t *testing.T) {
	msg := "Failed to read file: open /data/x.html: no such file or directory"
	now := time.Now()
	r := Report{Status: StatusFailed, ParseTime: &now, ErrorMessage: &msg}
	if r.ErrorText() != msg {
		t.Errorf("ErrorText = %q", r.ErrorText())
	}
	r.Status = StatusParsing
	if r.ErrorText() != "" {
		t.Error("ErrorText must be empty unless failed")
	}
}
