package format

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"awrlens/internal/awr"
	"awrlens/internal/display"
)

// ReportList renders one page of the listing with a page/total footer.
func ReportList(page *awr.ReportPage, m Mode) string {
	tb := NewTable(m)
	tb.Header("ID", "File", "Status", "DB", "Instance", "Snaps", "Uploaded", "Size")
	for _, raw := range page.Items {
		r := raw.Visible()
		snaps := "-"
		if r.BeginSnapID != nil && r.EndSnapID != nil {
			snaps = fmt.Sprintf("%d-%d", *r.BeginSnapID, *r.EndSnapID)
		}
		tb.Row(r.ID, Truncate(r.Filename, 40), display.Status(string(r.Status)), Opt(r.DBName), Opt(r.InstanceName),
			snaps, FmtTime(&r.UploadTime), FmtBytes(r.FileSize))
	}
	tb.Footer("", "", "", "", "", "",
		fmt.Sprintf("page %d/%d", page.Page, awr.LastPage(page.Total, page.PageSize)),
		fmt.Sprintf("%d total", page.Total))
	tb.Columns(ColumnConfig{Number: 1, Align: AlignRight}, ColumnConfig{Number: 8, Align: AlignRight})
	return tb.String()
}

// Report renders a single report as field/value rows. Descriptive fields
// appear only for parsed reports.
func Report(raw awr.Report, m Mode) string {
	r := raw.Visible()
	tb := NewTable(m)
	tb.Title(fmt.Sprintf("Report %d", r.ID))
	tb.Header("Field", "Value")
	tb.Row("File", r.Filename)
	tb.Row("Size", FmtBytes(r.FileSize))
	tb.Row("Status", display.Status(string(r.Status)))
	tb.Row("Uploaded", FmtTime(&r.UploadTime))
	tb.Row("Parsed at", FmtTime(r.ParseTime))
	if r.Status == awr.StatusFailed {
		tb.Row("Error", r.ErrorText())
	}
	if r.Status == awr.StatusParsed {
		tb.Row("DB name", Opt(r.DBName))
		tb.Row("DB version", Opt(r.DBVersion))
		tb.Row("Instance", Opt(r.InstanceName))
		tb.Row("Host", Opt(r.HostName))
		tb.Row("Snapshots", OptInt(r.BeginSnapID)+" - "+OptInt(r.EndSnapID))
		tb.Row("Begin", FmtTime(r.BeginTime))
		tb.Row("End", FmtTime(r.EndTime))
	}
	tb.Columns(ColumnConfig{Number: 2, MaxWidth: 80})
	return tb.String()
}

// Metrics renders each metric as its own table. Load profile, instance
// efficiency and wait events get dedicated layouts; other categories show
// their top-level keys.
func Metrics(metrics []awr.PerformanceMetric, m Mode) string {
	var parts []string
	for _, pm := range metrics {
		var out string
		var err error
		switch pm.Category {
		case awr.CategoryLoadProfile:
			out, err = loadProfile(pm.Data, m)
		case awr.CategoryInstanceEfficiency:
			out, err = efficiency(pm.Data, m)
		case awr.CategoryWaitEvents:
			out, err = waitEvents(pm.Data, m)
		default:
			out, err = generic(pm.Category, pm.Data, m)
		}
		if err != nil {
			out = fmt.Sprintf("%s: cannot render: %v", pm.Category, err)
		}
		parts = append(parts, out)
	}
	return strings.Join(parts, "\n")
}

func loadProfile(data json.RawMessage, m Mode) (string, error) {
	var rows map[string]struct {
		PerSecond *float64 `json:"per_second"`
		PerTxn    *float64 `json:"per_txn"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return "", err
	}
	tb := NewTable(m)
	tb.Title(display.CategoryWithCode(awr.CategoryLoadProfile))
	tb.Header("Statistic", "Per second", "Per transaction")
	for _, name := range sortedKeys(rows) {
		r := rows[name]
		tb.Row(name, optFloat(r.PerSecond), optFloat(r.PerTxn))
	}
	tb.Columns(ColumnConfig{Number: 2, Align: AlignRight}, ColumnConfig{Number: 3, Align: AlignRight})
	return tb.String(), nil
}

func efficiency(data json.RawMessage, m Mode) (string, error) {
	var rows map[string]float64
	if err := json.Unmarshal(data, &rows); err != nil {
		return "", err
	}
	tb := NewTable(m)
	tb.Title(display.CategoryWithCode(awr.CategoryInstanceEfficiency))
	tb.Header("Ratio", "%")
	for _, name := range sortedKeys(rows) {
		tb.Row(name, fmt.Sprintf("%.2f", rows[name]))
	}
	tb.Columns(ColumnConfig{Number: 2, Align: AlignRight})
	return tb.String(), nil
}

func waitEvents(data json.RawMessage, m Mode) (string, error) {
	var we struct {
		Events []struct {
			Name       string   `json:"name"`
			Waits      *float64 `json:"waits"`
			TimeWaited *float64 `json:"time_waited"`
			AvgWait    *float64 `json:"avg_wait"`
			PctDBTime  *float64 `json:"pct_db_time"`
			WaitClass  string   `json:"wait_class"`
		} `json:"events"`
	}
	if err := json.Unmarshal(data, &we); err != nil {
		return "", err
	}
	tb := NewTable(m)
	tb.Title(display.CategoryWithCode(awr.CategoryWaitEvents))
	tb.Header("Event", "Waits", "Time (s)", "Avg (ms)", "% DB time", "Class")
	for _, e := range we.Events {
		class := e.WaitClass
		if class == "" {
			class = "-"
		}
		tb.Row(e.Name, optFloat(e.Waits), optFloat(e.TimeWaited), optFloat(e.AvgWait), optFloat(e.PctDBTime), class)
	}
	tb.Columns(
		ColumnConfig{Number: 2, Align: AlignRight}, ColumnConfig{Number: 3, Align: AlignRight},
		ColumnConfig{Number: 4, Align: AlignRight}, ColumnConfig{Number: 5, Align: AlignRight},
	)
	return tb.String(), nil
}

func generic(category string, data json.RawMessage, m Mode) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", err
	}
	tb := NewTable(m)
	tb.Title(display.CategoryWithCode(category))
	tb.Header("Key", "Value")
	for _, k := range sortedKeys(obj) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, obj[k]); err != nil {
			buf.Reset()
			buf.Write(obj[k])
		}
		tb.Row(k, Truncate(buf.String(), 100))
	}
	return tb.String(), nil
}

// Diagnostics renders the severity counts followed by the findings,
// critical first.
func Diagnostics(s awr.DiagnosticSummary, m Mode) string {
	counts := NewTable(m)
	counts.Title(fmt.Sprintf("Report %d, run %d", s.ReportID, s.RunID))
	header := make([]string, 0, len(awr.Severities)+1)
	row := make([]any, 0, len(awr.Severities)+1)
	for _, sev := range awr.Severities {
		header = append(header, string(sev))
		row = append(row, s.Summary.Get(sev))
	}
	header = append(header, "total")
	row = append(row, s.Summary.Total())
	counts.Header(header...)
	counts.Row(row...)

	if len(s.Diagnostics) == 0 {
		return counts.String() + "\nNo issues found.\n"
	}
	findings := NewTable(m)
	findings.Header("Severity", "Rule", "Category", "Issue", "Recommendation")
	for _, d := range s.Diagnostics {
		findings.Row(display.Severity(string(d.Severity)), d.RuleID, display.RuleCategory(d.Category), d.IssueTitle, d.Recommendation)
	}
	findings.Columns(ColumnConfig{Number: 4, MaxWidth: 50}, ColumnConfig{Number: 5, MaxWidth: 60})
	return counts.String() + "\n" + findings.String()
}

func optFloat(f *float64) string {
	if f == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *f)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
