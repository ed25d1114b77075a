// Package awrparse extracts report metadata and performance metrics from
// Oracle AWR HTML reports.
package awrparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"awrlens/internal/awr"
	"awrlens/internal/logging"
)

// ErrNotAWR is returned for documents that carry no DB Name.
var ErrNotAWR = errors.New("not an AWR report: DB Name not found")

// DefaultVersion is assumed when the release cannot be detected.
const DefaultVersion = "19.0.0"

// topSQLLimit caps each "SQL ordered by" list.
const topSQLLimit = 10

// Instance is the identity block at the top of a report.
type Instance struct {
	DBName       string
	DBVersion    string
	InstanceName string
	HostName     string
}

// Snapshot is the captured interval.
type Snapshot struct {
	BeginSnapID    int64
	EndSnapID      int64
	BeginTime      time.Time
	EndTime        time.Time
	ElapsedSeconds float64
	DBTimeSeconds  float64
}

// Rate is one Load Profile line.
type Rate struct {
	PerSecond float64 `json:"per_second"`
	PerTxn    float64 `json:"per_txn"`
}

// WaitEvent is one row of the top wait events table.
type WaitEvent struct {
	Name       string  `json:"name"`
	Waits      float64 `json:"waits"`
	TimeWaited float64 `json:"time_waited"`
	AvgWait    float64 `json:"avg_wait"`
	PctDBTime  float64 `json:"pct_db_time"`
	WaitClass  string  `json:"wait_class,omitempty"`
}

// WaitEvents is the wait_events metric payload.
type WaitEvents struct {
	Events []WaitEvent `json:"events"`
}

// Row is a table row keyed by column header. Numeric cells are float64,
// everything else is kept as text.
type Row map[string]any

// TopSQL holds the "SQL ordered by" sections.
type TopSQL struct {
	ByElapsed    []Row `json:"by_elapsed"`
	ByCPU        []Row `json:"by_cpu"`
	ByGets       []Row `json:"by_gets"`
	ByReads      []Row `json:"by_reads"`
	ByExecutions []Row `json:"by_executions"`
}

func (t TopSQL) empty() bool {
	return len(t.ByElapsed)+len(t.ByCPU)+len(t.ByGets)+len(t.ByReads)+len(t.ByExecutions) == 0
}

// MemoryStat is a begin/end pair from the Memory Statistics table.
type MemoryStat struct {
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
}

// Report is everything extracted from one AWR document.
type Report struct {
	Instance           Instance
	Snapshot           Snapshot
	LoadProfile        map[string]Rate
	WaitEvents         WaitEvents
	TopSQL             TopSQL
	InstanceEfficiency map[string]float64
	MemoryStats        map[string]MemoryStat
	IOStats            []Row
}

// Descriptive returns the fields recorded on the report once parsed.
func (r *Report) Descriptive() awr.Descriptive {
	return awr.Descriptive{
		DBName:       r.Instance.DBName,
		DBVersion:    r.Instance.DBVersion,
		InstanceName: r.Instance.InstanceName,
		HostName:     r.Instance.HostName,
		BeginSnapID:  r.Snapshot.BeginSnapID,
		EndSnapID:    r.Snapshot.EndSnapID,
		BeginTime:    r.Snapshot.BeginTime,
		EndTime:      r.Snapshot.EndTime,
	}
}

// Metric is one stored metric category.
type Metric struct {
	Category string
	Data     json.RawMessage
}

// Metrics encodes every non-empty section as a metric category.
func (r *Report) Metrics() ([]Metric, error) {
	sections := []struct {
		category string
		empty    bool
		value    any
	}{
		{awr.CategoryLoadProfile, len(r.LoadProfile) == 0, r.LoadProfile},
		{awr.CategoryWaitEvents, len(r.WaitEvents.Events) == 0, r.WaitEvents},
		{awr.CategoryTopSQL, r.TopSQL.empty(), r.TopSQL},
		{awr.CategoryMemoryStats, len(r.MemoryStats) == 0, r.MemoryStats},
		{awr.CategoryIOStats, len(r.IOStats) == 0, map[string]any{"functions": r.IOStats}},
		{awr.CategoryInstanceEfficiency, len(r.InstanceEfficiency) == 0, r.InstanceEfficiency},
	}
	var out []Metric
	for _, s := range sections {
		if s.empty {
			continue
		}
		data, err := json.Marshal(s.value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", s.category, err)
		}
		out = append(out, Metric{Category: s.category, Data: data})
	}
	return out, nil
}

// Parser reads AWR documents.
type Parser struct {
	logger *slog.Logger
}

// New returns a Parser logging under the "awrparse" component.
func New() *Parser {
	return &Parser{logger: logging.New("awrparse")}
}

// Parse reads one AWR document with a default Parser.
func Parse(r io.Reader) (*Report, error) {
	return New().Parse(r)
}

// Parse reads one AWR HTML document. Missing optional sections are left
// empty; a document without a DB Name is rejected with ErrNotAWR.
func (p *Parser) Parse(r io.Reader) (*Report, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("read html: %w", err)
	}
	d := newDocument(root)

	out := &Report{Instance: parseInstance(d)}
	if out.Instance.DBName == "" {
		return nil, ErrNotAWR
	}
	if out.Instance.DBVersion == "" {
		out.Instance.DBVersion = detectVersion(d)
	}
	if err := checkVersion(out.Instance.DBVersion); err != nil {
		return nil, err
	}

	out.Snapshot = parseSnapshot(d)
	out.LoadProfile = p.parseLoadProfile(d)
	out.WaitEvents = p.parseWaitEvents(d)
	out.TopSQL = p.parseTopSQL(d)
	out.InstanceEfficiency = p.parseEfficiency(d)
	out.MemoryStats = p.parseMemory(d)
	out.IOStats = p.parseIO(d)

	p.logger.Debug("parsed AWR report",
		slog.String("db_name", out.Instance.DBName),
		slog.String("db_version", out.Instance.DBVersion),
		slog.Int("load_profile", len(out.LoadProfile)),
		slog.Int("wait_events", len(out.WaitEvents.Events)))
	return out, nil
}

// --- Instance ---

func instanceField(inst *Instance, key, value string) {
	key = trimLabel(key)
	value = strings.TrimSpace(value)
	if value == "" {
		return
	}
	set := func(dst *string) {
		if *dst == "" {
			*dst = value
		}
	}
	switch {
	case strings.Contains(key, "DB Name"):
		set(&inst.DBName)
	case key == "Instance" || key == "Instance Name":
		set(&inst.InstanceName)
	case strings.HasPrefix(key, "Host"):
		set(&inst.HostName)
	case key == "Release" || key == "Version":
		set(&inst.DBVersion)
	}
}

// parseInstance accepts both layouts seen in the wild: a header row of th
// cells over a row of values, and label/value pairs side by side.
func parseInstance(d *document) Instance {
	var inst Instance
	for _, t := range d.tables {
		rows := rowsOf(t)
		for i, row := range rows {
			cells := cellsOf(row)
			if isHeaderRow(row) && i+1 < len(rows) && !isHeaderRow(rows[i+1]) {
				values := cellsOf(rows[i+1])
				for j, h := range cells {
					if j < len(values) {
						instanceField(&inst, h, values[j])
					}
				}
				continue
			}
			for j := 0; j+1 < len(cells); j++ {
				instanceField(&inst, cells[j], cells[j+1])
			}
		}
		if inst.DBName != "" && inst.InstanceName != "" && inst.HostName != "" && inst.DBVersion != "" {
			break
		}
	}
	return inst
}

func isHeaderRow(row *html.Node) bool {
	n := 0
	for c := row.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if c.DataAtom != atom.Th {
			return false
		}
		n++
	}
	return n > 0
}

var versionPattern = regexp.MustCompile(`(?i)(?:release|version)\s+(\d+\.\d+\.\d+)`)

// detectVersion looks for an explicit release string, then for features
// that only exist in later releases.
func detectVersion(d *document) string {
	for _, e := range d.order {
		switch e.DataAtom {
		case atom.Td, atom.Th, atom.P, atom.Div:
			if m := versionPattern.FindStringSubmatch(textOf(e)); m != nil {
				return m[1]
			}
		}
	}
	text := textOf(d.root)
	switch {
	case (strings.Contains(text, "Pluggable Database") || strings.Contains(text, "PDB")) &&
		(strings.Contains(text, "Automatic Indexing") || strings.Contains(text, "Real-Time Statistics")):
		return "19.0.0"
	case strings.Contains(text, "Multitenant") || strings.Contains(text, "Container Database"):
		return "12.2.0"
	case strings.Contains(text, "Automatic Workload Repository"):
		return "11.2.0"
	}
	return DefaultVersion
}

func checkVersion(v string) error {
	major, _, _ := strings.Cut(v, ".")
	switch major {
	case "11", "12", "18", "19", "21", "23":
		return nil
	}
	return fmt.Errorf("unsupported Oracle version: %s", v)
}

// --- Snapshot ---

func parseSnapshot(d *document) Snapshot {
	var s Snapshot
	for _, t := range d.tables {
		for _, cells := range grid(t) {
			label := trimLabel(cells[0])
			switch {
			case strings.HasPrefix(label, "Begin Snap"):
				if s.BeginSnapID == 0 {
					s.BeginSnapID, s.BeginTime = snapRow(cells[1:])
				}
			case strings.HasPrefix(label, "End Snap"):
				if s.EndSnapID == 0 {
					s.EndSnapID, s.EndTime = snapRow(cells[1:])
				}
			case label == "Elapsed":
				if s.ElapsedSeconds == 0 {
					s.ElapsedSeconds = durationCell(cells[1:])
				}
			case label == "DB Time":
				if s.DBTimeSeconds == 0 {
					s.DBTimeSeconds = durationCell(cells[1:])
				}
			}
		}
	}
	return s
}

func snapRow(cells []string) (id int64, at time.Time) {
	for _, c := range cells {
		if id == 0 && isDigits(c) {
			id, _ = strconv.ParseInt(c, 10, 64)
			continue
		}
		if t, ok := ParseTime(c); ok && at.IsZero() {
			at = t
		}
	}
	return id, at
}

func durationCell(cells []string) float64 {
	for _, c := range cells {
		if v, ok := parseMinutes(c); ok {
			return v
		}
		if strings.Contains(c, ":") {
			if v, ok := ParseValue(c); ok && v > 0 {
				return v
			}
		}
	}
	return 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// --- Sections ---

func (p *Parser) parseLoadProfile(d *document) map[string]Rate {
	t := d.findTable("Load Profile")
	if t == nil {
		p.logger.Warn("section not found", slog.String("section", "Load Profile"))
		return nil
	}
	out := make(map[string]Rate)
	for _, cells := range grid(t) {
		if len(cells) < 3 {
			continue
		}
		name := trimLabel(cells[0])
		perSec, ok := ParseValue(cells[1])
		if name == "" || !ok {
			continue
		}
		out[name] = Rate{PerSecond: perSec, PerTxn: Number(cells[2])}
	}
	return out
}

func (p *Parser) parseWaitEvents(d *document) WaitEvents {
	out := WaitEvents{Events: []WaitEvent{}}
	t := d.findFirstTable("Top 10 Foreground Events", "Top 5 Timed", "Top Timed Events",
		"Foreground Wait Events", "Wait Events")
	if t == nil {
		p.logger.Warn("section not found", slog.String("section", "Wait Events"))
		return out
	}
	rows := grid(t)
	if len(rows) < 2 {
		return out
	}
	cols := waitColumns(rows[0])
	for _, cells := range rows[1:] {
		if len(cells) < 3 || cells[0] == "" {
			continue
		}
		ev := WaitEvent{Name: cells[0]}
		at := func(i int) string {
			if i >= 0 && i < len(cells) {
				return cells[i]
			}
			return ""
		}
		ev.Waits = Number(at(cols.waits))
		ev.TimeWaited = Number(at(cols.time))
		ev.AvgWait = parseMillis(at(cols.avg))
		ev.PctDBTime = Number(at(cols.pct))
		ev.WaitClass = at(cols.class)
		out.Events = append(out.Events, ev)
	}
	return out
}

type waitCols struct{ waits, time, avg, pct, class int }

// waitColumns maps the header row to field positions, falling back to the
// classic Event | Waits | Time | Avg Wait order.
func waitColumns(header []string) waitCols {
	c := waitCols{waits: 1, time: 2, avg: 3, pct: -1, class: -1}
	for i, h := range header {
		h = strings.ToLower(h)
		switch {
		case h == "waits":
			c.waits = i
		case strings.Contains(h, "db time"):
			c.pct = i
		case strings.Contains(h, "avg"):
			c.avg = i
		case strings.Contains(h, "wait class"):
			c.class = i
		case strings.Contains(h, "time"):
			c.time = i
		}
	}
	return c
}

func (p *Parser) parseTopSQL(d *document) TopSQL {
	var out TopSQL
	sections := []struct {
		heading string
		dst     *[]Row
	}{
		{"SQL ordered by Elapsed", &out.ByElapsed},
		{"SQL ordered by CPU", &out.ByCPU},
		{"SQL ordered by Gets", &out.ByGets},
		{"SQL ordered by Reads", &out.ByReads},
		{"SQL ordered by Executions", &out.ByExecutions},
	}
	for _, s := range sections {
		t := d.findTable(s.heading)
		if t == nil {
			p.logger.Debug("section not found", slog.String("section", s.heading))
			continue
		}
		rows := tableRows(t, func(header string) bool {
			return strings.Contains(header, "SQL Id") || strings.Contains(header, "SQL Text") ||
				strings.Contains(header, "SQL Module")
		})
		if len(rows) > topSQLLimit {
			rows = rows[:topSQLLimit]
		}
		*s.dst = rows
	}
	return out
}

// tableRows reads a headed table into rows. Columns for which keepText
// returns true are stored verbatim.
func tableRows(t *html.Node, keepText func(header string) bool) []Row {
	g := grid(t)
	if len(g) < 2 {
		return nil
	}
	header := g[0]
	var out []Row
	for _, cells := range g[1:] {
		if len(cells) < 2 {
			continue
		}
		row := make(Row)
		for i, c := range cells {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if v, ok := ParseValue(c); ok && !keepText(header[i]) {
				row[header[i]] = v
			} else {
				row[header[i]] = c
			}
		}
		if len(row) > 0 {
			out = append(out, row)
		}
	}
	return out
}

func (p *Parser) parseEfficiency(d *document) map[string]float64 {
	t := d.findTable("Instance Efficiency")
	if t == nil {
		p.logger.Debug("section not found", slog.String("section", "Instance Efficiency"))
		return nil
	}
	out := make(map[string]float64)
	for _, cells := range grid(t) {
		for j := 0; j+1 < len(cells); j++ {
			if !strings.HasSuffix(cells[j], ":") && !strings.Contains(cells[j], "%") {
				continue
			}
			if v, ok := ParseValue(cells[j+1]); ok {
				out[trimLabel(cells[j])] = v
				j++
			}
		}
	}
	return out
}

func (p *Parser) parseMemory(d *document) map[string]MemoryStat {
	t := d.findTable("Memory Statistics")
	if t == nil {
		p.logger.Debug("section not found", slog.String("section", "Memory Statistics"))
		return nil
	}
	out := make(map[string]MemoryStat)
	for _, cells := range grid(t) {
		if len(cells) < 3 {
			continue
		}
		begin, ok := ParseValue(cells[1])
		if !ok {
			continue
		}
		out[trimLabel(cells[0])] = MemoryStat{Begin: begin, End: Number(cells[2])}
	}
	return out
}

func (p *Parser) parseIO(d *document) []Row {
	t := d.findFirstTable("IOStat by Function summary", "IOStat by Function", "Tablespace IO Stats")
	if t == nil {
		p.logger.Debug("section not found", slog.String("section", "IO Stats"))
		return nil
	}
	return tableRows(t, func(header string) bool {
		return strings.Contains(header, "Function") || strings.Contains(header, "Tablespace")
	})
}
