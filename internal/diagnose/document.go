package diagnose

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"awrlens/internal/awr"
)

// Document is the nested value tree rules are evaluated against. Paths are
// dot-separated keys, e.g. "wait_events.log_file_sync.pct_db_time".
type Document map[string]any

// Lookup walks path through nested maps.
func (d Document) Lookup(path string) (any, bool) {
	var cur any = map[string]any(d)
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[key]; !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// Number looks up path and returns it as a float.
func (d Document) Number(path string) (float64, bool) {
	v, ok := d.Lookup(path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// NormalizeKey lowercases name and collapses every run of other characters to
// a single underscore: "Hard parses (SQL):" becomes "hard_parses_sql".
func NormalizeKey(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

type rate struct {
	PerSecond float64 `json:"per_second"`
	PerTxn    float64 `json:"per_txn"`
}

type waitEvent struct {
	Name       string  `json:"name"`
	Waits      float64 `json:"waits"`
	TimeWaited float64 `json:"time_waited"`
	AvgWait    float64 `json:"avg_wait"`
	PctDBTime  float64 `json:"pct_db_time"`
}

type memoryStat struct {
	Begin float64 `json:"begin"`
	End   float64 `json:"end"`
}

// BuildDocument turns stored metrics into an evaluation document. Section
// keys are normalized with NormalizeKey, and a "derived" section adds the
// ratios the default rules are written against.
func BuildDocument(metrics []awr.PerformanceMetric) (Document, error) {
	doc := Document{}
	for _, m := range metrics {
		var (
			section map[string]any
			err     error
		)
		switch m.Category {
		case awr.CategoryLoadProfile:
			section, err = loadProfileSection(m.Data)
		case awr.CategoryWaitEvents:
			section, err = waitEventSection(m.Data)
		case awr.CategoryInstanceEfficiency:
			section, err = efficiencySection(m.Data)
		case awr.CategoryMemoryStats:
			section, err = memorySection(m.Data)
		default:
			err = json.Unmarshal(m.Data, &section)
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s metrics: %w", m.Category, err)
		}
		doc[m.Category] = section
	}
	doc["derived"] = derive(doc)
	return doc, nil
}

func loadProfileSection(data []byte) (map[string]any, error) {
	var raw map[string]rate
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for name, r := range raw {
		out[NormalizeKey(name)] = map[string]any{"per_second": r.PerSecond, "per_txn": r.PerTxn}
	}
	return out, nil
}

func waitEventSection(data []byte) (map[string]any, error) {
	var raw struct {
		Events []waitEvent `json:"events"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw.Events))
	for _, e := range raw.Events {
		key := NormalizeKey(e.Name)
		if _, dup := out[key]; dup || key == "" {
			continue
		}
		out[key] = map[string]any{
			"waits":       e.Waits,
			"time_waited": e.TimeWaited,
			"avg_wait":    e.AvgWait,
			"pct_db_time": e.PctDBTime,
		}
	}
	return out, nil
}

func efficiencySection(data []byte) (map[string]any, error) {
	var raw map[string]float64
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for name, v := range raw {
		out[NormalizeKey(name)] = v
	}
	return out, nil
}

func memorySection(data []byte) (map[string]any, error) {
	var raw map[string]memoryStat
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for name, s := range raw {
		out[NormalizeKey(name)] = map[string]any{"begin": s.Begin, "end": s.End}
	}
	return out, nil
}

// derive computes values that need more than one metric. A value whose
// inputs are missing is left out, so rules on it simply do not fire.
func derive(doc Document) map[string]any {
	out := map[string]any{}
	copyIf := func(key, path string) {
		if v, ok := doc.Number(path); ok {
			out[key] = v
		}
	}
	copyIf("buffer_hit_ratio", "instance_efficiency.buffer_hit")
	copyIf("soft_parse_ratio", "instance_efficiency.soft_parse")
	copyIf("library_hit_ratio", "instance_efficiency.library_hit")
	copyIf("db_time_per_sec", "load_profile.db_time_s.per_second")
	copyIf("db_cpu_per_sec", "load_profile.db_cpu_s.per_second")
	copyIf("hard_parses_per_sec", "load_profile.hard_parses_sql.per_second")
	copyIf("physical_reads_per_sec", "load_profile.physical_read_blocks.per_second")

	dbTime, okTime := doc.Number("load_profile.db_time_s.per_second")
	dbCPU, okCPU := doc.Number("load_profile.db_cpu_s.per_second")
	if okTime && okCPU && dbTime > 0 {
		out["db_cpu_pct"] = 100 * dbCPU / dbTime
	}
	parses, okParses := doc.Number("load_profile.parses_sql.per_second")
	hard, okHard := doc.Number("load_profile.hard_parses_sql.per_second")
	if okParses && okHard && parses > 0 {
		out["hard_parse_pct"] = 100 * hard / parses
		if _, ok := out["soft_parse_ratio"]; !ok {
			out["soft_parse_ratio"] = 100 - 100*hard/parses
		}
	}
	return out
}
