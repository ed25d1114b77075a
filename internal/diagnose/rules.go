// Package diagnose evaluates YAML rules against a parsed report's metrics and
// records the findings as a diagnostic run.
package diagnose

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"awrlens/internal/awr"
)

//go:embed rules/*.yaml
var defaultRules embed.FS

// Operators understood by conditions.
const (
	OpGreater      = ">"
	OpLess         = "<"
	OpGreaterEqual = ">="
	OpLessEqual    = "<="
	OpEqual        = "=="
	OpInRange      = "in_range"
)

// Condition compares one metric path against a threshold. Threshold is a
// number, a [low, high] pair for in_range, or any scalar for ==.
type Condition struct {
	Metric    string `yaml:"metric"`
	Operator  string `yaml:"operator"`
	Threshold any    `yaml:"threshold"`
}

// Rule fires when all of its conditions hold.
type Rule struct {
	ID             string       `yaml:"id"`
	Name           string       `yaml:"name"`
	Severity       awr.Severity `yaml:"severity"`
	Category       string       `yaml:"category"`
	Conditions     []Condition  `yaml:"conditions"`
	Description    string       `yaml:"description"`
	Recommendation string       `yaml:"recommendation"`
}

type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// Validate checks the rule is well formed.
func (r Rule) Validate() error {
	var errs *multierror.Error
	if r.ID == "" {
		errs = multierror.Append(errs, fmt.Errorf("rule %q: missing id", r.Name))
	}
	if !r.Severity.Valid() {
		errs = multierror.Append(errs, fmt.Errorf("rule %s: unknown severity %q", r.ID, r.Severity))
	}
	if len(r.Conditions) == 0 {
		errs = multierror.Append(errs, fmt.Errorf("rule %s: no conditions", r.ID))
	}
	for i, c := range r.Conditions {
		if c.Metric == "" {
			errs = multierror.Append(errs, fmt.Errorf("rule %s condition %d: missing metric", r.ID, i))
		}
		switch c.Operator {
		case OpGreater, OpLess, OpGreaterEqual, OpLessEqual:
			if _, ok := toFloat(c.Threshold); !ok {
				errs = multierror.Append(errs, fmt.Errorf("rule %s condition %d: threshold must be a number", r.ID, i))
			}
		case OpInRange:
			if _, _, ok := rangeBounds(c.Threshold); !ok {
				errs = multierror.Append(errs, fmt.Errorf("rule %s condition %d: in_range needs [low, high]", r.ID, i))
			}
		case OpEqual:
		default:
			errs = multierror.Append(errs, fmt.Errorf("rule %s condition %d: unknown operator %q", r.ID, i, c.Operator))
		}
	}
	return errs.ErrorOrNil()
}

// ParseRules decodes one rule file.
func ParseRules(data []byte) ([]Rule, error) {
	var f ruleFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rules yaml: %w", err)
	}
	return f.Rules, nil
}

// LoadRules reads every *.yaml and *.yml file in dir of fsys, in name order.
func LoadRules(fsys fs.FS, dir string) ([]Rule, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read rules dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		ext := strings.ToLower(path.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var rules []Rule
	for _, name := range names {
		data, err := fs.ReadFile(fsys, path.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		rs, err := ParseRules(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		rules = append(rules, rs...)
	}
	return rules, nil
}

// DefaultRules returns the built-in rule set.
func DefaultRules() ([]Rule, error) {
	return LoadRules(defaultRules, "rules")
}

// LoadRuleSet returns the built-in rules merged with the rules found in
// overrideDir, if any. Rules from overrideDir replace built-in rules with the
// same id and are appended otherwise.
func LoadRuleSet(overrideDir string) ([]Rule, error) {
	rules, err := DefaultRules()
	if err != nil {
		return nil, err
	}
	if overrideDir == "" {
		return rules, nil
	}
	extra, err := LoadRules(os.DirFS(overrideDir), ".")
	if err != nil {
		return nil, fmt.Errorf("load rules from %s: %w", overrideDir, err)
	}
	return Merge(rules, extra), nil
}

// Merge overlays rules onto base by id, keeping base order for replaced
// rules.
func Merge(base, overrides []Rule) []Rule {
	out := append([]Rule(nil), base...)
	index := make(map[string]int, len(out))
	for i, r := range out {
		index[r.ID] = i
	}
	for _, r := range overrides {
		if i, ok := index[r.ID]; ok {
			out[i] = r
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func rangeBounds(v any) (lo, hi float64, ok bool) {
	pair, isList := v.([]any)
	if !isList || len(pair) != 2 {
		return 0, 0, false
	}
	lo, okLo := toFloat(pair[0])
	hi, okHi := toFloat(pair[1])
	return lo, hi, okLo && okHi && lo <= hi
}
