package diagnose

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/hashicorp/go-multierror"

	"awrlens/internal/awr"
)

// Engine evaluates a fixed rule set.
type Engine struct {
	rules []Rule
}

// NewEngine validates rules and returns an engine over them. Every invalid
// rule is reported.
func NewEngine(rules []Rule) (*Engine, error) {
	var errs *multierror.Error
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			errs = multierror.Append(errs, err)
		}
		if seen[r.ID] {
			errs = multierror.Append(errs, fmt.Errorf("duplicate rule id %s", r.ID))
		}
		seen[r.ID] = true
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &Engine{rules: append([]Rule(nil), rules...)}, nil
}

// Rules returns a copy of the engine's rules in evaluation order.
func (e *Engine) Rules() []Rule { return append([]Rule(nil), e.rules...) }

// Evaluate returns one result per matching rule, most severe first and in
// rule order within a severity. ReportID is left for the caller to set.
func (e *Engine) Evaluate(doc Document) []awr.DiagnosticResult {
	var results []awr.DiagnosticResult
	for _, r := range e.rules {
		related, ok := match(r.Conditions, doc)
		if !ok {
			continue
		}
		res := awr.DiagnosticResult{
			RuleID:           r.ID,
			Severity:         r.Severity,
			Category:         r.Category,
			IssueTitle:       r.Name,
			IssueDescription: r.Description,
			Recommendation:   r.Recommendation,
		}
		if data, err := json.Marshal(related); err == nil {
			res.RelatedMetrics = data
		}
		results = append(results, res)
	}
	return awr.SortBySeverity(results)
}

// match reports whether every condition holds, and the metric values seen.
func match(conds []Condition, doc Document) (map[string]any, bool) {
	related := make(map[string]any, len(conds))
	for _, c := range conds {
		v, ok := doc.Lookup(c.Metric)
		if !ok || !compare(v, c.Operator, c.Threshold) {
			return nil, false
		}
		related[c.Metric] = v
	}
	return related, true
}

func compare(value any, op string, threshold any) bool {
	if op == OpEqual {
		if a, ok := toFloat(value); ok {
			if b, ok := toFloat(threshold); ok {
				return a == b
			}
		}
		return reflect.DeepEqual(value, threshold)
	}
	v, ok := toFloat(value)
	if !ok {
		return false
	}
	if op == OpInRange {
		lo, hi, ok := rangeBounds(threshold)
		return ok && lo <= v && v <= hi
	}
	t, ok := toFloat(threshold)
	if !ok {
		return false
	}
	switch op {
	case OpGreater:
		return v > t
	case OpLess:
		return v < t
	case OpGreaterEqual:
		return v >= t
	case OpLessEqual:
		return v <= t
	}
	return false
}
