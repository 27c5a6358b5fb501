package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrQualityGate indicates one or more error-severity quality rules failed.
// The artifact must not be published and checkpoints must not advance.
var ErrQualityGate = errors.New("quality gate failed")

// Querier evaluates a scalar count query against a produced artifact. It is
// implemented by the embedded analytical SQL engine.
type Querier interface {
	Count(ctx context.Context, query string) (int64, error)
}

// RuleResult is the outcome of evaluating one quality rule.
type RuleResult struct {
	Name     string   `json:"name"`
	Kind     RuleKind `json:"type"`
	Severity Severity `json:"severity"`
	Passed   bool     `json:"passed"`
	Observed int64    `json:"observed"`
	Expected int64    `json:"expected"`
	Message  string   `json:"message,omitempty"`
}

// ValidationReport is the outcome of a full quality gate run. Every rule is
// evaluated; the report lists all failures, not just the first.
type ValidationReport struct {
	Dataset string       `json:"dataset"`
	Version string       `json:"version"`
	Results []RuleResult `json:"results"`
}

// Failures returns the error-severity failed results.
func (r *ValidationReport) Failures() []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if !res.Passed && res.Severity == SeverityError {
			out = append(out, res)
		}
	}
	return out
}

// Warnings returns the warning-severity failed results. These are recorded
// but do not change control flow.
func (r *ValidationReport) Warnings() []RuleResult {
	var out []RuleResult
	for _, res := range r.Results {
		if !res.Passed && res.Severity == SeverityWarning {
			out = append(out, res)
		}
	}
	return out
}

// GateError enumerates every failed error-severity rule of a gate run.
type GateError struct {
	Dataset string
	Failed  []RuleResult
}

func (e *GateError) Error() string {
	names := make([]string, len(e.Failed))
	for i, r := range e.Failed {
		names[i] = fmt.Sprintf("%s (%s)", r.Name, r.Message)
	}
	return fmt.Sprintf("quality gate failed for %s: %s", e.Dataset, strings.Join(names, "; "))
}

func (e *GateError) Unwrap() error { return ErrQualityGate }

// Gate returns a GateError if the report contains error-severity failures,
// nil otherwise.
func Gate(report *ValidationReport) error {
	failed := report.Failures()
	if len(failed) == 0 {
		return nil
	}
	return &GateError{Dataset: report.Dataset, Failed: failed}
}

// Evaluate runs every quality rule of the contract against the relation
// (a table or view over the produced artifact) and returns the full report.
// A rule whose evaluation itself errors is treated as an error-severity
// failure regardless of its declared severity: an unevaluable rule cannot
// be trusted.
func Evaluate(ctx context.Context, c *Contract, relation string, q Querier) *ValidationReport {
	report := &ValidationReport{Dataset: c.Dataset, Version: c.Version}

	for _, rule := range c.QualityRules {
		report.Results = append(report.Results, evaluateRule(ctx, rule, relation, q))
	}

	// The SLA completeness threshold participates in the gate as an
	// implicit minimum row count.
	if c.SLA.Completeness != nil {
		expected := *c.SLA.Completeness
		report.Results = append(report.Results, evaluateRule(ctx, QualityRule{
			Name:     "sla_completeness",
			Kind:     RuleMinRowCount,
			Expected: &expected,
			Severity: SeverityError,
		}, relation, q))
	}
	if c.SLA.Freshness != "" {
		report.Results = append(report.Results, evaluateFreshness(ctx, c, relation, q))
	}

	return report
}

// evaluateFreshness checks the SLA's maximum data age: at least one row's
// freshness column must fall within the window ending now.
func evaluateFreshness(ctx context.Context, c *Contract, relation string, q Querier) RuleResult {
	result := RuleResult{
		Name:     "sla_freshness",
		Kind:     RuleFreshness,
		Severity: SeverityError,
	}

	maxAge, err := time.ParseDuration(c.SLA.Freshness)
	if err == nil {
		var observed int64
		observed, err = q.Count(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s >= CURRENT_TIMESTAMP - INTERVAL '%d seconds'",
			relation, c.SLA.FreshnessColumn, int64(maxAge.Seconds())))
		result.Observed = observed
		result.Passed = err == nil && observed > 0
		result.Message = fmt.Sprintf("%d rows of %s within %s", observed, c.SLA.FreshnessColumn, c.SLA.Freshness)
	}
	if err != nil {
		result.Passed = false
		result.Message = fmt.Sprintf("rule evaluation failed: %v", err)
	}
	return result
}

func evaluateRule(ctx context.Context, rule QualityRule, relation string, q Querier) RuleResult {
	result := RuleResult{
		Name:     rule.Name,
		Kind:     rule.Kind,
		Severity: rule.Severity,
	}

	var (
		observed int64
		err      error
	)
	switch rule.Kind {
	case RuleUnique:
		observed, err = q.Count(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s FROM %s GROUP BY %s HAVING COUNT(*) > 1) AS dups",
			rule.Column, relation, rule.Column))
		result.Passed = err == nil && observed == 0
		result.Message = fmt.Sprintf("%d duplicate values in %s", observed, rule.Column)
	case RuleNotNull:
		observed, err = q.Count(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s IS NULL", relation, rule.Column))
		result.Passed = err == nil && observed == 0
		result.Message = fmt.Sprintf("%d null values in %s", observed, rule.Column)
	case RuleMinRowCount:
		result.Expected = *rule.Expected
		observed, err = q.Count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", relation))
		result.Passed = err == nil && observed >= result.Expected
		result.Message = fmt.Sprintf("%d rows, expected at least %d", observed, result.Expected)
	case RuleCustom:
		result.Expected = *rule.Expected
		query := strings.ReplaceAll(rule.Query, "{table}", relation)
		observed, err = q.Count(ctx, query)
		result.Passed = err == nil && observed == result.Expected
		result.Message = fmt.Sprintf("observed %d, expected %d", observed, result.Expected)
	default:
		err = fmt.Errorf("unsupported rule type %q", rule.Kind)
	}
	result.Observed = observed

	if err != nil {
		// An unevaluable rule is always an error-severity failure.
		result.Passed = false
		result.Severity = SeverityError
		result.Message = fmt.Sprintf("rule evaluation failed: %v", err)
	}
	return result
}
