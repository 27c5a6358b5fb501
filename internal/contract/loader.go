package contract

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

var semverRe = regexp.MustCompile(`^\d+\.\d+\.\d+$`)

// Load reads and validates a contract document from a YAML file.
func Load(file string) (*Contract, error) {
	data, err := os.ReadFile(file) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read %s: %v", ErrContract, file, err)
	}
	return LoadData(data)
}

// LoadData parses and validates a contract from raw YAML bytes.
func LoadData(data []byte) (*Contract, error) {
	var c Contract
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: failed to parse contract: %v", ErrContract, err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the contract for structural errors. All violations are
// ErrContract: fatal at load time, before any execution.
func (c *Contract) Validate() error {
	if !semverRe.MatchString(c.Version) {
		return fmt.Errorf("%w: version must be a semantic version, got %q", ErrContract, c.Version)
	}
	if strings.TrimSpace(c.Dataset) == "" {
		return fmt.Errorf("%w: dataset is required", ErrContract)
	}
	if len(c.Schema.Columns) == 0 {
		return fmt.Errorf("%w: schema.columns must be non-empty", ErrContract)
	}

	seen := make(map[string]struct{}, len(c.Schema.Columns))
	for i, col := range c.Schema.Columns {
		if strings.TrimSpace(col.Name) == "" {
			return fmt.Errorf("%w: schema.columns[%d].name is required", ErrContract, i)
		}
		if _, ok := seen[col.Name]; ok {
			return fmt.Errorf("%w: duplicate column %q", ErrContract, col.Name)
		}
		seen[col.Name] = struct{}{}
		if strings.TrimSpace(col.Type) == "" {
			return fmt.Errorf("%w: column %q requires a type", ErrContract, col.Name)
		}
		for j, cons := range col.Constraints {
			if err := validateConstraint(col.Name, j, cons); err != nil {
				return err
			}
		}
	}

	ruleNames := make(map[string]struct{}, len(c.QualityRules))
	for i, rule := range c.QualityRules {
		if strings.TrimSpace(rule.Name) == "" {
			return fmt.Errorf("%w: quality_rules[%d].name is required", ErrContract, i)
		}
		if _, ok := ruleNames[rule.Name]; ok {
			return fmt.Errorf("%w: duplicate quality rule %q", ErrContract, rule.Name)
		}
		ruleNames[rule.Name] = struct{}{}

		switch rule.Severity {
		case SeverityError, SeverityWarning:
		case "":
			return fmt.Errorf("%w: quality rule %q requires a severity", ErrContract, rule.Name)
		default:
			return fmt.Errorf("%w: quality rule %q has unknown severity %q", ErrContract, rule.Name, rule.Severity)
		}

		switch rule.Kind {
		case RuleUnique, RuleNotNull:
			if strings.TrimSpace(rule.Column) == "" {
				return fmt.Errorf("%w: quality rule %q (%s) requires a column", ErrContract, rule.Name, rule.Kind)
			}
			if c.Schema.Column(rule.Column) == nil {
				return fmt.Errorf("%w: quality rule %q references unknown column %q", ErrContract, rule.Name, rule.Column)
			}
		case RuleMinRowCount:
			if rule.Expected == nil {
				return fmt.Errorf("%w: quality rule %q (min_row_count) requires expected", ErrContract, rule.Name)
			}
		case RuleCustom:
			if strings.TrimSpace(rule.Query) == "" {
				return fmt.Errorf("%w: quality rule %q (custom) requires a query", ErrContract, rule.Name)
			}
			if rule.Expected == nil {
				return fmt.Errorf("%w: quality rule %q (custom) requires expected", ErrContract, rule.Name)
			}
		default:
			return fmt.Errorf("%w: quality rule %q has unsupported type %q", ErrContract, rule.Name, rule.Kind)
		}
	}

	if err := validateProtection(c); err != nil {
		return err
	}

	if c.SLA.Freshness != "" {
		if _, err := time.ParseDuration(c.SLA.Freshness); err != nil {
			return fmt.Errorf("%w: sla.freshness must be a duration: %v", ErrContract, err)
		}
		if c.SLA.FreshnessColumn == "" {
			return fmt.Errorf("%w: sla.freshness requires freshness_column", ErrContract)
		}
		if c.Schema.Column(c.SLA.FreshnessColumn) == nil {
			return fmt.Errorf("%w: sla.freshness_column references unknown column %q", ErrContract, c.SLA.FreshnessColumn)
		}
	}
	if c.SLA.Completeness != nil && *c.SLA.Completeness < 0 {
		return fmt.Errorf("%w: sla.completeness must be >= 0", ErrContract)
	}

	switch c.Evolution.Strategy {
	case EvolutionStrict, EvolutionLenient, EvolutionAuto, "":
	default:
		return fmt.Errorf("%w: unknown evolution strategy %q", ErrContract, c.Evolution.Strategy)
	}

	return nil
}

func validateConstraint(column string, idx int, cons Constraint) error {
	switch cons.Kind {
	case ConstraintNotNull, ConstraintUnique:
	case ConstraintRange:
		if cons.Min == nil && cons.Max == nil {
			return fmt.Errorf("%w: column %q constraints[%d] range requires min or max", ErrContract, column, idx)
		}
		if cons.Min != nil && cons.Max != nil && *cons.Min > *cons.Max {
			return fmt.Errorf("%w: column %q constraints[%d] range min must be <= max", ErrContract, column, idx)
		}
	case ConstraintAllowedValues:
		if len(cons.Values) == 0 {
			return fmt.Errorf("%w: column %q constraints[%d] allowed_values requires values", ErrContract, column, idx)
		}
	case ConstraintPattern:
		if cons.Pattern == "" {
			return fmt.Errorf("%w: column %q constraints[%d] pattern requires a pattern", ErrContract, column, idx)
		}
		if _, err := regexp.Compile(cons.Pattern); err != nil {
			return fmt.Errorf("%w: column %q constraints[%d] pattern is invalid: %v", ErrContract, column, idx, err)
		}
	default:
		return fmt.Errorf("%w: column %q constraints[%d] has unsupported type %q", ErrContract, column, idx, cons.Kind)
	}
	return nil
}

// validateProtection checks the data protection directives against the
// schema. Quality rules run against the protected output, so they may not
// reference a column that protection drops or hashes away.
func validateProtection(c *Contract) error {
	if c.Protection.Empty() {
		return nil
	}

	switch c.Protection.HashAlgorithm {
	case "", HashSHA256, HashSHA512, HashMD5:
	default:
		return fmt.Errorf("%w: protection.hash_algorithm %q is unsupported", ErrContract, c.Protection.HashAlgorithm)
	}

	protected := make(map[string]struct{}, len(c.Protection.Exclude)+len(c.Protection.Pseudonymize))
	for _, name := range c.Protection.Exclude {
		if c.Schema.Column(name) == nil {
			return fmt.Errorf("%w: protection.exclude references unknown column %q", ErrContract, name)
		}
		protected[name] = struct{}{}
	}
	for _, name := range c.Protection.Pseudonymize {
		if c.Schema.Column(name) == nil {
			return fmt.Errorf("%w: protection.pseudonymize references unknown column %q", ErrContract, name)
		}
		if _, ok := protected[name]; ok {
			return fmt.Errorf("%w: column %q cannot be both excluded and pseudonymized", ErrContract, name)
		}
		protected[name] = struct{}{}
	}

	for _, rule := range c.QualityRules {
		if rule.Column == "" {
			continue
		}
		if _, ok := protected[rule.Column]; ok {
			return fmt.Errorf("%w: quality rule %q references protected column %q", ErrContract, rule.Name, rule.Column)
		}
	}
	if c.SLA.FreshnessColumn != "" {
		if _, ok := protected[c.SLA.FreshnessColumn]; ok {
			return fmt.Errorf("%w: sla.freshness_column %q is protected", ErrContract, c.SLA.FreshnessColumn)
		}
	}
	return nil
}
