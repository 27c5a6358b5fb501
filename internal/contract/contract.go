// Package contract implements declarative data contracts: versioned schema
// and quality definitions, enforcement predicate generation, post-run
// quality gates, and compatibility checks between versions.
package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrContract indicates a malformed contract or an unsupported constraint.
// Fatal at load time.
var ErrContract = errors.New("contract error")

// ConstraintKind is the closed vocabulary of column constraints.
type ConstraintKind string

const (
	ConstraintNotNull       ConstraintKind = "not_null"
	ConstraintUnique        ConstraintKind = "unique"
	ConstraintRange         ConstraintKind = "range"
	ConstraintAllowedValues ConstraintKind = "allowed_values"
	ConstraintPattern       ConstraintKind = "pattern"
)

// Constraint is one declarative column constraint.
type Constraint struct {
	Kind    ConstraintKind `yaml:"type" json:"type"`
	Min     *float64       `yaml:"min,omitempty" json:"min,omitempty"`
	Max     *float64       `yaml:"max,omitempty" json:"max,omitempty"`
	Values  []string       `yaml:"values,omitempty" json:"values,omitempty"`
	Pattern string         `yaml:"pattern,omitempty" json:"pattern,omitempty"`
}

// Column is one column of the contracted schema.
type Column struct {
	Name        string       `yaml:"name" json:"name"`
	Type        string       `yaml:"type" json:"type"`
	Nullable    bool         `yaml:"nullable" json:"nullable"`
	Constraints []Constraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

// Schema is the contracted column set.
type Schema struct {
	Columns []Column `yaml:"columns" json:"columns"`
}

// Column returns the named column, or nil.
func (s Schema) Column(name string) *Column {
	for i := range s.Columns {
		if s.Columns[i].Name == name {
			return &s.Columns[i]
		}
	}
	return nil
}

// RuleKind is the closed vocabulary of quality rule types.
type RuleKind string

const (
	RuleUnique      RuleKind = "unique"
	RuleNotNull     RuleKind = "not_null"
	RuleMinRowCount RuleKind = "min_row_count"
	RuleCustom      RuleKind = "custom"
	// RuleFreshness is reported for the implicit SLA freshness check; it
	// cannot be declared as a quality rule directly.
	RuleFreshness RuleKind = "freshness"
)

// Severity of a quality rule failure.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// QualityRule is one post-transformation quality check.
type QualityRule struct {
	Name     string   `yaml:"name" json:"name"`
	Kind     RuleKind `yaml:"type" json:"type"`
	Column   string   `yaml:"column,omitempty" json:"column,omitempty"`
	Query    string   `yaml:"query,omitempty" json:"query,omitempty"`
	Expected *int64   `yaml:"expected,omitempty" json:"expected,omitempty"`
	Severity Severity `yaml:"severity" json:"severity"`
}

// HashAlgorithm is the closed vocabulary of pseudonymization hashes.
type HashAlgorithm string

const (
	HashSHA256 HashAlgorithm = "sha256"
	HashSHA512 HashAlgorithm = "sha512"
	HashMD5    HashAlgorithm = "md5"
)

// Protection declares the contract's data protection directives, applied as
// the final projection of the enforcement predicate: excluded columns are
// dropped from the output, pseudonymized columns are replaced by a hash of
// their value.
type Protection struct {
	// HashAlgorithm defaults to sha256.
	HashAlgorithm HashAlgorithm `yaml:"hash_algorithm,omitempty" json:"hash_algorithm,omitempty"`
	// Pseudonymize lists columns replaced by a hex digest, renamed with a
	// _hash suffix.
	Pseudonymize []string `yaml:"pseudonymize,omitempty" json:"pseudonymize,omitempty"`
	// Exclude lists columns removed from the output entirely.
	Exclude []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Empty reports whether the contract carries no protection directives.
func (p Protection) Empty() bool {
	return len(p.Pseudonymize) == 0 && len(p.Exclude) == 0
}

// SLA holds the contract's service-level thresholds.
type SLA struct {
	Freshness string `yaml:"freshness,omitempty" json:"freshness,omitempty"` // max data age, e.g. "24h"
	// FreshnessColumn is the timestamp column the age is measured on.
	// Required when Freshness is set.
	FreshnessColumn string `yaml:"freshness_column,omitempty" json:"freshness_column,omitempty"`
	Completeness    *int64 `yaml:"completeness,omitempty" json:"completeness,omitempty"` // min row count
}

// EvolutionStrategy controls how breaking changes are treated on deployment.
type EvolutionStrategy string

const (
	EvolutionStrict  EvolutionStrategy = "strict"
	EvolutionLenient EvolutionStrategy = "lenient"
	EvolutionAuto    EvolutionStrategy = "auto"
)

// Evolution is the contract's schema evolution policy. The compatibility
// check itself never blocks; callers consult Allows with the verdict.
type Evolution struct {
	Strategy               EvolutionStrategy `yaml:"strategy" json:"strategy"`
	BreakingChangesAllowed bool              `yaml:"breaking_changes_allowed" json:"breaking_changes_allowed"`
}

// Allows reports whether a change with the given verdict may be deployed
// under this policy.
func (e Evolution) Allows(verdict Verdict) bool {
	switch e.Strategy {
	case EvolutionStrict:
		return verdict == VerdictCompatible
	case EvolutionLenient:
		return true
	default: // auto
		return verdict == VerdictCompatible || e.BreakingChangesAllowed
	}
}

// Contract is one immutable, versioned contract artifact.
type Contract struct {
	Version      string        `yaml:"version" json:"version"`
	Dataset      string        `yaml:"dataset" json:"dataset"`
	Stage        string        `yaml:"stage" json:"stage"`
	Owner        string        `yaml:"owner,omitempty" json:"owner,omitempty"`
	Schema       Schema        `yaml:"schema" json:"schema"`
	QualityRules []QualityRule `yaml:"quality_rules,omitempty" json:"quality_rules,omitempty"`
	Protection   Protection    `yaml:"protection,omitempty" json:"protection,omitempty"`
	SLA          SLA           `yaml:"sla,omitempty" json:"sla,omitempty"`
	Evolution    Evolution     `yaml:"evolution,omitempty" json:"evolution,omitempty"`
}

// Fingerprint returns a stable sha256 digest of the contracted schema, used
// by the registry to compare versions without re-parsing both documents.
func (c *Contract) Fingerprint() string {
	var b strings.Builder
	cols := make([]Column, len(c.Schema.Columns))
	copy(cols, c.Schema.Columns)
	sort.Slice(cols, func(i, j int) bool { return cols[i].Name < cols[j].Name })
	for _, col := range cols {
		fmt.Fprintf(&b, "%s|%s|%t|", col.Name, col.Type, col.Nullable)
		for _, cons := range col.Constraints {
			fmt.Fprintf(&b, "%s", cons.Kind)
			if cons.Min != nil {
				fmt.Fprintf(&b, ",min=%g", *cons.Min)
			}
			if cons.Max != nil {
				fmt.Fprintf(&b, ",max=%g", *cons.Max)
			}
			if len(cons.Values) > 0 {
				vals := make([]string, len(cons.Values))
				copy(vals, cons.Values)
				sort.Strings(vals)
				fmt.Fprintf(&b, ",values=%s", strings.Join(vals, "^"))
			}
			if cons.Pattern != "" {
				fmt.Fprintf(&b, ",pattern=%s", cons.Pattern)
			}
			b.WriteByte(';')
		}
		b.WriteByte('\n')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
