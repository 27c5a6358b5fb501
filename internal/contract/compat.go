package contract

import (
	"fmt"
)

// Verdict classifies a contract version diff.
type Verdict string

const (
	VerdictCompatible Verdict = "backward-compatible"
	VerdictBreaking   Verdict = "breaking"
)

// ColumnChange describes how one column differs between two versions.
type ColumnChange struct {
	Name     string   `json:"name"`
	Reasons  []string `json:"reasons"`
	Breaking bool     `json:"breaking"`
}

// CompatReport is the structured result of comparing two contract versions
// for the same dataset. It classifies only; enforcement of the verdict is
// the caller's job via Evolution.Allows.
type CompatReport struct {
	Dataset     string         `json:"dataset"`
	FromVersion string         `json:"from_version"`
	ToVersion   string         `json:"to_version"`
	Added       []string       `json:"added,omitempty"`
	Removed     []string       `json:"removed,omitempty"`
	Changed     []ColumnChange `json:"changed,omitempty"`
	Verdict     Verdict        `json:"verdict"`
}

// Compare diffs two versions of a dataset's contract. Adding a nullable
// column, widening a range, or adding an allowed value is backward
// compatible; removing a column, narrowing a range, changing a type, or
// tightening nullability is breaking.
func Compare(prev, next *Contract) (*CompatReport, error) {
	if prev.Dataset != next.Dataset {
		return nil, fmt.Errorf("%w: cannot compare contracts for different datasets (%q vs %q)",
			ErrContract, prev.Dataset, next.Dataset)
	}

	report := &CompatReport{
		Dataset:     prev.Dataset,
		FromVersion: prev.Version,
		ToVersion:   next.Version,
		Verdict:     VerdictCompatible,
	}

	for _, col := range prev.Schema.Columns {
		if next.Schema.Column(col.Name) == nil {
			report.Removed = append(report.Removed, col.Name)
			report.Verdict = VerdictBreaking
		}
	}

	for _, col := range next.Schema.Columns {
		old := prev.Schema.Column(col.Name)
		if old == nil {
			report.Added = append(report.Added, col.Name)
			if !col.Nullable {
				report.Changed = append(report.Changed, ColumnChange{
					Name:     col.Name,
					Reasons:  []string{"added column is not nullable"},
					Breaking: true,
				})
				report.Verdict = VerdictBreaking
			}
			continue
		}
		if change := diffColumn(*old, col); change != nil {
			report.Changed = append(report.Changed, *change)
			if change.Breaking {
				report.Verdict = VerdictBreaking
			}
		}
	}

	return report, nil
}

func diffColumn(old, next Column) *ColumnChange {
	change := ColumnChange{Name: old.Name}

	if old.Type != next.Type {
		change.Reasons = append(change.Reasons, fmt.Sprintf("type changed %s -> %s", old.Type, next.Type))
		change.Breaking = true
	}
	if old.Nullable && !next.Nullable {
		change.Reasons = append(change.Reasons, "nullable column became non-nullable")
		change.Breaking = true
	}
	if !old.Nullable && next.Nullable {
		change.Reasons = append(change.Reasons, "column became nullable")
	}

	diffConstraints(old, next, &change)

	if len(change.Reasons) == 0 {
		return nil
	}
	return &change
}

func diffConstraints(old, next Column, change *ColumnChange) {
	oldByKind := constraintsByKind(old.Constraints)
	nextByKind := constraintsByKind(next.Constraints)

	for kind, cons := range nextByKind {
		prev, had := oldByKind[kind]
		if !had {
			// A new constraint narrows the accepted data.
			change.Reasons = append(change.Reasons, fmt.Sprintf("constraint %s added", kind))
			change.Breaking = true
			continue
		}
		switch kind {
		case ConstraintRange:
			if narrowedMin(prev.Min, cons.Min) || narrowedMax(prev.Max, cons.Max) {
				change.Reasons = append(change.Reasons, "range narrowed")
				change.Breaking = true
			} else if widenedMin(prev.Min, cons.Min) || widenedMax(prev.Max, cons.Max) {
				change.Reasons = append(change.Reasons, "range widened")
			}
		case ConstraintAllowedValues:
			removed, added := diffValues(prev.Values, cons.Values)
			if removed {
				change.Reasons = append(change.Reasons, "allowed value removed")
				change.Breaking = true
			} else if added {
				change.Reasons = append(change.Reasons, "allowed value added")
			}
		case ConstraintPattern:
			if prev.Pattern != cons.Pattern {
				change.Reasons = append(change.Reasons, "pattern changed")
				change.Breaking = true
			}
		}
	}

	for kind := range oldByKind {
		if _, ok := nextByKind[kind]; !ok {
			// Dropping a constraint only loosens the contract.
			change.Reasons = append(change.Reasons, fmt.Sprintf("constraint %s removed", kind))
		}
	}
}

func constraintsByKind(constraints []Constraint) map[ConstraintKind]Constraint {
	out := make(map[ConstraintKind]Constraint, len(constraints))
	for _, c := range constraints {
		out[c.Kind] = c
	}
	return out
}

func narrowedMin(old, next *float64) bool {
	return next != nil && (old == nil || *next > *old)
}

func narrowedMax(old, next *float64) bool {
	return next != nil && (old == nil || *next < *old)
}

func widenedMin(old, next *float64) bool {
	return old != nil && (next == nil || *next < *old)
}

func widenedMax(old, next *float64) bool {
	return old != nil && (next == nil || *next > *old)
}

func diffValues(old, next []string) (removed, added bool) {
	oldSet := make(map[string]struct{}, len(old))
	for _, v := range old {
		oldSet[v] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, v := range next {
		nextSet[v] = struct{}{}
	}
	for v := range oldSet {
		if _, ok := nextSet[v]; !ok {
			removed = true
		}
	}
	for v := range nextSet {
		if _, ok := oldSet[v]; !ok {
			added = true
		}
	}
	return removed, added
}
