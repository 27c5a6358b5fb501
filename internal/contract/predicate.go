package contract

import (
	"fmt"
	"strings"
)

// Enforcement is the filter and deduplication logic generated from a
// contract's schema constraints, applied by the transformation before its
// output is validated.
type Enforcement struct {
	// Filters are SQL predicates; rows violating any of them are excluded.
	Filters []string
	// UniqueKeys are columns carrying a unique constraint; output keeps one
	// row per key combination, the most recent by the order-by column.
	UniqueKeys []string
	// OrderBy is the tie-break column for deduplication, descending.
	OrderBy string
	// Projection is the output column list after data protection: excluded
	// columns dropped, pseudonymized columns hashed. Empty means SELECT *.
	Projection []string
}

// GenerateEnforcement translates the contract's schema constraints into
// enforcement logic. The mapping is total over the supported constraint
// vocabulary; anything else is an ErrContract at planning time.
func GenerateEnforcement(c *Contract, orderBy string) (*Enforcement, error) {
	enf := &Enforcement{OrderBy: orderBy}
	for _, col := range c.Schema.Columns {
		if !col.Nullable {
			enf.Filters = append(enf.Filters, fmt.Sprintf("%s IS NOT NULL", col.Name))
		}
		for _, cons := range col.Constraints {
			switch cons.Kind {
			case ConstraintNotNull:
				enf.Filters = append(enf.Filters, fmt.Sprintf("%s IS NOT NULL", col.Name))
			case ConstraintUnique:
				enf.UniqueKeys = append(enf.UniqueKeys, col.Name)
			case ConstraintRange:
				if cons.Min != nil {
					enf.Filters = append(enf.Filters, fmt.Sprintf("%s >= %g", col.Name, *cons.Min))
				}
				if cons.Max != nil {
					enf.Filters = append(enf.Filters, fmt.Sprintf("%s <= %g", col.Name, *cons.Max))
				}
			case ConstraintAllowedValues:
				quoted := make([]string, len(cons.Values))
				for i, v := range cons.Values {
					quoted[i] = "'" + strings.ReplaceAll(v, "'", "''") + "'"
				}
				enf.Filters = append(enf.Filters, fmt.Sprintf("%s IN (%s)", col.Name, strings.Join(quoted, ", ")))
			case ConstraintPattern:
				enf.Filters = append(enf.Filters,
					fmt.Sprintf("regexp_matches(%s, '%s')", col.Name, strings.ReplaceAll(cons.Pattern, "'", "''")))
			default:
				return nil, fmt.Errorf("%w: column %q has unsupported constraint type %q",
					ErrContract, col.Name, cons.Kind)
			}
		}
	}
	if !c.Protection.Empty() {
		proj, err := protectionProjection(c)
		if err != nil {
			return nil, err
		}
		enf.Projection = proj
	}

	enf.Filters = dedupStrings(enf.Filters)
	return enf, nil
}

// protectionProjection builds the output column list from the protection
// directives, preserving schema declaration order.
func protectionProjection(c *Contract) ([]string, error) {
	excluded := make(map[string]struct{}, len(c.Protection.Exclude))
	for _, name := range c.Protection.Exclude {
		excluded[name] = struct{}{}
	}
	pseudonymized := make(map[string]struct{}, len(c.Protection.Pseudonymize))
	for _, name := range c.Protection.Pseudonymize {
		pseudonymized[name] = struct{}{}
	}
	algorithm := c.Protection.HashAlgorithm
	if algorithm == "" {
		algorithm = HashSHA256
	}

	var proj []string
	for _, col := range c.Schema.Columns {
		if _, ok := excluded[col.Name]; ok {
			continue
		}
		if _, ok := pseudonymized[col.Name]; ok {
			proj = append(proj, fmt.Sprintf("%s(CAST(%s AS VARCHAR)) AS %s_hash", algorithm, col.Name, col.Name))
			continue
		}
		proj = append(proj, col.Name)
	}
	if len(proj) == 0 {
		return nil, fmt.Errorf("%w: protection excludes every column of %s", ErrContract, c.Dataset)
	}
	return proj, nil
}

// WrapQuery rewrites a transformation query so the enforcement logic is
// applied to its result: constraint filters as a WHERE clause, uniqueness
// as a keep-most-recent-row-per-key window, data protection as the final
// projection. Filters and deduplication see the raw columns; only the
// outermost select drops or hashes them.
func (e *Enforcement) WrapQuery(query string) string {
	wrapped := fmt.Sprintf("SELECT * FROM (%s) AS src", query)
	if len(e.Filters) > 0 {
		wrapped += " WHERE " + strings.Join(e.Filters, " AND ")
	}
	if len(e.UniqueKeys) > 0 {
		order := strings.Join(e.UniqueKeys, ", ")
		if e.OrderBy != "" {
			order = e.OrderBy + " DESC"
		}
		wrapped = fmt.Sprintf(
			"SELECT * EXCLUDE (strata_rn) FROM (SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS strata_rn FROM (%s) AS deduped) WHERE strata_rn = 1",
			strings.Join(e.UniqueKeys, ", "), order, wrapped)
	}
	if len(e.Projection) > 0 {
		wrapped = fmt.Sprintf("SELECT %s FROM (%s) AS protected", strings.Join(e.Projection, ", "), wrapped)
	}
	return wrapped
}

func dedupStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
