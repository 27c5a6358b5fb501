package contract_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/contract"
)

const ordersContract = `
version: 1.0.0
dataset: orders_clean
stage: silver
owner: data-eng
schema:
  columns:
    - name: order_id
      type: bigint
      nullable: false
      constraints:
        - type: unique
    - name: status
      type: varchar
      nullable: false
      constraints:
        - type: allowed_values
          values: [pending, shipped, delivered]
    - name: amount
      type: double
      nullable: true
      constraints:
        - type: range
          min: 0
    - name: updated_at
      type: timestamp
      nullable: false
quality_rules:
  - name: unique_order_id
    type: unique
    column: order_id
    severity: error
  - name: some_rows
    type: min_row_count
    expected: 1
    severity: warning
sla:
  freshness: 24h
  freshness_column: updated_at
  completeness: 1
evolution:
  strategy: strict
  breaking_changes_allowed: false
`

func TestLoadData(t *testing.T) {
	t.Parallel()

	c, err := contract.LoadData([]byte(ordersContract))
	require.NoError(t, err)
	require.Equal(t, "1.0.0", c.Version)
	require.Equal(t, "orders_clean", c.Dataset)
	require.Len(t, c.Schema.Columns, 4)
	require.Len(t, c.QualityRules, 2)
	require.Equal(t, contract.EvolutionStrict, c.Evolution.Strategy)
}

func TestLoadData_MalformedYAML(t *testing.T) {
	t.Parallel()

	_, err := contract.LoadData([]byte("version: [broken"))
	require.ErrorIs(t, err, contract.ErrContract)
}

func TestValidate_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *contract.Contract)
	}{
		{"bad version", func(c *contract.Contract) { c.Version = "v1" }},
		{"missing dataset", func(c *contract.Contract) { c.Dataset = "" }},
		{"no columns", func(c *contract.Contract) { c.Schema.Columns = nil }},
		{"duplicate column", func(c *contract.Contract) {
			c.Schema.Columns = append(c.Schema.Columns, c.Schema.Columns[0])
		}},
		{"unsupported constraint", func(c *contract.Contract) {
			c.Schema.Columns[0].Constraints = []contract.Constraint{{Kind: "checksum"}}
		}},
		{"range without bounds", func(c *contract.Contract) {
			c.Schema.Columns[0].Constraints = []contract.Constraint{{Kind: contract.ConstraintRange}}
		}},
		{"rule without severity", func(c *contract.Contract) {
			c.QualityRules[0].Severity = ""
		}},
		{"rule unknown column", func(c *contract.Contract) {
			c.QualityRules[0].Column = "missing"
		}},
		{"unsupported rule type", func(c *contract.Contract) {
			c.QualityRules[0].Kind = "entropy"
		}},
		{"bad freshness", func(c *contract.Contract) {
			c.SLA.Freshness = "yesterday"
		}},
		{"freshness without column", func(c *contract.Contract) {
			c.SLA.FreshnessColumn = ""
		}},
		{"freshness unknown column", func(c *contract.Contract) {
			c.SLA.FreshnessColumn = "created_at"
		}},
		{"protection unknown algorithm", func(c *contract.Contract) {
			c.Protection.HashAlgorithm = "rot13"
			c.Protection.Pseudonymize = []string{"status"}
		}},
		{"protection unknown column", func(c *contract.Contract) {
			c.Protection.Exclude = []string{"ssn"}
		}},
		{"protection exclude and pseudonymize", func(c *contract.Contract) {
			c.Protection.Exclude = []string{"status"}
			c.Protection.Pseudonymize = []string{"status"}
		}},
		{"protected column in quality rule", func(c *contract.Contract) {
			c.Protection.Pseudonymize = []string{"order_id"}
		}},
		{"protected freshness column", func(c *contract.Contract) {
			c.Protection.Exclude = []string{"updated_at"}
		}},
		{"unknown evolution strategy", func(c *contract.Contract) {
			c.Evolution.Strategy = "yolo"
		}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c, err := contract.LoadData([]byte(ordersContract))
			require.NoError(t, err)
			tc.mutate(c)
			require.ErrorIs(t, c.Validate(), contract.ErrContract)
		})
	}
}

func TestFingerprint_StableAcrossColumnOrder(t *testing.T) {
	t.Parallel()

	c1, err := contract.LoadData([]byte(ordersContract))
	require.NoError(t, err)
	c2, err := contract.LoadData([]byte(ordersContract))
	require.NoError(t, err)

	// Reordering columns does not change the contracted schema.
	c2.Schema.Columns[0], c2.Schema.Columns[1] = c2.Schema.Columns[1], c2.Schema.Columns[0]
	require.Equal(t, c1.Fingerprint(), c2.Fingerprint())

	// Changing a type does.
	c2.Schema.Columns[0].Type = "text"
	require.NotEqual(t, c1.Fingerprint(), c2.Fingerprint())
}
