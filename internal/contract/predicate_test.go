package contract_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/contract"
)

func TestGenerateEnforcement(t *testing.T) {
	t.Parallel()

	c, err := contract.LoadData([]byte(ordersContract))
	require.NoError(t, err)

	enf, err := contract.GenerateEnforcement(c, "updated_at")
	require.NoError(t, err)

	require.Contains(t, enf.Filters, "order_id IS NOT NULL")
	require.Contains(t, enf.Filters, "status IS NOT NULL")
	require.Contains(t, enf.Filters, "status IN ('pending', 'shipped', 'delivered')")
	require.Contains(t, enf.Filters, "amount >= 0")
	require.Equal(t, []string{"order_id"}, enf.UniqueKeys)
	require.Equal(t, "updated_at", enf.OrderBy)
}

func TestGenerateEnforcement_UnsupportedConstraint(t *testing.T) {
	t.Parallel()

	c, err := contract.LoadData([]byte(ordersContract))
	require.NoError(t, err)
	c.Schema.Columns[0].Constraints = append(c.Schema.Columns[0].Constraints,
		contract.Constraint{Kind: "checksum"})

	_, err = contract.GenerateEnforcement(c, "")
	require.ErrorIs(t, err, contract.ErrContract, "unsupported constraint must not be a silent no-op")
}

func TestEnforcement_WrapQuery(t *testing.T) {
	t.Parallel()

	enf := &contract.Enforcement{
		Filters:    []string{"id IS NOT NULL"},
		UniqueKeys: []string{"id"},
		OrderBy:    "updated_at",
	}

	sql := enf.WrapQuery("SELECT * FROM orders")
	require.Contains(t, sql, "WHERE id IS NOT NULL")
	require.Contains(t, sql, "PARTITION BY id ORDER BY updated_at DESC")
	require.Contains(t, sql, "strata_rn = 1")
}

func TestEnforcement_WrapQueryNoDedupe(t *testing.T) {
	t.Parallel()

	enf := &contract.Enforcement{Filters: []string{"amount >= 0"}}

	sql := enf.WrapQuery("SELECT * FROM orders")
	require.Equal(t, "SELECT * FROM (SELECT * FROM orders) AS src WHERE amount >= 0", sql)
}

const protectedContract = `
version: 1.0.0
dataset: customers_clean
stage: silver
schema:
  columns:
    - name: customer_id
      type: bigint
      nullable: false
      constraints:
        - type: unique
    - name: email
      type: varchar
      nullable: true
    - name: phone
      type: varchar
      nullable: true
    - name: city
      type: varchar
      nullable: true
protection:
  pseudonymize: [email]
  exclude: [phone]
`

func TestGenerateEnforcement_Protection(t *testing.T) {
	t.Parallel()

	c, err := contract.LoadData([]byte(protectedContract))
	require.NoError(t, err)

	enf, err := contract.GenerateEnforcement(c, "")
	require.NoError(t, err)
	require.Equal(t,
		[]string{"customer_id", "sha256(CAST(email AS VARCHAR)) AS email_hash", "city"},
		enf.Projection,
		"schema order kept, excluded column dropped, default hash is sha256")

	sql := enf.WrapQuery("SELECT * FROM customers")
	require.Contains(t, sql, "SELECT customer_id, sha256(CAST(email AS VARCHAR)) AS email_hash, city FROM (")
	require.Contains(t, sql, "PARTITION BY customer_id", "dedupe still sees raw columns")
}

func TestGenerateEnforcement_ProtectionAlgorithm(t *testing.T) {
	t.Parallel()

	c, err := contract.LoadData([]byte(protectedContract))
	require.NoError(t, err)
	c.Protection.HashAlgorithm = contract.HashMD5

	enf, err := contract.GenerateEnforcement(c, "")
	require.NoError(t, err)
	require.Contains(t, enf.Projection, "md5(CAST(email AS VARCHAR)) AS email_hash")
}

func TestGenerateEnforcement_ProtectionExcludesEverything(t *testing.T) {
	t.Parallel()

	c, err := contract.LoadData([]byte(protectedContract))
	require.NoError(t, err)
	c.Protection.Pseudonymize = nil
	c.Protection.Exclude = []string{"customer_id", "email", "phone", "city"}

	_, err = contract.GenerateEnforcement(c, "")
	require.ErrorIs(t, err, contract.ErrContract)
}
