package contract_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/contract"
)

func TestRegistry_RegisterAndLatest(t *testing.T) {
	t.Parallel()

	reg := contract.NewRegistry(t.TempDir())
	ctx := context.Background()

	v1 := baseContract()
	entry, err := reg.Register(ctx, v1, "initial contract")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", entry.Version)
	require.Empty(t, entry.PriorVersion)
	require.NotEmpty(t, entry.Fingerprint)

	v2 := bump(baseContract())
	v2.Schema.Columns = append(v2.Schema.Columns,
		contract.Column{Name: "note", Type: "varchar", Nullable: true})
	entry2, err := reg.Register(ctx, v2, "add note column")
	require.NoError(t, err)
	require.Equal(t, "1.0.0", entry2.PriorVersion, "new version links to the prior one")

	latest, err := reg.Latest("orders_clean")
	require.NoError(t, err)
	require.Equal(t, "1.1.0", latest.Version)

	entries, err := reg.Entries("orders_clean")
	require.NoError(t, err)
	require.Len(t, entries, 2)
}

func TestRegistry_VersionsAreImmutable(t *testing.T) {
	t.Parallel()

	reg := contract.NewRegistry(t.TempDir())
	ctx := context.Background()

	_, err := reg.Register(ctx, baseContract(), "initial")
	require.NoError(t, err)

	// Re-registering the identical contract is idempotent.
	_, err = reg.Register(ctx, baseContract(), "initial")
	require.NoError(t, err)

	// Same version with a different schema is rejected.
	changed := baseContract()
	changed.Schema.Columns[0].Type = "varchar"
	_, err = reg.Register(ctx, changed, "sneaky edit")
	require.ErrorIs(t, err, contract.ErrVersionExists)
}

func TestRegistry_SameSchema(t *testing.T) {
	t.Parallel()

	reg := contract.NewRegistry(t.TempDir())
	ctx := context.Background()

	_, err := reg.Register(ctx, baseContract(), "initial")
	require.NoError(t, err)

	same := bump(baseContract())
	_, err = reg.Register(ctx, same, "version bump only")
	require.NoError(t, err)

	equal, err := reg.SameSchema("orders_clean", "1.0.0", "1.1.0")
	require.NoError(t, err)
	require.True(t, equal)

	_, err = reg.SameSchema("orders_clean", "1.0.0", "9.9.9")
	require.ErrorIs(t, err, contract.ErrVersionUnknown)
}

func TestRegistry_LatestUnknownDataset(t *testing.T) {
	t.Parallel()

	reg := contract.NewRegistry(t.TempDir())

	latest, err := reg.Latest("nope")
	require.NoError(t, err)
	require.Nil(t, latest)
}
