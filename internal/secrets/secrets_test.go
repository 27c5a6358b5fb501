package secrets_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/secrets"
)

func TestRegistry_ResolveEnv(t *testing.T) {
	t.Setenv("STRATA_TEST_DSN", "postgres://db.internal/shop")

	reg := secrets.NewRegistry()
	value, err := reg.Resolve(context.Background(), "env://STRATA_TEST_DSN")
	require.NoError(t, err)
	require.Equal(t, "postgres://db.internal/shop", value)
}

func TestRegistry_ResolveEnvMissing(t *testing.T) {
	t.Parallel()

	reg := secrets.NewRegistry()
	_, err := reg.Resolve(context.Background(), "env://STRATA_TEST_DEFINITELY_NOT_SET")
	require.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestRegistry_ResolveFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dsn")
	require.NoError(t, os.WriteFile(path, []byte("secret-value\n"), 0600))

	reg := secrets.NewRegistry()
	value, err := reg.Resolve(context.Background(), "file://"+path)
	require.NoError(t, err)
	require.Equal(t, "secret-value", value, "file secrets are trimmed")
}

// fakeVault resolves vault:// references from a fixed map, standing in for
// a live server.
type fakeVault struct {
	data map[string]string
}

func (f *fakeVault) Name() string { return "vault" }

func (f *fakeVault) Resolve(_ context.Context, ref string) (string, error) {
	value, ok := f.data[ref]
	if !ok {
		return "", secrets.ErrSecretNotFound
	}
	return value, nil
}

func TestRegistry_RegisteredVaultScheme(t *testing.T) {
	t.Parallel()

	reg := secrets.NewRegistry()
	ref := "vault://kv/db#dsn"

	// Without a vault resolver the reference passes through as a literal.
	value, err := reg.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, ref, value)

	reg.Register(&fakeVault{data: map[string]string{"kv/db#dsn": "postgres://db.internal/shop"}})

	value, err = reg.Resolve(context.Background(), ref)
	require.NoError(t, err)
	require.Equal(t, "postgres://db.internal/shop", value)

	_, err = reg.Resolve(context.Background(), "vault://kv/db#missing")
	require.ErrorIs(t, err, secrets.ErrSecretNotFound)
}

func TestRegistry_LiteralPassThrough(t *testing.T) {
	t.Parallel()

	reg := secrets.NewRegistry()

	// No scheme at all.
	value, err := reg.Resolve(context.Background(), "plain-value")
	require.NoError(t, err)
	require.Equal(t, "plain-value", value)

	// Unknown schemes (e.g. real DSNs) pass through unchanged.
	dsn := "postgres://user:pw@host:5432/db"
	value, err = reg.Resolve(context.Background(), dsn)
	require.NoError(t, err)
	require.Equal(t, dsn, value)
}
