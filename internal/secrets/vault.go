package secrets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	vault "github.com/hashicorp/vault/api"
)

var _ Resolver = (*VaultResolver)(nil)

// VaultResolver reads secrets from a HashiCorp Vault KV v2 mount.
// References have the form "vault://<mount>/<path>#<field>".
type VaultResolver struct {
	address string
	token   string

	mu     sync.Mutex
	client *vault.Client
}

// NewVaultResolver creates a resolver for the given Vault address. The
// client is created lazily on first resolve so configuring Vault without
// using it never fails.
func NewVaultResolver(address, token string) *VaultResolver {
	return &VaultResolver{address: address, token: token}
}

func (v *VaultResolver) Name() string { return "vault" }

func (v *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	path, field, ok := strings.Cut(ref, "#")
	if !ok {
		return "", fmt.Errorf("vault reference %q must be <mount>/<path>#<field>", ref)
	}
	mount, secretPath, ok := strings.Cut(path, "/")
	if !ok {
		return "", fmt.Errorf("vault reference %q must be <mount>/<path>#<field>", ref)
	}

	client, err := v.getClient()
	if err != nil {
		return "", err
	}

	secret, err := client.KVv2(mount).Get(ctx, secretPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretNotFound, err)
	}
	value, ok := secret.Data[field].(string)
	if !ok {
		return "", fmt.Errorf("%w: field %q missing in %s", ErrSecretNotFound, field, path)
	}
	return value, nil
}

func (v *VaultResolver) getClient() (*vault.Client, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.client != nil {
		return v.client, nil
	}
	cfg := vault.DefaultConfig()
	if v.address != "" {
		cfg.Address = v.address
	}
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if v.token != "" {
		client.SetToken(v.token)
	}
	v.client = client
	return client, nil
}
