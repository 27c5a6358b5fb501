package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

var _ Resolver = (*envResolver)(nil)

// envResolver reads secrets from environment variables ("env://VAR_NAME").
type envResolver struct{}

func (e *envResolver) Name() string { return "env" }

func (e *envResolver) Resolve(_ context.Context, ref string) (string, error) {
	value, ok := os.LookupEnv(ref)
	if !ok {
		return "", fmt.Errorf("%w: environment variable %s is not set", ErrSecretNotFound, ref)
	}
	return value, nil
}

var _ Resolver = (*fileResolver)(nil)

// fileResolver reads secrets from files ("file:///run/secrets/name").
type fileResolver struct{}

func (f *fileResolver) Name() string { return "file" }

func (f *fileResolver) Resolve(_ context.Context, ref string) (string, error) {
	data, err := os.ReadFile(ref) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretNotFound, err)
	}
	return strings.TrimSpace(string(data)), nil
}
