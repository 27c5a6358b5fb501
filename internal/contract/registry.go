package contract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
)

// Registry errors.
var (
	ErrVersionExists  = errors.New("contract version already registered")
	ErrVersionUnknown = errors.New("contract version not registered")
)

// RegistryEntry records one registered contract version. The schema
// fingerprint lets compatibility between two versions be screened without
// re-parsing both documents.
type RegistryEntry struct {
	Dataset      string    `json:"dataset"`
	Version      string    `json:"version"`
	Fingerprint  string    `json:"fingerprint"`
	PriorVersion string    `json:"prior_version,omitempty"`
	Changelog    string    `json:"changelog,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Registry tracks contract versions per dataset, one JSON file per dataset.
type Registry struct {
	baseDir string
	mu      sync.Mutex
}

func NewRegistry(baseDir string) *Registry {
	return &Registry{baseDir: baseDir}
}

// Register records a new contract version linked to the latest prior one.
// Contracts are immutable per version: re-registering an existing version
// with a different fingerprint is an error.
func (r *Registry) Register(ctx context.Context, c *Contract, changelog string) (*RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(c.Dataset)
	if err != nil {
		return nil, err
	}

	fingerprint := c.Fingerprint()
	var prior string
	for _, e := range entries {
		if e.Version == c.Version {
			if e.Fingerprint == fingerprint {
				return &e, nil
			}
			return nil, fmt.Errorf("%w: %s %s with a different schema", ErrVersionExists, c.Dataset, c.Version)
		}
		prior = e.Version
	}

	entry := RegistryEntry{
		Dataset:      c.Dataset,
		Version:      c.Version,
		Fingerprint:  fingerprint,
		PriorVersion: prior,
		Changelog:    changelog,
		CreatedAt:    time.Now().UTC(),
	}
	entries = append(entries, entry)

	if err := r.save(c.Dataset, entries); err != nil {
		return nil, err
	}

	logger.Info(ctx, "Registered contract version",
		tag.Contract(c.Dataset),
		tag.String("version", c.Version))
	return &entry, nil
}

// Latest returns the most recently registered entry for the dataset, or nil
// when none exists.
func (r *Registry) Latest(dataset string) (*RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(dataset)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[len(entries)-1], nil
}

// Entries returns all registered versions for the dataset in registration order.
func (r *Registry) Entries(dataset string) ([]RegistryEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load(dataset)
}

// SameSchema reports whether two registered versions carry an identical
// schema fingerprint, screening out the common no-op case before a full
// Compare of both documents.
func (r *Registry) SameSchema(dataset, versionA, versionB string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.load(dataset)
	if err != nil {
		return false, err
	}
	var fpA, fpB string
	for _, e := range entries {
		switch e.Version {
		case versionA:
			fpA = e.Fingerprint
		case versionB:
			fpB = e.Fingerprint
		}
	}
	if fpA == "" {
		return false, fmt.Errorf("%w: %s %s", ErrVersionUnknown, dataset, versionA)
	}
	if fpB == "" {
		return false, fmt.Errorf("%w: %s %s", ErrVersionUnknown, dataset, versionB)
	}
	return fpA == fpB, nil
}

func (r *Registry) load(dataset string) ([]RegistryEntry, error) {
	data, err := os.ReadFile(r.path(dataset)) //nolint:gosec
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read contract registry for %s: %w", dataset, err)
	}
	var entries []RegistryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse contract registry for %s: %w", dataset, err)
	}
	return entries, nil
}

func (r *Registry) save(dataset string, entries []RegistryEntry) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal contract registry for %s: %w", dataset, err)
	}
	if err := fileutil.WriteFileAtomic(r.path(dataset), data); err != nil {
		return fmt.Errorf("failed to persist contract registry for %s: %w", dataset, err)
	}
	return nil
}

func (r *Registry) path(dataset string) string {
	return filepath.Join(r.baseDir, fileutil.SafeName(dataset)+".json")
}
