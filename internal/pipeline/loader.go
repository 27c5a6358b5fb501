package pipeline

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/stratapipe/strata/internal/fileutil"
)

// Load reads a pipeline definition from a YAML file and builds the
// validated Pipeline model.
func Load(file string) (*Pipeline, error) {
	if !fileutil.FileExists(file) {
		return nil, fmt.Errorf("pipeline definition not found: %s", file)
	}
	data, err := os.ReadFile(file) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read pipeline definition %s: %w", file, err)
	}
	return LoadData(data)
}

// LoadData builds a Pipeline from raw YAML bytes.
func LoadData(data []byte) (*Pipeline, error) {
	var def definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline definition: %w", err)
	}
	return build(&def)
}
