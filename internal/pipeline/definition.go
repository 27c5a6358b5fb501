package pipeline

// definition is a temporary struct to hold the pipeline definition.
// It is used to unmarshal the YAML data, which is then converted to the
// Pipeline struct by the builder.
type definition struct {
	Name            string                 `yaml:"name"`
	Schedule        string                 `yaml:"schedule"`
	ContractsPath   string                 `yaml:"contracts_path"`
	Sources         []sourceDef            `yaml:"sources"`
	Transformations map[string][]tfNodeDef `yaml:"transformations"`
}

type sourceDef struct {
	Name          string     `yaml:"name"`
	Type          string     `yaml:"type"`
	Connection    string     `yaml:"connection"`
	CheckpointKey string     `yaml:"checkpoint_key"`
	Tables        []tableDef `yaml:"tables"`
}

type tableDef struct {
	Name              string `yaml:"name"`
	Query             string `yaml:"query"`
	IncrementalColumn string `yaml:"incremental_column"`
}

type tfNodeDef struct {
	Name          string     `yaml:"name"`
	Type          string     `yaml:"type"`
	Query         string     `yaml:"query"`
	Command       string     `yaml:"command"`
	Inputs        []inputDef `yaml:"inputs"`
	QualityChecks []string   `yaml:"quality_checks"`
	Dedupe        *dedupeDef `yaml:"dedupe"`
}

type inputDef struct {
	Alias string `yaml:"alias"`
	Stage string `yaml:"stage"`
	Path  string `yaml:"source_path"`
}

type dedupeDef struct {
	Keys    []string `yaml:"keys"`
	OrderBy string   `yaml:"order_by"`
}
