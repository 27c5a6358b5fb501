// Package pipeline defines the configuration model for a medallion pipeline:
// sources with incremental tables, and transformation nodes per stage.
package pipeline

import "fmt"

// Stage is one of the three ordered pipeline stages.
type Stage string

const (
	StageBronze Stage = "bronze"
	StageSilver Stage = "silver"
	StageGold   Stage = "gold"
)

// Stages lists all stages in execution order.
var Stages = []Stage{StageBronze, StageSilver, StageGold}

// ParseStage converts a string into a Stage.
func ParseStage(s string) (Stage, error) {
	switch Stage(s) {
	case StageBronze, StageSilver, StageGold:
		return Stage(s), nil
	default:
		return "", fmt.Errorf("unknown stage %q", s)
	}
}

// Index returns the position of the stage in the pipeline order.
func (s Stage) Index() int {
	for i, stage := range Stages {
		if stage == s {
			return i
		}
	}
	return -1
}

// Next returns the stage following s, or false if s is the last stage.
func (s Stage) Next() (Stage, bool) {
	idx := s.Index()
	if idx < 0 || idx+1 >= len(Stages) {
		return "", false
	}
	return Stages[idx+1], true
}

// Before reports whether s runs strictly before other.
func (s Stage) Before(other Stage) bool {
	return s.Index() < other.Index()
}

func (s Stage) String() string { return string(s) }

// ConnectorKind identifies a source database connector. The set is closed;
// unknown kinds are rejected at build time.
type ConnectorKind string

const (
	ConnectorPostgres ConnectorKind = "postgres"
	ConnectorAzureSQL ConnectorKind = "azure_sql"
	ConnectorSAPB1    ConnectorKind = "sap_b1"
)

// TransformKind identifies how a transformation node produces its output.
type TransformKind string

const (
	// TransformSQL runs a declarative SQL transformation through the engine.
	TransformSQL TransformKind = "sql"
	// TransformScript runs an external script that writes the output artifact.
	TransformScript TransformKind = "script"
)

// Source is a named external system tables are extracted from.
// Immutable after load.
type Source struct {
	Name          string
	Kind          ConnectorKind
	Connection    string // connection string, possibly a secret reference
	CheckpointKey string
	Tables        []Table
}

// Table is one extraction unit within a source.
type Table struct {
	Name              string
	Query             string
	IncrementalColumn string // empty means full extraction every run
}

// Input binds an alias inside a transformation to an upstream output.
type Input struct {
	Alias string
	Stage Stage
	Path  string // "<source>/<table>" for bronze inputs, node name otherwise
}

// Dedupe asks the enforcement predicate to keep one row per key set,
// choosing the most recent row by the order-by column.
type Dedupe struct {
	Keys    []string
	OrderBy string
}

// Node is a transformation unit of work within the silver or gold stage.
type Node struct {
	Name          string
	Stage         Stage
	Kind          TransformKind
	Query         string // SQL body for TransformSQL
	Command       string // command line for TransformScript
	Inputs        []Input
	QualityChecks []string // "contract:<name>" or plain check names
	Dedupe        *Dedupe
}

// Pipeline is the validated configuration for one pipeline. Declaration
// order of sources, tables, and nodes is preserved so planning stays
// deterministic.
type Pipeline struct {
	Name         string
	Schedule     string // cron expression, empty when only run on demand
	ContractsDir string
	Sources      []Source
	Nodes        []Node
}

// NodesForStage returns the nodes declared for the given stage, in
// declaration order.
func (p *Pipeline) NodesForStage(stage Stage) []Node {
	var nodes []Node
	for _, n := range p.Nodes {
		if n.Stage == stage {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
