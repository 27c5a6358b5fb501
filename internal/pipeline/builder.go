package pipeline

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDefinition is returned for structurally invalid pipeline
// definitions. All build-time validation errors wrap it.
var ErrInvalidDefinition = errors.New("invalid pipeline definition")

func invalidf(format string, v ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidDefinition, fmt.Sprintf(format, v...))
}

// build converts a raw definition into a validated Pipeline. Connector and
// transform kinds form a closed vocabulary; anything outside it is rejected
// here so planning never sees an unknown kind.
func build(def *definition) (*Pipeline, error) {
	if strings.TrimSpace(def.Name) == "" {
		return nil, invalidf("name is required")
	}

	p := &Pipeline{
		Name:         def.Name,
		Schedule:     def.Schedule,
		ContractsDir: def.ContractsPath,
	}

	sourceNames := make(map[string]struct{}, len(def.Sources))
	for i, src := range def.Sources {
		built, err := buildSource(i, src)
		if err != nil {
			return nil, err
		}
		if _, ok := sourceNames[built.Name]; ok {
			return nil, invalidf("duplicate source name %q", built.Name)
		}
		sourceNames[built.Name] = struct{}{}
		p.Sources = append(p.Sources, built)
	}

	nodeNames := make(map[string]struct{})
	// Iterate stages in pipeline order so node declaration order is stable
	// regardless of YAML map ordering.
	for _, stage := range []Stage{StageSilver, StageGold} {
		for i, nd := range def.Transformations[string(stage)] {
			built, err := buildNode(stage, i, nd)
			if err != nil {
				return nil, err
			}
			if _, ok := nodeNames[built.Name]; ok {
				return nil, invalidf("duplicate transformation name %q", built.Name)
			}
			nodeNames[built.Name] = struct{}{}
			p.Nodes = append(p.Nodes, built)
		}
	}

	for stageName := range def.Transformations {
		if stageName != string(StageSilver) && stageName != string(StageGold) {
			return nil, invalidf("transformations declared for unknown stage %q", stageName)
		}
	}

	return p, nil
}

func buildSource(idx int, def sourceDef) (Source, error) {
	if strings.TrimSpace(def.Name) == "" {
		return Source{}, invalidf("sources[%d].name is required", idx)
	}
	kind := ConnectorKind(def.Type)
	switch kind {
	case ConnectorPostgres, ConnectorAzureSQL, ConnectorSAPB1:
	default:
		return Source{}, invalidf("source %q has unknown connector type %q", def.Name, def.Type)
	}
	if strings.TrimSpace(def.Connection) == "" {
		return Source{}, invalidf("source %q requires a connection", def.Name)
	}
	if len(def.Tables) == 0 {
		return Source{}, invalidf("source %q declares no tables", def.Name)
	}

	src := Source{
		Name:          def.Name,
		Kind:          kind,
		Connection:    def.Connection,
		CheckpointKey: def.CheckpointKey,
	}

	tableNames := make(map[string]struct{}, len(def.Tables))
	for i, tbl := range def.Tables {
		if strings.TrimSpace(tbl.Name) == "" {
			return Source{}, invalidf("source %q tables[%d].name is required", def.Name, i)
		}
		if strings.TrimSpace(tbl.Query) == "" {
			return Source{}, invalidf("source %q table %q requires a query", def.Name, tbl.Name)
		}
		if _, ok := tableNames[tbl.Name]; ok {
			return Source{}, invalidf("source %q has duplicate table %q", def.Name, tbl.Name)
		}
		tableNames[tbl.Name] = struct{}{}
		if tbl.IncrementalColumn != "" && src.CheckpointKey == "" {
			return Source{}, invalidf(
				"source %q table %q is incremental but the source has no checkpoint_key",
				def.Name, tbl.Name)
		}
		src.Tables = append(src.Tables, Table{
			Name:              tbl.Name,
			Query:             tbl.Query,
			IncrementalColumn: tbl.IncrementalColumn,
		})
	}
	return src, nil
}

func buildNode(stage Stage, idx int, def tfNodeDef) (Node, error) {
	if strings.TrimSpace(def.Name) == "" {
		return Node{}, invalidf("%s transformations[%d].name is required", stage, idx)
	}

	kind := TransformKind(def.Type)
	if def.Type == "" {
		kind = TransformSQL
	}
	switch kind {
	case TransformSQL:
		if strings.TrimSpace(def.Query) == "" {
			return Node{}, invalidf("transformation %q requires a query", def.Name)
		}
	case TransformScript:
		if strings.TrimSpace(def.Command) == "" {
			return Node{}, invalidf("transformation %q requires a command", def.Name)
		}
	default:
		return Node{}, invalidf("transformation %q has unknown type %q", def.Name, def.Type)
	}

	if len(def.Inputs) == 0 {
		return Node{}, invalidf("transformation %q declares no inputs", def.Name)
	}

	node := Node{
		Name:          def.Name,
		Stage:         stage,
		Kind:          kind,
		Query:         def.Query,
		Command:       def.Command,
		QualityChecks: def.QualityChecks,
	}

	aliases := make(map[string]struct{}, len(def.Inputs))
	for i, in := range def.Inputs {
		if strings.TrimSpace(in.Alias) == "" {
			return Node{}, invalidf("transformation %q inputs[%d].alias is required", def.Name, i)
		}
		if _, ok := aliases[in.Alias]; ok {
			return Node{}, invalidf("transformation %q has duplicate input alias %q", def.Name, in.Alias)
		}
		aliases[in.Alias] = struct{}{}
		inStage, err := ParseStage(in.Stage)
		if err != nil {
			return Node{}, invalidf("transformation %q input %q: %v", def.Name, in.Alias, err)
		}
		if strings.TrimSpace(in.Path) == "" {
			return Node{}, invalidf("transformation %q input %q requires a source_path", def.Name, in.Alias)
		}
		node.Inputs = append(node.Inputs, Input{
			Alias: in.Alias,
			Stage: inStage,
			Path:  in.Path,
		})
	}

	if def.Dedupe != nil {
		if len(def.Dedupe.Keys) == 0 {
			return Node{}, invalidf("transformation %q dedupe requires keys", def.Name)
		}
		if strings.TrimSpace(def.Dedupe.OrderBy) == "" {
			return Node{}, invalidf("transformation %q dedupe requires order_by", def.Name)
		}
		node.Dedupe = &Dedupe{
			Keys:    def.Dedupe.Keys,
			OrderBy: def.Dedupe.OrderBy,
		}
	}

	return node, nil
}
