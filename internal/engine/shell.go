package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strconv"
	"strings"
)

var _ Engine = (*ShellEngine)(nil)

// ShellEngine drives an analytical SQL engine through its command line
// client (duckdb by default). Attachments, extraction queries and
// transformations become scripts executed in a fresh engine process, so
// every call starts from a clean session.
type ShellEngine struct {
	binary string
}

func NewShellEngine(binary string) *ShellEngine {
	if binary == "" {
		binary = "duckdb"
	}
	return &ShellEngine{binary: binary}
}

// Extract implements Engine.
func (e *ShellEngine) Extract(ctx context.Context, att Attachment, query, incrementalColumn, destination string) (*ExtractResult, error) {
	script := extractScript(att, query, destination)
	if _, err := e.exec(ctx, script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	stats := fmt.Sprintf("SELECT COUNT(*) AS rows FROM read_parquet(%s)", sqlString(destination))
	if incrementalColumn != "" {
		stats = fmt.Sprintf(
			"SELECT COUNT(*) AS rows, CAST(MAX(%s) AS VARCHAR) AS watermark FROM read_parquet(%s)",
			incrementalColumn, sqlString(destination))
	}
	rows, err := e.queryRows(ctx, stats)
	if err != nil {
		return nil, fmt.Errorf("%w: reading extraction stats: %v", ErrExtraction, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: extraction stats query returned no rows", ErrExtraction)
	}

	result := &ExtractResult{Rows: toInt64(rows[0]["rows"])}
	if wm, ok := rows[0]["watermark"].(string); ok {
		result.MaxWatermark = wm
	}
	return result, nil
}

// Transform implements Engine.
func (e *ShellEngine) Transform(ctx context.Context, inputs map[string]string, query, destination string) (int64, error) {
	var b strings.Builder
	writeInputViews(&b, inputs)
	fmt.Fprintf(&b, "COPY (%s) TO %s (FORMAT parquet);\n", query, sqlString(destination))
	if _, err := e.exec(ctx, b.String()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransformation, err)
	}

	rows, err := e.queryRows(ctx, fmt.Sprintf(
		"SELECT COUNT(*) AS rows FROM read_parquet(%s)", sqlString(destination)))
	if err != nil || len(rows) == 0 {
		return 0, fmt.Errorf("%w: reading output row count: %v", ErrTransformation, err)
	}
	return toInt64(rows[0]["rows"]), nil
}

// Count implements Engine.
func (e *ShellEngine) Count(ctx context.Context, inputs map[string]string, query string) (int64, error) {
	var b strings.Builder
	writeInputViews(&b, inputs)
	b.WriteString(query)
	b.WriteString(";\n")

	rows, err := e.queryRows(ctx, b.String())
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	for _, v := range rows[0] {
		return toInt64(v), nil
	}
	return 0, fmt.Errorf("count query returned no columns")
}

// Run implements Engine. The command runs through the shell with the input
// artifact paths and the destination exposed as environment variables
// (STRATA_INPUT_<ALIAS>, STRATA_OUTPUT). The script is responsible for
// writing the destination file.
func (e *ShellEngine) Run(ctx context.Context, inputs map[string]string, command, destination string) (int64, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = os.Environ()
	for alias, path := range inputs {
		cmd.Env = append(cmd.Env, fmt.Sprintf("STRATA_INPUT_%s=%s", strings.ToUpper(alias), path))
	}
	cmd.Env = append(cmd.Env, "STRATA_OUTPUT="+destination)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("%w: script failed: %v: %s", ErrTransformation, err, strings.TrimSpace(stderr.String()))
	}
	if _, err := os.Stat(destination); err != nil {
		return 0, fmt.Errorf("%w: script wrote no output artifact: %v", ErrTransformation, err)
	}

	rows, err := e.queryRows(ctx, fmt.Sprintf(
		"SELECT COUNT(*) AS rows FROM read_parquet(%s)", sqlString(destination)))
	if err != nil || len(rows) == 0 {
		return 0, fmt.Errorf("%w: reading output row count: %v", ErrTransformation, err)
	}
	return toInt64(rows[0]["rows"]), nil
}

func (e *ShellEngine) exec(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, e.binary, "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("%s: %s", e.binary, msg)
	}
	return stdout.String(), nil
}

func (e *ShellEngine) queryRows(ctx context.Context, script string) ([]map[string]any, error) {
	cmd := exec.CommandContext(ctx, e.binary, "-json", "-c", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("%s: %s", e.binary, msg)
	}

	out := strings.TrimSpace(stdout.String())
	if out == "" {
		return nil, nil
	}
	var rows []map[string]any
	if err := json.Unmarshal([]byte(out), &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s output: %w", e.binary, err)
	}
	return rows, nil
}

// extractScript attaches the source and copies the query result to the
// destination artifact.
func extractScript(att Attachment, query, destination string) string {
	var b strings.Builder
	if att.Extension != "" {
		fmt.Fprintf(&b, "INSTALL %s; LOAD %s;\n", att.Extension, att.Extension)
	}
	fmt.Fprintf(&b, "ATTACH %s AS src (TYPE %s, READ_ONLY);\n", sqlString(att.Connection), att.AttachType)
	b.WriteString("USE src;\n")
	fmt.Fprintf(&b, "COPY (%s) TO %s (FORMAT parquet);\n", query, sqlString(destination))
	return b.String()
}

// writeInputViews exposes each input artifact as a view named by its alias.
// Aliases are emitted in sorted order so scripts are reproducible.
func writeInputViews(b *strings.Builder, inputs map[string]string) {
	aliases := make([]string, 0, len(inputs))
	for alias := range inputs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	for _, alias := range aliases {
		fmt.Fprintf(b, "CREATE VIEW %s AS SELECT * FROM read_parquet(%s);\n", alias, sqlString(inputs[alias]))
	}
}

// sqlString quotes a value as a SQL string literal.
func sqlString(v string) string {
	return "'" + strings.ReplaceAll(v, "'", "''") + "'"
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case json.Number:
		i, _ := n.Int64()
		return i
	case string:
		i, _ := strconv.ParseInt(n, 10, 64)
		return i
	default:
		return 0
	}
}
