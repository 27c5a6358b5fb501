// Package tag provides standardized tag functions for structured logging.
//
// All tag keys use kebab-case naming convention. Use these functions instead
// of raw strings to ensure consistent, type-safe log output across the codebase.
package tag

import (
	"log/slog"
	"time"
)

func String(key, value string) slog.Attr {
	return slog.String(key, value)
}

// Error creates a tag for error objects.
func Error(err any) slog.Attr {
	return slog.Any("err", err)
}

// Stage creates a tag for pipeline stage names.
func Stage(name string) slog.Attr {
	return slog.String("stage", name)
}

// Source creates a tag for source system names.
func Source(name string) slog.Attr {
	return slog.String("source", name)
}

// Table creates a tag for source table names.
func Table(name string) slog.Attr {
	return slog.String("table", name)
}

// Node creates a tag for transformation node names.
func Node(name string) slog.Attr {
	return slog.String("node", name)
}

// Task creates a tag for execution plan task identifiers.
func Task(id string) slog.Attr {
	return slog.String("task", id)
}

// RunID creates a tag for pipeline run identifiers.
func RunID(id string) slog.Attr {
	return slog.String("run-id", id)
}

// CheckpointKey creates a tag for checkpoint keys.
func CheckpointKey(key string) slog.Attr {
	return slog.String("checkpoint-key", key)
}

// Watermark creates a tag for checkpoint watermark values.
func Watermark(value string) slog.Attr {
	return slog.String("watermark", value)
}

// Contract creates a tag for contract names.
func Contract(name string) slog.Attr {
	return slog.String("contract", name)
}

// Rule creates a tag for quality rule names.
func Rule(name string) slog.Attr {
	return slog.String("rule", name)
}

// Queue creates a tag for queue names.
func Queue(name string) slog.Attr {
	return slog.String("queue", name)
}

// MessageID creates a tag for queue message identifiers.
func MessageID(id string) slog.Attr {
	return slog.String("message-id", id)
}

// Deliveries creates a tag for queue message delivery counts.
func Deliveries(n int) slog.Attr {
	return slog.Int("deliveries", n)
}

// Artifact creates a tag for published artifact URIs.
func Artifact(uri string) slog.Attr {
	return slog.String("artifact", uri)
}

// File creates a tag for file paths.
func File(path string) slog.Attr {
	return slog.String("file", path)
}

// Dir creates a tag for directory paths.
func Dir(path string) slog.Attr {
	return slog.String("dir", path)
}

// Rows creates a tag for row counts.
func Rows(n int64) slog.Attr {
	return slog.Int64("rows", n)
}

// Duration creates a tag for elapsed durations.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}
