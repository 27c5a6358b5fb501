// Package checkpoint defines the durable watermark tracker used to bound
// incremental extractions.
package checkpoint

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrCheckpoint indicates unreadable or corrupt checkpoint state. Callers
// must skip the affected extraction rather than fall back to a full reload;
// only an explicit reset clears the condition.
var ErrCheckpoint = errors.New("checkpoint state unreadable")

// Entry is the durable record for one (key, table) pair.
type Entry struct {
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store tracks extraction watermarks keyed by (checkpoint key, table).
// Advance must be atomic with respect to concurrent callers on the same
// pair and must never regress a stored watermark.
type Store interface {
	// Get returns the last durably recorded entry, or nil when no
	// checkpoint exists yet (the next extraction is a full scan).
	Get(ctx context.Context, key, table string) (*Entry, error)

	// Advance records a new watermark. If the stored watermark is already
	// at or past value, the call is a no-op.
	Advance(ctx context.Context, key, table, value string) error

	// Reset clears the watermark, forcing the next extraction to be a full
	// scan. Explicit operator action; never called automatically.
	Reset(ctx context.Context, key, table string) error
}

// Compare orders two watermark values. Both numeric compares numerically,
// otherwise lexicographic (ISO-8601 timestamps order correctly as strings).
func Compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
