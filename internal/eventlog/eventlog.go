// Package eventlog is the durable history of the sorting device: every
// completed classification and every fill-level reading lands here. The
// in-memory telemetry cache can always be rebuilt from this log.
package eventlog

import (
	"context"
	"errors"
	"time"

	"smartbin/internal/category"
)

var (
	// ErrNotFound is returned by deletes that match no record. Repeated
	// deletes of the same id keep returning it rather than silently
	// succeeding.
	ErrNotFound = errors.New("eventlog: record not found")

	// ErrStorage wraps backend persistence failures.
	ErrStorage = errors.New("eventlog: storage failure")
)

// ClassificationEvent is one completed sort decision.
type ClassificationEvent struct {
	OriginalName string            `json:"original_name"`
	StoredName   string            `json:"stored_name"`
	Path         string            `json:"path"`
	Class        category.Category `json:"class"`
	Angle        int               `json:"angle"`
	DeviceID     string            `json:"device_id"`
	CreatedAt    time.Time         `json:"created_at"`
}

// LevelMeasurement is one fill-level reading. History rows are append-only;
// the "current" level for a class is the row with the max MeasuredAt.
type LevelMeasurement struct {
	ID         int64             `json:"id"`
	DeviceID   string            `json:"device_id"`
	Class      category.Category `json:"class"`
	Level      float64           `json:"level"`
	MeasuredAt time.Time         `json:"measured_at"`
}

// Filter narrows history queries. Zero values mean "no constraint".
type Filter struct {
	Class category.Category
	Since time.Time
	Until time.Time
	Limit int
}

// Log is the storage contract. The Postgres implementation is the production
// backend; the in-memory one backs tests.
type Log interface {
	AppendClassification(ctx context.Context, ev *ClassificationEvent) error
	AppendLevel(ctx context.Context, m *LevelMeasurement) error

	// Most-recent-first reads, no side effects.
	Classifications(ctx context.Context, f Filter) ([]ClassificationEvent, error)
	LevelHistory(ctx context.Context, f Filter) ([]LevelMeasurement, error)

	// CurrentLevels derives the latest measurement per category. Categories
	// with no history are absent from the result.
	CurrentLevels(ctx context.Context) (map[category.Category]float64, error)

	// ClassificationCounts returns sorted-decisions-per-category totals.
	ClassificationCounts(ctx context.Context) (map[category.Category]int, error)

	DeleteClassification(ctx context.Context, storedName string) error
	DeleteLevel(ctx context.Context, id int64) error

	// ResetLevels appends a zero reading for every category attributed to
	// deviceID. History is preserved, never mutated.
	ResetLevels(ctx context.Context, deviceID string) error

	Close() error
}
