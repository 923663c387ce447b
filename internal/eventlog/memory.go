package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartbin/internal/category"
)

// MemoryLog is an in-memory Log used by tests and by deployments that run
// without a database. Semantics mirror PostgresLog, including ErrNotFound on
// deletes that match nothing.
type MemoryLog struct {
	mu       sync.Mutex
	images   []ClassificationEvent
	levels   []LevelMeasurement
	nextID   int64
	appendFn func() error // optional fault injection for tests
}

func NewMemoryLog() *MemoryLog {
	return &MemoryLog{nextID: 1}
}

// FailAppends makes every subsequent append return err; pass nil to heal.
func (m *MemoryLog) FailAppends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		m.appendFn = nil
		return
	}
	m.appendFn = func() error { return err }
}

func (m *MemoryLog) AppendClassification(_ context.Context, ev *ClassificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn()
	}
	m.images = append(m.images, *ev)
	return nil
}

func (m *MemoryLog) AppendLevel(_ context.Context, lm *LevelMeasurement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendFn != nil {
		return m.appendFn()
	}
	lm.ID = m.nextID
	m.nextID++
	m.levels = append(m.levels, *lm)
	return nil
}

func (m *MemoryLog) Classifications(_ context.Context, f Filter) ([]ClassificationEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ClassificationEvent
	for _, ev := range m.images {
		if matches(f, ev.Class, ev.CreatedAt) {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryLog) LevelHistory(_ context.Context, f Filter) ([]LevelMeasurement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LevelMeasurement
	for _, lm := range m.levels {
		if matches(f, lm.Class, lm.MeasuredAt) {
			out = append(out, lm)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].MeasuredAt.After(out[j].MeasuredAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryLog) CurrentLevels(_ context.Context) (map[category.Category]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[category.Category]time.Time)
	out := make(map[category.Category]float64)
	for _, lm := range m.levels {
		if at, ok := latest[lm.Class]; !ok || lm.MeasuredAt.After(at) || lm.MeasuredAt.Equal(at) {
			latest[lm.Class] = lm.MeasuredAt
			out[lm.Class] = lm.Level
		}
	}
	return out, nil
}

func (m *MemoryLog) ClassificationCounts(_ context.Context) (map[category.Category]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[category.Category]int)
	for _, ev := range m.images {
		out[ev.Class]++
	}
	return out, nil
}

func (m *MemoryLog) DeleteClassification(_ context.Context, storedName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, ev := range m.images {
		if ev.StoredName == storedName {
			m.images = append(m.images[:i], m.images[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryLog) DeleteLevel(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, lm := range m.levels {
		if lm.ID == id {
			m.levels = append(m.levels[:i], m.levels[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryLog) ResetLevels(ctx context.Context, deviceID string) error {
	now := time.Now()
	for _, c := range category.All {
		if err := m.AppendLevel(ctx, &LevelMeasurement{DeviceID: deviceID, Class: c, Level: 0, MeasuredAt: now}); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryLog) Close() error { return nil }

func matches(f Filter, c category.Category, at time.Time) bool {
	if f.Class != "" && c != f.Class {
		return false
	}
	if !f.Since.IsZero() && at.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && at.After(f.Until) {
		return false
	}
	return true
}
