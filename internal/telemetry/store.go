// Package telemetry holds the live fill-level cache. It is the single source
// of truth for "current" device state and is deliberately not persisted: a
// restart resets every level to zero and the event log is used to recover.
package telemetry

import (
	"fmt"
	"math"
	"sync"
	"time"

	"smartbin/internal/category"
)

// Snapshot is a point-in-time copy of the cache. Timestamps are unix
// milliseconds, zero before the first corresponding write.
type Snapshot struct {
	Levels      map[category.Category]float64
	LastUpdated int64
	LastBegin   int64
}

// Store is the in-memory latest-value cache. The ingestion service is the
// only writer; everything else reads through Snapshot.
type Store struct {
	mu          sync.RWMutex
	levels      map[category.Category]float64
	lastUpdated int64
	lastBegin   int64
	now         func() time.Time
}

func NewStore() *Store {
	s := &Store{
		levels: make(map[category.Category]float64, len(category.All)),
		now:    time.Now,
	}
	for _, c := range category.All {
		s.levels[c] = 0
	}
	return s
}

// RecordLevel overwrites the cached level for c and stamps LastUpdated.
// Prior values are discarded, not averaged: last write wins.
func (s *Store) RecordLevel(c category.Category, level float64) error {
	if !category.Valid(c) {
		return fmt.Errorf("record level: unknown category %q", c)
	}
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return fmt.Errorf("record level: non-finite level for %s", c)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levels[c] = level
	s.lastUpdated = s.now().UnixMilli()
	return nil
}

// RecordBegin stamps the start of a new processing cycle and returns the new
// timestamp so the caller can correlate later classification results with it.
func (s *Store) RecordBegin() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastBegin = s.now().UnixMilli()
	return s.lastBegin
}

// Snapshot returns a copy of the full cache. It never blocks beyond the
// mutex and always returns a value, defaults included.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	levels := make(map[category.Category]float64, len(s.levels))
	for c, v := range s.levels {
		levels[c] = v
	}
	return Snapshot{Levels: levels, LastUpdated: s.lastUpdated, LastBegin: s.lastBegin}
}
