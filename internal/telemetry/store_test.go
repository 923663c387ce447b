package telemetry

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbin/internal/category"
)

func TestStoreDefaults(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	require.Len(t, snap.Levels, 4)
	for _, c := range category.All {
		assert.Zero(t, snap.Levels[c])
	}
	assert.Zero(t, snap.LastUpdated)
	assert.Zero(t, snap.LastBegin)
}

func TestRecordLevelLastWriteWins(t *testing.T) {
	s := NewStore()
	require.NoError(t, s.RecordLevel(category.Plastic, 40))
	require.NoError(t, s.RecordLevel(category.Plastic, 85))
	assert.Equal(t, 85.0, s.Snapshot().Levels[category.Plastic])
}

func TestRecordLevelRejectsBadInput(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.RecordLevel(category.Category("paper"), 10))
	assert.Error(t, s.RecordLevel(category.Metal, math.NaN()))
	assert.Error(t, s.RecordLevel(category.Metal, math.Inf(1)))
	// a rejected write must not stamp the update time
	assert.Zero(t, s.Snapshot().LastUpdated)
}

func TestRecordBeginAdvances(t *testing.T) {
	s := NewStore()
	base := time.UnixMilli(100)
	s.now = func() time.Time { return base }
	assert.Equal(t, int64(100), s.RecordBegin())

	s.now = func() time.Time { return time.UnixMilli(250) }
	assert.Equal(t, int64(250), s.RecordBegin())
	assert.Equal(t, int64(250), s.Snapshot().LastBegin)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := NewStore()
	snap := s.Snapshot()
	snap.Levels[category.Glass] = 99
	assert.Zero(t, s.Snapshot().Levels[category.Glass])
}
