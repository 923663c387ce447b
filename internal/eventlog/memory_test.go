package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbin/internal/category"
)

func TestMemoryLogLevelHistoryOrderAndFilter(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	base := time.UnixMilli(1000)
	for i, c := range []category.Category{category.Plastic, category.Metal, category.Plastic} {
		require.NoError(t, log.AppendLevel(ctx, &LevelMeasurement{
			DeviceID:   "pi-1",
			Class:      c,
			Level:      float64(10 * (i + 1)),
			MeasuredAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := log.LevelHistory(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	// most-recent-first
	assert.Equal(t, 30.0, all[0].Level)
	assert.Equal(t, 10.0, all[2].Level)

	plastic, err := log.LevelHistory(ctx, Filter{Class: category.Plastic})
	require.NoError(t, err)
	require.Len(t, plastic, 2)

	ranged, err := log.LevelHistory(ctx, Filter{Since: base.Add(1500 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, 30.0, ranged[0].Level)
}

func TestMemoryLogCurrentLevelsIsMaxMeasuredAt(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	base := time.UnixMilli(1000)

	require.NoError(t, log.AppendLevel(ctx, &LevelMeasurement{Class: category.Glass, Level: 70, MeasuredAt: base}))
	require.NoError(t, log.AppendLevel(ctx, &LevelMeasurement{Class: category.Glass, Level: 20, MeasuredAt: base.Add(time.Second)}))

	cur, err := log.CurrentLevels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cur[category.Glass])
	_, ok := cur[category.Metal]
	assert.False(t, ok, "categories with no history are absent")
}

func TestMemoryLogDeleteSemantics(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.AppendClassification(ctx, &ClassificationEvent{StoredName: "id-a_1.jpg", Class: category.Metal, CreatedAt: time.Now()}))

	require.NoError(t, log.DeleteClassification(ctx, "id-a_1.jpg"))
	assert.ErrorIs(t, log.DeleteClassification(ctx, "id-a_1.jpg"), ErrNotFound)
	assert.ErrorIs(t, log.DeleteLevel(ctx, 42), ErrNotFound)
}

func TestMemoryLogResetAppendsZeroRows(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()

	require.NoError(t, log.AppendLevel(ctx, &LevelMeasurement{Class: category.Plastic, Level: 90, MeasuredAt: time.Now()}))
	before, _ := log.LevelHistory(ctx, Filter{})

	require.NoError(t, log.ResetLevels(ctx, "admin"))

	after, err := log.LevelHistory(ctx, Filter{})
	require.NoError(t, err)
	assert.Len(t, after, len(before)+len(category.All), "reset appends, never overwrites")

	cur, err := log.CurrentLevels(ctx)
	require.NoError(t, err)
	for _, c := range category.All {
		assert.Zero(t, cur[c])
	}
}

func TestMemoryLogClassificationCounts(t *testing.T) {
	ctx := context.Background()
	log := NewMemoryLog()
	for i := 0; i < 3; i++ {
		require.NoError(t, log.AppendClassification(ctx, &ClassificationEvent{StoredName: string(rune('a' + i)), Class: category.Plastic, CreatedAt: time.Now()}))
	}
	require.NoError(t, log.AppendClassification(ctx, &ClassificationEvent{StoredName: "d", Class: category.Glass, CreatedAt: time.Now()}))

	counts, err := log.ClassificationCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, counts[category.Plastic])
	assert.Equal(t, 1, counts[category.Glass])
}
