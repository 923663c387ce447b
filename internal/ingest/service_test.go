package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartbin/internal/alert"
	"smartbin/internal/category"
	"smartbin/internal/eventlog"
	"smartbin/internal/pubsub"
	"smartbin/internal/telemetry"
)

func newTestService(t *testing.T) (*Service, *telemetry.Store, *eventlog.MemoryLog, *pubsub.Hub) {
	t.Helper()
	store := telemetry.NewStore()
	log := eventlog.NewMemoryLog()
	hub := pubsub.NewHub()
	svc := NewService(store, log, alert.NewEngine(hub, alert.DefaultThreshold), t.TempDir())
	return svc, store, log, hub
}

func TestSubmitLevelWritesStoreAndLog(t *testing.T) {
	svc, store, log, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.SubmitLevel(ctx, "plastic", 42, "pi-7"))

	assert.Equal(t, 42.0, store.Snapshot().Levels[category.Plastic])

	rows, err := log.LevelHistory(ctx, eventlog.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "pi-7", rows[0].DeviceID)
	assert.Equal(t, 42.0, rows[0].Level)
}

func TestSubmitLevelRejectsUnknownCategoryBeforeAnyWrite(t *testing.T) {
	svc, store, log, _ := newTestService(t)

	err := svc.SubmitLevel(context.Background(), "paper", 42, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "class", verr.Field)

	assert.Zero(t, store.Snapshot().LastUpdated)
	rows, _ := log.LevelHistory(context.Background(), eventlog.Filter{})
	assert.Empty(t, rows)
}

func TestSubmitLevelDefaultsDeviceID(t *testing.T) {
	svc, _, log, _ := newTestService(t)
	require.NoError(t, svc.SubmitLevel(context.Background(), "glass", 12, ""))
	rows, _ := log.LevelHistory(context.Background(), eventlog.Filter{})
	require.Len(t, rows, 1)
	assert.Equal(t, DefaultDeviceID, rows[0].DeviceID)
}

func TestSubmitLevelDivergenceOnAppendFailure(t *testing.T) {
	svc, store, log, hub := newTestService(t)
	sub := hub.Subscribe(context.Background())
	defer sub.Close()

	log.FailAppends(eventlog.ErrStorage)
	err := svc.SubmitLevel(context.Background(), "metal", 90, "")
	require.ErrorIs(t, err, eventlog.ErrStorage)

	// telemetry advanced but no notifications went out
	assert.Equal(t, 90.0, store.Snapshot().Levels[category.Metal])
	select {
	case evt := <-sub.C:
		t.Fatalf("no events expected after a failed append, got %q", evt.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubmitClassificationStoresImageAndAppends(t *testing.T) {
	store := telemetry.NewStore()
	log := eventlog.NewMemoryLog()
	hub := pubsub.NewHub()
	dir := t.TempDir()
	svc := NewService(store, log, alert.NewEngine(hub, alert.DefaultThreshold), dir)

	stored, err := svc.SubmitClassification(context.Background(),
		"202505151321.jpg", strings.NewReader("jpegdata"), "plastic", 90, "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "id-202505151321_"))
	assert.True(t, strings.HasSuffix(stored, ".jpg"))

	data, err := os.ReadFile(filepath.Join(dir, stored))
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", string(data))

	events, err := log.Classifications(context.Background(), eventlog.Filter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, category.Plastic, events[0].Class)
	assert.Equal(t, 90, events[0].Angle)
	assert.Equal(t, "/images/"+stored, events[0].Path)

	// classification never touches the telemetry cache
	assert.Zero(t, store.Snapshot().LastUpdated)
}

func TestSubmitClassificationUniqueStoredNames(t *testing.T) {
	svc, _, log, _ := newTestService(t)
	ctx := context.Background()

	base := time.UnixMilli(1_700_000_000_000)
	svc.now = func() time.Time { return base }
	first, err := svc.SubmitClassification(ctx, "shot.jpg", strings.NewReader("a"), "metal", 0, "")
	require.NoError(t, err)

	svc.now = func() time.Time { return base.Add(time.Millisecond) }
	second, err := svc.SubmitClassification(ctx, "shot.jpg", strings.NewReader("b"), "metal", 0, "")
	require.NoError(t, err)

	assert.NotEqual(t, first, second, "same original name at different times must not collide")

	events, _ := log.Classifications(ctx, eventlog.Filter{})
	assert.Len(t, events, 2)
}

func TestSubmitClassificationValidatesFields(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	var verr *ValidationError
	_, err := svc.SubmitClassification(ctx, "", nil, "plastic", 0, "")
	require.ErrorAs(t, err, &verr)

	_, err = svc.SubmitClassification(ctx, "a.jpg", strings.NewReader("x"), "cardboard", 0, "")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "class", verr.Field)
}

func TestSubmitClassificationReportsAppendFailure(t *testing.T) {
	svc, _, log, _ := newTestService(t)
	log.FailAppends(errors.New("disk full"))

	_, err := svc.SubmitClassification(context.Background(), "a.jpg", strings.NewReader("x"), "glass", 10, "")
	require.Error(t, err)
}

func TestBeginReturnsAdvancingTimestamp(t *testing.T) {
	svc, store, _, _ := newTestService(t)
	first := svc.Begin()
	assert.Equal(t, first, store.Snapshot().LastBegin)
}
