// Package ingest translates device telemetry (HTTP or MQTT) into telemetry
// store writes, event log appends, and alert evaluation. Validation happens
// before any mutation; once the store write lands, a failed log append is
// reported but never rolled back.
package ingest

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"smartbin/internal/alert"
	"smartbin/internal/category"
	"smartbin/internal/eventlog"
	"smartbin/internal/telemetry"
)

// DefaultDeviceID is attributed to submissions that omit device_id; the
// classifier edge device never sends one.
const DefaultDeviceID = "jetson"

// ValidationError marks malformed or missing request fields. Handlers map it
// to 400.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid field %q: %s", e.Field, e.Reason)
}

type Service struct {
	store     *telemetry.Store
	log       eventlog.Log
	alerts    *alert.Engine
	uploadDir string
	now       func() time.Time
}

func NewService(store *telemetry.Store, log eventlog.Log, alerts *alert.Engine, uploadDir string) *Service {
	return &Service{store: store, log: log, alerts: alerts, uploadDir: uploadDir, now: time.Now}
}

// Begin records the start of a processing cycle and returns the new begin
// timestamp so the device can correlate later results with this cycle.
func (s *Service) Begin() int64 {
	return s.store.RecordBegin()
}

// SubmitLevel records one fill-level reading: telemetry cache first, then
// the durable history row, then alert evaluation.
func (s *Service) SubmitLevel(ctx context.Context, class string, level float64, deviceID string) error {
	c, err := category.Parse(class)
	if err != nil {
		return &ValidationError{Field: "class", Reason: err.Error()}
	}
	if math.IsNaN(level) || math.IsInf(level, 0) {
		return &ValidationError{Field: "level", Reason: "must be a finite number"}
	}
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	if err := s.store.RecordLevel(c, level); err != nil {
		return &ValidationError{Field: "level", Reason: err.Error()}
	}

	m := &eventlog.LevelMeasurement{
		DeviceID:   deviceID,
		Class:      c,
		Level:      level,
		MeasuredAt: s.now(),
	}
	if err := s.log.AppendLevel(ctx, m); err != nil {
		// telemetry already advanced; accepted divergence, no notifications
		return err
	}

	s.alerts.LevelRecorded(m)
	return nil
}

// SubmitClassification stores the uploaded image under a timestamp-salted
// name, appends the classification event, and fires the dashboard refresh
// notifications. The telemetry store is never touched here.
func (s *Service) SubmitClassification(ctx context.Context, originalName string, image io.Reader, class string, angle int, deviceID string) (string, error) {
	if originalName == "" || image == nil {
		return "", &ValidationError{Field: "image", Reason: "missing image payload"}
	}
	c, err := category.Parse(class)
	if err != nil {
		return "", &ValidationError{Field: "class", Reason: err.Error()}
	}
	if deviceID == "" {
		deviceID = DefaultDeviceID
	}

	now := s.now()
	storedName := fmt.Sprintf("id-%s_%d.jpg", fileStem(originalName), now.UnixMilli())
	fullPath := filepath.Join(s.uploadDir, storedName)

	if err := writeImage(fullPath, image); err != nil {
		return "", fmt.Errorf("%w: store image: %v", eventlog.ErrStorage, err)
	}

	ev := &eventlog.ClassificationEvent{
		OriginalName: originalName,
		StoredName:   storedName,
		Path:         "/images/" + storedName,
		Class:        c,
		Angle:        angle,
		DeviceID:     deviceID,
		CreatedAt:    now,
	}
	if err := s.log.AppendClassification(ctx, ev); err != nil {
		return "", err
	}

	s.alerts.ClassificationRecorded()
	return storedName, nil
}

func writeImage(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fileStem(name string) string {
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
