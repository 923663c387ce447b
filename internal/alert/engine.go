// Package alert turns fill-level writes into admin notifications. The engine
// is stateless and level-triggered: every measurement at or above the
// threshold re-emits an alert, with no hysteresis between writes.
package alert

import (
	"fmt"
	"time"

	"smartbin/internal/category"
	"smartbin/internal/eventlog"
	"smartbin/internal/pubsub"
)

// DefaultThreshold is the fill percentage at which a bin counts as full.
const DefaultThreshold = 80

// Alert is the admin_alert payload. Never persisted; it exists only on the
// wire.
type Alert struct {
	Type      category.Category `json:"type"`
	Level     float64           `json:"level,omitempty"`
	Message   string            `json:"message"`
	Timestamp string            `json:"timestamp"`
}

type Engine struct {
	hub       *pubsub.Hub
	threshold float64
	now       func() time.Time
	onAlert   func()
}

// OnAlert installs a hook run after every alert broadcast (metrics).
func (e *Engine) OnAlert(fn func()) { e.onAlert = fn }

func (e *Engine) alerted() {
	if e.onAlert != nil {
		e.onAlert()
	}
}

func NewEngine(hub *pubsub.Hub, threshold float64) *Engine {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Engine{hub: hub, threshold: threshold, now: time.Now}
}

// LevelRecorded runs after every successful level append. level_update goes
// out unconditionally so dashboards refresh on every write; the alert only
// when the threshold is met.
func (e *Engine) LevelRecorded(m *eventlog.LevelMeasurement) {
	e.hub.Publish(pubsub.Event{Name: pubsub.EventLevelUpdate})

	if m.Level < e.threshold {
		return
	}
	msg := fmt.Sprintf("%s 쓰레기통이 %.0f%%로 가득 찼습니다!", category.KoreanLabel(m.Class), m.Level)
	e.hub.Publish(pubsub.Event{
		Name: pubsub.EventAdminAlert,
		Payload: Alert{
			Type:      m.Class,
			Level:     m.Level,
			Message:   msg,
			Timestamp: e.now().UTC().Format(time.RFC3339),
		},
	})
	e.alerted()
}

// ClassificationRecorded refreshes the log table and the stats chart.
func (e *Engine) ClassificationRecorded() {
	e.hub.Publish(pubsub.Event{Name: pubsub.EventLogUpdate})
	e.hub.Publish(pubsub.Event{Name: pubsub.EventStatUpdate})
}

// Manual re-broadcasts an operator-written alert (the admin dashboard's
// "send alert" form).
func (e *Engine) Manual(c category.Category, message string) {
	e.hub.Publish(pubsub.Event{
		Name: pubsub.EventAdminAlert,
		Payload: Alert{
			Type:      c,
			Message:   message,
			Timestamp: e.now().UTC().Format(time.RFC3339),
		},
	})
	e.alerted()
}
