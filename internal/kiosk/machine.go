// Package kiosk drives the end-user screen. It reconciles asynchronous
// server telemetry and the bin-emptying controller into a small workflow
// state machine. The machine has no authority over server state; it only
// derives local UI state from what polling conveys.
package kiosk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"smartbin/internal/alert"
	"smartbin/internal/category"
)

type State string

const (
	StateIdle           State = "idle"
	StateProcessing     State = "processing"
	StateMeasuring      State = "measuring"
	StateDone           State = "done"
	StateCompleted      State = "completed"
	StateFull           State = "full"
	StateEmptyConfirmed State = "empty_confirmed"
)

var (
	ErrBusy    = errors.New("kiosk: sorting already in progress")
	ErrNotFull = errors.New("kiosk: no full bin to confirm")
)

// DataSnapshot mirrors the server's /data response.
type DataSnapshot struct {
	Levels      map[category.Category]float64
	LastUpdated int64
	LastBegin   int64
}

// EmptyCheck is the controller's /empty_check_all response.
type EmptyCheck struct {
	Status string
	Levels map[category.Category]float64
}

// StatusCleared means every bin came back empty.
const StatusCleared = "cleared"

// ServerAPI is the polling surface of the backend.
type ServerAPI interface {
	Data(ctx context.Context) (DataSnapshot, error)
	Levels(ctx context.Context) (map[category.Category]float64, error)
	LatestClassification(ctx context.Context) (string, error)
	Begin(ctx context.Context) (int64, error)
}

// ControllerAPI is the bin-emptying controller at its own base URL.
type ControllerAPI interface {
	Start(ctx context.Context) error
	EmptyCheckAll(ctx context.Context) (EmptyCheck, error)
}

// Options tune the delayed transitions; zero values pick the production
// timings from the deployed kiosk.
type Options struct {
	DoneDelay    time.Duration // done -> completed
	RecheckDelay time.Duration // completed -> idle, after the level re-check
	EmptyDelay   time.Duration // empty_confirmed -> idle
	Threshold    float64
}

func (o *Options) fill() {
	if o.DoneDelay <= 0 {
		o.DoneDelay = 4 * time.Second
	}
	if o.RecheckDelay <= 0 {
		o.RecheckDelay = time.Second
	}
	if o.EmptyDelay <= 0 {
		o.EmptyDelay = 4 * time.Second
	}
	if o.Threshold <= 0 {
		o.Threshold = alert.DefaultThreshold
	}
}

// Machine is the kiosk workflow FSM. All transitions, including the delayed
// ones, go through setStateLocked, which bumps a generation token; a pending
// timer only fires its transition if no other transition happened since it
// was scheduled.
type Machine struct {
	server     ServerAPI
	controller ControllerAPI
	opts       Options

	mu          sync.Mutex
	state       State
	gen         uint64
	lastBegin   int64
	lastUpdated int64
	levels      map[category.Category]float64
	result      string
	timers      []*time.Timer
	stopped     bool
}

func NewMachine(server ServerAPI, controller ControllerAPI, opts Options) *Machine {
	opts.fill()
	return &Machine{
		server:     server,
		controller: controller,
		opts:       opts,
		state:      StateIdle,
		levels:     make(map[category.Category]float64),
	}
}

// Run polls until ctx is done, then releases all timers.
func (m *Machine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Stop cancels pending delayed transitions. Stale timer callbacks after Stop
// are no-ops; torn-down UI state is never mutated.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	m.gen++
	for _, t := range m.timers {
		t.Stop()
	}
	m.timers = nil
}

// Tick is one poll cycle. Each tick is independent: a failed fetch is
// dropped and the next tick self-heals.
func (m *Machine) Tick(ctx context.Context) {
	data, err := m.server.Data(ctx)
	if err != nil {
		return
	}

	m.mu.Lock()
	// timestamps only count when strictly greater than the last seen value,
	// otherwise an unchanged snapshot would re-trigger on every tick
	if data.LastBegin > m.lastBegin {
		m.lastBegin = data.LastBegin
		if m.state == StateIdle {
			m.setStateLocked(StateProcessing)
		}
	}
	updateAdvanced := false
	if data.LastUpdated > m.lastUpdated && m.state == StateProcessing {
		m.lastUpdated = data.LastUpdated
		updateAdvanced = true
	}
	m.mu.Unlock()

	if updateAdvanced {
		m.finishProcessing(ctx)
	}

	if m.pollSuppressed() {
		return
	}
	m.refreshLevels(ctx)
}

// finishProcessing fetches the classification result and enters done, then
// schedules the done -> completed -> idle chain.
func (m *Machine) finishProcessing(ctx context.Context) {
	label, err := m.server.LatestClassification(ctx)
	if err != nil {
		label = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateProcessing {
		return
	}
	m.result = label
	m.setStateLocked(StateDone)
	m.afterLocked(m.opts.DoneDelay, StateDone, m.enterCompletedLocked)
}

// enterCompletedLocked re-checks levels (a bin may have filled during the
// cycle) and then falls back to idle unless the re-check flips to full.
func (m *Machine) enterCompletedLocked() {
	m.setStateLocked(StateCompleted)
	m.afterLocked(m.opts.RecheckDelay, StateCompleted, func() {
		m.setStateLocked(StateIdle)
	})
	go m.recheckAfterCompleted()
}

func (m *Machine) recheckAfterCompleted() {
	levels, err := m.server.Levels(context.Background())
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = levels
	if m.state == StateCompleted && m.anyFullLocked() {
		m.setStateLocked(StateFull)
	}
}

// pollSuppressed reports whether the routine level poll must be skipped so
// the machine does not fight its own in-flight transitions.
func (m *Machine) pollSuppressed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateMeasuring, StateEmptyConfirmed, StateProcessing, StateDone, StateCompleted:
		return true
	}
	return false
}

func (m *Machine) refreshLevels(ctx context.Context) {
	levels, err := m.server.Levels(ctx)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels = levels
	switch m.state {
	case StateMeasuring, StateEmptyConfirmed, StateProcessing, StateDone, StateCompleted:
		return
	}
	if m.anyFullLocked() {
		m.setStateLocked(StateFull)
	}
}

// StartSort is the kiosk button: ask the controller to run a cycle, then
// record the begin time on the server.
func (m *Machine) StartSort(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateProcessing || m.state == StateMeasuring {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.state == StateFull {
		m.mu.Unlock()
		return fmt.Errorf("kiosk: bins are full, empty them first")
	}
	m.result = ""
	m.setStateLocked(StateProcessing)
	m.mu.Unlock()

	if err := m.controller.Start(ctx); err != nil {
		m.mu.Lock()
		if m.state == StateProcessing {
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		return fmt.Errorf("kiosk: controller unavailable: %w", err)
	}

	begin, err := m.server.Begin(ctx)
	if err == nil {
		m.mu.Lock()
		if begin > m.lastBegin {
			m.lastBegin = begin
		}
		m.mu.Unlock()
	}
	return nil
}

// ConfirmEmpty asks the controller to re-measure every bin. Only a cleared
// verdict leaves full; any failure re-displays "still full".
func (m *Machine) ConfirmEmpty(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateFull {
		m.mu.Unlock()
		return ErrNotFull
	}
	m.setStateLocked(StateMeasuring)
	m.mu.Unlock()

	check, err := m.controller.EmptyCheckAll(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.setStateLocked(StateFull)
		return fmt.Errorf("kiosk: empty check failed: %w", err)
	}
	if check.Levels != nil {
		m.levels = check.Levels
	}
	if check.Status != StatusCleared {
		m.setStateLocked(StateFull)
		return nil
	}
	m.setStateLocked(StateEmptyConfirmed)
	m.afterLocked(m.opts.EmptyDelay, StateEmptyConfirmed, func() {
		m.setStateLocked(StateIdle)
	})
	return nil
}

// --- accessors ---

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Result() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Machine) Levels() map[category.Category]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[category.Category]float64, len(m.levels))
	for c, v := range m.levels {
		out[c] = v
	}
	return out
}

// Message is the kiosk screen text for the current state.
func (m *Machine) Message() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case StateProcessing:
		return "쓰레기를 처리중입니다!"
	case StateDone, StateCompleted:
		if m.result != "" {
			return "분류 결과: " + m.result
		}
		return "처리 완료되었습니다!"
	case StateMeasuring:
		return "쓰레기량 측정 중입니다, 잠시만 기다려 주세요!"
	case StateFull:
		return "쓰레기가 꽉 찼습니다ㅠㅠ"
	case StateEmptyConfirmed:
		return "쓰레기통이 비워졌습니다!"
	default:
		return "쓰레기를 넣어주세요!"
	}
}

// --- internals, all called with m.mu held ---

func (m *Machine) setStateLocked(s State) {
	if m.stopped {
		return
	}
	m.state = s
	m.gen++
}

func (m *Machine) anyFullLocked() bool {
	for _, v := range m.levels {
		if v >= m.opts.Threshold {
			return true
		}
	}
	return false
}

// afterLocked schedules fn to run with the lock held after d, but only if
// the machine is still in state from and no transition happened in between.
func (m *Machine) afterLocked(d time.Duration, from State, fn func()) {
	gen := m.gen
	t := time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped || m.gen != gen || m.state != from {
			return
		}
		fn()
	})
	m.timers = append(m.timers, t)
}
