package kiosk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smartbin/internal/category"
)

type fakeServer struct {
	mu        sync.Mutex
	data      DataSnapshot
	levels    map[category.Category]float64
	latest    string
	dataErr   error
	beginTime int64
}

func (f *fakeServer) Data(context.Context) (DataSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dataErr != nil {
		return DataSnapshot{}, f.dataErr
	}
	return f.data, nil
}

func (f *fakeServer) Levels(context.Context) (map[category.Category]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[category.Category]float64, len(f.levels))
	for c, v := range f.levels {
		out[c] = v
	}
	return out, nil
}

func (f *fakeServer) LatestClassification(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeServer) Begin(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.beginTime++
	return f.beginTime, nil
}

func (f *fakeServer) set(fn func(*fakeServer)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

type fakeController struct {
	mu         sync.Mutex
	startErr   error
	startCalls int
	check      EmptyCheck
	checkErr   error
}

func (f *fakeController) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeController) EmptyCheckAll(context.Context) (EmptyCheck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.check, f.checkErr
}

func newTestMachine(srv *fakeServer, ctl *fakeController) *Machine {
	return NewMachine(srv, ctl, Options{
		DoneDelay:    20 * time.Millisecond,
		RecheckDelay: 20 * time.Millisecond,
		EmptyDelay:   20 * time.Millisecond,
	})
}

func waitForState(t *testing.T, m *Machine, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return m.State() == want },
		time.Second, time.Millisecond, "want state %s, got %s", want, m.State())
}

func TestBeginAdvanceStartsProcessing(t *testing.T) {
	srv := &fakeServer{data: DataSnapshot{LastBegin: 100}}
	m := newTestMachine(srv, &fakeController{})
	defer m.Stop()

	ctx := context.Background()
	m.Tick(ctx)
	require.Equal(t, StateProcessing, m.State())

	// an unchanged snapshot must not re-trigger anything
	m.Tick(ctx)
	require.Equal(t, StateProcessing, m.State())
	require.Equal(t, "쓰레기를 처리중입니다!", m.Message())
}

func TestClassificationCompletesAndReturnsToIdle(t *testing.T) {
	srv := &fakeServer{data: DataSnapshot{LastBegin: 100}}
	m := newTestMachine(srv, &fakeController{})
	defer m.Stop()

	ctx := context.Background()
	m.Tick(ctx)
	require.Equal(t, StateProcessing, m.State())

	srv.set(func(f *fakeServer) {
		f.data.LastUpdated = 105
		f.latest = "플라스틱"
		f.levels = map[category.Category]float64{category.Plastic: 30}
	})
	m.Tick(ctx)
	require.Equal(t, StateDone, m.State())
	require.Equal(t, "플라스틱", m.Result())
	require.Equal(t, "분류 결과: 플라스틱", m.Message())

	waitForState(t, m, StateCompleted)
	waitForState(t, m, StateIdle)
}

func TestCompletedRecheckFlipsToFull(t *testing.T) {
	srv := &fakeServer{data: DataSnapshot{LastBegin: 100}}
	m := newTestMachine(srv, &fakeController{})
	defer m.Stop()

	ctx := context.Background()
	m.Tick(ctx)
	srv.set(func(f *fakeServer) {
		f.data.LastUpdated = 105
		f.latest = "일반쓰레기"
		f.levels = map[category.Category]float64{category.GeneralTrash: 85}
	})
	m.Tick(ctx)
	require.Equal(t, StateDone, m.State())

	waitForState(t, m, StateFull)
	require.Equal(t, "쓰레기가 꽉 찼습니다ㅠㅠ", m.Message())
}

func TestRoutinePollTriggersFull(t *testing.T) {
	srv := &fakeServer{levels: map[category.Category]float64{category.Glass: 90}}
	m := newTestMachine(srv, &fakeController{})
	defer m.Stop()

	m.Tick(context.Background())
	require.Equal(t, StateFull, m.State())
}

func TestConfirmEmptyClearedReturnsToIdle(t *testing.T) {
	srv := &fakeServer{levels: map[category.Category]float64{category.Metal: 95}}
	ctl := &fakeController{check: EmptyCheck{
		Status: StatusCleared,
		Levels: map[category.Category]float64{category.Metal: 0},
	}}
	m := newTestMachine(srv, ctl)
	defer m.Stop()

	ctx := context.Background()
	m.Tick(ctx)
	require.Equal(t, StateFull, m.State())

	srv.set(func(f *fakeServer) {
		f.levels = map[category.Category]float64{category.Metal: 0}
	})
	require.NoError(t, m.ConfirmEmpty(ctx))
	require.Equal(t, StateEmptyConfirmed, m.State())

	// routine polling is suppressed while the confirmation is on screen
	m.Tick(ctx)
	require.Equal(t, StateEmptyConfirmed, m.State())

	waitForState(t, m, StateIdle)
}

func TestConfirmEmptyStillFull(t *testing.T) {
	srv := &fakeServer{levels: map[category.Category]float64{category.Metal: 95}}
	ctl := &fakeController{check: EmptyCheck{
		Status: "full",
		Levels: map[category.Category]float64{category.Metal: 88},
	}}
	m := newTestMachine(srv, ctl)
	defer m.Stop()

	ctx := context.Background()
	m.Tick(ctx)
	require.NoError(t, m.ConfirmEmpty(ctx))
	require.Equal(t, StateFull, m.State())
	require.Equal(t, 88.0, m.Levels()[category.Metal])
}

func TestConfirmEmptyControllerDownStaysFull(t *testing.T) {
	srv := &fakeServer{levels: map[category.Category]float64{category.Metal: 95}}
	ctl := &fakeController{checkErr: errors.New("connection refused")}
	m := newTestMachine(srv, ctl)
	defer m.Stop()

	ctx := context.Background()
	m.Tick(ctx)
	require.Error(t, m.ConfirmEmpty(ctx))
	require.Equal(t, StateFull, m.State())
}

func TestConfirmEmptyRequiresFull(t *testing.T) {
	m := newTestMachine(&fakeServer{}, &fakeController{})
	defer m.Stop()
	require.ErrorIs(t, m.ConfirmEmpty(context.Background()), ErrNotFull)
}

func TestStartSortControllerFailureReturnsToIdle(t *testing.T) {
	ctl := &fakeController{startErr: errors.New("connection refused")}
	m := newTestMachine(&fakeServer{}, ctl)
	defer m.Stop()

	require.Error(t, m.StartSort(context.Background()))
	require.Equal(t, StateIdle, m.State())
}

func TestStartSortWhileBusy(t *testing.T) {
	srv := &fakeServer{}
	m := newTestMachine(srv, &fakeController{})
	defer m.Stop()

	ctx := context.Background()
	require.NoError(t, m.StartSort(ctx))
	require.Equal(t, StateProcessing, m.State())
	require.ErrorIs(t, m.StartSort(ctx), ErrBusy)

	// Begin was recorded, so the machine's own poll does not re-trigger
	srv.set(func(f *fakeServer) { f.data.LastBegin = f.beginTime })
	m.Tick(ctx)
	require.Equal(t, StateProcessing, m.State())
}

func TestStopInvalidatesPendingTransitions(t *testing.T) {
	srv := &fakeServer{data: DataSnapshot{LastBegin: 100}}
	m := newTestMachine(srv, &fakeController{})

	ctx := context.Background()
	m.Tick(ctx)
	srv.set(func(f *fakeServer) { f.data.LastUpdated = 105 })
	m.Tick(ctx)
	require.Equal(t, StateDone, m.State())

	m.Stop()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, StateDone, m.State())
}

func TestDataFetchErrorIsDropped(t *testing.T) {
	srv := &fakeServer{dataErr: errors.New("timeout")}
	m := newTestMachine(srv, &fakeController{})
	defer m.Stop()

	m.Tick(context.Background())
	require.Equal(t, StateIdle, m.State())
}
