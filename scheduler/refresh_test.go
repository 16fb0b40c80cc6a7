package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cpls_refresh/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeHandle struct {
	def      Definition
	fire     func()
	next     time.Time
	disarmed bool
}

func (h *fakeHandle) NextRun() time.Time {
	return h.next
}

// fakeTrigger records arm/disarm calls and lets tests fire handles by hand.
type fakeTrigger struct {
	mu      sync.Mutex
	loc     *time.Location
	handles []*fakeHandle
	events  []string
	failOn  string
}

func newFakeTrigger(t *testing.T) *fakeTrigger {
	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	return &fakeTrigger{loc: loc}
}

func (f *fakeTrigger) Arm(def Definition, fire func()) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if def.Name == f.failOn {
		return nil, errors.New("arm refused")
	}
	next, err := NextFire(def.Schedule, f.loc, time.Now())
	if err != nil {
		return nil, err
	}
	h := &fakeHandle{def: def, fire: fire, next: next}
	f.handles = append(f.handles, h)
	f.events = append(f.events, "arm:"+def.Name)
	return h, nil
}

func (f *fakeTrigger) Disarm(h Handle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	fh := h.(*fakeHandle)
	fh.disarmed = true
	f.events = append(f.events, "disarm:"+fh.def.Name)
}

func (f *fakeTrigger) Location() *time.Location {
	return f.loc
}

func (f *fakeTrigger) live() []*fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()

	var live []*fakeHandle
	for _, h := range f.handles {
		if !h.disarmed {
			live = append(live, h)
		}
	}
	return live
}

func (f *fakeTrigger) eventLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type countingAction struct {
	calls    atomic.Int32
	triggers sync.Map
	err      error
}

func (a *countingAction) run(ctx context.Context) (*Outcome, error) {
	a.calls.Add(1)
	a.triggers.Store(TriggerFromContext(ctx), true)
	if a.err != nil {
		return &Outcome{StatusCode: 500, Payload: json.RawMessage(`{"success":false}`)}, a.err
	}
	return &Outcome{StatusCode: 200, Payload: json.RawMessage(`{"success":true}`)}, nil
}

func newTestScheduler(t *testing.T, action Action) (*Scheduler, *fakeTrigger) {
	trigger := newFakeTrigger(t)
	s := New(trigger, action, DefaultDefinitions("30 8 * * *", "30 15 * * *"), WithLogger(zap.NewNop().Sugar()))
	return s, trigger
}

func TestScheduler_StartOnEmptySet(t *testing.T) {
	action := &countingAction{}
	s, trigger := newTestScheduler(t, action.run)

	result, err := s.Start()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Ho_Chi_Minh", result.Timezone)
	assert.Equal(t, []Definition{
		{Name: "morning", Schedule: "30 8 * * *"},
		{Name: "afternoon", Schedule: "30 15 * * *"},
	}, result.Schedules)

	status := s.Status()
	assert.Equal(t, 2, status.TotalJobs)
	require.Len(t, status.Jobs, 2)
	for i, job := range status.Jobs {
		assert.Equal(t, i, job.ID)
		assert.True(t, job.Running)
		assert.False(t, job.Destroyed)
		require.NotNil(t, job.NextRun)
		assert.True(t, job.NextRun.After(time.Now()))
	}
	assert.Equal(t, 8, status.Jobs[0].NextRun.In(trigger.loc).Hour())
	assert.Equal(t, 15, status.Jobs[1].NextRun.In(trigger.loc).Hour())

	assert.Len(t, trigger.live(), 2)
	assert.Equal(t, int32(0), action.calls.Load())
}

func TestScheduler_StartIsIdempotent(t *testing.T) {
	s, trigger := newTestScheduler(t, (&countingAction{}).run)

	for i := 0; i < 3; i++ {
		_, err := s.Start()
		require.NoError(t, err)

		status := s.Status()
		assert.Equal(t, 2, status.TotalJobs)
		for _, job := range status.Jobs {
			assert.True(t, job.Running)
			assert.False(t, job.Destroyed)
		}
	}

	assert.Len(t, trigger.live(), 2)
	assert.Len(t, trigger.handles, 6)
}

func TestScheduler_DestroyBeforeReplace(t *testing.T) {
	s, trigger := newTestScheduler(t, (&countingAction{}).run)

	_, err := s.Start()
	require.NoError(t, err)
	first := append([]*Job(nil), s.jobs...)

	_, err = s.Start()
	require.NoError(t, err)

	assert.Equal(t, []string{
		"arm:morning", "arm:afternoon",
		"disarm:morning", "disarm:afternoon",
		"arm:morning", "arm:afternoon",
	}, trigger.eventLog())

	for _, job := range first {
		assert.Equal(t, StateDestroyed, job.State())
		assert.Error(t, job.ctx.Err())
	}
	for _, job := range s.jobs {
		assert.Equal(t, StateScheduled, job.State())
		assert.NoError(t, job.ctx.Err())
	}
}

func TestScheduler_Stop(t *testing.T) {
	s, trigger := newTestScheduler(t, (&countingAction{}).run)

	assert.Equal(t, 0, s.Stop(), "stopping an empty set is a no-op")

	_, err := s.Start()
	require.NoError(t, err)
	jobs := append([]*Job(nil), s.jobs...)

	assert.Equal(t, 2, s.Stop())
	assert.Equal(t, 0, s.Status().TotalJobs)
	assert.Empty(t, s.Status().Jobs)
	assert.Empty(t, trigger.live())
	for _, job := range jobs {
		assert.Equal(t, StateDestroyed, job.State())
	}

	assert.Equal(t, 0, s.Stop())
}

func TestScheduler_FireOnceLeavesStatusUnchanged(t *testing.T) {
	action := &countingAction{}
	s, _ := newTestScheduler(t, action.run)

	_, err := s.Start()
	require.NoError(t, err)
	before := s.Status()

	outcome, err := s.FireOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 200, outcome.StatusCode)

	assert.Equal(t, before, s.Status())
	assert.Equal(t, int32(1), action.calls.Load())
	_, manual := action.triggers.Load(TriggerManual)
	assert.True(t, manual)
}

func TestScheduler_FireOnceWithoutJobs(t *testing.T) {
	action := &countingAction{err: errors.New("upstream 500")}
	s, _ := newTestScheduler(t, action.run)

	outcome, err := s.FireOnce(context.Background())
	assert.EqualError(t, err, "upstream 500")
	require.NotNil(t, outcome)
	assert.Equal(t, 500, outcome.StatusCode)
	assert.Equal(t, 0, s.Status().TotalJobs)
}

func TestScheduler_TriggerFailureIsLoggedOnly(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	action := &countingAction{err: errors.New("connection refused")}
	trigger := newFakeTrigger(t)
	s := New(trigger, action.run, DefaultDefinitions("30 8 * * *", "30 15 * * *"), WithLogger(zap.New(core).Sugar()))

	_, err := s.Start()
	require.NoError(t, err)

	for _, h := range trigger.live() {
		h.fire()
	}

	assert.Equal(t, int32(2), action.calls.Load())
	_, morning := action.triggers.Load("morning")
	_, afternoon := action.triggers.Load("afternoon")
	assert.True(t, morning)
	assert.True(t, afternoon)

	failed := logs.FilterMessage("Refresh failed").All()
	require.Len(t, failed, 2)
	assert.Equal(t, "connection refused", failed[0].ContextMap()["error"])

	status := s.Status()
	assert.Equal(t, 2, status.TotalJobs)
	assert.Len(t, trigger.live(), 2, "a failed refresh never disarms a trigger")
}

func TestScheduler_StaleFiringIsDropped(t *testing.T) {
	action := &countingAction{}
	s, trigger := newTestScheduler(t, action.run)

	_, err := s.Start()
	require.NoError(t, err)
	stale := trigger.live()[0]

	s.Stop()
	stale.fire()
	assert.Equal(t, int32(0), action.calls.Load())

	_, err = s.Start()
	require.NoError(t, err)
	stale.fire()
	assert.Equal(t, int32(0), action.calls.Load(), "old generation stays dead after a restart")

	trigger.live()[0].fire()
	assert.Equal(t, int32(1), action.calls.Load())
}

func TestScheduler_RestartLeavesInFlightRefreshRunning(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan error, 1)
	action := func(ctx context.Context) (*Outcome, error) {
		close(started)
		select {
		case <-release:
		case <-ctx.Done():
		}
		finished <- ctx.Err()
		return &Outcome{StatusCode: 200}, ctx.Err()
	}
	s, trigger := newTestScheduler(t, action)

	_, err := s.Start()
	require.NoError(t, err)

	go trigger.live()[0].fire()
	<-started

	_, err = s.Start()
	require.NoError(t, err)
	s.Stop()
	close(release)

	select {
	case err := <-finished:
		assert.NoError(t, err, "restart and stop must not cancel a running refresh")
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight refresh never finished")
	}
}

func TestScheduler_OverlappingFiringsRunConcurrently(t *testing.T) {
	var running atomic.Int32
	release := make(chan struct{})
	action := func(ctx context.Context) (*Outcome, error) {
		running.Add(1)
		<-release
		return &Outcome{StatusCode: 200}, nil
	}
	s, trigger := newTestScheduler(t, action)

	_, err := s.Start()
	require.NoError(t, err)
	morning := trigger.live()[0]

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			morning.fire()
		}()
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
	close(release)
	wg.Wait()
}

func TestScheduler_ArmFailureLeavesEmptySet(t *testing.T) {
	s, trigger := newTestScheduler(t, (&countingAction{}).run)

	_, err := s.Start()
	require.NoError(t, err)

	trigger.failOn = "afternoon"
	_, err = s.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "arm afternoon trigger")

	assert.Equal(t, 0, s.Status().TotalJobs)
	assert.Empty(t, trigger.live())
}

func TestScheduler_InvalidScheduleFailsStart(t *testing.T) {
	trigger := newFakeTrigger(t)
	s := New(trigger, (&countingAction{}).run, DefaultDefinitions("not a cron", "30 15 * * *"), WithLogger(zap.NewNop().Sugar()))

	_, err := s.Start()
	require.Error(t, err)
	assert.Equal(t, 0, s.Status().TotalJobs)
}

func TestScheduler_ActionPanicIsRecovered(t *testing.T) {
	s, _ := newTestScheduler(t, func(ctx context.Context) (*Outcome, error) {
		panic("nil map")
	})

	outcome, err := s.FireOnce(context.Background())
	assert.Nil(t, outcome)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil map")
}

func TestTriggerFromContext(t *testing.T) {
	assert.Equal(t, TriggerManual, TriggerFromContext(context.Background()))
	assert.Equal(t, "morning", TriggerFromContext(WithTrigger(context.Background(), "morning")))
}

func TestJobStateString(t *testing.T) {
	assert.Equal(t, "scheduled", StateScheduled.String())
	assert.Equal(t, "destroyed", StateDestroyed.String())
	assert.Equal(t, "unknown", JobState(9).String())
}
