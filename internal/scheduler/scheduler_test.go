package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
)

func newTestScheduler(act *mockActuator) (*Scheduler, *fakeClock) {
	clock := newFakeClock()
	engine := NewPulseEngine(act, clock, time.Second, time.Second, 100)
	s := NewScheduler(act, engine, clock, 500*time.Millisecond, time.Second, RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		MaxAttempts:     3,
	})
	return s, clock
}

func testEntry(id string, kind Kind, seconds int) (*Entry, *recordingSink) {
	sink := newRecordingSink()
	return &Entry{
		ID:              id,
		Kind:            kind,
		RequesterID:     "u-" + id,
		Intensity:       50,
		DurationSeconds: seconds,
		Sink:            sink,
	}, sink
}

func mustEnqueue(t *testing.T, s *Scheduler, e *Entry, wantPos int) {
	t.Helper()
	pos, err := s.EnqueueOrRun(e)
	if err != nil {
		t.Fatalf("EnqueueOrRun(%s) error = %v", e.ID, err)
	}
	if pos != wantPos {
		t.Fatalf("EnqueueOrRun(%s) position = %d, want %d", e.ID, pos, wantPos)
	}
}

func currentID(s *Scheduler) string {
	snap := s.Snapshot(0)
	if snap.Current == nil {
		return ""
	}
	return snap.Current.ID
}

// ─── Basic transitions ──────────────────────────────────────────────

func TestScheduler_ClearAllWhenIdle(t *testing.T) {
	s, _ := newTestScheduler(newMockActuator(vibrator("d1")))

	if n, cancelled := s.ClearAll(); n != 0 || cancelled {
		t.Errorf("ClearAll() = %d, %v, want 0, false", n, cancelled)
	}
	if s.IsActive() {
		t.Error("IsActive() = true after ClearAll on idle scheduler")
	}
}

func TestScheduler_DrainsQueueAfterCooldown(t *testing.T) {
	s, clock := newTestScheduler(newMockActuator(vibrator("d1")))

	e1, sink1 := testEntry("e1", KindVibrate, 1)
	e2, sink2 := testEntry("e2", KindVibrate, 1)
	mustEnqueue(t, s, e1, 0)
	mustEnqueue(t, s, e2, 1)

	if !s.IsActive() || currentID(s) != "e1" {
		t.Fatalf("current = %q, want e1 running", currentID(s))
	}

	clock.Step(t, time.Second)
	if out := sink1.wait(t); out.Status != OutcomeSuccess {
		t.Fatalf("e1 status = %q, want success", out.Status)
	}

	// Cooldown elapses before e2 starts.
	clock.BlockUntil(t, 1)
	if s.IsActive() {
		t.Fatal("next entry started before cooldown")
	}
	clock.Advance(500 * time.Millisecond)
	if currentID(s) != "e2" {
		t.Fatalf("current = %q, want e2", currentID(s))
	}

	clock.Step(t, time.Second)
	if out := sink2.wait(t); out.Status != OutcomeSuccess {
		t.Errorf("e2 status = %q, want success", out.Status)
	}
}

func TestScheduler_NoQueueJumpDuringCooldown(t *testing.T) {
	s, clock := newTestScheduler(newMockActuator(vibrator("d1")))

	e1, sink1 := testEntry("e1", KindVibrate, 1)
	e2, _ := testEntry("e2", KindVibrate, 1)
	e3, _ := testEntry("e3", KindVibrate, 1)
	mustEnqueue(t, s, e1, 0)
	mustEnqueue(t, s, e2, 1)

	clock.Step(t, time.Second)
	sink1.wait(t)

	// Idle but e2 is waiting: e3 goes behind it.
	mustEnqueue(t, s, e3, 2)

	clock.Step(t, 500*time.Millisecond)
	if currentID(s) != "e2" {
		t.Errorf("current = %q, want e2", currentID(s))
	}
}

func TestScheduler_RunsImmediatelyDuringCooldownWithEmptyQueue(t *testing.T) {
	s, clock := newTestScheduler(newMockActuator(vibrator("d1")))

	e1, sink1 := testEntry("e1", KindVibrate, 1)
	mustEnqueue(t, s, e1, 0)
	clock.Step(t, time.Second)
	sink1.wait(t)

	e2, _ := testEntry("e2", KindVibrate, 1)
	mustEnqueue(t, s, e2, 0)
	if currentID(s) != "e2" {
		t.Fatalf("current = %q, want e2", currentID(s))
	}

	// The stale cooldown timer must not disturb e2.
	clock.Advance(500 * time.Millisecond)
	if currentID(s) != "e2" {
		t.Errorf("current after cooldown = %q, want e2", currentID(s))
	}
}

// ─── Clear ──────────────────────────────────────────────────────────

func TestScheduler_ClearAllCancelsAndDrops(t *testing.T) {
	act := newMockActuator(vibrator("d1"))
	s, clock := newTestScheduler(act)

	e1, sink1 := testEntry("e1", KindPulse, 4)
	e2, sink2 := testEntry("e2", KindPulse, 4)
	e3, sink3 := testEntry("e3", KindPulse, 4)
	mustEnqueue(t, s, e1, 0)
	mustEnqueue(t, s, e2, 1)
	mustEnqueue(t, s, e3, 2)
	clock.BlockUntil(t, 1)

	if n, cancelled := s.ClearAll(); n != 2 || !cancelled {
		t.Errorf("ClearAll() = %d, %v, want 2, true", n, cancelled)
	}

	// The running entry reported before ClearAll returned.
	if !sink1.completed() {
		t.Fatal("running entry not completed when ClearAll returned")
	}
	if out := sink1.wait(t); out.Status != OutcomeCancelled {
		t.Errorf("e1 status = %q, want cancelled", out.Status)
	}
	if s.IsActive() || s.QueueLength() != 0 {
		t.Errorf("after ClearAll active = %v, queue = %d", s.IsActive(), s.QueueLength())
	}

	// Dropped entries are not notified and never run.
	clock.Advance(time.Minute)
	for name, sink := range map[string]*recordingSink{"e2": sink2, "e3": sink3} {
		if started, _, outcomes := sink.counts(); started != 0 || outcomes != 0 {
			t.Errorf("%s notified after drop: started=%d outcomes=%d", name, started, outcomes)
		}
	}
}

func TestScheduler_SubmitAfterClearRunsNow(t *testing.T) {
	s, clock := newTestScheduler(newMockActuator(vibrator("d1")))

	e1, sink1 := testEntry("e1", KindPulse, 4)
	mustEnqueue(t, s, e1, 0)
	clock.BlockUntil(t, 1)
	s.ClearAll()
	sink1.wait(t)

	e2, _ := testEntry("e2", KindVibrate, 2)
	mustEnqueue(t, s, e2, 0)
	if currentID(s) != "e2" {
		t.Errorf("current = %q, want e2", currentID(s))
	}
}

// gatedActuator holds the first Actuate call until release is closed.
type gatedActuator struct {
	*mockActuator
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (g *gatedActuator) Actuate(ctx context.Context, deviceID string, c device.Capability, levels []float64) error {
	g.once.Do(func() {
		close(g.entered)
		<-g.release
	})
	return g.mockActuator.Actuate(ctx, deviceID, c, levels)
}

func TestScheduler_SubmitDuringClearWaitsForFinalOff(t *testing.T) {
	act := &gatedActuator{
		mockActuator: newMockActuator(vibrator("d1")),
		entered:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	clock := newFakeClock()
	engine := NewPulseEngine(act, clock, time.Second, time.Second, 100)
	s := NewScheduler(act, engine, clock, 500*time.Millisecond, time.Second, RetryPolicy{MaxAttempts: 3})

	a, sinkA := testEntry("a", KindVibrate, 5)
	a.Intensity = 80
	mustEnqueue(t, s, a, 0)
	filler, _ := testEntry("filler", KindVibrate, 1)
	mustEnqueue(t, s, filler, 1)

	select {
	case <-act.entered:
	case <-time.After(waitTimeout):
		t.Fatal("first actuation never started")
	}

	type clearResult struct {
		dropped   int
		cancelled bool
	}
	cleared := make(chan clearResult, 1)
	go func() {
		n, cancelled := s.ClearAll()
		cleared <- clearResult{n, cancelled}
	}()

	// The queue empties first; the cancelled execution is still on the devices.
	waitFor(t, "queue cleared", func() bool { return s.QueueLength() == 0 })
	if !s.IsActive() {
		t.Fatal("slot released before the cancelled execution finished")
	}

	b, sinkB := testEntry("b", KindVibrate, 5)
	mustEnqueue(t, s, b, 1)

	close(act.release)
	var res clearResult
	select {
	case res = <-cleared:
	case <-time.After(waitTimeout):
		t.Fatal("ClearAll did not return")
	}
	if res.dropped != 1 || !res.cancelled {
		t.Errorf("ClearAll() = %d, %v, want 1, true", res.dropped, res.cancelled)
	}
	if out := sinkA.wait(t); out.Status != OutcomeCancelled {
		t.Errorf("a status = %q, want cancelled", out.Status)
	}
	if started, _, _ := sinkB.counts(); started != 0 {
		t.Fatal("b started while a was still switching off")
	}

	// b runs after the cooldown and its "on" is the last level sent.
	clock.Advance(500 * time.Millisecond)
	waitFor(t, "b on", func() bool { return len(act.levelsFor("d1")) == 3 })
	levels := act.levelsFor("d1")
	if levels[0] != 0.8 || levels[1] != 0 || levels[2] != 0.5 {
		t.Errorf("d1 levels = %v, want [0.8 0 0.5]", levels)
	}
	if currentID(s) != "b" {
		t.Errorf("current = %q, want b", currentID(s))
	}
}

// ─── Internal errors ────────────────────────────────────────────────

func TestScheduler_DispatchPanicRecovered(t *testing.T) {
	act := newMockActuator(vibrator("d1"))
	act.listPanic = true
	s, _ := newTestScheduler(act)

	e1, sink1 := testEntry("e1", KindVibrate, 1)
	_, err := s.EnqueueOrRun(e1)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("EnqueueOrRun() error = %v, want ErrInternal", err)
	}
	if out := sink1.wait(t); out.Status != OutcomeFailed {
		t.Errorf("status = %q, want failed", out.Status)
	}
	if s.IsActive() {
		t.Error("scheduler left running after panic")
	}
}

func TestScheduler_RetryAfterInternalError(t *testing.T) {
	act := newMockActuator(vibrator("d1"))
	s, clock := newTestScheduler(act)

	e1, sink1 := testEntry("e1", KindVibrate, 1)
	e2, sink2 := testEntry("e2", KindVibrate, 1)
	e3, _ := testEntry("e3", KindVibrate, 1)
	mustEnqueue(t, s, e1, 0)
	mustEnqueue(t, s, e2, 1)
	mustEnqueue(t, s, e3, 2)

	act.mu.Lock()
	act.listFailures = 1
	act.mu.Unlock()

	clock.Step(t, time.Second)
	sink1.wait(t)
	clock.Step(t, 500*time.Millisecond)

	// e2 failed and was discarded; e3 follows after the backoff.
	if out := sink2.wait(t); out.Status != OutcomeFailed || !errors.Is(out.Err, ErrInternal) {
		t.Fatalf("e2 outcome = %+v, want failed with ErrInternal", out)
	}
	if s.IsActive() {
		t.Fatal("scheduler active right after a failed dispatch")
	}

	clock.Step(t, time.Second)
	if currentID(s) != "e3" {
		t.Errorf("current = %q, want e3", currentID(s))
	}
}

func TestScheduler_RetriesExhausted(t *testing.T) {
	act := newMockActuator(vibrator("d1"))
	s, clock := newTestScheduler(act)

	first, sink := testEntry("e0", KindVibrate, 1)
	mustEnqueue(t, s, first, 0)
	sinks := make(map[string]*recordingSink)
	for i, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		e, es := testEntry(id, KindVibrate, 1)
		sinks[id] = es
		mustEnqueue(t, s, e, i+1)
	}

	act.mu.Lock()
	act.listFailures = 100
	act.mu.Unlock()

	clock.Step(t, time.Second)
	sink.wait(t)

	// Cooldown fails e1; the three retries (each well under a second
	// with jitter) fail e2..e4 and the last failure gives up on e5.
	clock.Step(t, 500*time.Millisecond)
	clock.Advance(time.Second)

	for _, id := range []string{"e1", "e2", "e3", "e4", "e5"} {
		if !sinks[id].completed() {
			t.Fatalf("%s left unresolved after retries exhausted", id)
		}
		if out := sinks[id].wait(t); out.Status != OutcomeFailed || !errors.Is(out.Err, ErrInternal) {
			t.Errorf("%s outcome = %+v, want failed with ErrInternal", id, out)
		}
		if started, _, _ := sinks[id].counts(); started != 0 {
			t.Errorf("%s started %d times, want 0", id, started)
		}
	}
	if got := s.QueueLength(); got != 0 {
		t.Errorf("QueueLength = %d, want 0", got)
	}
	if got := clock.Pending(); got != 0 {
		t.Errorf("pending timers = %d, want 0", got)
	}
	if s.IsActive() {
		t.Error("scheduler active after giving up")
	}

	// The scheduler stays usable once the actuator recovers.
	act.mu.Lock()
	act.listFailures = 0
	act.mu.Unlock()

	e6, _ := testEntry("e6", KindVibrate, 1)
	mustEnqueue(t, s, e6, 0)
	if currentID(s) != "e6" {
		t.Errorf("current = %q, want e6", currentID(s))
	}
}
