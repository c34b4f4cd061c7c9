package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pulse-core/internal/device"
)

// waitTimeout bounds every wait on background goroutines in tests.
const waitTimeout = 2 * time.Second

// ─── Fake clock ─────────────────────────────────────────────────────

// fakeClock is a manually advanced Clock. Channel timers fire by a
// buffered send; AfterFunc callbacks run synchronously inside Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock *fakeClock
	at    time.Time
	ch    chan time.Time
	fn    func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTimer(d time.Duration) Timer {
	return c.add(d, nil)
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.add(d, f)
}

func (c *fakeClock) add(d time.Duration, f func()) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), fn: f}
	if f == nil {
		t.ch = make(chan time.Time, 1)
	}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) C() <-chan time.Time { return t.ch }

func (t *fakeTimer) Stop() bool {
	return t.clock.remove(t)
}

func (c *fakeClock) remove(t *fakeTimer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.timers {
		if other == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		next := -1
		for i, t := range c.timers {
			if !t.at.After(target) && (next < 0 || t.at.Before(c.timers[next].at)) {
				next = i
			}
		}
		if next < 0 {
			break
		}
		t := c.timers[next]
		c.timers = append(c.timers[:next], c.timers[next+1:]...)
		if t.at.After(c.now) {
			c.now = t.at
		}
		if t.fn != nil {
			c.mu.Unlock()
			t.fn()
			c.mu.Lock()
			continue
		}
		t.ch <- c.now
	}
	c.now = target
	c.mu.Unlock()
}

// Pending returns the number of armed timers.
func (c *fakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// BlockUntil waits for at least n armed timers.
func (c *fakeClock) BlockUntil(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for c.Pending() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d timers, have %d", n, c.Pending())
		}
		time.Sleep(time.Millisecond)
	}
}

// Step waits for one armed timer then advances by d.
func (c *fakeClock) Step(t *testing.T, d time.Duration) {
	t.Helper()
	c.BlockUntil(t, 1)
	c.Advance(d)
}

// ─── Mock actuator ──────────────────────────────────────────────────

var errDeviceOffline = errors.New("device offline")

type actuation struct {
	deviceID string
	levels   []float64
}

type mockActuator struct {
	mu        sync.Mutex
	devices   []device.Device
	connected bool
	calls     []actuation
	stops     []string

	// actuateErr decides per call whether to fail.
	actuateErr func(deviceID string, levels []float64) error
	stopErr    map[string]error

	// listFailures makes the next n ListDevices calls fail.
	listFailures int
	listPanic    bool
}

func newMockActuator(devices ...device.Device) *mockActuator {
	return &mockActuator{devices: devices, connected: true}
}

func vibrator(id string) device.Device {
	return device.Device{ID: id, Name: id, Capabilities: device.Capabilities{Vibrate: 1}}
}

func (m *mockActuator) ListDevices(_ context.Context) ([]device.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listPanic {
		panic("list devices exploded")
	}
	if m.listFailures > 0 {
		m.listFailures--
		return nil, errors.New("bridge unavailable")
	}
	out := make([]device.Device, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

func (m *mockActuator) Actuate(_ context.Context, deviceID string, _ device.Capability, levels []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, actuation{deviceID: deviceID, levels: levels})
	if m.actuateErr != nil {
		if err := m.actuateErr(deviceID, levels); err != nil {
			return errors.Join(device.ErrActuationFailed, err)
		}
	}
	return nil
}

func (m *mockActuator) StopDevice(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.stopErr[deviceID]; err != nil {
		return err
	}
	m.stops = append(m.stops, deviceID)
	return nil
}

func (m *mockActuator) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockActuator) setDevices(devices ...device.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

func (m *mockActuator) setConnected(connected bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = connected
}

// levelsFor returns the first level sent to deviceID on each call, in order.
func (m *mockActuator) levelsFor(deviceID string) []float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []float64
	for _, c := range m.calls {
		if c.deviceID == deviceID && len(c.levels) > 0 {
			out = append(out, c.levels[0])
		}
	}
	return out
}

func (m *mockActuator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockActuator) stopped() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stops...)
}

// ─── Recording sink ─────────────────────────────────────────────────

type recordingSink struct {
	mu       sync.Mutex
	started  int
	ticks    []Tick
	outcomes []Outcome
	done     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{done: make(chan struct{})}
}

func (s *recordingSink) Started(EntrySummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started++
}

func (s *recordingSink) Ticked(_ EntrySummary, t Tick) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ticks = append(s.ticks, t)
}

func (s *recordingSink) Completed(_ EntrySummary, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	if len(s.outcomes) == 1 {
		close(s.done)
	}
}

func (s *recordingSink) wait(t *testing.T) Outcome {
	t.Helper()
	select {
	case <-s.done:
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for completion")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outcomes[0]
}

func (s *recordingSink) completed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *recordingSink) counts() (started, ticks, outcomes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started, len(s.ticks), len(s.outcomes)
}

// ─── Fixtures ───────────────────────────────────────────────────────

func testOptions(clock Clock) Options {
	return Options{
		RateLimit:      3,
		RateWindow:     30 * time.Second,
		PulseCadence:   time.Second,
		Cooldown:       500 * time.Millisecond,
		CallTimeout:    time.Second,
		IntensityScale: 100,
		Retry: RetryPolicy{
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     time.Second,
			MaxAttempts:     3,
		},
		Bounds: map[Kind]Bounds{
			KindVibrate: {MinIntensity: 1, MaxIntensity: 100, MinDuration: 1, MaxDuration: 10},
			KindPulse:   {MinIntensity: 1, MaxIntensity: 100, MinDuration: 2, MaxDuration: 20},
		},
		Clock: clock,
	}
}

func newTestService(t *testing.T, devices ...device.Device) (*Service, *fakeClock, *mockActuator) {
	t.Helper()
	clock := newFakeClock()
	act := newMockActuator(devices...)
	return NewService(testOptions(clock), act), clock, act
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}
