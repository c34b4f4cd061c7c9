package audit

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/pulse-core/internal/infrastructure/config"
	"github.com/nerrad567/pulse-core/internal/infrastructure/database"
	"github.com/nerrad567/pulse-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/pulse-core/internal/scheduler"
	_ "github.com/nerrad567/pulse-core/migrations" // registers the embedded schema
)

func openTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(ctx, config.DatabaseConfig{
		Path:        filepath.Join(t.TempDir(), "audit.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test cleanup

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteRepository(db.DB)
}

// ─── Repository ─────────────────────────────────────────────────────

func TestSQLiteRepository_CreateAndList(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	logs := []*AuditLog{
		{Action: ActionSubmit, EntityType: EntityCommand, EntityID: "cmd-1", ActorID: "u1", Result: "running_now", CreatedAt: base},
		{Action: ActionExecute, EntityType: EntityCommand, EntityID: "cmd-1", ActorID: "u1", Result: "success",
			Details: map[string]any{"ticks": 4}, CreatedAt: base.Add(4 * time.Second)},
		{Action: ActionLock, EntityType: EntityScheduler, ActorID: "op", Result: "ok", CreatedAt: base.Add(5 * time.Second)},
	}
	for _, l := range logs {
		if err := repo.Create(ctx, l); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if l.ID == "" {
			t.Error("Create() did not assign an ID")
		}
	}

	res, err := repo.List(ctx, Filter{})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if res.Total != 3 || len(res.Logs) != 3 {
		t.Fatalf("List() total = %d, len = %d, want 3", res.Total, len(res.Logs))
	}
	if res.Logs[0].Action != ActionLock {
		t.Errorf("newest action = %q, want lock", res.Logs[0].Action)
	}
	if res.Limit != defaultListLimit {
		t.Errorf("Limit = %d, want default %d", res.Limit, defaultListLimit)
	}

	exec := res.Logs[1]
	if exec.Result != "success" || exec.EntityID != "cmd-1" {
		t.Errorf("execute log = %+v", exec)
	}
	if ticks, ok := exec.Details["ticks"].(float64); !ok || ticks != 4 {
		t.Errorf("details ticks = %v, want 4", exec.Details["ticks"])
	}
	if !exec.CreatedAt.Equal(base.Add(4 * time.Second)) {
		t.Errorf("CreatedAt = %v, want %v", exec.CreatedAt, base.Add(4*time.Second))
	}
	if res.Logs[0].EntityID != "" {
		t.Errorf("lock log EntityID = %q, want empty", res.Logs[0].EntityID)
	}
}

func TestSQLiteRepository_ListFilters(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	for i, actor := range []string{"u1", "u1", "u2", "op"} {
		action := ActionSubmit
		if actor == "op" {
			action = ActionStopAll
		}
		err := repo.Create(ctx, &AuditLog{
			Action:     action,
			EntityType: EntityCommand,
			ActorID:    actor,
			CreatedAt:  time.Date(2026, 3, 1, 12, 0, i, 0, time.UTC),
		})
		if err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
		total  int
	}{
		{"by actor", Filter{ActorID: "u1"}, 2, 2},
		{"by action", Filter{Action: ActionStopAll}, 1, 1},
		{"combined", Filter{Action: ActionSubmit, ActorID: "u2"}, 1, 1},
		{"paged", Filter{Limit: 2, Offset: 1}, 2, 4},
		{"offset past end", Filter{Offset: 10}, 0, 4},
		{"limit clamped", Filter{Limit: 1000}, 4, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := repo.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(res.Logs) != tt.want || res.Total != tt.total {
				t.Errorf("List() len = %d total = %d, want %d and %d", len(res.Logs), res.Total, tt.want, tt.total)
			}
			if res.Limit > maxListLimit {
				t.Errorf("Limit = %d exceeds max", res.Limit)
			}
		})
	}
}

// ─── Recorder ───────────────────────────────────────────────────────

type mockRepo struct {
	mu     sync.Mutex
	logs   []AuditLog
	err    error
	block  chan struct{}
	ctxErr error
}

func (m *mockRepo) Create(ctx context.Context, log *AuditLog) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ctxErr = ctx.Err()
	m.logs = append(m.logs, *log)
	return nil
}

func (m *mockRepo) List(context.Context, Filter) (*ListResult, error) {
	return nil, errors.New("not implemented")
}

func (m *mockRepo) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, l := range m.logs {
		out = append(out, l.Action)
	}
	return out
}

type mockTelemetry struct {
	mu     sync.Mutex
	points []influxdb.ActuationPoint
}

func (m *mockTelemetry) WriteActuation(p influxdb.ActuationPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points = append(m.points, p)
}

func TestRecorder_RecordsEveryEvent(t *testing.T) {
	repo := &mockRepo{}
	tel := &mockTelemetry{}
	r := NewRecorder(repo, tel)
	r.Start()

	r.Submitted(scheduler.Request{RequesterID: "u1", Kind: scheduler.KindPulse, Intensity: 50, DurationSeconds: 4},
		scheduler.Result{Status: scheduler.StatusQueued, Position: 2, EntryID: "cmd-1"})
	r.ExecutionFinished(scheduler.EntrySummary{ID: "cmd-1", Kind: scheduler.KindPulse, RequesterID: "u1", DurationSeconds: 4},
		scheduler.Outcome{Status: scheduler.OutcomeDegraded, Devices: 2, Ticks: 4, Elapsed: 4 * time.Second, Err: errors.New("final off failed")})
	r.LockChanged("op", true)
	r.LockChanged("op", false)
	r.Stopped("op", scheduler.StopResult{Devices: 2, Signalled: 2, DroppedEntries: 1})
	r.Stop()

	want := []string{ActionSubmit, ActionExecute, ActionLock, ActionUnlock, ActionStopAll}
	got := repo.actions()
	if len(got) != len(want) {
		t.Fatalf("actions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	repo.mu.Lock()
	submit, exec := repo.logs[0], repo.logs[1]
	repo.mu.Unlock()
	if submit.Result != "queued" || submit.Details["position"] != 2 {
		t.Errorf("submit log = %+v", submit)
	}
	if exec.Result != "degraded" || exec.Details["error"] != "final off failed" {
		t.Errorf("execute log = %+v", exec)
	}

	tel.mu.Lock()
	defer tel.mu.Unlock()
	if len(tel.points) != 1 {
		t.Fatalf("telemetry points = %d, want 1", len(tel.points))
	}
	p := tel.points[0]
	if p.Kind != "pulse" || p.Outcome != "degraded" || p.Duration != 4*time.Second {
		t.Errorf("point = %+v", p)
	}
}

func TestRecorder_WriteErrorsDoNotStop(t *testing.T) {
	repo := &mockRepo{err: errors.New("disk full")}
	r := NewRecorder(repo, nil)
	r.Start()

	r.LockChanged("op", true)
	r.LockChanged("op", false)
	r.Stop()

	if got := r.Dropped(); got != 0 {
		t.Errorf("Dropped() = %d, want 0", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	repo := &mockRepo{block: make(chan struct{})}
	r := NewRecorder(repo, nil)
	r.Start()

	// One event is held by the blocked writer, the rest fill the buffer.
	for i := 0; i < defaultBufferSize+10; i++ {
		r.LockChanged("op", true)
	}
	if r.Dropped() == 0 {
		t.Error("Dropped() = 0, want events dropped once the buffer is full")
	}

	close(repo.block)
	r.Stop()

	// After Stop every event is dropped.
	before := r.Dropped()
	r.LockChanged("op", false)
	if r.Dropped() != before+1 {
		t.Errorf("Dropped() after Stop = %d, want %d", r.Dropped(), before+1)
	}
}
