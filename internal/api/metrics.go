package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/pulse-core/internal/process"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string           `json:"timestamp"`
	Version       string           `json:"version"`
	UptimeSeconds int64            `json:"uptime_seconds"`
	Runtime       RuntimeMetrics   `json:"runtime"`
	WebSocket     WSMetrics        `json:"websocket"`
	MQTT          MQTTMetrics      `json:"mqtt"`
	Bridge        *BridgeMetrics   `json:"bridge,omitempty"`
	BridgeProcess *process.Stats   `json:"bridge_process,omitempty"`
	Scheduler     SchedulerMetrics `json:"scheduler"`
	Database      *DatabaseMetrics `json:"database,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
	PendingTickets   int `json:"pending_tickets"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// BridgeMetrics contains device bridge counters.
type BridgeMetrics struct {
	Online            bool   `json:"online"`
	CommandsPublished uint64 `json:"commands_published"`
	PublishFailures   uint64 `json:"publish_failures"`
	Announcements     uint64 `json:"announcements"`
}

// SchedulerMetrics is a point-in-time view of the command scheduler.
type SchedulerMetrics struct {
	Active      bool `json:"active"`
	QueueLength int  `json:"queue_length"`
	Locked      bool `json:"locked"`
	Connected   bool `json:"devices_reachable"`
}

// DatabaseMetrics contains database connection pool statistics.
type DatabaseMetrics struct {
	OpenConnections int   `json:"open_connections"`
	InUse           int   `json:"in_use"`
	Idle            int   `json:"idle"`
	WaitCount       int64 `json:"wait_count"`
}

// handleMetrics returns a JSON summary for dashboards that do not scrape
// Prometheus.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	st := s.sched.Status("")
	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{
			ConnectedClients: s.hub.ClientCount(),
			PendingTickets:   s.tickets.len(),
		},
		Scheduler: SchedulerMetrics{
			Active:      st.Active,
			QueueLength: st.QueueLength,
			Locked:      st.Locked,
			Connected:   s.sched.Connected(),
		},
	}

	if s.mqtt != nil {
		metrics.MQTT = MQTTMetrics{
			Connected: s.mqtt.IsConnected(),
		}
	}

	if s.bridge != nil {
		stats := s.bridge.Stats()
		metrics.Bridge = &BridgeMetrics{
			Online:            stats.BridgeOnline,
			CommandsPublished: stats.CommandsPublished,
			PublishFailures:   stats.PublishFailures,
			Announcements:     stats.Announcements,
		}
	}

	if s.process != nil {
		stats := s.process.Stats()
		metrics.BridgeProcess = &stats
	}

	if s.db != nil {
		dbStats := s.db.Stats()
		metrics.Database = &DatabaseMetrics{
			OpenConnections: dbStats.OpenConnections,
			InUse:           dbStats.InUse,
			Idle:            dbStats.Idle,
			WaitCount:       dbStats.WaitCount,
		}
	}

	writeJSON(w, http.StatusOK, metrics)
}
