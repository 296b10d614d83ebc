package api

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-patchbay/internal/reconciler"
)

// SystemMetrics is the JSON body of GET /api/v1/metrics: a human-readable
// companion to the Prometheus scrape at /metrics.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	Canvases      int               `json:"canvases"`
	MQTT          *MQTTMetrics      `json:"mqtt,omitempty"`
	Relay         *RelayMetrics     `json:"relay,omitempty"`
	Reconciler    *reconciler.Stats `json:"reconciler,omitempty"`
	Database      *DatabaseMetrics  `json:"database,omitempty"`
}

type RuntimeMetrics struct {
	Goroutines  int    `json:"goroutines"`
	HeapBytes   uint64 `json:"heap_bytes"`
	SysBytes    uint64 `json:"sys_bytes"`
	GCCycles    uint32 `json:"gc_cycles"`
	LastPauseNs uint64 `json:"last_gc_pause_ns"`
}

type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

type RelayMetrics struct {
	Online bool `json:"online"`
}

// DatabaseMetrics summarises the history and audit connection pool.
type DatabaseMetrics struct {
	Open     int           `json:"open"`
	InUse    int           `json:"in_use"`
	Waits    int64         `json:"waits"`
	WaitTime time.Duration `json:"wait_time_ns"`
}

// metricsStatsTimeout keeps the endpoint responsive when the reconciler is busy.
const metricsStatsTimeout = 2 * time.Second

func readRuntimeMetrics() RuntimeMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return RuntimeMetrics{
		Goroutines:  runtime.NumGoroutine(),
		HeapBytes:   ms.HeapAlloc,
		SysBytes:    ms.Sys,
		GCCycles:    ms.NumGC,
		LastPauseNs: ms.PauseNs[(ms.NumGC+255)%256],
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	out := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime) / time.Second),
		Runtime:       readRuntimeMetrics(),
		Canvases:      s.hub.ClientCount(),
	}

	if s.mqtt != nil {
		out.MQTT = &MQTTMetrics{Connected: s.mqtt.IsConnected()}
	}
	if s.relay != nil {
		out.Relay = &RelayMetrics{Online: s.relay.RelayOnline()}
	}

	ctx, cancel := context.WithTimeout(r.Context(), metricsStatsTimeout)
	defer cancel()
	stats, err := s.graph.Stats(ctx)
	if err != nil {
		s.logger.Warn("reconciler stats unavailable", "error", err)
	} else {
		out.Reconciler = &stats
	}

	if s.db != nil {
		pool := s.db.Stats()
		out.Database = &DatabaseMetrics{
			Open:     pool.OpenConnections,
			InUse:    pool.InUse,
			Waits:    pool.WaitCount,
			WaitTime: pool.WaitDuration,
		}
	}

	writeJSON(w, http.StatusOK, out)
}
