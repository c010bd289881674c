package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/wiotp-relay/internal/connpool"
)

// SystemMetrics represents the complete system metrics response.
type SystemMetrics struct {
	Timestamp     string            `json:"timestamp"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	FlowSeconds   int64             `json:"flow_uptime_seconds"`
	Runtime       RuntimeMetrics    `json:"runtime"`
	WebSocket     WSMetrics         `json:"websocket"`
	Connections   ConnectionMetrics `json:"connections"`
	Endpoints     EndpointMetrics   `json:"endpoints"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains activity stream statistics.
type WSMetrics struct {
	Viewers   int            `json:"viewers"`
	Followers map[string]int `json:"followers"`
	Dropped   uint64         `json:"dropped_frames"`
}

// ConnectionMetrics contains shared connection statistics.
type ConnectionMetrics struct {
	Total   int            `json:"total"`
	Users   int            `json:"users"`
	ByState map[string]int `json:"by_state"`
}

// EndpointMetrics contains endpoint statistics.
type EndpointMetrics struct {
	Total    int            `json:"total"`
	ByKind   map[string]int `json:"by_kind"`
	ByStatus map[string]int `json:"by_status"`
}

// handleMetrics returns a JSON summary of the relay.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	metrics := SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		FlowSeconds:   int64(s.flow.Uptime().Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		Connections: connectionMetrics(s.registry.Snapshot()),
		Endpoints: EndpointMetrics{
			ByKind:   make(map[string]int),
			ByStatus: make(map[string]int),
		},
	}

	if s.hub != nil {
		metrics.WebSocket = WSMetrics{
			Viewers:   s.hub.Viewers(),
			Followers: make(map[string]int, len(streamChannels)),
			Dropped:   s.hub.Dropped(),
		}
		for name := range streamChannels {
			metrics.WebSocket.Followers[name] = s.hub.Followers(name)
		}
	}

	for _, ep := range s.flow.Endpoints() {
		metrics.Endpoints.Total++
		metrics.Endpoints.ByKind[ep.Kind]++
		metrics.Endpoints.ByStatus[string(ep.Status)]++
	}

	writeJSON(w, http.StatusOK, metrics)
}

func connectionMetrics(records []connpool.RecordInfo) ConnectionMetrics {
	m := ConnectionMetrics{
		Total:   len(records),
		ByState: make(map[string]int),
	}
	for _, rec := range records {
		m.Users += rec.Users
		m.ByState[string(rec.State)]++
	}
	return m
}
