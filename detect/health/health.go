package health

import (
	"encoding/json"
	"net/http"
	"runtime"
	"time"
)

var startTime = time.Now()

// Status is the health check response body.
type Status struct {
	Status        string     `json:"status"`
	Version       string     `json:"version"`
	Uptime        string     `json:"uptime"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	Timestamp     string     `json:"timestamp"`
	System        SystemInfo `json:"system"`
}

// SystemInfo contains process-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"goroutines"`
	MemoryMB     uint64 `json:"memory_mb"`
	NumCPU       int    `json:"num_cpu"`
}

// Handler returns the health check HTTP handler.
func Handler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		uptime := time.Since(startTime)

		var m runtime.MemStats
		runtime.ReadMemStats(&m)

		status := Status{
			Status:        "healthy",
			Version:       version,
			Uptime:        uptime.Truncate(time.Second).String(),
			UptimeSeconds: int64(uptime.Seconds()),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
			System: SystemInfo{
				GoVersion:    runtime.Version(),
				NumGoroutine: runtime.NumGoroutine(),
				MemoryMB:     m.Alloc / 1024 / 1024,
				NumCPU:       runtime.NumCPU(),
			},
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(status)
	}
}
