package handlers

import (
	"context"
	"os"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/kism/acerestreamer/internal/version"
)

// HealthHandler serves the health check endpoint.
type HealthHandler struct {
	startTime time.Time
}

// NewHealthHandler creates a health handler.
func NewHealthHandler() *HealthHandler {
	return &HealthHandler{startTime: time.Now()}
}

// HealthResponse is the health check payload.
type HealthResponse struct {
	Version       string  `json:"version"`
	VersionFull   string  `json:"version_full"`
	TimeZone      string  `json:"time_zone"`
	Threads       int     `json:"threads"`
	MemoryUsageMB float64 `json:"memory_usage_mb"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// HealthInput is the input for the health check endpoint.
type HealthInput struct{}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// Register registers the health route with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      "GET",
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns version and process metrics",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// GetHealth returns the health status of the gateway.
func (h *HealthHandler) GetHealth(_ context.Context, _ *HealthInput) (*HealthOutput, error) {
	zone, _ := time.Now().Zone()

	return &HealthOutput{
		Body: HealthResponse{
			Version:       version.Version,
			VersionFull:   version.String(),
			TimeZone:      zone,
			Threads:       runtime.NumGoroutine(),
			MemoryUsageMB: processMemoryMB(),
			UptimeSeconds: time.Since(h.startTime).Seconds(),
		},
	}, nil
}

// processMemoryMB reports the resident set size in MB, zero when the
// platform cannot provide it.
func processMemoryMB() float64 {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil || memInfo == nil {
		return 0
	}
	return float64(memInfo.RSS) / 1024 / 1024
}
