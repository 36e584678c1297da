package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/ecosort/internal/logger"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Uptime        string  `json:"uptime"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	Timestamp     string  `json:"timestamp"`
	Goroutines    int     `json:"goroutines"`
	Resumes       int     `json:"active_resumes"`

	// Host memory, omitted when it cannot be read.
	MemoryTotal       uint64  `json:"memory_total,omitempty"`
	MemoryUsed        uint64  `json:"memory_used,omitempty"`
	MemoryUsedPercent float64 `json:"memory_used_percent,omitempty"`
}

// healthCheck handles the server health check endpoint.
func (s *Server) healthCheck(c echo.Context) error {
	uptime := time.Since(s.startTime)

	s.mu.Lock()
	resumes := len(s.running)
	s.mu.Unlock()

	resp := HealthResponse{
		Status:        "healthy",
		Version:       s.settings.Version,
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		Timestamp:     time.Now().Format(time.RFC3339),
		Goroutines:    runtime.NumGoroutine(),
		Resumes:       resumes,
	}

	vm, err := mem.VirtualMemoryWithContext(c.Request().Context())
	if err != nil {
		GetLogger().Debug("failed to read memory info", logger.Error(err))
	} else {
		resp.MemoryTotal = vm.Total
		resp.MemoryUsed = vm.Used
		resp.MemoryUsedPercent = vm.UsedPercent
	}
	return c.JSON(http.StatusOK, resp)
}
