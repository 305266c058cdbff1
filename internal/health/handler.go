package health

import (
	"context"
	"net/http"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/echolens/internal/session"
	"github.com/eleven-am/echolens/internal/vision"
	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

type ComponentStatus struct {
	Status    Status `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

type RuntimeStats struct {
	Goroutines         int    `json:"goroutines"`
	MemoryAllocMB      uint64 `json:"memory_alloc_mb"`
	MemoryTotalAllocMB uint64 `json:"memory_total_alloc_mb"`
	MemorySysMB        uint64 `json:"memory_sys_mb"`
	NumGC              uint32 `json:"num_gc"`
}

type SessionStats struct {
	Active int `json:"active"`
	Busy   int `json:"busy"`
}

type RequestStats struct {
	TotalRequests     uint64 `json:"total_requests"`
	ActiveConnections int64  `json:"active_connections"`
}

type Stats struct {
	Sessions SessionStats `json:"sessions"`
	Requests RequestStats `json:"requests"`
	Runtime  RuntimeStats `json:"runtime"`
}

type HealthResponse struct {
	Status        Status                     `json:"status"`
	Timestamp     time.Time                  `json:"timestamp"`
	Version       string                     `json:"version"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	Stats         Stats                      `json:"stats"`
	Components    map[string]ComponentStatus `json:"components"`
}

type SessionsResponse struct {
	Total    int            `json:"total"`
	Sessions []session.Info `json:"sessions"`
}

// Pinger is satisfied by the redis-backed usage store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps lists what readiness probes. Usage and Describer may be nil.
type Deps struct {
	Usage        Pinger
	Describer    vision.Describer
	ArtifactsDir string
	Sessions     *session.Manager
	Version      string
}

type Handler struct {
	usage        Pinger
	describer    vision.Describer
	artifactsDir string
	sessions     *session.Manager
	version      string
	startTime    time.Time

	totalRequests     uint64
	activeConnections int64
}

func NewHandler(deps Deps) *Handler {
	return &Handler{
		usage:        deps.Usage,
		describer:    deps.Describer,
		artifactsDir: deps.ArtifactsDir,
		sessions:     deps.Sessions,
		version:      deps.Version,
		startTime:    time.Now(),
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Liveness)
	e.GET("/health/ready", h.Readiness)
	e.GET("/health/sessions", h.Sessions)
}

func (h *Handler) IncrementRequests() {
	atomic.AddUint64(&h.totalRequests, 1)
}

func (h *Handler) IncrementConnections() {
	atomic.AddInt64(&h.activeConnections, 1)
}

func (h *Handler) DecrementConnections() {
	atomic.AddInt64(&h.activeConnections, -1)
}

func (h *Handler) Liveness(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *Handler) Readiness(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	components := make(map[string]ComponentStatus)
	var mu sync.Mutex
	var wg sync.WaitGroup

	type check struct {
		name  string
		check func(context.Context) ComponentStatus
	}
	checks := []check{{"artifacts", h.checkArtifacts}}
	if h.usage != nil {
		checks = append(checks, check{"redis", h.checkRedis})
	}
	if _, ok := h.describer.(vision.Checker); ok {
		checks = append(checks, check{"vision", h.checkVision})
	}

	wg.Add(len(checks))
	for _, c := range checks {
		go func(name string, fn func(context.Context) ComponentStatus) {
			defer wg.Done()
			status := fn(ctx)
			mu.Lock()
			components[name] = status
			mu.Unlock()
		}(c.name, c.check)
	}
	wg.Wait()

	overallStatus := computeOverallStatus(components)

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	resp := HealthResponse{
		Status:        overallStatus,
		Timestamp:     time.Now().UTC(),
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Stats: Stats{
			Sessions: h.sessionStats(),
			Requests: RequestStats{
				TotalRequests:     atomic.LoadUint64(&h.totalRequests),
				ActiveConnections: atomic.LoadInt64(&h.activeConnections),
			},
			Runtime: RuntimeStats{
				Goroutines:         runtime.NumGoroutine(),
				MemoryAllocMB:      memStats.Alloc / 1024 / 1024,
				MemoryTotalAllocMB: memStats.TotalAlloc / 1024 / 1024,
				MemorySysMB:        memStats.Sys / 1024 / 1024,
				NumGC:              memStats.NumGC,
			},
		},
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return c.JSON(statusCode, resp)
}

func (h *Handler) Sessions(c echo.Context) error {
	if h.sessions == nil {
		return c.JSON(http.StatusOK, SessionsResponse{Sessions: []session.Info{}})
	}
	infos := h.sessions.List()
	return c.JSON(http.StatusOK, SessionsResponse{
		Total:    len(infos),
		Sessions: infos,
	})
}

func (h *Handler) sessionStats() SessionStats {
	if h.sessions == nil {
		return SessionStats{}
	}
	infos := h.sessions.List()
	stats := SessionStats{Active: len(infos)}
	for _, info := range infos {
		if info.Busy {
			stats.Busy++
		}
	}
	return stats
}

func (h *Handler) checkArtifacts(ctx context.Context) ComponentStatus {
	start := time.Now()
	if h.artifactsDir == "" {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "artifact directory not configured",
		}
	}

	info, err := os.Stat(h.artifactsDir)
	if err != nil || !info.IsDir() {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "artifact directory missing",
		}
	}

	probe, err := os.CreateTemp(h.artifactsDir, ".probe-*")
	if err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "artifact directory not writable",
		}
	}
	probe.Close()
	os.Remove(probe.Name())

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkRedis(ctx context.Context) ComponentStatus {
	start := time.Now()
	if err := h.usage.Ping(ctx); err != nil {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "ping failed",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

func (h *Handler) checkVision(ctx context.Context) ComponentStatus {
	start := time.Now()
	if !h.describer.(vision.Checker).IsAvailable(ctx) {
		return ComponentStatus{
			Status:    StatusUnhealthy,
			LatencyMs: time.Since(start).Milliseconds(),
			Error:     "vision backend unreachable",
		}
	}

	return ComponentStatus{
		Status:    StatusHealthy,
		LatencyMs: time.Since(start).Milliseconds(),
	}
}

// computeOverallStatus fails readiness only when artifacts cannot be stored;
// redis and the vision backend degrade it.
func computeOverallStatus(components map[string]ComponentStatus) Status {
	criticalComponents := []string{"artifacts"}

	for _, name := range criticalComponents {
		if status, ok := components[name]; ok && status.Status == StatusUnhealthy {
			return StatusUnhealthy
		}
	}

	for _, status := range components {
		if status.Status != StatusHealthy {
			return StatusDegraded
		}
	}

	return StatusHealthy
}
