package health

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"discovery/internal/logger"
	"discovery/internal/platform/eino"
	"discovery/internal/platform/redis"
)

// LLM reports whether query generation can use a model
type LLM interface {
	Availability(ctx context.Context) eino.State
}

// HealthHandler handles health check requests
type HealthHandler struct {
	log          *logger.Logger
	redisService *redis.Service
	llm          LLM
	startTime    time.Time
	isReady      atomic.Bool
}

// NewHealthHandler creates a new instance of HealthHandler. llm may be nil.
func NewHealthHandler(redisSvc *redis.Service, llm LLM) *HealthHandler {
	return &HealthHandler{
		log:          logger.New("HealthCheck"),
		redisService: redisSvc,
		llm:          llm,
		startTime:    time.Now(),
	}
}

// SetReady marks the application as ready to receive traffic
func (h *HealthHandler) SetReady() {
	h.isReady.Store(true)
	h.log.LogSuccessf("Application marked as ready for traffic after %v", time.Since(h.startTime))
}

// ComponentStatus holds the status of a dependent component
type ComponentStatus struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// OverallHealth represents the overall health status including components.
// The LLM is informational: query generation falls back to templates.
type OverallHealth struct {
	OverallStatus string                     `json:"overall_status"`
	Timestamp     string                     `json:"timestamp"`
	Ready         bool                       `json:"ready"`
	UptimeSeconds int64                      `json:"uptime_seconds"`
	LLM           string                     `json:"llm"`
	Components    map[string]ComponentStatus `json:"components"`
}

// HandleHealth responds with the system's health status, including dependencies
func (h *HealthHandler) HandleHealth(c *fiber.Ctx) error {
	startTime := time.Now()
	h.log.LogDebugf("Health check started")

	ctx, cancel := context.WithTimeout(c.Context(), 8*time.Second)
	defer cancel()

	statuses := make(map[string]ComponentStatus)
	var wg sync.WaitGroup
	var mu sync.Mutex

	allOk := true

	checkComponent := func(name string, checkFunc func(context.Context) error) {
		defer wg.Done()
		componentStart := time.Now()

		componentState := "ok"
		var errStr string

		if err := checkFunc(ctx); err != nil {
			componentState = "error"
			errStr = err.Error()
			mu.Lock()
			allOk = false
			mu.Unlock()
			h.log.LogErrorf("Health check failed for %s after %v: %v", name, time.Since(componentStart), err)
		} else {
			h.log.LogDebugf("Health check passed for %s in %v", name, time.Since(componentStart))
		}

		mu.Lock()
		statuses[name] = ComponentStatus{Status: componentState, Error: errStr}
		mu.Unlock()
	}

	wg.Add(1)
	go checkComponent("redis", h.redisService.HealthCheck)

	llmState := eino.Unavailable
	if h.llm != nil {
		llmState = h.llm.Availability(ctx)
	}

	wg.Wait()

	ready := h.isReady.Load()
	response := OverallHealth{
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		Ready:         ready,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		LLM:           llmState.String(),
		Components:    statuses,
	}

	if allOk && ready {
		response.OverallStatus = "ok"
		h.log.LogDebugf("Health check completed successfully in %v", time.Since(startTime))
		return c.Status(http.StatusOK).JSON(response)
	}

	if !ready {
		response.OverallStatus = "starting"
		h.log.LogDebugf("Health check: application not ready (uptime: %v)", time.Since(h.startTime))
		return c.Status(http.StatusServiceUnavailable).JSON(response)
	}

	response.OverallStatus = "error"
	h.log.LogWarnf("Health check failed after %v. Statuses: %+v", time.Since(startTime), statuses)
	return c.Status(http.StatusServiceUnavailable).JSON(response)
}

func HealthLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        300,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(429).JSON(fiber.Map{"error": "Rate limit exceeded"})
		},
	})
}
