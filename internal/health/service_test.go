package health

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redisv8 "github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery/internal/platform/eino"
	"discovery/internal/platform/redis"
)

type fixedLLM eino.State

func (f fixedLLM) Availability(context.Context) eino.State { return eino.State(f) }

func check(t *testing.T, h *HealthHandler) (int, OverallHealth) {
	t.Helper()
	app := fiber.New()
	app.Get("/v1/health", h.HandleHealth)
	resp, err := app.Test(httptest.NewRequest("GET", "/v1/health", nil), -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body OverallHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	r := redis.NewFromClient(redisv8.NewClient(&redisv8.Options{Addr: mr.Addr()}))
	h := NewHealthHandler(r, fixedLLM(eino.Unavailable))

	status, body := check(t, h)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "starting", body.OverallStatus)

	h.SetReady()
	status, body = check(t, h)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ok", body.OverallStatus)
	assert.Equal(t, "unavailable", body.LLM, "a missing model does not fail health")
	assert.Equal(t, "ok", body.Components["redis"].Status)

	mr.Close()
	status, body = check(t, h)
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "error", body.OverallStatus)
	assert.Equal(t, "error", body.Components["redis"].Status)
}
