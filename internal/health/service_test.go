package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func healthOf(t *testing.T, h *HealthHandler) (int, OverallHealth) {
	t.Helper()
	app := fiber.New()
	app.Get("/v1/health", h.HandleHealth)
	resp, err := app.Test(httptest.NewRequest("GET", "/v1/health", nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body OverallHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHealthStartingUntilReady(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis":   func(context.Context) error { return nil },
		"browser": nil,
	})

	code, body := healthOf(t, h)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Equal(t, "starting", body.OverallStatus)

	h.SetReady()
	code, body = healthOf(t, h)
	assert.Equal(t, fiber.StatusOK, code)
	assert.Equal(t, "ok", body.OverallStatus)
	assert.Len(t, body.Components, 1)
}

func TestHealthReportsFailingComponent(t *testing.T) {
	h := NewHealthHandler(map[string]Check{
		"redis":   func(context.Context) error { return nil },
		"browser": func(context.Context) error { return errors.New("not connected") },
	})
	h.SetReady()

	code, body := healthOf(t, h)
	assert.Equal(t, fiber.StatusServiceUnavailable, code)
	assert.Equal(t, "error", body.OverallStatus)
	assert.Equal(t, "not connected", body.Components["browser"].Error)
	assert.Equal(t, "ok", body.Components["redis"].Status)
}
