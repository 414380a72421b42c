package handler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemHandler_GetSystemInfo(t *testing.T) {
	h := NewSystemHandler("pos-connector", "1.2.0")

	w, resp := perform(t, http.MethodGet, "/system/info", h.GetSystemInfo, "/system/info", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, "pos-connector", data["name"])
	assert.Equal(t, "1.2.0", data["version"])
	assert.NotEmpty(t, data["go_version"])
}

func TestSystemHandler_Ping(t *testing.T) {
	h := NewSystemHandler("pos-connector", "dev")

	w, resp := perform(t, http.MethodGet, "/system/ping", h.Ping, "/system/ping", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", resp.Data.(map[string]any)["message"])
}

func TestSystemHandler_Health(t *testing.T) {
	ok := func(context.Context) error { return nil }

	t.Run("healthy", func(t *testing.T) {
		h := NewSystemHandler("pos-connector", "dev").AddCheck("database", ok).AddCheck("scheduler", ok)

		w, resp := perform(t, http.MethodGet, "/health", h.Health, "/health", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Success)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "healthy", data["status"])
		assert.Equal(t, map[string]any{"database": "ok", "scheduler": "ok"}, data["checks"])
	})

	t.Run("failing dependency", func(t *testing.T) {
		h := NewSystemHandler("pos-connector", "dev").
			AddCheck("database", func(context.Context) error { return errors.New("connection refused") }).
			AddCheck("scheduler", ok)

		w, resp := perform(t, http.MethodGet, "/health", h.Health, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.False(t, resp.Success)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "unhealthy", data["status"])
		assert.Equal(t, "connection refused", data["checks"].(map[string]any)["database"])
	})

	t.Run("no checks", func(t *testing.T) {
		h := NewSystemHandler("pos-connector", "dev")

		w, _ := perform(t, http.MethodGet, "/health", h.Health, "/health", nil)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
