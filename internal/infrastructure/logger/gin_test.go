package logger

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func findHTTPLog(t *testing.T, recorded *observer.ObservedLogs) observer.LoggedEntry {
	t.Helper()
	logs := recorded.FilterMessage("HTTP Request").All()
	require.Len(t, logs, 1)
	return logs[0]
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("logs the request and propagates the request ID", func(t *testing.T) {
		core, recorded := observer.New(zapcore.DebugLevel)
		router := gin.New()
		router.Use(GinMiddleware(zap.New(core)))
		var seen string
		router.GET("/backends", func(c *gin.Context) {
			seen = GetRequestID(c.Request.Context())
			L(c.Request.Context()).Info("Handler called")
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/backends", nil)
		req.Header.Set(RequestIDHeader, "req-123")
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "req-123", seen)
		assert.Equal(t, "req-123", w.Header().Get(RequestIDHeader))

		entry := findHTTPLog(t, recorded)
		assert.Equal(t, zapcore.InfoLevel, entry.Level)
		assert.Equal(t, "req-123", entry.ContextMap()["request_id"])

		handlerLogs := recorded.FilterMessage("Handler called").All()
		require.Len(t, handlerLogs, 1)
		assert.Equal(t, "req-123", handlerLogs[0].ContextMap()["request_id"])
		assert.Equal(t, "/backends", handlerLogs[0].ContextMap()["path"])
	})

	t.Run("generates a request ID when none is sent", func(t *testing.T) {
		core, _ := observer.New(zapcore.DebugLevel)
		router := gin.New()
		router.Use(GinMiddleware(zap.New(core)))
		router.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))

		assert.NotEmpty(t, w.Header().Get(RequestIDHeader))
	})

	t.Run("log level follows the status code", func(t *testing.T) {
		tests := []struct {
			status int
			level  zapcore.Level
		}{
			{http.StatusOK, zapcore.InfoLevel},
			{http.StatusUnprocessableEntity, zapcore.WarnLevel},
			{http.StatusServiceUnavailable, zapcore.ErrorLevel},
		}
		for _, tt := range tests {
			core, recorded := observer.New(zapcore.DebugLevel)
			router := gin.New()
			router.Use(GinMiddleware(zap.New(core)))
			router.GET("/status", func(c *gin.Context) { c.Status(tt.status) })

			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
			assert.Equal(t, tt.level, findHTTPLog(t, recorded).Level, "status %d", tt.status)
		}
	})
}

func TestRecovery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, recorded := observer.New(zapcore.ErrorLevel)
	zapLogger := zap.New(core)

	router := gin.New()
	router.Use(GinMiddleware(zapLogger), Recovery(zapLogger))
	router.GET("/panic", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Len(t, recorded.FilterMessage("Panic recovered").All(), 1)
}
