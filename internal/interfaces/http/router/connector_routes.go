package router

import (
	"github.com/erp/posconnector/internal/interfaces/http/handler"
	"github.com/gin-gonic/gin"
)

// Handlers groups the handlers served under /api/v1
type Handlers struct {
	Backends *handler.BackendHandler
	Bindings *handler.BindingHandler
	Jobs     *handler.JobHandler
	Records  *handler.RecordHandler
	System   *handler.SystemHandler
}

// ConnectorGroups returns the route groups of the connector API
func ConnectorGroups(h Handlers) []RouteRegistrar {
	backends := NewDomainGroup("backends", "/backends")
	backends.GET("", h.Backends.List)
	backends.POST("", h.Backends.Create)
	backends.GET("/:id", h.Backends.Get)
	backends.POST("/:id/check-connection", h.Backends.CheckConnection)
	backends.POST("/:id/reset-to-draft", h.Backends.ResetToDraft)
	backends.POST("/:id/import-record", h.Backends.ImportRecord)
	backends.POST("/:id/import-since", h.Backends.ImportSince)
	backends.POST("/:id/import-refresh", h.Backends.ImportRefresh)
	backends.POST("/:id/import-all", h.Backends.ImportAll)
	backends.POST("/:id/match", h.Backends.Match)
	backends.POST("/:id/delete-record", h.Backends.DeleteRecord)

	bindings := NewDomainGroup("bindings", "/bindings")
	bindings.GET("", h.Bindings.List)
	bindings.POST("/resync", h.Bindings.Resync)
	bindings.GET("/:id", h.Bindings.Get)
	bindings.POST("/:id/export", h.Bindings.Export)

	jobs := NewDomainGroup("jobs", "/jobs")
	jobs.GET("", h.Jobs.List)
	jobs.GET("/:id", h.Jobs.Get)
	jobs.POST("/:id/requeue", h.Jobs.Requeue)

	records := NewDomainGroup("records", "/records")
	records.GET("/:id", h.Records.Get)
	records.PATCH("/:id", h.Records.Update)

	system := NewDomainGroup("system", "/system")
	system.GET("/info", h.System.GetSystemInfo)
	system.GET("/ping", h.System.Ping)

	return []RouteRegistrar{backends, bindings, jobs, records, system}
}

// RegisterHealth serves the health check outside the versioned API
func RegisterHealth(engine *gin.Engine, system *handler.SystemHandler) {
	engine.GET("/health", system.Health)
}
