// Package api wires the gin router: routes, the shutdown drain gate, and
// per-client rate limiting.
package api

import (
	"path"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/api/handler"
	"github.com/use-agent/harvest/api/middleware"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/shutdown"
	"github.com/use-agent/harvest/store"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     DrainGate → RateLimit
//
// Health sits outside the gate so monitoring probes keep working while the
// service drains.
func NewRouter(eng handler.Scraper, mgr handler.JobManager, pages *store.Store, coord *shutdown.Coordinator, cfg *config.Config) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group(path.Join("/", cfg.Server.BasePath, "api/v1"))

	v1.GET("/health", handler.Health(coord))

	guarded := v1.Group("")
	guarded.Use(middleware.DrainGate(coord))
	guarded.Use(middleware.RateLimit(cfg.RateLimit))

	guarded.POST("/page", handler.ScrapePage(eng, pages, cfg.Scrape))
	guarded.GET("/page/:id", handler.GetPage(pages))

	guarded.POST("/batch", handler.PostBatch(mgr))
	guarded.GET("/batch/:id", handler.GetBatch(mgr))

	return r
}
