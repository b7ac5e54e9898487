package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/shutdown"
)

// Health returns a handler for GET /api/v1/health.
//
// It sits outside the drain gate so probes still get a response while the
// service shuts down: 503 with the number of requests still in flight.
func Health(coord *shutdown.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if coord.IsDraining() {
			c.JSON(http.StatusServiceUnavailable, models.HealthDraining{
				Status:         "shutting_down",
				ActiveRequests: coord.Active(),
				Timestamp:      time.Now(),
			})
			return
		}
		c.JSON(http.StatusOK, models.HealthOK{Status: "ok"})
	}
}
