package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/shutdown"
)

// DrainGate refuses new work with 503 once the service is draining, and
// tracks the in-flight request count so shutdown can report progress.
func DrainGate(coord *shutdown.Coordinator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if coord.IsDraining() {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.ErrorEnvelope{
				Error: models.ErrorBody{
					Code:    http.StatusServiceUnavailable,
					Message: "Service shutting down",
				},
			})
			return
		}

		coord.Inc()
		defer coord.Dec()
		c.Next()
	}
}
