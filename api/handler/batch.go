package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/models"
)

// JobManager is the batch surface the handlers need.
type JobManager interface {
	Create(req *models.BatchRequest) string
	GetStatus(id string) (*models.BatchStatus, error)
}

// PostBatch returns a handler for POST /api/v1/batch. The job starts in the
// background; the response only carries the job id.
func PostBatch(mgr JobManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperr.New(apperr.KindValidation, "invalid request body", err).
				WithDetails(err.Error()))
			return
		}
		for _, item := range req.Items {
			if err := models.ValidateTargetURL(item.URL); err != nil {
				respondError(c, err)
				return
			}
		}
		if s := req.Schedule; s != nil && s.MinDelayMs > s.MaxDelayMs {
			respondError(c, apperr.New(apperr.KindValidation, "invalid schedule", nil).
				WithDetails("minDelayMs must not exceed maxDelayMs"))
			return
		}

		c.JSON(http.StatusOK, models.BatchAccepted{JobID: mgr.Create(&req)})
	}
}

// GetBatch returns a handler for GET /api/v1/batch/:id.
func GetBatch(mgr JobManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := mgr.GetStatus(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
