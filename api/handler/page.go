package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/harvest/apperr"
	"github.com/use-agent/harvest/config"
	"github.com/use-agent/harvest/models"
	"github.com/use-agent/harvest/store"
)

// pageIDHeader carries the cache id of a freshly scraped page, so clients
// can re-read it via GET /page/:id until TTL expiry.
const pageIDHeader = "X-Harvest-Page-Id"

// Scraper is the engine surface the page handler needs.
type Scraper interface {
	Scrape(ctx context.Context, req *models.ScrapeRequest) (*models.ScrapeResult, error)
}

// ScrapePage returns a handler for POST /api/v1/page.
//
// Orchestration flow:
//  1. Parse & validate request (binding + SSRF guard), apply defaults.
//  2. Engine.Scrape → result (admission, fingerprint, fetch, extract).
//  3. Cache the result in the page store; id goes into a response header.
//  4. Return 200 with the result.
func ScrapePage(eng Scraper, pages *store.Store, cfg config.ScrapeConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ScrapeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, apperr.New(apperr.KindValidation, "invalid request body", err).
				WithDetails(err.Error()))
			return
		}
		if err := models.ValidateTargetURL(req.URL); err != nil {
			respondError(c, err)
			return
		}
		req.ApplyDefaults(cfg.DefaultMode, cfg.DefaultTaskTimeout, cfg.MaxTaskTimeout)

		result, err := eng.Scrape(c.Request.Context(), &req)
		if err != nil {
			respondError(c, err)
			return
		}

		c.Header(pageIDHeader, pages.Put(req, *result))
		c.JSON(http.StatusOK, result)
	}
}

// GetPage returns a handler for GET /api/v1/page/:id, serving cached scrapes.
func GetPage(pages *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := pages.Get(c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

// respondError maps an error to its HTTP status and writes the single JSON
// error envelope used by every failing endpoint.
func respondError(c *gin.Context, err error) {
	appErr := apperr.From(err)
	status := apperr.HTTPStatus(appErr.Kind)

	details := appErr.Details
	if details == "" && appErr.Err != nil {
		details = appErr.Err.Error()
	}

	c.JSON(status, models.ErrorEnvelope{
		Error: models.ErrorBody{
			Code:    status,
			Message: appErr.Message,
			Details: details,
		},
	})
}
