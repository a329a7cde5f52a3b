package operator

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/storelane/fulfillment-api/internal/model"
	"github.com/storelane/fulfillment-api/internal/service/failedjob"
	"github.com/storelane/fulfillment-api/pkg/bulkhead"
	"github.com/storelane/fulfillment-api/pkg/circuitbreaker"
	apperrors "github.com/storelane/fulfillment-api/pkg/errors"
	"github.com/storelane/fulfillment-api/pkg/featureflag"
	"github.com/storelane/fulfillment-api/pkg/validator"
)

// EntitlementReader is the support view into what a user holds.
type EntitlementReader interface {
	Entitlements(ctx context.Context, userID uuid.UUID) ([]*model.Entitlement, error)
}

// Handler is the operator surface consumed by the admin UI: resilience
// state snapshots and the manual recovery actions. Not user-facing.
type Handler struct {
	breakers     *circuitbreaker.Registry
	bulkheads    *bulkhead.Registry
	flags        *featureflag.Registry
	jobs         *failedjob.Service
	entitlements EntitlementReader
	validate     validator.Validator
}

func NewHandler(
	breakers *circuitbreaker.Registry,
	bulkheads *bulkhead.Registry,
	flags *featureflag.Registry,
	jobs *failedjob.Service,
	entitlements EntitlementReader,
) *Handler {
	return &Handler{
		breakers:     breakers,
		bulkheads:    bulkheads,
		flags:        flags,
		jobs:         jobs,
		entitlements: entitlements,
		validate:     validator.New(),
	}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/breakers", h.ListBreakers)
	rg.POST("/breakers/:name/reset", h.ResetBreaker)
	rg.GET("/bulkheads", h.ListBulkheads)
	rg.GET("/flags", h.ListFlags)
	rg.POST("/flags", h.ToggleFlag)
	rg.GET("/failed-jobs", h.ListFailedJobs)
	rg.POST("/failed-jobs/:id/retry", h.RetryFailedJob)
	rg.POST("/failed-jobs/:id/abandon", h.AbandonFailedJob)
	rg.GET("/users/:id/entitlements", h.ListUserEntitlements)
}

func (h *Handler) ListBreakers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": h.breakers.Snapshot()})
}

func (h *Handler) ResetBreaker(c *gin.Context) {
	name := c.Param("name")
	if err := h.breakers.Reset(name); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) ListBulkheads(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": h.bulkheads.Snapshot()})
}

func (h *Handler) ListFlags(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": h.flags.Snapshot()})
}

type toggleFlagRequest struct {
	Name    string `json:"name" validate:"required"`
	Enabled bool   `json:"enabled"`
}

func (h *Handler) ToggleFlag(c *gin.Context) {
	var req toggleFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if err := h.validate.Validate(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	h.flags.Set(req.Name, req.Enabled)
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": h.flags.Snapshot()})
}

func (h *Handler) ListFailedJobs(c *gin.Context) {
	status := model.FailedJobStatus(c.Query("status"))

	jobs, err := h.jobs.List(c.Request.Context(), status, 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to list jobs"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": jobs})
}

func (h *Handler) RetryFailedJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid job ID"})
		return
	}

	if err := h.jobs.Retry(c.Request.Context(), id); err != nil {
		h.renderJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) AbandonFailedJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid job ID"})
		return
	}

	if err := h.jobs.Abandon(c.Request.Context(), id); err != nil {
		h.renderJobError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (h *Handler) ListUserEntitlements(c *gin.Context) {
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid user ID"})
		return
	}

	entitlements, err := h.entitlements.Entitlements(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "failed to list entitlements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "data": entitlements})
}

func (h *Handler) renderJobError(c *gin.Context, err error) {
	switch apperrors.Code(err) {
	case apperrors.ErrNotFound:
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "job not found"})
	case apperrors.ErrConflict:
		c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
	case apperrors.ErrBadRequest:
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "operation failed"})
	}
}
