package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/teamtrack/bayzat-sync/internal/dto"
	"github.com/teamtrack/bayzat-sync/internal/models"
	"github.com/teamtrack/bayzat-sync/internal/service"
	appErrors "github.com/teamtrack/bayzat-sync/pkg/errors"
	"github.com/teamtrack/bayzat-sync/pkg/response"
)

type syncService interface {
	SyncNow(ctx context.Context, companyID string) (*models.SyncBatch, error)
	RetryFailed(ctx context.Context, req dto.RetryRequest) (*service.SweepResult, error)
	GetBatch(ctx context.Context, id string) (*models.SyncBatch, error)
	ListBatches(ctx context.Context, filter models.SyncBatchFilter) ([]models.SyncBatch, *models.Pagination, error)
	ListRecords(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, *models.Pagination, error)
}

// SyncHandler exposes REST endpoints for triggering and inspecting Bayzat
// sync runs.
type SyncHandler struct {
	service syncService
}

// NewSyncHandler constructs the handler.
func NewSyncHandler(service syncService) *SyncHandler {
	return &SyncHandler{service: service}
}

// SyncNow godoc
// @Summary Trigger a sync batch for a company
// @Tags Sync
// @Produce json
// @Param id path string true "Company ID"
// @Success 202 {object} response.Envelope
// @Router /companies/{id}/sync [post]
func (h *SyncHandler) SyncNow(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "sync service not configured"))
		return
	}
	companyID := strings.TrimSpace(c.Param("id"))
	if companyID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "company id is required"))
		return
	}
	batch, err := h.service.SyncNow(c.Request.Context(), companyID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.NewBatchResponse(*batch))
}

// RetryFailed godoc
// @Summary Resubmit failed records for retry
// @Tags Sync
// @Accept json
// @Produce json
// @Param payload body dto.RetryRequest false "Sweep scope"
// @Success 202 {object} response.Envelope
// @Router /sync/retries [post]
func (h *SyncHandler) RetryFailed(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "sync service not configured"))
		return
	}
	var req dto.RetryRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid retry payload"))
			return
		}
	}
	result, err := h.service.RetryFailed(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, dto.RetryResponse{PerCompany: result.PerCompany, Total: result.Total})
}

// GetBatch godoc
// @Summary Get a sync batch
// @Tags Sync
// @Produce json
// @Param id path string true "Batch ID"
// @Success 200 {object} response.Envelope
// @Router /batches/{id} [get]
func (h *SyncHandler) GetBatch(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "sync service not configured"))
		return
	}
	batch, err := h.service.GetBatch(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewBatchResponse(*batch), nil)
}

// ListBatches godoc
// @Summary List a company's sync batches
// @Tags Sync
// @Produce json
// @Param id path string true "Company ID"
// @Param status query string false "Batch status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /companies/{id}/batches [get]
func (h *SyncHandler) ListBatches(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "sync service not configured"))
		return
	}
	companyID := strings.TrimSpace(c.Param("id"))
	if companyID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "company id is required"))
		return
	}
	filter := models.SyncBatchFilter{CompanyID: companyID}
	filter.Page, filter.PageSize = paginationQuery(c, 20, 100)
	if raw := c.Query("status"); raw != "" {
		status := models.BatchStatus(strings.ToLower(strings.TrimSpace(raw)))
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid batch status filter"))
			return
		}
		filter.Status = &status
	}
	batches, pagination, err := h.service.ListBatches(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	items := make([]dto.BatchResponse, 0, len(batches))
	for _, batch := range batches {
		items = append(items, dto.NewBatchResponse(batch))
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ListRecords godoc
// @Summary List a company's attendance records with sync state
// @Tags Sync
// @Produce json
// @Param id path string true "Company ID"
// @Param status query string false "Sync status"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /companies/{id}/records [get]
func (h *SyncHandler) ListRecords(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "sync service not configured"))
		return
	}
	companyID := strings.TrimSpace(c.Param("id"))
	if companyID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "company id is required"))
		return
	}
	filter := models.AttendanceRecordFilter{CompanyID: companyID}
	filter.Page, filter.PageSize = paginationQuery(c, 50, 200)
	if raw := c.Query("status"); raw != "" {
		status := models.SyncStatus(strings.ToLower(strings.TrimSpace(raw)))
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid sync status filter"))
			return
		}
		filter.Status = &status
	}
	records, pagination, err := h.service.ListRecords(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, pagination)
}

func paginationQuery(c *gin.Context, defaultSize, maxSize int) (int, int) {
	page := 1
	if raw := c.Query("page"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			page = v
		}
	}
	size := defaultSize
	if raw := c.Query("page_size"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 && v <= maxSize {
			size = v
		}
	}
	return page, size
}
