package dto

import (
	"time"

	"github.com/teamtrack/bayzat-sync/internal/models"
)

// RetryRequest asks for a sweep over failed-but-retryable records.
type RetryRequest struct {
	CompanyID *string `json:"company_id" validate:"omitempty,min=1"`
	Limit     int     `json:"limit" validate:"omitempty,min=1,max=1000"`
}

// RetryResponse reports how many records a sweep resubmitted.
type RetryResponse struct {
	PerCompany map[string]int `json:"per_company"`
	Total      int            `json:"total"`
}

// BatchResponse is the read model for one sync batch.
type BatchResponse struct {
	ID            string             `json:"id"`
	CompanyID     string             `json:"company_id"`
	TotalRecords  int                `json:"total_records"`
	SyncedRecords int                `json:"synced_records"`
	FailedRecords int                `json:"failed_records"`
	RetryOnly     bool               `json:"retry_only"`
	Status        models.BatchStatus `json:"status"`
	FailureReason *string            `json:"failure_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	FailedAt      *time.Time         `json:"failed_at,omitempty"`
}

// NewBatchResponse maps a batch model to its API shape.
func NewBatchResponse(batch models.SyncBatch) BatchResponse {
	return BatchResponse{
		ID:            batch.ID,
		CompanyID:     batch.CompanyID,
		TotalRecords:  batch.TotalRecords,
		SyncedRecords: batch.SyncedRecords,
		FailedRecords: batch.FailedRecords,
		RetryOnly:     batch.RetryOnly,
		Status:        batch.Status,
		FailureReason: batch.FailureReason,
		CreatedAt:     batch.CreatedAt,
		StartedAt:     batch.StartedAt,
		CompletedAt:   batch.CompletedAt,
		FailedAt:      batch.FailedAt,
	}
}
