package models

import "time"

// BatchStatus captures the sync batch state machine:
// pending -> in_progress -> {completed | failed}.
type BatchStatus string

const (
	BatchStatusPending    BatchStatus = "pending"
	BatchStatusInProgress BatchStatus = "in_progress"
	BatchStatusCompleted  BatchStatus = "completed"
	BatchStatusFailed     BatchStatus = "failed"
)

// Valid returns true when the status is a supported value.
func (s BatchStatus) Valid() bool {
	switch s {
	case BatchStatusPending, BatchStatusInProgress, BatchStatusCompleted, BatchStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further automatic transition occurs.
func (s BatchStatus) Terminal() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// SyncBatch is one execution unit of the sync pipeline scoped to a company.
// TotalRecords is fixed at creation; synced + failed never exceeds it and
// equals it once the batch completes. A terminal batch is never mutated:
// retries always spawn a new batch.
type SyncBatch struct {
	ID            string      `db:"id" json:"id"`
	CompanyID     string      `db:"company_id" json:"company_id"`
	TotalRecords  int         `db:"total_records" json:"total_records"`
	SyncedRecords int         `db:"synced_records" json:"synced_records"`
	FailedRecords int         `db:"failed_records" json:"failed_records"`
	// RetryOnly restricts the batch to records that already failed at least
	// once. Sweep-created batches set it so fresh imports cannot occupy
	// slots sized from the retry-eligible count.
	RetryOnly bool        `db:"retry_only" json:"retry_only"`
	Status    BatchStatus `db:"status" json:"status"`
	FailureReason *string     `db:"failure_reason" json:"failure_reason,omitempty"`
	CreatedAt     time.Time   `db:"created_at" json:"created_at"`
	StartedAt     *time.Time  `db:"started_at" json:"started_at,omitempty"`
	CompletedAt   *time.Time  `db:"completed_at" json:"completed_at,omitempty"`
	FailedAt      *time.Time  `db:"failed_at" json:"failed_at,omitempty"`
}

// SyncBatchFilter scopes batch listing queries.
type SyncBatchFilter struct {
	CompanyID string
	Status    *BatchStatus
	Page      int
	PageSize  int
}
