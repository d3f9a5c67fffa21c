package models

import "time"

// SyncStatus tracks the Bayzat lifecycle of a single attendance record.
type SyncStatus string

const (
	SyncStatusPending SyncStatus = "pending"
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusFailed  SyncStatus = "failed"
)

// Valid returns true when the status is a supported value.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusPending, SyncStatusSynced, SyncStatusFailed:
		return true
	default:
		return false
	}
}

// PunchType identifies the direction of an attendance punch.
type PunchType string

const (
	PunchTypeIn  PunchType = "in"
	PunchTypeOut PunchType = "out"
)

// AttendanceRecord is one attendance punch with its own sync lifecycle.
// Rows are created by import ingestion; the sync engine only ever mutates
// the bayzat_* columns. A synced record is terminal and never touched again.
type AttendanceRecord struct {
	ID            string     `db:"id" json:"id"`
	CompanyID     string     `db:"company_id" json:"company_id"`
	EmployeeRef   string     `db:"employee_ref" json:"employee_ref"`
	DeviceID      string     `db:"device_id" json:"device_id"`
	PunchType     PunchType  `db:"punch_type" json:"punch_type"`
	PunchedAt     time.Time  `db:"punched_at" json:"punched_at"`
	SyncStatus    SyncStatus `db:"bayzat_sync_status" json:"sync_status"`
	RetryCount    int        `db:"bayzat_retry_count" json:"retry_count"`
	NextRetryAt   *time.Time `db:"bayzat_next_retry_at" json:"next_retry_at,omitempty"`
	LastSyncError *string    `db:"bayzat_last_error" json:"last_sync_error,omitempty"`
	// FailedInBatch holds the id of the batch whose failed tally already
	// counted this record, so a resumed run cannot count it twice.
	FailedInBatch *string    `db:"bayzat_failed_in_batch" json:"-"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
}

// RetryEligible reports whether the record may re-enter a sweep at the given
// time. Synced records are terminal; failed records qualify only while their
// retry budget is not exhausted and any scheduled backoff has elapsed.
func (r AttendanceRecord) RetryEligible(now time.Time, maxRetryAttempts int) bool {
	if r.SyncStatus == SyncStatusSynced {
		return false
	}
	if r.RetryCount >= maxRetryAttempts {
		return false
	}
	if r.NextRetryAt != nil && r.NextRetryAt.After(now) {
		return false
	}
	return true
}

// AttendanceRecordFilter scopes record listing queries.
type AttendanceRecordFilter struct {
	CompanyID string
	Status    *SyncStatus
	Page      int
	PageSize  int
}
