package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/teamtrack/bayzat-sync/internal/models"
)

// AttendanceRecordRepository handles persistence for attendance record sync
// state. Rows are created by import ingestion elsewhere; this repository only
// transitions the bayzat_* columns.
type AttendanceRecordRepository struct {
	db *sqlx.DB
}

// NewAttendanceRecordRepository constructs the repository.
func NewAttendanceRecordRepository(db *sqlx.DB) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{db: db}
}

const recordColumns = `id, company_id, employee_ref, device_id, punch_type, punched_at,
bayzat_sync_status, bayzat_retry_count, bayzat_next_retry_at, bayzat_last_error, bayzat_failed_in_batch, created_at, updated_at`

// GetByID returns a single record row.
func (r *AttendanceRecordRepository) GetByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE id = $1`, recordColumns)
	var rec models.AttendanceRecord
	if err := r.db.GetContext(ctx, &rec, query, id); err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return &rec, nil
}

// List returns record rows matching the provided filter plus a total count.
func (r *AttendanceRecordRepository) List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, int, error) {
	where := []string{"company_id = $1"}
	args := []interface{}{filter.CompanyID}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("bayzat_sync_status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance_records WHERE %s ORDER BY id ASC LIMIT %d OFFSET %d`,
		recordColumns, whereClause, size, offset)
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance records: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM attendance_records WHERE %s`, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance records: %w", err)
	}
	return records, total, nil
}

// ListProcessable fetches the records a batch run may touch, in stable
// ascending-id order: not yet synced, with any scheduled backoff elapsed.
// Records that exhausted their retry budget carry status failed and are
// excluded by the status predicate. With retryOnly set the selection keeps
// the same predicate CountRetryEligible counts with, so a sweep batch only
// covers records that already failed at least once.
func (r *AttendanceRecordRepository) ListProcessable(ctx context.Context, companyID string, retryOnly bool, now time.Time, limit int) ([]models.AttendanceRecord, error) {
	if limit <= 0 {
		limit = 1000
	}
	where := `company_id = $1 AND bayzat_sync_status = 'pending'
AND (bayzat_next_retry_at IS NULL OR bayzat_next_retry_at <= $2)`
	if retryOnly {
		where += " AND bayzat_retry_count > 0"
	}
	query := fmt.Sprintf(`SELECT %s FROM attendance_records
WHERE %s
ORDER BY id ASC LIMIT $3`, recordColumns, where)
	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, query, companyID, now, limit); err != nil {
		return nil, fmt.Errorf("list processable records: %w", err)
	}
	return records, nil
}

// CountProcessable counts the records a new batch would cover.
func (r *AttendanceRecordRepository) CountProcessable(ctx context.Context, companyID string, now time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM attendance_records
WHERE company_id = $1 AND bayzat_sync_status = 'pending'
AND (bayzat_next_retry_at IS NULL OR bayzat_next_retry_at <= $2)`
	var total int
	if err := r.db.GetContext(ctx, &total, query, companyID, now); err != nil {
		return 0, fmt.Errorf("count processable records: %w", err)
	}
	return total, nil
}

// CompanyRetryCount aggregates retry-eligible records per company.
type CompanyRetryCount struct {
	CompanyID string `db:"company_id"`
	Eligible  int    `db:"eligible"`
}

// CountRetryEligible groups records awaiting a retry by company: still
// pending, already failed at least once, and past any scheduled backoff.
// Scoped to one company when companyID is non-nil.
func (r *AttendanceRecordRepository) CountRetryEligible(ctx context.Context, companyID *string, now time.Time) ([]CompanyRetryCount, error) {
	where := `bayzat_sync_status = 'pending' AND bayzat_retry_count > 0
AND (bayzat_next_retry_at IS NULL OR bayzat_next_retry_at <= $1)`
	args := []interface{}{now}
	if companyID != nil {
		where += " AND company_id = $2"
		args = append(args, *companyID)
	}
	query := fmt.Sprintf(`SELECT company_id, COUNT(*) AS eligible FROM attendance_records
WHERE %s GROUP BY company_id ORDER BY company_id ASC`, where)
	var counts []CompanyRetryCount
	if err := r.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fmt.Errorf("count retry eligible records: %w", err)
	}
	return counts, nil
}

// MarkSynced transitions a record to its terminal synced state and bumps the
// batch synced counter in the same transaction. When this batch had already
// tallied the record as failed (a retryable failure in an earlier run of the
// same batch), that tally is reverted so the counters reflect the final
// outcome. Already-synced rows are left untouched and no counter moves.
func (r *AttendanceRecordRepository) MarkSynced(ctx context.Context, recordID, batchID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark synced: %w", err)
	}
	tally, err := tx.ExecContext(ctx, `UPDATE attendance_records
SET bayzat_failed_in_batch = NULL WHERE id = $1 AND bayzat_failed_in_batch = $2`, recordID, batchID)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("clear failed tally: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE attendance_records
SET bayzat_sync_status = 'synced', bayzat_next_retry_at = NULL, bayzat_last_error = NULL, updated_at = $2
WHERE id = $1 AND bayzat_sync_status <> 'synced'`, recordID, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mark record synced: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		counter := `UPDATE bayzat_sync_batches
SET synced_records = synced_records + 1 WHERE id = $1`
		if reverted, _ := tally.RowsAffected(); reverted == 1 {
			counter = `UPDATE bayzat_sync_batches
SET synced_records = synced_records + 1, failed_records = failed_records - 1 WHERE id = $1`
		}
		if _, err := tx.ExecContext(ctx, counter, batchID); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("update batch counters: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark synced: %w", err)
	}
	return nil
}

// ScheduleRetry records a retryable failure: the retry counter moves up, the
// next attempt is pushed out and the error message is stored. The record
// stays pending so a sweep can pick it up, and the batch's failed tally
// counts it once, even when a resumed run fails the same record again.
func (r *AttendanceRecordRepository) ScheduleRetry(ctx context.Context, recordID, batchID, errMsg string, nextRetryAt time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schedule retry: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE attendance_records
SET bayzat_retry_count = bayzat_retry_count + 1, bayzat_next_retry_at = $2, bayzat_last_error = $3, updated_at = $4
WHERE id = $1 AND bayzat_sync_status = 'pending'`, recordID, nextRetryAt, errMsg, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("schedule record retry: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		if err := tallyFailed(ctx, tx, recordID, batchID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schedule retry: %w", err)
	}
	return nil
}

// MarkFailed transitions a record to its terminal failed state and counts it
// in the batch failed tally, at most once per batch. countAttempt is set when
// the failing call itself consumed the last retry attempt.
func (r *AttendanceRecordRepository) MarkFailed(ctx context.Context, recordID, batchID, errMsg string, countAttempt bool) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin mark failed: %w", err)
	}
	bump := 0
	if countAttempt {
		bump = 1
	}
	res, err := tx.ExecContext(ctx, `UPDATE attendance_records
SET bayzat_sync_status = 'failed', bayzat_retry_count = bayzat_retry_count + $2, bayzat_next_retry_at = NULL, bayzat_last_error = $3, updated_at = $4
WHERE id = $1 AND bayzat_sync_status <> 'synced'`, recordID, bump, errMsg, time.Now().UTC())
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("mark record failed: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		if err := tallyFailed(ctx, tx, recordID, batchID); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit mark failed: %w", err)
	}
	return nil
}

// tallyFailed stamps the record with the batch that counted its failure and
// bumps the batch failed counter. A record already stamped by the same batch
// does not move the counter again, which keeps synced + failed within the
// batch total when the queue re-runs an interrupted batch.
func tallyFailed(ctx context.Context, tx *sqlx.Tx, recordID, batchID string) error {
	res, err := tx.ExecContext(ctx, `UPDATE attendance_records
SET bayzat_failed_in_batch = $2
WHERE id = $1 AND (bayzat_failed_in_batch IS NULL OR bayzat_failed_in_batch <> $2)`, recordID, batchID)
	if err != nil {
		return fmt.Errorf("stamp failed tally: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 1 {
		if _, err := tx.ExecContext(ctx, `UPDATE bayzat_sync_batches
SET failed_records = failed_records + 1 WHERE id = $1`, batchID); err != nil {
			return fmt.Errorf("increment batch failed counter: %w", err)
		}
	}
	return nil
}
