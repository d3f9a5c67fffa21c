package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/teamtrack/bayzat-sync/internal/models"
)

func newRecordRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var recordRows = []string{
	"id", "company_id", "employee_ref", "device_id", "punch_type", "punched_at",
	"bayzat_sync_status", "bayzat_retry_count", "bayzat_next_retry_at", "bayzat_last_error",
	"bayzat_failed_in_batch", "created_at", "updated_at",
}

func TestAttendanceRecordRepositoryListProcessable(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(recordRows).
		AddRow("rec-1", "company-1", "emp-1", "dev-1", "in", now.Add(-time.Hour), "pending", 0, nil, nil, nil, now, now).
		AddRow("rec-2", "company-1", "emp-2", "dev-1", "out", now.Add(-time.Hour), "pending", 2, now.Add(-time.Minute), "timeout", nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM attendance_records\\s+WHERE company_id = \\$1 AND bayzat_sync_status = 'pending'").
		WithArgs("company-1", now, 10).
		WillReturnRows(rows)

	records, err := repo.ListProcessable(context.Background(), "company-1", false, now, 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, "rec-1", records[0].ID)
	require.Equal(t, 2, records[1].RetryCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryListProcessableRetryOnly(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(recordRows).
		AddRow("rec-2", "company-1", "emp-2", "dev-1", "out", now.Add(-time.Hour), "pending", 2, now.Add(-time.Minute), "timeout", nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM attendance_records\\s+WHERE (.+) AND bayzat_retry_count > 0\\s+ORDER BY id ASC").
		WithArgs("company-1", now, 10).
		WillReturnRows(rows)

	records, err := repo.ListProcessable(context.Background(), "company-1", true, now, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "rec-2", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryCountRetryEligible(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"company_id", "eligible"}).
		AddRow("company-1", 3).
		AddRow("company-2", 1)
	mock.ExpectQuery("SELECT company_id, COUNT\\(\\*\\) AS eligible FROM attendance_records").
		WithArgs(now).
		WillReturnRows(rows)

	counts, err := repo.CountRetryEligible(context.Background(), nil, now)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, 3, counts[0].Eligible)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryCountRetryEligibleScoped(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	now := time.Now().UTC()
	company := "company-2"
	rows := sqlmock.NewRows([]string{"company_id", "eligible"}).AddRow("company-2", 4)
	mock.ExpectQuery("SELECT company_id, COUNT\\(\\*\\) AS eligible FROM attendance_records").
		WithArgs(now, company).
		WillReturnRows(rows)

	counts, err := repo.CountRetryEligible(context.Background(), &company, now)
	require.NoError(t, err)
	require.Len(t, counts, 1)
	require.Equal(t, "company-2", counts[0].CompanyID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryMarkSyncedBumpsBatchCounter(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_failed_in_batch = NULL")).
		WithArgs("rec-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_sync_status = 'synced'")).
		WithArgs("rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET synced_records = synced_records + 1 WHERE")).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkSynced(context.Background(), "rec-1", "batch-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryMarkSyncedRevertsFailedTally(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_failed_in_batch = NULL")).
		WithArgs("rec-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_sync_status = 'synced'")).
		WithArgs("rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("failed_records = failed_records - 1")).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkSynced(context.Background(), "rec-1", "batch-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryMarkSyncedIdempotent(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_failed_in_batch = NULL")).
		WithArgs("rec-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_sync_status = 'synced'")).
		WithArgs("rec-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkSynced(context.Background(), "rec-1", "batch-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryScheduleRetry(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	nextRetryAt := time.Now().UTC().Add(time.Minute)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_retry_count = bayzat_retry_count + 1")).
		WithArgs("rec-1", nextRetryAt, "rate limited", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_failed_in_batch = $2")).
		WithArgs("rec-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET failed_records = failed_records + 1")).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ScheduleRetry(context.Background(), "rec-1", "batch-1", "rate limited", nextRetryAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryScheduleRetryCountsOncePerBatch(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	nextRetryAt := time.Now().UTC().Add(time.Minute)
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_retry_count = bayzat_retry_count + 1")).
		WithArgs("rec-1", nextRetryAt, "rate limited", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// The record is already stamped with this batch, so the failed counter
	// must not move again.
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_failed_in_batch = $2")).
		WithArgs("rec-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, repo.ScheduleRetry(context.Background(), "rec-1", "batch-1", "rate limited", nextRetryAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryMarkFailedCountsAttempt(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_sync_status = 'failed'")).
		WithArgs("rec-1", 1, "retry attempts exhausted (5): boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET bayzat_failed_in_batch = $2")).
		WithArgs("rec-1", "batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SET failed_records = failed_records + 1")).
		WithArgs("batch-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.MarkFailed(context.Background(), "rec-1", "batch-1", "retry attempts exhausted (5): boom", true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceRecordRepositoryListWithStatusFilter(t *testing.T) {
	db, mock, cleanup := newRecordRepoMock(t)
	defer cleanup()
	repo := NewAttendanceRecordRepository(db)

	now := time.Now().UTC()
	status := models.SyncStatusFailed
	rows := sqlmock.NewRows(recordRows).
		AddRow("rec-9", "company-1", "emp-9", "dev-2", "in", now.Add(-2*time.Hour), "failed", 5, nil, "retry attempts exhausted (5): boom", nil, now, now)
	mock.ExpectQuery("SELECT (.+) FROM attendance_records WHERE company_id = \\$1 AND bayzat_sync_status = \\$2").
		WithArgs("company-1", status).
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM attendance_records WHERE company_id = \\$1 AND bayzat_sync_status = \\$2").
		WithArgs("company-1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	records, total, err := repo.List(context.Background(), models.AttendanceRecordFilter{
		CompanyID: "company-1",
		Status:    &status,
		Page:      1,
		PageSize:  20,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 1, total)
	require.Equal(t, models.SyncStatusFailed, records[0].SyncStatus)
	require.NoError(t, mock.ExpectationsWereMet())
}
