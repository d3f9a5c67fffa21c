package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teamtrack/bayzat-sync/internal/bayzat"
	"github.com/teamtrack/bayzat-sync/internal/models"
)

type syncRecordStore interface {
	ListProcessable(ctx context.Context, companyID string, retryOnly bool, now time.Time, limit int) ([]models.AttendanceRecord, error)
	MarkSynced(ctx context.Context, recordID, batchID string) error
	ScheduleRetry(ctx context.Context, recordID, batchID, errMsg string, nextRetryAt time.Time) error
	MarkFailed(ctx context.Context, recordID, batchID, errMsg string, countAttempt bool) error
}

type syncBatchStore interface {
	GetByID(ctx context.Context, id string) (*models.SyncBatch, error)
	Start(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id, reason string) error
}

type companySettingsStore interface {
	GetByCompanyID(ctx context.Context, companyID string) (*models.CompanySyncSettings, error)
}

type attendanceClient interface {
	PushRecord(ctx context.Context, settings models.CompanySyncSettings, payload bayzat.RecordPayload) error
}

// SyncEngineConfig tunes the per-record backoff curve.
type SyncEngineConfig struct {
	BackoffBase      time.Duration
	BackoffCap       time.Duration
	MaxRetryAttempts int
}

// SyncEngine drives one batch to completion record-by-record. One record's
// failure never aborts the batch; only systemic faults (missing or disabled
// settings) fail the batch as a whole.
type SyncEngine struct {
	records   syncRecordStore
	batches   syncBatchStore
	companies companySettingsStore
	client    attendanceClient
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       SyncEngineConfig
}

// NewSyncEngine constructs the engine.
func NewSyncEngine(records syncRecordStore, batches syncBatchStore, companies companySettingsStore, client attendanceClient, metrics *MetricsService, logger *zap.Logger, cfg SyncEngineConfig) *SyncEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}
	if cfg.MaxRetryAttempts <= 0 {
		cfg.MaxRetryAttempts = 5
	}
	return &SyncEngine{
		records:   records,
		batches:   batches,
		companies: companies,
		client:    client,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// ProcessBatch runs one batch. Infrastructure errors are returned so the job
// queue can retry the run; systemic domain faults mark the batch failed and
// return nil. Partial progress is persisted record-by-record, so a retried
// run resumes where the previous one stopped.
func (e *SyncEngine) ProcessBatch(ctx context.Context, batchID string) error {
	batch, err := e.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("load batch %s: %w", batchID, err)
	}
	if batch.Status.Terminal() {
		e.logger.Sugar().Infow("batch already terminal, skipping", "batch_id", batch.ID, "status", batch.Status)
		return nil
	}

	settings, err := e.companies.GetByCompanyID(ctx, batch.CompanyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.failBatch(ctx, batch, "company sync settings missing")
		}
		return fmt.Errorf("load settings for company %s: %w", batch.CompanyID, err)
	}
	if !settings.Enabled {
		return e.failBatch(ctx, batch, "bayzat sync disabled for company")
	}

	claimed, err := e.batches.Start(ctx, batch.ID)
	if err != nil {
		return fmt.Errorf("start batch %s: %w", batch.ID, err)
	}
	if !claimed {
		// A previous run already moved the batch out of pending. Resume only
		// when it is still in progress (e.g. after a job timeout).
		current, err := e.batches.GetByID(ctx, batch.ID)
		if err != nil {
			return fmt.Errorf("reload batch %s: %w", batch.ID, err)
		}
		if current.Status != models.BatchStatusInProgress {
			return nil
		}
	}

	e.logger.Sugar().Infow("batch processing started",
		"batch_id", batch.ID, "company_id", batch.CompanyID, "total_records", batch.TotalRecords)

	maxAttempts := settings.MaxRetryAttempts
	if maxAttempts <= 0 {
		maxAttempts = e.cfg.MaxRetryAttempts
	}

	if batch.TotalRecords > 0 {
		records, err := e.records.ListProcessable(ctx, batch.CompanyID, batch.RetryOnly, time.Now().UTC(), batch.TotalRecords)
		if err != nil {
			return fmt.Errorf("load records for batch %s: %w", batch.ID, err)
		}
		for i := range records {
			if ctx.Err() != nil {
				return fmt.Errorf("batch %s interrupted: %w", batch.ID, ctx.Err())
			}
			e.processRecord(ctx, *settings, batch.ID, records[i], maxAttempts)
		}
	}

	if err := e.batches.Complete(ctx, batch.ID); err != nil {
		return fmt.Errorf("complete batch %s: %w", batch.ID, err)
	}
	final, err := e.batches.GetByID(ctx, batch.ID)
	if err == nil {
		e.logger.Sugar().Infow("batch completed",
			"batch_id", final.ID, "company_id", final.CompanyID,
			"total", final.TotalRecords, "synced", final.SyncedRecords, "failed", final.FailedRecords)
		if e.metrics != nil {
			e.metrics.RecordBatchOutcome(string(models.BatchStatusCompleted))
		}
	}
	return nil
}

// processRecord pushes one record and persists the outcome. Panics and errors
// are contained here so sibling records keep processing.
func (e *SyncEngine) processRecord(ctx context.Context, settings models.CompanySyncSettings, batchID string, rec models.AttendanceRecord, maxAttempts int) {
	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("internal fault: %v", r)
			e.logger.Sugar().Errorw("record processing panicked", "record_id", rec.ID, "batch_id", batchID, "panic", r)
			e.recordFailure(ctx, batchID, rec, msg, true, maxAttempts)
		}
	}()

	if rec.SyncStatus == models.SyncStatusSynced {
		return
	}

	err := e.client.PushRecord(ctx, settings, bayzat.RecordPayload{
		RecordID:    rec.ID,
		EmployeeRef: rec.EmployeeRef,
		DeviceID:    rec.DeviceID,
		PunchType:   string(rec.PunchType),
		PunchedAt:   rec.PunchedAt,
	})
	if err == nil {
		if err := e.records.MarkSynced(ctx, rec.ID, batchID); err != nil {
			e.logger.Sugar().Errorw("failed to persist synced record", "record_id", rec.ID, "error", err)
			return
		}
		if e.metrics != nil {
			e.metrics.RecordSyncOutcome("synced")
		}
		return
	}

	e.recordFailure(ctx, batchID, rec, err.Error(), bayzat.IsRetryable(err), maxAttempts)
}

// recordFailure applies the per-record retry policy: retryable failures get
// an exponential backoff slot until the attempt budget runs out, everything
// else fails the record terminally.
func (e *SyncEngine) recordFailure(ctx context.Context, batchID string, rec models.AttendanceRecord, errMsg string, retryable bool, maxAttempts int) {
	if retryable {
		attempt := rec.RetryCount + 1
		if attempt < maxAttempts {
			nextRetryAt := time.Now().UTC().Add(e.backoff(rec.RetryCount))
			if err := e.records.ScheduleRetry(ctx, rec.ID, batchID, errMsg, nextRetryAt); err != nil {
				e.logger.Sugar().Errorw("failed to schedule record retry", "record_id", rec.ID, "error", err)
			} else {
				e.logger.Sugar().Debugw("record retry scheduled",
					"record_id", rec.ID, "attempt", attempt, "next_retry_at", nextRetryAt)
				if e.metrics != nil {
					e.metrics.RecordSyncOutcome("retry_scheduled")
				}
			}
			return
		}
		errMsg = fmt.Sprintf("retry attempts exhausted (%d): %s", attempt, errMsg)
	}

	if err := e.records.MarkFailed(ctx, rec.ID, batchID, errMsg, retryable); err != nil {
		e.logger.Sugar().Errorw("failed to persist failed record", "record_id", rec.ID, "error", err)
		return
	}
	e.logger.Sugar().Warnw("record failed terminally", "record_id", rec.ID, "batch_id", batchID, "error", errMsg)
	if e.metrics != nil {
		e.metrics.RecordSyncOutcome("failed")
	}
}

// backoff returns base × 2^retryCount, capped.
func (e *SyncEngine) backoff(retryCount int) time.Duration {
	d := e.cfg.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= e.cfg.BackoffCap {
			return e.cfg.BackoffCap
		}
	}
	if d > e.cfg.BackoffCap {
		d = e.cfg.BackoffCap
	}
	return d
}

func (e *SyncEngine) failBatch(ctx context.Context, batch *models.SyncBatch, reason string) error {
	e.logger.Sugar().Errorw("batch failed systemically",
		"batch_id", batch.ID, "company_id", batch.CompanyID, "reason", reason)
	if err := e.batches.Fail(ctx, batch.ID, reason); err != nil {
		return fmt.Errorf("fail batch %s: %w", batch.ID, err)
	}
	if e.metrics != nil {
		e.metrics.RecordBatchOutcome(string(models.BatchStatusFailed))
	}
	return nil
}
