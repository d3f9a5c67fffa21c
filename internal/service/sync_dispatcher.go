package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/teamtrack/bayzat-sync/internal/dto"
	"github.com/teamtrack/bayzat-sync/internal/models"
	appErrors "github.com/teamtrack/bayzat-sync/pkg/errors"
	"github.com/teamtrack/bayzat-sync/pkg/jobs"
)

// JobTypeBatchSync is the queue job type for one batch run. The job ID is the
// batch ID, which keeps execution exclusive per batch: a batch is enqueued
// once and retried only through the queue's own policy.
const JobTypeBatchSync = "bayzat_batch_sync"

type dispatcherRecordStore interface {
	CountProcessable(ctx context.Context, companyID string, now time.Time) (int, error)
	List(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, int, error)
}

type dispatcherBatchStore interface {
	Create(ctx context.Context, batch *models.SyncBatch) error
	Fail(ctx context.Context, id, reason string) error
	GetByID(ctx context.Context, id string) (*models.SyncBatch, error)
	List(ctx context.Context, filter models.SyncBatchFilter) ([]models.SyncBatch, int, error)
	LatestForCompany(ctx context.Context, companyID string) (*models.SyncBatch, error)
	ListPending(ctx context.Context, limit int) ([]models.SyncBatch, error)
}

type dispatcherSettingsStore interface {
	GetByCompanyID(ctx context.Context, companyID string) (*models.CompanySyncSettings, error)
	ListScheduled(ctx context.Context) ([]models.CompanySyncSettings, error)
}

// DispatcherConfig tunes the background loops.
type DispatcherConfig struct {
	SchedulerInterval time.Duration
	SweepInterval     time.Duration
	SweepLimit        int
}

// DispatcherService translates external triggers into batch creation and
// queued engine runs.
type DispatcherService struct {
	records   dispatcherRecordStore
	batches   dispatcherBatchStore
	companies dispatcherSettingsStore
	queue     jobDispatcher
	sweep     *SweepService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DispatcherConfig
}

// NewDispatcherService constructs the dispatcher.
func NewDispatcherService(records dispatcherRecordStore, batches dispatcherBatchStore, companies dispatcherSettingsStore, queue jobDispatcher, sweep *SweepService, validate *validator.Validate, logger *zap.Logger, cfg DispatcherConfig) *DispatcherService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SchedulerInterval <= 0 {
		cfg.SchedulerInterval = 5 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	return &DispatcherService{
		records:   records,
		batches:   batches,
		companies: companies,
		queue:     queue,
		sweep:     sweep,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// SyncNow creates a batch covering the company's currently processable
// records and enqueues an engine run. Every call creates a distinct batch.
func (s *DispatcherService) SyncNow(ctx context.Context, companyID string) (*models.SyncBatch, error) {
	settings, err := s.companies.GetByCompanyID(ctx, companyID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "company sync settings not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load company settings")
	}
	if !settings.Enabled {
		return nil, appErrors.ErrSyncDisabled
	}

	total, err := s.records.CountProcessable(ctx, companyID, time.Now().UTC())
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count processable records")
	}

	batch := &models.SyncBatch{CompanyID: companyID, TotalRecords: total}
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create sync batch")
	}
	if err := s.queue.Enqueue(jobs.Job{ID: batch.ID, Type: JobTypeBatchSync}); err != nil {
		_ = s.batches.Fail(ctx, batch.ID, "failed to enqueue batch")
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue sync batch")
	}

	s.logger.Sugar().Infow("sync batch dispatched", "batch_id", batch.ID, "company_id", companyID, "total_records", total)
	return batch, nil
}

// RetryFailed runs a sweep, optionally scoped to one company.
func (s *DispatcherService) RetryFailed(ctx context.Context, req dto.RetryRequest) (*SweepResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid retry request")
	}
	return s.sweep.Run(ctx, req.CompanyID, req.Limit)
}

// GetBatch returns one batch for the read API.
func (s *DispatcherService) GetBatch(ctx context.Context, id string) (*models.SyncBatch, error) {
	batch, err := s.batches.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "sync batch not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load sync batch")
	}
	return batch, nil
}

// ListBatches returns a company's batches, newest first.
func (s *DispatcherService) ListBatches(ctx context.Context, filter models.SyncBatchFilter) ([]models.SyncBatch, *models.Pagination, error) {
	batches, total, err := s.batches.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sync batches")
	}
	return batches, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// ListRecords returns a company's attendance records with their sync state.
func (s *DispatcherService) ListRecords(ctx context.Context, filter models.AttendanceRecordFilter) ([]models.AttendanceRecord, *models.Pagination, error) {
	records, total, err := s.records.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance records")
	}
	return records, &models.Pagination{Page: filter.Page, PageSize: filter.PageSize, TotalCount: total}, nil
}

// HandleJobExhausted is wired into the queue's exhaustion hook: once the
// queue's own retry budget for a batch run is spent, the batch is explicitly
// failed so no run disappears silently.
func (s *DispatcherService) HandleJobExhausted(ctx context.Context, job jobs.Job, cause error) {
	if job.Type != JobTypeBatchSync {
		return
	}
	reason := "queue attempts exhausted"
	if cause != nil {
		reason = fmt.Sprintf("queue attempts exhausted: %v", cause)
	}
	if err := s.batches.Fail(ctx, job.ID, reason); err != nil {
		s.logger.Sugar().Errorw("failed to mark exhausted batch", "batch_id", job.ID, "error", err)
	}
}

// RecoverPendingBatches re-enqueues batches that never started, e.g. after a
// process restart dropped the in-memory queue.
func (s *DispatcherService) RecoverPendingBatches(ctx context.Context) {
	pending, err := s.batches.ListPending(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover pending batches", "error", err)
		return
	}
	for _, batch := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: batch.ID, Type: JobTypeBatchSync}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending batch", "batch_id", batch.ID, "error", err)
		}
	}
}

// StartScheduler boots the periodic loops: frequency-based company dispatch
// and the retry sweep. Both stop with the context.
func (s *DispatcherService) StartScheduler(ctx context.Context) {
	go s.runLoop(ctx, s.cfg.SchedulerInterval, s.dispatchDueCompanies)
	go s.runLoop(ctx, s.cfg.SweepInterval, func(ctx context.Context) {
		if _, err := s.sweep.Run(ctx, nil, s.cfg.SweepLimit); err != nil {
			s.logger.Sugar().Warnw("scheduled sweep failed", "error", err)
		}
	})
}

func (s *DispatcherService) runLoop(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// dispatchDueCompanies creates batches for companies whose sync frequency
// window elapsed since their last batch.
func (s *DispatcherService) dispatchDueCompanies(ctx context.Context) {
	companies, err := s.companies.ListScheduled(ctx)
	if err != nil {
		s.logger.Sugar().Warnw("failed to list scheduled companies", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, settings := range companies {
		window := settings.SyncFrequency.Window()
		if window <= 0 {
			continue
		}
		latest, err := s.batches.LatestForCompany(ctx, settings.CompanyID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			s.logger.Sugar().Warnw("failed to load latest batch", "company_id", settings.CompanyID, "error", err)
			continue
		}
		if latest != nil && now.Sub(latest.CreatedAt) < window {
			continue
		}
		if _, err := s.SyncNow(ctx, settings.CompanyID); err != nil {
			s.logger.Sugar().Warnw("scheduled dispatch failed", "company_id", settings.CompanyID, "error", err)
		}
	}
}

// SyncWorker bridges queue jobs to the engine.
type SyncWorker struct {
	engine *SyncEngine
	logger *zap.Logger
}

// NewSyncWorker constructs a worker.
func NewSyncWorker(engine *SyncEngine, logger *zap.Logger) *SyncWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SyncWorker{engine: engine, logger: logger}
}

// Handle processes a queue job.
func (w *SyncWorker) Handle(ctx context.Context, job jobs.Job) error {
	if job.Type != JobTypeBatchSync {
		w.logger.Sugar().Warnw("unknown job type", "type", job.Type, "job_id", job.ID)
		return nil
	}
	return w.engine.ProcessBatch(ctx, job.ID)
}
