package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/teamtrack/bayzat-sync/internal/models"
	"github.com/teamtrack/bayzat-sync/internal/repository"
	"github.com/teamtrack/bayzat-sync/pkg/jobs"
)

type sweepRecordStore interface {
	CountRetryEligible(ctx context.Context, companyID *string, now time.Time) ([]repository.CompanyRetryCount, error)
}

type sweepBatchStore interface {
	Create(ctx context.Context, batch *models.SyncBatch) error
	Fail(ctx context.Context, id, reason string) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// SweepResult aggregates how many records a sweep resubmitted.
type SweepResult struct {
	PerCompany map[string]int `json:"per_company"`
	Total      int            `json:"total"`
}

// SweepConfig bounds a single sweep invocation.
type SweepConfig struct {
	DefaultLimit int
}

// SweepService periodically finds records eligible for retry and resubmits
// them. This is the only path back into the engine for retryable records
// outside a fresh import-triggered batch. Each affected company gets a new
// batch; terminal batches are never reopened.
type SweepService struct {
	records   sweepRecordStore
	batches   sweepBatchStore
	companies companySettingsStore
	queue     jobDispatcher
	metrics   *MetricsService
	logger    *zap.Logger
	cfg       SweepConfig
}

// NewSweepService constructs the sweep service.
func NewSweepService(records sweepRecordStore, batches sweepBatchStore, companies companySettingsStore, queue jobDispatcher, metrics *MetricsService, logger *zap.Logger, cfg SweepConfig) *SweepService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 100
	}
	return &SweepService{
		records:   records,
		batches:   batches,
		companies: companies,
		queue:     queue,
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
}

// Run executes one sweep, optionally scoped to a single company. At most
// limit records per company are resubmitted per invocation to bound external
// API load. Finding nothing eligible is a normal outcome, not an error.
func (s *SweepService) Run(ctx context.Context, companyID *string, limit int) (*SweepResult, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	result := &SweepResult{PerCompany: map[string]int{}}

	counts, err := s.records.CountRetryEligible(ctx, companyID, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("select retry eligible records: %w", err)
	}
	if len(counts) == 0 {
		s.logger.Sugar().Debugw("sweep found no eligible records", "company_id", companyID)
		return result, nil
	}

	for _, count := range counts {
		settings, err := s.companies.GetByCompanyID(ctx, count.CompanyID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				s.logger.Sugar().Warnw("sweep skipping company without settings", "company_id", count.CompanyID)
				continue
			}
			return nil, fmt.Errorf("load settings for company %s: %w", count.CompanyID, err)
		}
		if !settings.Enabled {
			s.logger.Sugar().Debugw("sweep skipping disabled company", "company_id", count.CompanyID)
			continue
		}

		resubmit := count.Eligible
		if resubmit > limit {
			resubmit = limit
		}
		// Retry batches are bound to the records the eligibility count saw,
		// so a fresh import arriving between count and run cannot take the
		// batch's slots.
		batch := &models.SyncBatch{CompanyID: count.CompanyID, TotalRecords: resubmit, RetryOnly: true}
		if err := s.batches.Create(ctx, batch); err != nil {
			return nil, fmt.Errorf("create retry batch for company %s: %w", count.CompanyID, err)
		}
		if err := s.queue.Enqueue(jobs.Job{ID: batch.ID, Type: JobTypeBatchSync}); err != nil {
			_ = s.batches.Fail(ctx, batch.ID, "failed to enqueue retry batch")
			s.logger.Sugar().Errorw("failed to enqueue retry batch", "batch_id", batch.ID, "company_id", count.CompanyID, "error", err)
			continue
		}

		result.PerCompany[count.CompanyID] = resubmit
		result.Total += resubmit
		s.logger.Sugar().Infow("retry batch dispatched",
			"batch_id", batch.ID, "company_id", count.CompanyID, "records", resubmit)
	}
	s.metrics.RecordSweepResubmits(result.Total)
	return result, nil
}
