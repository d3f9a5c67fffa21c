package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/teamtrack/bayzat-sync/internal/models"
)

// SyncBatchRepository persists sync batch state. Status transitions are
// guarded in SQL so a terminal batch can never be reopened and two workers
// cannot both claim the same pending batch.
type SyncBatchRepository struct {
	db *sqlx.DB
}

// NewSyncBatchRepository constructs the repository.
func NewSyncBatchRepository(db *sqlx.DB) *SyncBatchRepository {
	return &SyncBatchRepository{db: db}
}

const batchColumns = `id, company_id, total_records, synced_records, failed_records, retry_only, status,
failure_reason, created_at, started_at, completed_at, failed_at`

// Create inserts a new batch row with generated defaults.
func (r *SyncBatchRepository) Create(ctx context.Context, batch *models.SyncBatch) error {
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	if batch.Status == "" {
		batch.Status = models.BatchStatusPending
	}
	if batch.CreatedAt.IsZero() {
		batch.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO bayzat_sync_batches (id, company_id, total_records, synced_records, failed_records, retry_only, status, failure_reason, created_at, started_at, completed_at, failed_at)
VALUES (:id, :company_id, :total_records, :synced_records, :failed_records, :retry_only, :status, :failure_reason, :created_at, :started_at, :completed_at, :failed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, batch); err != nil {
		return fmt.Errorf("create sync batch: %w", err)
	}
	return nil
}

// GetByID returns a batch row by its identifier.
func (r *SyncBatchRepository) GetByID(ctx context.Context, id string) (*models.SyncBatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM bayzat_sync_batches WHERE id = $1`, batchColumns)
	var batch models.SyncBatch
	if err := r.db.GetContext(ctx, &batch, query, id); err != nil {
		return nil, fmt.Errorf("get sync batch: %w", err)
	}
	return &batch, nil
}

// List returns batch rows matching the provided filter plus a total count.
func (r *SyncBatchRepository) List(ctx context.Context, filter models.SyncBatchFilter) ([]models.SyncBatch, int, error) {
	where := []string{"company_id = $1"}
	args := []interface{}{filter.CompanyID}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM bayzat_sync_batches WHERE %s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		batchColumns, whereClause, size, offset)
	var batches []models.SyncBatch
	if err := r.db.SelectContext(ctx, &batches, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sync batches: %w", err)
	}

	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM bayzat_sync_batches WHERE %s`, whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sync batches: %w", err)
	}
	return batches, total, nil
}

// Start claims a pending batch for processing. Returns false when the batch
// was not pending, which means another worker already owns it or it is
// terminal.
func (r *SyncBatchRepository) Start(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE bayzat_sync_batches
SET status = 'in_progress', started_at = $2 WHERE id = $1 AND status = 'pending'`, id, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("start sync batch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("start sync batch: %w", err)
	}
	return affected == 1, nil
}

// Complete finishes an in-progress batch. Completion is independent of
// whether individual records failed.
func (r *SyncBatchRepository) Complete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE bayzat_sync_batches
SET status = 'completed', completed_at = $2 WHERE id = $1 AND status = 'in_progress'`, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("complete sync batch: %w", err)
	}
	return nil
}

// Fail marks a batch as systemically failed with a stored reason. Terminal
// batches are never overwritten.
func (r *SyncBatchRepository) Fail(ctx context.Context, id, reason string) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE bayzat_sync_batches
SET status = 'failed', failure_reason = $2, failed_at = $3
WHERE id = $1 AND status NOT IN ('completed', 'failed')`, id, reason, time.Now().UTC()); err != nil {
		return fmt.Errorf("fail sync batch: %w", err)
	}
	return nil
}

// LatestForCompany returns the most recently created batch for a company.
func (r *SyncBatchRepository) LatestForCompany(ctx context.Context, companyID string) (*models.SyncBatch, error) {
	query := fmt.Sprintf(`SELECT %s FROM bayzat_sync_batches WHERE company_id = $1 ORDER BY created_at DESC LIMIT 1`, batchColumns)
	var batch models.SyncBatch
	if err := r.db.GetContext(ctx, &batch, query, companyID); err != nil {
		return nil, fmt.Errorf("latest sync batch: %w", err)
	}
	return &batch, nil
}

// ListPending fetches batches that never started (used for cold start
// recovery after a crash or deploy).
func (r *SyncBatchRepository) ListPending(ctx context.Context, limit int) ([]models.SyncBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM bayzat_sync_batches WHERE status = 'pending' ORDER BY created_at ASC LIMIT $1`, batchColumns)
	var batches []models.SyncBatch
	if err := r.db.SelectContext(ctx, &batches, query, limit); err != nil {
		return nil, fmt.Errorf("list pending sync batches: %w", err)
	}
	return batches, nil
}
