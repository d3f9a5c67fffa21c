package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/teamtrack/bayzat-sync/internal/models"
)

// CompanySettingsRepository reads per-company Bayzat credentials and tuning.
// The rows are owned by company administration elsewhere; this service never
// writes them.
type CompanySettingsRepository struct {
	db *sqlx.DB
}

// NewCompanySettingsRepository constructs the repository.
func NewCompanySettingsRepository(db *sqlx.DB) *CompanySettingsRepository {
	return &CompanySettingsRepository{db: db}
}

const settingsColumns = `company_id, api_key, api_url, enabled, sync_frequency,
rate_limit_delay_ms, page_size, max_retry_attempts, updated_at`

// GetByCompanyID returns the settings row for one company.
func (r *CompanySettingsRepository) GetByCompanyID(ctx context.Context, companyID string) (*models.CompanySyncSettings, error) {
	query := fmt.Sprintf(`SELECT %s FROM company_sync_settings WHERE company_id = $1`, settingsColumns)
	var settings models.CompanySyncSettings
	if err := r.db.GetContext(ctx, &settings, query, companyID); err != nil {
		return nil, fmt.Errorf("get company sync settings: %w", err)
	}
	return &settings, nil
}

// ListScheduled returns enabled companies with a non-manual sync frequency,
// in stable company order for the scheduler loop.
func (r *CompanySettingsRepository) ListScheduled(ctx context.Context) ([]models.CompanySyncSettings, error) {
	query := fmt.Sprintf(`SELECT %s FROM company_sync_settings
WHERE enabled = TRUE AND sync_frequency <> 'manual' ORDER BY company_id ASC`, settingsColumns)
	var settings []models.CompanySyncSettings
	if err := r.db.SelectContext(ctx, &settings, query); err != nil {
		return nil, fmt.Errorf("list scheduled companies: %w", err)
	}
	return settings, nil
}
