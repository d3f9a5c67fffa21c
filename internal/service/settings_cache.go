package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/teamtrack/bayzat-sync/internal/models"
	appErrors "github.com/teamtrack/bayzat-sync/pkg/errors"
)

type settingsSource interface {
	GetByCompanyID(ctx context.Context, companyID string) (*models.CompanySyncSettings, error)
	ListScheduled(ctx context.Context) ([]models.CompanySyncSettings, error)
}

// cachedSettings is the cache wire shape. The model hides the api key from
// JSON responses, but the cached copy needs it back intact.
type cachedSettings struct {
	CompanyID        string               `json:"company_id"`
	APIKey           string               `json:"api_key"`
	APIURL           string               `json:"api_url"`
	Enabled          bool                 `json:"enabled"`
	SyncFrequency    models.SyncFrequency `json:"sync_frequency"`
	RateLimitDelayMS int                  `json:"rate_limit_delay_ms"`
	PageSize         int                  `json:"page_size"`
	MaxRetryAttempts int                  `json:"max_retry_attempts"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// CachedSettingsService is a read-through cache in front of the company
// settings store. Every batch touches settings, so hot companies would
// otherwise hammer the same row. Cache faults always fall back to the source.
type CachedSettingsService struct {
	source  settingsSource
	client  *redis.Client
	metrics *MetricsService
	logger  *zap.Logger
	ttl     time.Duration
}

// NewCachedSettingsService constructs the cache. A nil client disables
// caching and every read goes straight to the source.
func NewCachedSettingsService(source settingsSource, client *redis.Client, metrics *MetricsService, logger *zap.Logger, ttl time.Duration) *CachedSettingsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedSettingsService{source: source, client: client, metrics: metrics, logger: logger, ttl: ttl}
}

const settingsCachePrefix = "bayzat:settings:"

// GetByCompanyID returns settings from cache when fresh, loading and caching
// from the source otherwise.
func (s *CachedSettingsService) GetByCompanyID(ctx context.Context, companyID string) (*models.CompanySyncSettings, error) {
	if settings, err := s.lookup(ctx, companyID); err == nil {
		s.metrics.RecordCacheLookup("hit")
		return settings, nil
	} else if !errors.Is(err, appErrors.ErrCacheMiss) {
		s.metrics.RecordCacheLookup("error")
		s.logger.Sugar().Warnw("settings cache read failed", "company_id", companyID, "error", err)
	} else {
		s.metrics.RecordCacheLookup("miss")
	}

	settings, err := s.source.GetByCompanyID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, settings)
	return settings, nil
}

// ListScheduled bypasses the cache: the scheduler loop runs on an interval
// and needs the authoritative enabled set.
func (s *CachedSettingsService) ListScheduled(ctx context.Context) ([]models.CompanySyncSettings, error) {
	return s.source.ListScheduled(ctx)
}

// Invalidate drops a company's cached settings, e.g. after administration
// rotates an api key.
func (s *CachedSettingsService) Invalidate(ctx context.Context, companyID string) {
	if s.client == nil {
		return
	}
	if err := s.client.Del(ctx, settingsCachePrefix+companyID).Err(); err != nil {
		s.logger.Sugar().Warnw("settings cache invalidation failed", "company_id", companyID, "error", err)
	}
}

func (s *CachedSettingsService) lookup(ctx context.Context, companyID string) (*models.CompanySyncSettings, error) {
	if s.client == nil {
		return nil, appErrors.ErrCacheMiss
	}
	raw, err := s.client.Get(ctx, settingsCachePrefix+companyID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, appErrors.ErrCacheMiss
		}
		return nil, err
	}
	var cached cachedSettings
	if err := json.Unmarshal(raw, &cached); err != nil {
		return nil, err
	}
	return &models.CompanySyncSettings{
		CompanyID:        cached.CompanyID,
		APIKey:           cached.APIKey,
		APIURL:           cached.APIURL,
		Enabled:          cached.Enabled,
		SyncFrequency:    cached.SyncFrequency,
		RateLimitDelayMS: cached.RateLimitDelayMS,
		PageSize:         cached.PageSize,
		MaxRetryAttempts: cached.MaxRetryAttempts,
		UpdatedAt:        cached.UpdatedAt,
	}, nil
}

func (s *CachedSettingsService) store(ctx context.Context, settings *models.CompanySyncSettings) {
	if s.client == nil || settings == nil {
		return
	}
	payload, err := json.Marshal(cachedSettings{
		CompanyID:        settings.CompanyID,
		APIKey:           settings.APIKey,
		APIURL:           settings.APIURL,
		Enabled:          settings.Enabled,
		SyncFrequency:    settings.SyncFrequency,
		RateLimitDelayMS: settings.RateLimitDelayMS,
		PageSize:         settings.PageSize,
		MaxRetryAttempts: settings.MaxRetryAttempts,
		UpdatedAt:        settings.UpdatedAt,
	})
	if err != nil {
		return
	}
	if err := s.client.Set(ctx, settingsCachePrefix+settings.CompanyID, payload, s.ttl).Err(); err != nil {
		s.logger.Sugar().Warnw("settings cache write failed", "company_id", settings.CompanyID, "error", err)
	}
}
