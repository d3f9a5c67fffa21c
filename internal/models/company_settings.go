package models

import "time"

// SyncFrequency controls how often the scheduler dispatches a company.
type SyncFrequency string

const (
	SyncFrequencyManual SyncFrequency = "manual"
	SyncFrequencyHourly SyncFrequency = "hourly"
	SyncFrequencyDaily  SyncFrequency = "daily"
)

// Valid returns true when the frequency is a supported value.
func (f SyncFrequency) Valid() bool {
	switch f {
	case SyncFrequencyManual, SyncFrequencyHourly, SyncFrequencyDaily:
		return true
	default:
		return false
	}
}

// Window returns the minimum gap between scheduled batches, or zero for
// manual-only companies.
func (f SyncFrequency) Window() time.Duration {
	switch f {
	case SyncFrequencyHourly:
		return time.Hour
	case SyncFrequencyDaily:
		return 24 * time.Hour
	default:
		return 0
	}
}

// CompanySyncSettings holds the per-company Bayzat credentials and tuning
// knobs. Read-only inputs to the sync client and engine; owned by the
// platform's company administration outside this service.
type CompanySyncSettings struct {
	CompanyID        string        `db:"company_id" json:"company_id"`
	APIKey           string        `db:"api_key" json:"-"`
	APIURL           string        `db:"api_url" json:"api_url"`
	Enabled          bool          `db:"enabled" json:"enabled"`
	SyncFrequency    SyncFrequency `db:"sync_frequency" json:"sync_frequency"`
	RateLimitDelayMS int           `db:"rate_limit_delay_ms" json:"rate_limit_delay_ms"`
	PageSize         int           `db:"page_size" json:"page_size"`
	MaxRetryAttempts int           `db:"max_retry_attempts" json:"max_retry_attempts"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updated_at"`
}

// RateLimitDelay converts the persisted millisecond column to a duration.
func (s CompanySyncSettings) RateLimitDelay() time.Duration {
	return time.Duration(s.RateLimitDelayMS) * time.Millisecond
}
