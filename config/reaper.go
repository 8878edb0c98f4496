package config

import "time"

// ReaperConfig contains retention configuration for old runs.
type ReaperConfig struct {
	// Interval is how often the reaper performs a cleanup pass.
	Interval time.Duration `env:"INTERVAL" envDefault:"1h"`

	// PendingMaxAge fails pending runs that were never claimed.
	PendingMaxAge time.Duration `env:"PENDING_MAX_AGE" envDefault:"24h"`

	// CompletedMaxAge removes completed runs and their results.
	CompletedMaxAge time.Duration `env:"COMPLETED_MAX_AGE" envDefault:"720h"`

	// FailedMaxAge removes failed runs and their results.
	FailedMaxAge time.Duration `env:"FAILED_MAX_AGE" envDefault:"720h"`

	// CancelledMaxAge removes cancelled runs and their results.
	CancelledMaxAge time.Duration `env:"CANCELLED_MAX_AGE" envDefault:"168h"`

	// BatchSize bounds rows touched per cleanup statement.
	BatchSize int `env:"BATCH_SIZE" envDefault:"500"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval <= 0 {
		r.Interval = time.Hour
	}
	if r.PendingMaxAge <= 0 {
		r.PendingMaxAge = 24 * time.Hour
	}
	if r.CompletedMaxAge <= 0 {
		r.CompletedMaxAge = 720 * time.Hour
	}
	if r.FailedMaxAge <= 0 {
		r.FailedMaxAge = 720 * time.Hour
	}
	if r.CancelledMaxAge <= 0 {
		r.CancelledMaxAge = 168 * time.Hour
	}
	if r.BatchSize <= 0 {
		r.BatchSize = 500
	}
}
