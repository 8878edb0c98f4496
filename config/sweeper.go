package config

import "time"

// SweeperConfig contains batch sweep worker configuration.
type SweeperConfig struct {
	// PollInterval is how long the worker idles when no run is claimable.
	PollInterval time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`

	// Lease is the run lease duration stamped on claim and refreshed while
	// processing.
	Lease time.Duration `env:"LEASE" envDefault:"60s"`

	// HeartbeatEvery refreshes the lease after this many processed items.
	HeartbeatEvery int `env:"HEARTBEAT_EVERY" envDefault:"5"`

	// FreshnessWindow exempts recently verified leads from re-verification.
	FreshnessWindow time.Duration `env:"FRESHNESS_WINDOW" envDefault:"168h"`

	// MaxConsecutiveFailures fails the run after this many driver-level
	// errors in a row. Item-level adapter failures do not count.
	MaxConsecutiveFailures int `env:"MAX_CONSECUTIVE_FAILURES" envDefault:"3"`

	// SignalTTL bounds how long a pause/cancel signal stays pending with no
	// sweeper alive to consume it.
	SignalTTL time.Duration `env:"SIGNAL_TTL" envDefault:"24h"`

	// Concurrency is the number of runner loops. Each loop claims at most one
	// run at a time; the per-run lease keeps loops off the same run.
	Concurrency int `env:"CONCURRENCY" envDefault:"1"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	if s.PollInterval <= 0 {
		s.PollInterval = 5 * time.Second
	}
	if s.Lease <= 0 {
		s.Lease = 60 * time.Second
	}
	if s.HeartbeatEvery <= 0 {
		s.HeartbeatEvery = 5
	}
	if s.FreshnessWindow <= 0 {
		s.FreshnessWindow = 168 * time.Hour
	}
	if s.MaxConsecutiveFailures <= 0 {
		s.MaxConsecutiveFailures = 3
	}
	if s.SignalTTL <= 0 {
		s.SignalTTL = 24 * time.Hour
	}
	if s.Concurrency < 1 {
		s.Concurrency = 1
	}
}
