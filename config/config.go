// Package config holds the environment-driven application configuration.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See the individual domain config files for
// available variables:
//   - database.go: PostgreSQL and Redis configuration
//   - http.go: HTTP server configuration
//   - services.go: service mode selection
//   - openai.go: AI provider configuration
//   - sweeper.go: sweeper worker configuration
//   - reaper.go: retention configuration
//   - observability.go: logging and metrics configuration
package config

import (
	"os"
	"strings"
)

// AppConfig composes the full application configuration.
type AppConfig struct {
	// IsDev controls development mode behavior (debug logging, .env loading).
	IsDev bool `env:"DEV" envDefault:"false"`

	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	HTTP HTTPConfig

	// Services is a comma-delimited list of service modes to run
	// (http, sweeper, reaper).
	Services string `env:"SERVICES" envDefault:"http"`

	OpenAI  OpenAIConfig  `envPrefix:"OPENAI_"`
	Sweeper SweeperConfig `envPrefix:"SWEEPER_"`
	Reaper  ReaperConfig  `envPrefix:"REAPER_"`

	Observability ObservabilityConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// Call after loading from environment variables.
func (c *AppConfig) Sanitize() {
	c.HTTP.Sanitize()
	c.Sweeper.Sanitize()
	c.Reaper.Sanitize()
	c.Observability.Sanitize()
	c.detectDevMode()
}

// detectDevMode also honors GO_ENV as a fallback for DEV.
func (c *AppConfig) detectDevMode() {
	if !c.IsDev {
		goEnv := strings.ToLower(os.Getenv("GO_ENV"))
		c.IsDev = goEnv == "development" || goEnv == "dev"
	}
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsHTTPServerEnabled reports whether the HTTP server service is enabled.
func (c *AppConfig) IsHTTPServerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeHTTP]
}

// IsSweeperEnabled reports whether the sweeper worker is enabled.
func (c *AppConfig) IsSweeperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeSweeper]
}

// IsReaperEnabled reports whether the reaper is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}
