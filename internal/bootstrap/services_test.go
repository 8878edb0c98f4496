package bootstrap

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/leadsweep/config"
)

func TestErrorChannelBufferSize(t *testing.T) {
	tests := []struct {
		name    string
		enabled map[config.ServiceMode]bool
		want    int
	}{
		{"none enabled", map[config.ServiceMode]bool{}, 1},
		{"one service", map[config.ServiceMode]bool{config.ServiceModeHTTP: true}, 2},
		{
			"all services",
			map[config.ServiceMode]bool{
				config.ServiceModeHTTP:    true,
				config.ServiceModeSweeper: true,
				config.ServiceModeReaper:  true,
			},
			4,
		},
		{"unknown modes ignored", map[config.ServiceMode]bool{"scheduler": true}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorChannelBufferSize(tt.enabled))
		})
	}
}

func TestValidOrderedModes(t *testing.T) {
	assert.Equal(t, []config.ServiceMode{
		config.ServiceModeHTTP,
		config.ServiceModeSweeper,
		config.ServiceModeReaper,
	}, ValidOrderedModes())
}

func TestValidateServiceConfig(t *testing.T) {
	require.Error(t, ValidateServiceConfig(nil))

	cfg := &config.AppConfig{Services: "http,sweeper"}
	require.NoError(t, ValidateServiceConfig(cfg))

	cfg = &config.AppConfig{Services: "scheduler"}
	err := ValidateServiceConfig(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid service configuration")

	cfg = &config.AppConfig{Services: ""}
	require.Error(t, ValidateServiceConfig(cfg))
}

func TestGetEnabledServices(t *testing.T) {
	assert.Empty(t, GetEnabledServices(nil))

	cfg := &config.AppConfig{Services: "http,reaper"}
	got := GetEnabledServices(cfg)
	assert.ElementsMatch(t, []string{"http", "reaper"}, got)

	cfg = &config.AppConfig{Services: "bogus"}
	assert.Empty(t, GetEnabledServices(cfg))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLogLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLogLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLogLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("info"))
	assert.Equal(t, slog.LevelInfo, parseLogLevel("anything else"))
}

func TestWaitForService(t *testing.T) {
	logger := slog.Default()

	// Nil channel is a no-op, not a hang.
	waitForService(nil, "noop", logger)

	done := make(chan struct{})
	close(done)
	start := time.Now()
	waitForService(done, "finished", logger)
	assert.Less(t, time.Since(start), time.Second)
}
