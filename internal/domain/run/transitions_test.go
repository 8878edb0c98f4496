package run

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matchops/leadsweep/internal/domain/model"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from model.RunStatus
		to   model.RunStatus
		want bool
	}{
		{"pending to running", model.RunStatusPending, model.RunStatusRunning, true},
		{"pending to cancelled", model.RunStatusPending, model.RunStatusCancelled, true},
		{"pending to paused", model.RunStatusPending, model.RunStatusPaused, false},
		{"pending to completed", model.RunStatusPending, model.RunStatusCompleted, false},
		{"running to paused", model.RunStatusRunning, model.RunStatusPaused, true},
		{"running to completed", model.RunStatusRunning, model.RunStatusCompleted, true},
		{"running to cancelled", model.RunStatusRunning, model.RunStatusCancelled, true},
		{"running to failed", model.RunStatusRunning, model.RunStatusFailed, true},
		{"running to pending", model.RunStatusRunning, model.RunStatusPending, false},
		{"paused to running", model.RunStatusPaused, model.RunStatusRunning, true},
		{"paused to cancelled", model.RunStatusPaused, model.RunStatusCancelled, true},
		{"paused to completed", model.RunStatusPaused, model.RunStatusCompleted, false},
		{"paused to failed", model.RunStatusPaused, model.RunStatusFailed, false},
		{"completed is terminal", model.RunStatusCompleted, model.RunStatusRunning, false},
		{"failed is terminal", model.RunStatusFailed, model.RunStatusRunning, false},
		{"cancelled is terminal", model.RunStatusCancelled, model.RunStatusRunning, false},
		{"self transition rejected", model.RunStatusRunning, model.RunStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestTransition_InvalidError(t *testing.T) {
	err := Transition(model.RunStatusCompleted, model.RunStatusRunning)
	require.Error(t, err)

	var invalidErr *ErrInvalidTransition
	require.ErrorAs(t, err, &invalidErr)
	assert.Equal(t, model.RunStatusCompleted, invalidErr.From)
	assert.Equal(t, model.RunStatusRunning, invalidErr.To)
	assert.Contains(t, err.Error(), "completed -> running")
}

func TestTransition_Valid(t *testing.T) {
	require.NoError(t, Transition(model.RunStatusPending, model.RunStatusRunning))
	require.NoError(t, Transition(model.RunStatusPaused, model.RunStatusRunning))
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	all := []model.RunStatus{
		model.RunStatusPending,
		model.RunStatusRunning,
		model.RunStatusPaused,
		model.RunStatusCompleted,
		model.RunStatusFailed,
		model.RunStatusCancelled,
	}
	for _, from := range all {
		if !from.Terminal() {
			continue
		}
		for _, to := range all {
			assert.False(t, CanTransition(from, to), "%s -> %s should be rejected", from, to)
		}
	}
}
