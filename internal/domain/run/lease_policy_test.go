package run

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLeasePolicy(t *testing.T) {
	_, err := NewLeasePolicy(0)
	require.ErrorIs(t, err, ErrInvalidDefaultLease)

	_, err = NewLeasePolicy(-time.Second)
	require.ErrorIs(t, err, ErrInvalidDefaultLease)

	p, err := NewLeasePolicy(30 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, p.Default())
}

func TestLeasePolicy_Resolve(t *testing.T) {
	p, err := NewLeasePolicy(60 * time.Second)
	require.NoError(t, err)

	tests := []struct {
		name        string
		request     time.Duration
		wantSeconds int
		wantSource  LeaseSource
	}{
		{"explicit", 45 * time.Second, 45, LeaseSourceExplicit},
		{"explicit truncates to seconds", 1500 * time.Millisecond, 1, LeaseSourceExplicit},
		{"zero uses default", 0, 60, LeaseSourceDefault},
		{"sub-second clamps", 200 * time.Millisecond, 1, LeaseSourceClamped},
		{"negative clamps", -time.Second, 1, LeaseSourceClamped},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := p.Resolve(tt.request)
			assert.Equal(t, tt.wantSeconds, decision.Seconds)
			assert.Equal(t, tt.wantSource, decision.Source)
			assert.Equal(t, tt.request, decision.Requested)
			assert.Equal(t, tt.wantSource == LeaseSourceClamped, decision.Clamped())
		})
	}
}

func TestLeasePolicy_NilReceiver(t *testing.T) {
	var p *LeasePolicy
	assert.Equal(t, time.Duration(0), p.Default())

	decision := p.Resolve(10 * time.Second)
	assert.Equal(t, LeaseSourceDefault, decision.Source)
	assert.Zero(t, decision.Seconds)
}
