package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLinkAssessment_Score(t *testing.T) {
	tests := []struct {
		name       string
		assessment LinkAssessment
		want       float64
	}{
		{"all false", LinkAssessment{}, 0},
		{
			"all true",
			LinkAssessment{Accessible: true, StructuralMatch: true, ContentMatch: true, Specific: true},
			1.0,
		},
		{"accessible only", LinkAssessment{Accessible: true}, 0.40},
		{"structural only", LinkAssessment{StructuralMatch: true}, 0.20},
		{"content only", LinkAssessment{ContentMatch: true}, 0.25},
		{"specific only", LinkAssessment{Specific: true}, 0.15},
		{
			"accessible and content",
			LinkAssessment{Accessible: true, ContentMatch: true},
			0.65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.assessment.Score(), 1e-9)
		})
	}
}

func TestLinkAssessment_ScoreOrdering(t *testing.T) {
	// An inaccessible link with every other signal never beats an accessible
	// link that also matches content.
	dead := LinkAssessment{StructuralMatch: true, ContentMatch: true, Specific: true}
	live := LinkAssessment{Accessible: true, ContentMatch: true}
	assert.Greater(t, live.Score(), dead.Score())
}
