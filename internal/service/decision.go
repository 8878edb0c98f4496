package service

import (
	"time"

	"github.com/matchops/leadsweep/internal/core"
	"github.com/matchops/leadsweep/internal/domain/model"
)

// DefaultFreshnessWindow is how long a verified lead stays exempt from
// re-verification.
const DefaultFreshnessWindow = 7 * 24 * time.Hour

// Decision is the per-item verdict: which outcome to record and what, if
// anything, to write back to the domain record.
type Decision struct {
	Outcome   model.Outcome
	NewValue  *string
	Rationale *string
	Error     *string

	Before *model.LinkAssessment
	After  *model.LinkAssessment

	// RefreshVerifiedAt requests a verified-at stamp even without a URL change.
	RefreshVerifiedAt bool
}

// VerifyInput carries everything DecideVerify needs for one lead.
type VerifyInput struct {
	Lead   *model.Lead
	Result *core.VerifyResult
	// Err is the adapter error, when the external call failed.
	Err             error
	Now             time.Time
	FreshnessWindow time.Duration
}

// LeadIsFresh reports whether the lead was verified recently enough to skip
// the external call entirely.
func LeadIsFresh(lead *model.Lead, now time.Time, window time.Duration) bool {
	if lead == nil || lead.VerifiedAt == nil {
		return false
	}
	if window <= 0 {
		window = DefaultFreshnessWindow
	}
	return now.Sub(*lead.VerifiedAt) < window
}

// DecideVerify applies the quality heuristic for one lead:
//
//   - verified within the freshness window → skipped (no external call made)
//   - adapter error → failed, error text recorded
//   - no candidate produced → skipped
//   - candidate accessible and strictly better than current → updated
//   - otherwise, exact ties included → no_change, verified-at refreshed
func DecideVerify(in VerifyInput) Decision {
	if LeadIsFresh(in.Lead, in.Now, in.FreshnessWindow) {
		rationale := "verified within freshness window"
		return Decision{Outcome: model.OutcomeSkipped, Rationale: &rationale}
	}

	if in.Err != nil {
		msg := in.Err.Error()
		return Decision{Outcome: model.OutcomeFailed, Error: &msg}
	}

	if in.Result == nil || in.Result.CandidateURL == "" {
		rationale := nonEmpty(in.Result, "no candidate URL produced")
		return Decision{Outcome: model.OutcomeSkipped, Rationale: &rationale}
	}

	current := in.Result.Current
	candidate := in.Result.Candidate
	d := Decision{
		Before:    &current,
		After:     &candidate,
		Rationale: stringPtrIfSet(in.Result.Rationale),
	}

	sameURL := in.Lead != nil && in.Result.CandidateURL == in.Lead.SourceURL
	if !sameURL && candidate.Accessible && candidate.Score() > current.Score() {
		d.Outcome = model.OutcomeUpdated
		url := in.Result.CandidateURL
		d.NewValue = &url
		return d
	}

	d.Outcome = model.OutcomeNoChange
	d.RefreshVerifiedAt = true
	return d
}

// DecideEmbed applies the heuristic for one document: fresh embeddings are
// skipped, adapter errors fail the item, and everything else is an update.
func DecideEmbed(doc *model.Document, modelTag string, err error) Decision {
	if doc != nil && !doc.NeedsEmbedding(modelTag) {
		rationale := "embedding is current for model and content hash"
		return Decision{Outcome: model.OutcomeSkipped, Rationale: &rationale}
	}
	if err != nil {
		msg := err.Error()
		return Decision{Outcome: model.OutcomeFailed, Error: &msg}
	}
	value := modelTag
	return Decision{Outcome: model.OutcomeUpdated, NewValue: &value}
}

func nonEmpty(res *core.VerifyResult, fallback string) string {
	if res != nil && res.Rationale != "" {
		return res.Rationale
	}
	return fallback
}

func stringPtrIfSet(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
