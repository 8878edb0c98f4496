package model

// LinkAssessment is the structured quality tuple computed for a lead URL,
// independently for the pre-existing value and any freshly obtained candidate.
type LinkAssessment struct {
	// Accessible reports whether the URL resolved to a reachable page.
	Accessible bool `json:"accessible"`
	// StructuralMatch reports whether the page structure matches a procurement listing.
	StructuralMatch bool `json:"structural_match"`
	// ContentMatch reports whether the page content matches the lead's subject.
	ContentMatch bool `json:"content_match"`
	// Specific reports whether the URL points at the specific opportunity rather
	// than a portal landing page.
	Specific bool `json:"specific"`
}

// Weights for the derived scalar score. Accessibility dominates because an
// unreachable link is useless regardless of how well it once matched.
const (
	weightAccessible = 0.40
	weightStructural = 0.20
	weightContent    = 0.25
	weightSpecific   = 0.15
)

// Score derives the scalar quality score in [0, 1] used by the decision
// heuristic. Equal scores never trigger an update.
func (a LinkAssessment) Score() float64 {
	var s float64
	if a.Accessible {
		s += weightAccessible
	}
	if a.StructuralMatch {
		s += weightStructural
	}
	if a.ContentMatch {
		s += weightContent
	}
	if a.Specific {
		s += weightSpecific
	}
	return s
}
