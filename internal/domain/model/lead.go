package model

import "time"

// Lead is a procurement lead owned by the leads domain module. The sweep
// engine only reads leads and patches them through the narrow
// "apply accepted change" mutation exposed by the lead repository.
type Lead struct {
	ID        string `json:"id"         db:"id"`
	Title     string `json:"title"      db:"title"`
	Agency    string `json:"agency"     db:"agency"`
	SourceURL string `json:"source_url" db:"source_url"`

	// VerifiedAt is refreshed whenever a run checks the lead, whether or not
	// the URL changed.
	VerifiedAt *time.Time `json:"verified_at,omitempty" db:"verified_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
