package data

import "errors"

// Shared sentinel errors for data-layer repositories.
var (
	// ErrRunNotFound is returned when a run does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunNotDeletable is returned when deleting a run that is not terminal.
	ErrRunNotDeletable = errors.New("run cannot be deleted (must be completed, failed, or cancelled)")
	// ErrRunIDRequired is returned when a run id argument is empty.
	ErrRunIDRequired = errors.New("run_id is required")

	// ErrLeadNotFound is returned when a lead does not exist.
	ErrLeadNotFound = errors.New("lead not found")
	// ErrDocumentNotFound is returned when a document does not exist.
	ErrDocumentNotFound = errors.New("document not found")
)
