package httpx

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/matchops/leadsweep/internal/domain/model"
	apperrors "github.com/matchops/leadsweep/internal/errors"
)

// parseIntQuery returns the integer value of a query param or a default.
// It is tolerant of missing/invalid values.
func parseIntQuery(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// statusForError maps an application error code to an HTTP status.
func statusForError(err error) int {
	switch apperrors.GetCode(err) {
	case apperrors.ErrCodeValidation:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeConflict:
		return http.StatusConflict
	case apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// parseCursorQuery reads the keyset cursor from the cursor_created_at and
// cursor_item_id query params. Both must be present or both absent.
func parseCursorQuery(r *http.Request) (model.Checkpoint, error) {
	rawCreatedAt := r.URL.Query().Get("cursor_created_at")
	itemID := r.URL.Query().Get("cursor_item_id")

	if rawCreatedAt == "" && itemID == "" {
		return model.Checkpoint{}, nil
	}
	if rawCreatedAt == "" || itemID == "" {
		return model.Checkpoint{}, errors.New("cursor_created_at and cursor_item_id must be provided together")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, rawCreatedAt)
	if err != nil {
		return model.Checkpoint{}, errors.New("cursor_created_at must be an RFC 3339 timestamp")
	}
	return model.Checkpoint{ItemID: itemID, CreatedAt: createdAt}, nil
}

// writeServiceError translates a service-layer error into a JSON error response.
func writeServiceError(w http.ResponseWriter, errCode string, err error) {
	WriteError(w, ErrorParams{Code: statusForError(err), ErrCode: errCode, Err: err})
}
