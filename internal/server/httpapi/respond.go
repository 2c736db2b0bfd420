package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/scriptoria-app/scriptoria/internal/errs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the uniform rejection shape: a stable machine-readable
// reason plus a human message, with optional extra fields merged in.
func writeError(w http.ResponseWriter, code int, reason, msg string, extra map[string]any) {
	payload := map[string]any{
		"error":  msg,
		"reason": reason,
	}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, code, payload)
}

// writeServiceError translates the error taxonomy into HTTP statuses. Lockout
// responses always carry a numeric retry-after; risky-overwrite conflicts
// carry both sides' chapter and word counts so the client can render a
// confirmation prompt.
func writeServiceError(w http.ResponseWriter, err error) {
	var locked *errs.LockedError
	if errors.As(err, &locked) {
		w.Header().Set("Retry-After", strconv.Itoa(locked.RetryAfterSeconds()))
		writeError(w, http.StatusLocked, "locked",
			"account temporarily locked after repeated failures",
			map[string]any{"retry_after_seconds": locked.RetryAfterSeconds()})
		return
	}
	var conflict *errs.OverwriteConflictError
	if errors.As(err, &conflict) {
		writeError(w, http.StatusConflict, "risky_overwrite",
			"this save would remove substantial existing content; resubmit with force to confirm",
			map[string]any{
				"existing_chapters": conflict.ExistingChapters,
				"incoming_chapters": conflict.IncomingChapters,
				"existing_words":    conflict.ExistingWords,
				"incoming_words":    conflict.IncomingWords,
			})
		return
	}

	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	case errors.Is(err, errs.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthenticated", "missing, expired or revoked credentials", nil)
	case errors.Is(err, errs.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", "insufficient role or ownership", nil)
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "resource not found", nil)
	case errors.Is(err, errs.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "already_exists", "resource already exists", nil)
	case errors.Is(err, errs.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error(), nil)
	case errors.Is(err, errs.ErrUpstream):
		writeError(w, http.StatusBadGateway, "upstream_failure", "a dependent service failed", nil)
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error", nil)
	}
}

// errEmptyBody marks a request that carried no JSON body at all; handlers
// where the body is optional treat it as a non-error.
var errEmptyBody = errors.New("request body is required")

// decodeJSON reads the request body as strict JSON. Size limiting is the
// MaxBodyBytes middleware's job; the configured cap surfaces here as
// *http.MaxBytesError.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
