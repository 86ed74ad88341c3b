package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/mail"
	"strings"

	"github.com/sandeepkv93/icc-admin-auth/internal/http/response"
)

// decodeJSON reads a single JSON object and rejects unknown fields. It writes
// the 400 itself and reports false on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		msg := "invalid request body"
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			response.Error(w, r, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large", nil)
			return false
		}
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", msg, nil)
		return false
	}
	if dec.More() {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request body must be a single JSON object", nil)
		return false
	}
	return true
}

type fieldErrors map[string]string

func (f fieldErrors) require(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = "is required"
	}
}

func (f fieldErrors) email(field, value string) {
	if strings.TrimSpace(value) == "" {
		f[field] = "is required"
		return
	}
	if _, err := mail.ParseAddress(value); err != nil {
		f[field] = "must be a valid email address"
	}
}

func (f fieldErrors) maxLen(field, value string, n int) {
	if len(value) > n {
		f[field] = "is too long"
	}
}

// write emits a 400 with field details when any check failed.
func (f fieldErrors) write(w http.ResponseWriter, r *http.Request) bool {
	if len(f) == 0 {
		return false
	}
	response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "invalid request", map[string]any{"fields": f})
	return true
}
