// Package httpx carries the small HTTP vocabulary shared by every handler:
// RFC 7807 problem responses and JSON encode/decode helpers.
package httpx

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// Problem type URIs surfaced in problem+json responses.
const (
	ProblemTypeValidation   = "https://castellan.io/problems/validation-error"
	ProblemTypeUnauthorized = "https://castellan.io/problems/unauthorized"
	ProblemTypeForbidden    = "https://castellan.io/problems/forbidden"
	ProblemTypeNotFound     = "https://castellan.io/problems/not-found"
	ProblemTypeConflict     = "https://castellan.io/problems/conflict"
	ProblemTypeGone         = "https://castellan.io/problems/gone"
	ProblemTypeInternal     = "https://castellan.io/problems/internal-error"
)

// Problem is an RFC 7807 response body.
type Problem struct {
	Type   string              `json:"type"`
	Title  string              `json:"title"`
	Status int                 `json:"status"`
	Detail string              `json:"detail,omitempty"`
	Errors map[string][]string `json:"errors,omitempty"`
}

// WriteJSON encodes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem encodes a problem+json response.
func WriteProblem(w http.ResponseWriter, problem Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(problem.Status)
	_ = json.NewEncoder(w).Encode(problem)
}

// WriteError is the shorthand for a problem without field errors.
func WriteError(w http.ResponseWriter, status int, problemType, title, detail string) {
	WriteProblem(w, Problem{Type: problemType, Title: title, Status: status, Detail: detail})
}

// WriteValidation reports a 400 with per-field errors.
func WriteValidation(w http.ResponseWriter, fields map[string][]string) {
	WriteProblem(w, Problem{
		Type:   ProblemTypeValidation,
		Title:  "Validation failed",
		Status: http.StatusBadRequest,
		Errors: fields,
	})
}

// WriteInternal logs the error and reports an opaque 500.
func WriteInternal(w http.ResponseWriter, logger *zap.Logger, err error) {
	logger.Error("internal error", zap.Error(err))
	WriteError(w, http.StatusInternalServerError, ProblemTypeInternal,
		"Internal server error", "an unexpected error occurred")
}

// Decode parses the request body as JSON into v.
func Decode(r *http.Request, v any) error {
	defer r.Body.Close() // nolint:errcheck
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
