package respond

import (
	"encoding/json"
	"net/http"
)

// Kinds of failure reported in ErrorBody.Kind.
const (
	KindNotFound   = "NotFound"
	KindForbidden  = "Forbidden"
	KindConflict   = "Conflict"
	KindValidation = "Validation"
	KindAuth       = "Unauthorized"
	KindInternal   = "Internal"
)

// ErrorBody is the failure envelope shared by the server and pkg/client.
type ErrorBody struct {
	Kind   string `json:"error_kind,omitempty"`
	Reason string `json:"reason,omitempty"`
	Error  string `json:"error"`
}

func JSON(w http.ResponseWriter, r *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

// Error writes a failure without a denial reason; the kind follows the
// status code.
func Error(w http.ResponseWriter, r *http.Request, code int, message string) {
	Failure(w, r, code, KindFor(code), "", message)
}

func KindFor(code int) string {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity, http.StatusMethodNotAllowed:
		return KindValidation
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		return KindForbidden
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConflict
	}
	return KindInternal
}

// Failure writes the typed envelope: kind always, reason only for denials.
func Failure(w http.ResponseWriter, r *http.Request, code int, kind, reason, message string) {
	JSON(w, r, code, ErrorBody{Kind: kind, Reason: reason, Error: message})
}
