package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"share-go/internal/share"
)

// Machine-readable error codes sent in error bodies.
const (
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNotFound             = "NOT_FOUND"
	CodeGone                 = "GONE"
	CodeExpired              = "EXPIRED"
	CodeForbidden            = "FORBIDDEN"
	CodeLimitReached         = "LIMIT_REACHED"
	CodeConfirmationRequired = "CONFIRMATION_REQUIRED"
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeFileTooLarge         = "FILE_TOO_LARGE"
	CodeRejected             = "REJECTED_PAYLOAD"
	CodeScannerUnavailable   = "SCANNER_UNAVAILABLE"
	CodeInternalError        = "INTERNAL_ERROR"
)

// errorBody is the JSON body of every error response:
// {"error": {"code": "...", "message": "..."}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Warning    string `json:"warning,omitempty"`
	ConfirmURL string `json:"confirm_url,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// denialStatus maps a gate reason to its HTTP status and error code.
// A missing payload answers like an unknown code.
func denialStatus(reason share.Reason) (int, string) {
	switch reason {
	case share.ReasonNotFound:
		return http.StatusNotFound, CodeNotFound
	case share.ReasonGone:
		return http.StatusNotFound, CodeGone
	case share.ReasonExpired:
		return http.StatusGone, CodeExpired
	case share.ReasonForbidden:
		return http.StatusForbidden, CodeForbidden
	case share.ReasonLimitReached:
		return http.StatusTooManyRequests, CodeLimitReached
	case share.ReasonRequiresConfirmation:
		return http.StatusConflict, CodeConfirmationRequired
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}

var denialMessages = map[share.Reason]string{
	share.ReasonNotFound:             "Invalid code",
	share.ReasonGone:                 "File gone",
	share.ReasonExpired:              "Expired",
	share.ReasonForbidden:            "Wrong password",
	share.ReasonLimitReached:         "Too many downloads",
	share.ReasonRequiresConfirmation: "File flagged as malicious",
}

// uploadStatus maps a per-file upload failure to its HTTP status and error code.
func uploadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, share.ErrRejectedPayload):
		return http.StatusUnprocessableEntity, CodeRejected
	case errors.Is(err, share.ErrClassifierUnavailable):
		return http.StatusServiceUnavailable, CodeScannerUnavailable
	case errors.Is(err, share.ErrInvalidPolicy):
		return http.StatusBadRequest, CodeValidationError
	default:
		return http.StatusInternalServerError, CodeInternalError
	}
}
