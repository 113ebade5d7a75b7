package share

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("share not found")
	ErrGone                  = errors.New("shared file is gone")
	ErrExpired               = errors.New("share has expired")
	ErrForbidden             = errors.New("wrong password")
	ErrLimitReached          = errors.New("download limit reached")
	ErrRequiresConfirmation  = errors.New("download requires confirmation")
	ErrRejectedPayload       = errors.New("payload rejected by classifier")
	ErrStoreCorrupt          = errors.New("share store is corrupt")
	ErrClassifierUnavailable = errors.New("classifier unavailable")
	ErrCodeTaken             = errors.New("share code already in use")
	ErrPayloadMissing        = errors.New("payload not found")
	ErrInvalidPolicy         = errors.New("invalid share policy")
)

// DenialError is returned when the access gate refuses a request. It matches
// the sentinel error of its reason with errors.Is.
type DenialError struct {
	Reason  Reason
	Code    string
	Warning string // set for ReasonRequiresConfirmation
}

func (e *DenialError) Error() string {
	if e.Warning != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Reason.Err(), e.Warning)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Reason.Err())
}

func (e *DenialError) Unwrap() error {
	return e.Reason.Err()
}

// ReasonOf extracts the gate reason from an error returned by the registry.
// It reports false for errors that are not gate denials.
func ReasonOf(err error) (Reason, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return ReasonAllow, false
}
