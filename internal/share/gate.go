package share

import (
	"errors"
	"fmt"
	"time"
)

// Reason is the outcome of an access gate evaluation.
type Reason int

const (
	ReasonAllow Reason = iota
	ReasonNotFound
	ReasonGone
	ReasonExpired
	ReasonForbidden
	ReasonLimitReached
	ReasonRequiresConfirmation
)

var reasonNames = map[Reason]string{
	ReasonAllow:                "allow",
	ReasonNotFound:             "not_found",
	ReasonGone:                 "gone",
	ReasonExpired:              "expired",
	ReasonForbidden:            "forbidden",
	ReasonLimitReached:         "limit_reached",
	ReasonRequiresConfirmation: "requires_confirmation",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// Err returns the sentinel error for a denial reason, or nil for ReasonAllow.
func (r Reason) Err() error {
	switch r {
	case ReasonAllow:
		return nil
	case ReasonNotFound:
		return ErrNotFound
	case ReasonGone:
		return ErrGone
	case ReasonExpired:
		return ErrExpired
	case ReasonForbidden:
		return ErrForbidden
	case ReasonLimitReached:
		return ErrLimitReached
	case ReasonRequiresConfirmation:
		return ErrRequiresConfirmation
	default:
		return errors.New(r.String())
	}
}

// Request is the per-access context the gate evaluates against.
type Request struct {
	Password  string    // supplied secret; missing is the empty string
	Now       time.Time // evaluation time
	Confirmed bool      // caller went through the confirmation entry point
	Inflight  int       // transfers of this code currently streaming
}

// Verdict is the result of one gate evaluation.
type Verdict struct {
	Reason  Reason
	Code    string
	Record  *Record // nil when the code is unknown
	Warning string
}

// Allowed reports whether the download may proceed.
func (v Verdict) Allowed() bool {
	return v.Reason == ReasonAllow
}

// Err converts a denial into a *DenialError. It returns nil for an allow.
func (v Verdict) Err() error {
	if v.Allowed() {
		return nil
	}
	return &DenialError{Reason: v.Reason, Code: v.Code, Warning: v.Warning}
}

// Gate evaluates the ordered access checks for a share. It holds no state
// between calls; every access must be evaluated afresh.
type Gate struct {
	secrets SecretHasher
}

// NewGate creates a Gate that verifies passwords with the given hasher.
func NewGate(secrets SecretHasher) *Gate {
	return &Gate{secrets: secrets}
}

// Evaluate runs the checks in order and returns the first failing one.
// rec is nil when the code is unknown; payloadPresent reports whether the
// payload store still holds rec.StoredName.
func (g *Gate) Evaluate(code string, rec *Record, payloadPresent bool, req Request) Verdict {
	v := Verdict{Code: code, Record: rec}

	switch {
	case rec == nil || rec.Deleted:
		v.Record = nil
		v.Reason = ReasonNotFound
	case !payloadPresent:
		v.Reason = ReasonGone
	case rec.Expired(req.Now):
		v.Reason = ReasonExpired
	case rec.HasPassword() && !g.secrets.Verify(rec.PasswordSecret, req.Password):
		v.Reason = ReasonForbidden
	case rec.MaxDownloads > 0 && rec.DownloadCount+req.Inflight >= rec.MaxDownloads:
		v.Reason = ReasonLimitReached
	case rec.Flagged && !req.Confirmed:
		v.Reason = ReasonRequiresConfirmation
		v.Warning = confirmationWarning(rec)
	default:
		v.Reason = ReasonAllow
	}
	return v
}

func confirmationWarning(rec *Record) string {
	threat := rec.Threat
	if threat == "" {
		threat = "unspecified threat"
	}
	return fmt.Sprintf("%s was classified as malicious (%s); confirm to download it anyway", rec.Name(), threat)
}
