package share

import (
	"fmt"
	"strings"
	"time"
)

// Policy is the access policy submitted with an upload. One policy applies
// to every file of a batch.
type Policy struct {
	ExpiresIn    *time.Duration // nil means never expires; may be negative
	Password     string         // empty means no password
	MaxDownloads int            // 0 means unlimited
	DisplayName  string         // empty means use the stored name
}

// Validate rejects policies that cannot be represented on a record.
func (p Policy) Validate() error {
	if p.MaxDownloads < 0 {
		return fmt.Errorf("%w: max downloads must be positive, got %d", ErrInvalidPolicy, p.MaxDownloads)
	}
	if strings.ContainsAny(p.DisplayName, "/\\\x00") {
		return fmt.Errorf("%w: display name must not contain path separators", ErrInvalidPolicy)
	}
	return nil
}

// expiryUnits maps the upload form's unit names to durations.
var expiryUnits = map[string]time.Duration{
	"minutes": time.Minute,
	"hours":   time.Hour,
	"days":    24 * time.Hour,
	"weeks":   7 * 24 * time.Hour,
	"months":  30 * 24 * time.Hour,
	"years":   365 * 24 * time.Hour,
}

// ParseExpiry converts an amount and unit name into a duration. An unknown
// or empty unit is treated as minutes.
func ParseExpiry(amount int, unit string) time.Duration {
	d, ok := expiryUnits[strings.ToLower(strings.TrimSpace(unit))]
	if !ok {
		d = time.Minute
	}
	return time.Duration(amount) * d
}

// template is the part of a record computed once per policy submission.
type template struct {
	displayName    string
	passwordSecret string
	expiresAt      *time.Time
	maxDownloads   int
	createdAt      time.Time
}

func newTemplate(p Policy, now time.Time, secrets SecretHasher) (*template, error) {
	t := &template{
		displayName:  p.DisplayName,
		maxDownloads: p.MaxDownloads,
		createdAt:    now,
	}
	if p.ExpiresIn != nil {
		at := now.Add(*p.ExpiresIn)
		t.expiresAt = &at
	}
	if p.Password != "" {
		secret, err := secrets.Hash(p.Password)
		if err != nil {
			return nil, fmt.Errorf("hashing password: %w", err)
		}
		t.passwordSecret = secret
	}
	return t, nil
}

func (t *template) record(code string, ref PayloadRef) *Record {
	rec := &Record{
		Code:           code,
		StoredName:     ref.StoredName,
		DisplayName:    t.displayName,
		PasswordSecret: t.passwordSecret,
		MaxDownloads:   t.maxDownloads,
		ContentType:    ref.ContentType,
		Size:           ref.Size,
		CreatedAt:      t.createdAt,
	}
	if t.expiresAt != nil {
		at := *t.expiresAt
		rec.ExpiresAt = &at
	}
	return rec
}
