package share

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a share record. Only the deleted state
// is persisted; expired and limit-reached are computed at read time.
type Status string

const (
	StatusActive       Status = "active"
	StatusExpired      Status = "expired"
	StatusLimitReached Status = "limit_reached"
	StatusDeleted      Status = "deleted"
)

// Record is the persisted policy and counter state for one shared payload.
// Absent optional fields decode to their zero value, which means "unset policy".
type Record struct {
	Code           string     `json:"code"`
	StoredName     string     `json:"stored_name"`
	DisplayName    string     `json:"display_name,omitempty"`
	PasswordSecret string     `json:"password_secret,omitempty"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	MaxDownloads   int        `json:"max_downloads,omitempty"`
	DownloadCount  int        `json:"download_count"`
	ContentType    string     `json:"content_type,omitempty"`
	Size           int64      `json:"size,omitempty"`
	Flagged        bool       `json:"flagged,omitempty"` // classified malicious under the warn policy
	Threat         string     `json:"threat,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	Deleted        bool       `json:"deleted,omitempty"` // tombstone; the code is never reissued
}

// Name returns the file name presented to the downloader.
func (r *Record) Name() string {
	if r.DisplayName != "" {
		return r.DisplayName
	}
	return r.StoredName
}

// HasPassword reports whether every access must supply a secret.
func (r *Record) HasPassword() bool {
	return r.PasswordSecret != ""
}

// Expired reports whether the record's expiry lies strictly before now.
func (r *Record) Expired(now time.Time) bool {
	return r.ExpiresAt != nil && now.After(*r.ExpiresAt)
}

// LimitReached reports whether the download ceiling has been hit.
func (r *Record) LimitReached() bool {
	return r.MaxDownloads > 0 && r.DownloadCount >= r.MaxDownloads
}

// StatusAt derives the record status at the given time. Payload presence is
// not known to the record; callers that checked storage should treat a
// missing payload as StatusDeleted.
func (r *Record) StatusAt(now time.Time) Status {
	switch {
	case r.Deleted:
		return StatusDeleted
	case r.Expired(now):
		return StatusExpired
	case r.LimitReached():
		return StatusLimitReached
	default:
		return StatusActive
	}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	c := *r
	if r.ExpiresAt != nil {
		t := *r.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

// Validate checks the structural invariants of a record read from storage.
func (r *Record) Validate() error {
	if r.Code == "" {
		return fmt.Errorf("record has empty code")
	}
	if r.StoredName == "" {
		return fmt.Errorf("record %s has empty stored name", r.Code)
	}
	if r.MaxDownloads < 0 {
		return fmt.Errorf("record %s has negative max downloads", r.Code)
	}
	if r.DownloadCount < 0 {
		return fmt.Errorf("record %s has negative download count", r.Code)
	}
	if r.MaxDownloads > 0 && r.DownloadCount > r.MaxDownloads {
		return fmt.Errorf("record %s download count %d exceeds max %d", r.Code, r.DownloadCount, r.MaxDownloads)
	}
	return nil
}

// PayloadRef identifies a payload already placed in the payload store.
type PayloadRef struct {
	StoredName  string
	ContentType string
	Size        int64
}
