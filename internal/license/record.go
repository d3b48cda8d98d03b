package license

import (
	"math"
	"slices"
	"strings"
	"time"
)

// Status is the server-side status of a license
type Status string

const (
	StatusActive    Status = "active"
	StatusExpired   Status = "expired"
	StatusSuspended Status = "suspended"
	StatusRevoked   Status = "revoked"
)

// Record is the persisted license. ExpirationDate is only ever taken from a
// server response.
type Record struct {
	LicenseKey           string    `json:"license_key"`
	ClientName           string    `json:"client_name"`
	ClientIdentification string    `json:"client_identification"`
	ExpirationDate       time.Time `json:"expiration_date"`
	Features             []string  `json:"features"`
	Status               Status    `json:"status"`
	HardwareID           string    `json:"hardware_id"`
	LastValidation       time.Time `json:"last_validation"`
	ValidationCount      int       `json:"validation_count"`
	ActivatedAt          time.Time `json:"activated_at"`
}

// Clone returns a deep copy
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Features = slices.Clone(r.Features)
	return &c
}

// DaysRemaining is the number of started days until expiration, never
// negative.
func (r *Record) DaysRemaining(now time.Time) int {
	if r == nil {
		return 0
	}
	left := r.ExpirationDate.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// HasFeatureTag reports whether tag is in the record's feature set
func (r *Record) HasFeatureTag(tag string) bool {
	if r == nil || tag == "" {
		return false
	}
	return slices.Contains(r.Features, tag)
}

// GraceDeadline is the last instant the record may be served without a
// successful server contact.
func (r *Record) GraceDeadline(grace time.Duration) time.Time {
	return r.LastValidation.Add(grace)
}

// normalizeFeatures returns tags trimmed, deduplicated and sorted
func normalizeFeatures(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
