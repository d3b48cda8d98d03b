package http

import (
	"time"

	"bootlicense/internal/license"
)

// RecordView is the client-facing shape of a license record. The key is
// masked.
type RecordView struct {
	LicenseKey           string         `json:"license_key"`
	ClientName           string         `json:"client_name"`
	ClientIdentification string         `json:"client_identification"`
	ExpirationDate       time.Time      `json:"expiration_date"`
	Features             []string       `json:"features"`
	Status               license.Status `json:"status"`
	LastValidation       time.Time      `json:"last_validation"`
	ValidationCount      int            `json:"validation_count"`
	ActivatedAt          time.Time      `json:"activated_at"`
}

func newRecordView(rec *license.Record) *RecordView {
	if rec == nil {
		return nil
	}
	return &RecordView{
		LicenseKey:           license.MaskLicenseKey(rec.LicenseKey),
		ClientName:           rec.ClientName,
		ClientIdentification: rec.ClientIdentification,
		ExpirationDate:       rec.ExpirationDate,
		Features:             rec.Features,
		Status:               rec.Status,
		LastValidation:       rec.LastValidation,
		ValidationCount:      rec.ValidationCount,
		ActivatedAt:          rec.ActivatedAt,
	}
}

// StatusResponse is returned by GET /status
type StatusResponse struct {
	State         license.State     `json:"state"`
	Valid         bool              `json:"valid"`
	Notice        license.Notice    `json:"notice"`
	License       *RecordView       `json:"license,omitempty"`
	DaysRemaining int               `json:"days_remaining"`
	GraceDeadline *time.Time        `json:"grace_deadline,omitempty"`
	HardwareID    string            `json:"hardware_id"`
	Features      []FeatureResponse `json:"features"`
}

func newStatusResponse(s license.Snapshot) StatusResponse {
	resp := StatusResponse{
		State:         s.State,
		Valid:         s.State.Valid(),
		Notice:        s.Notice,
		License:       newRecordView(s.Record),
		DaysRemaining: s.DaysRemaining,
		HardwareID:    s.HardwareID,
		Features:      featureViews(s),
	}
	if !s.GraceDeadline.IsZero() {
		d := s.GraceDeadline
		resp.GraceDeadline = &d
	}
	return resp
}

// featureViews lists every known feature and whether the snapshot grants it
func featureViews(s license.Snapshot) []FeatureResponse {
	known := license.KnownFeatures()
	out := make([]FeatureResponse, 0, len(known))
	for _, f := range known {
		out = append(out, FeatureResponse{
			Feature: string(f),
			Known:   true,
			Enabled: s.State.Valid() && s.Record.HasFeatureTag(string(f)),
		})
	}
	return out
}

// ActivationResponse is returned by POST /activate and POST /import
type ActivationResponse struct {
	Success   bool           `json:"success"`
	Message   string         `json:"message"`
	License   *RecordView    `json:"license"`
	Status    StatusResponse `json:"status"`
	TraceID   string         `json:"trace_id"`
	Timestamp time.Time      `json:"timestamp"`
}

// ValidationResponse is returned by POST /validate
type ValidationResponse struct {
	Outcome       license.OutcomeKind `json:"outcome"`
	License       *RecordView         `json:"license,omitempty"`
	GraceDeadline *time.Time          `json:"grace_deadline,omitempty"`
	Cause         string              `json:"cause,omitempty"`
	Status        StatusResponse      `json:"status"`
}

// FeatureResponse is returned by GET /features/{tag}
type FeatureResponse struct {
	Feature string `json:"feature"`
	Known   bool   `json:"known"`
	Enabled bool   `json:"enabled"`
}
