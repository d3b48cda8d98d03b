package license

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrLicenseNotFound           = errors.New("license not found")
	ErrLicenseExpired            = errors.New("license expired")
	ErrAlreadyActivatedElsewhere = errors.New("license already activated on another device")
	ErrUnreachable               = errors.New("license server unreachable")
	ErrHardwareMismatch          = errors.New("license bound to different hardware")
	ErrInvalidLicenseKey         = errors.New("invalid license key format")
	ErrMalformedResponse         = errors.New("malformed license server response")
	ErrInvalidLicenseCode        = errors.New("invalid license code")
	ErrRejected                  = errors.New("license request rejected")
	ErrNotActivated              = errors.New("no license activated")
)

// ActivationErrorKind classifies a failed activation
type ActivationErrorKind string

const (
	ActivationNotFound                  ActivationErrorKind = "not_found"
	ActivationExpired                   ActivationErrorKind = "expired"
	ActivationAlreadyActivatedElsewhere ActivationErrorKind = "already_activated_elsewhere"
	ActivationUnreachable               ActivationErrorKind = "unreachable"
	ActivationInvalidKey                ActivationErrorKind = "invalid_key"
	ActivationInvalidCode               ActivationErrorKind = "invalid_code"
	ActivationRejected                  ActivationErrorKind = "rejected"
	ActivationStore                     ActivationErrorKind = "store"
)

var activationSentinels = map[ActivationErrorKind]error{
	ActivationNotFound:                  ErrLicenseNotFound,
	ActivationExpired:                   ErrLicenseExpired,
	ActivationAlreadyActivatedElsewhere: ErrAlreadyActivatedElsewhere,
	ActivationUnreachable:               ErrUnreachable,
	ActivationInvalidKey:                ErrInvalidLicenseKey,
	ActivationInvalidCode:               ErrInvalidLicenseCode,
	ActivationRejected:                  ErrRejected,
}

// ActivationError is returned by Activate, Reactivate and ImportLicenseCode
type ActivationError struct {
	Kind    ActivationErrorKind
	Message string // server message, if any
	Err     error
}

func newActivationError(kind ActivationErrorKind, message string, cause error) *ActivationError {
	return &ActivationError{Kind: kind, Message: message, Err: cause}
}

func (e *ActivationError) Error() string {
	msg := "activation failed: " + string(e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error kind
func (e *ActivationError) Is(target error) bool {
	sentinel, ok := activationSentinels[e.Kind]
	return ok && sentinel == target
}

// RejectionError is a well-formed refusal from the license server
type RejectionError struct {
	StatusCode int
	Code       string
	Message    string
	// Data is the license payload some rejections still carry
	Data *RemoteLicense
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("license server rejected request (status %d, code %q): %s", e.StatusCode, e.Code, e.Message)
}

// Is lets callers match rejections with the sentinel matching their code
func (e *RejectionError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == ErrLicenseNotFound
	case CodeExpired:
		return target == ErrLicenseExpired
	case CodeAlreadyActivated:
		return target == ErrAlreadyActivatedElsewhere
	}
	return target == ErrRejected
}
