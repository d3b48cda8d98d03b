package license

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"bootlicense/internal/apiclient"
)

const (
	pathActivate = "/api/licenses/activate"
	pathValidate = "/api/licenses/validate"
	pathCreate   = "/api/licenses/create"
)

// Error codes sent by the license server
const (
	CodeNotFound         = "license_not_found"
	CodeExpired          = "license_expired"
	CodeAlreadyActivated = "license_already_activated"
	CodeSuspended        = "license_suspended"
	CodeRevoked          = "license_revoked"
)

// CodeDateLayout is the expiration format used inside license codes
const CodeDateLayout = "2006-01-02 15:04:05"

// Authority is the remote license server
type Authority interface {
	Activate(ctx context.Context, req LicenseRequest) (*RemoteLicense, error)
	Validate(ctx context.Context, req LicenseRequest) (*RemoteLicense, error)
	Create(ctx context.Context, req CreateRequest) error
}

// LicenseRequest is the body of activate and validate calls
type LicenseRequest struct {
	LicenseKey string `json:"license_key"`
	HardwareID string `json:"hardware_id"`
	AppVersion string `json:"app_version"`
}

// CreateRequest registers a license decoded from a license code
type CreateRequest struct {
	LicenseKey           string   `json:"license_key"`
	ClientIdentification string   `json:"client_identification"`
	ClientName           string   `json:"client_name"`
	ExpirationDate       string   `json:"expiration_date"`
	Features             []string `json:"features"`
	HardwareID           string   `json:"hardware_id"`
	AppVersion           string   `json:"app_version"`
}

// RemoteLicense is the validated data block of a server answer
type RemoteLicense struct {
	LicenseKey           string
	ClientName           string
	ClientIdentification string
	ExpirationDate       time.Time
	Features             []string
	Status               Status
	DaysRemaining        int
}

type wireEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type wireLicense struct {
	LicenseKey           string   `json:"license_key"`
	ClientName           string   `json:"client_name"`
	ClientIdentification string   `json:"client_identification"`
	ExpirationDate       string   `json:"expiration_date"`
	Features             []string `json:"features"`
	Status               string   `json:"status"`
	DaysRemaining        int      `json:"days_remaining"`
}

// poster is the subset of *apiclient.Client used here
type poster interface {
	PostJSON(ctx context.Context, path string, body any) (*apiclient.Response, error)
}

// RemoteAuthority talks to the license server through the resilient client
type RemoteAuthority struct {
	client poster
}

// NewRemoteAuthority wraps an API client
func NewRemoteAuthority(client poster) *RemoteAuthority {
	return &RemoteAuthority{client: client}
}

// Activate binds a key to a hardware id
func (a *RemoteAuthority) Activate(ctx context.Context, req LicenseRequest) (*RemoteLicense, error) {
	env, err := a.call(ctx, pathActivate, req)
	if err != nil {
		return nil, err
	}
	return parseLicense(env.Data)
}

// Validate re-checks a key bound to a hardware id
func (a *RemoteAuthority) Validate(ctx context.Context, req LicenseRequest) (*RemoteLicense, error) {
	env, err := a.call(ctx, pathValidate, req)
	if err != nil {
		return nil, err
	}
	return parseLicense(env.Data)
}

// Create registers or updates a license on the server
func (a *RemoteAuthority) Create(ctx context.Context, req CreateRequest) error {
	_, err := a.call(ctx, pathCreate, req)
	return err
}

// call returns a successful envelope or a classified error: *RejectionError,
// ErrUnreachable, ErrMalformedResponse or the context error.
func (a *RemoteAuthority) call(ctx context.Context, path string, body any) (*wireEnvelope, error) {
	resp, err := a.client.PostJSON(ctx, path, body)
	if err != nil {
		return nil, classifyTransport(err)
	}

	var env wireEnvelope
	if err := json.Unmarshal(resp.Body, &env); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedResponse, path, err)
	}
	if !env.Success {
		return nil, rejection(resp.StatusCode, &env)
	}
	return &env, nil
}

func classifyTransport(err error) error {
	var apiErr *apiclient.Error
	switch {
	case apiclient.IsKind(err, apiclient.KindRejected) && errors.As(err, &apiErr):
		var env wireEnvelope
		if jsonErr := json.Unmarshal(apiErr.Body, &env); jsonErr != nil {
			return &RejectionError{StatusCode: apiErr.StatusCode, Message: truncate(string(apiErr.Body), 200)}
		}
		return rejection(apiErr.StatusCode, &env)
	case apiclient.IsKind(err, apiclient.KindCanceled):
		return err
	case apiclient.IsKind(err, apiclient.KindInvalid):
		return fmt.Errorf("license request failed: %w", err)
	default:
		return fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
}

func rejection(status int, env *wireEnvelope) *RejectionError {
	rej := &RejectionError{StatusCode: status, Code: env.Error, Message: env.Message}
	if lic, err := parseLicense(env.Data); err == nil {
		rej.Data = lic
	}
	return rej
}

func parseLicense(raw json.RawMessage) (*RemoteLicense, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("%w: missing data", ErrMalformedResponse)
	}

	var w wireLicense
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if w.LicenseKey == "" {
		return nil, fmt.Errorf("%w: missing license_key", ErrMalformedResponse)
	}

	expiration, err := parseTimestamp(w.ExpirationDate)
	if err != nil {
		return nil, fmt.Errorf("%w: expiration_date: %v", ErrMalformedResponse, err)
	}

	status := Status(strings.ToLower(w.Status))
	switch status {
	case StatusActive, StatusExpired, StatusSuspended, StatusRevoked:
	default:
		return nil, fmt.Errorf("%w: unknown status %q", ErrMalformedResponse, w.Status)
	}

	return &RemoteLicense{
		LicenseKey:           w.LicenseKey,
		ClientName:           w.ClientName,
		ClientIdentification: w.ClientIdentification,
		ExpirationDate:       expiration,
		Features:             normalizeFeatures(w.Features),
		Status:               status,
		DaysRemaining:        w.DaysRemaining,
	}, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	CodeDateLayout,
	"2006-01-02",
}

// parseTimestamp accepts ISO-8601 variants. Values without a zone are UTC.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
