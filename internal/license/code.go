package license

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"bootlicense/internal/security"
)

// licenseCodePayload is the plaintext of a distributed license code
type licenseCodePayload struct {
	LicenseKey           string   `json:"license_key"`
	ClientIdentification string   `json:"client_identification"`
	ClientName           string   `json:"client_name"`
	ExpirationDate       string   `json:"expiration_date"`
	Features             []string `json:"features"`
}

func (p *licenseCodePayload) validate() error {
	switch {
	case p.LicenseKey == "":
		return errors.New("missing license_key")
	case p.ClientIdentification == "":
		return errors.New("missing client_identification")
	case p.ClientName == "":
		return errors.New("missing client_name")
	case p.ExpirationDate == "":
		return errors.New("missing expiration_date")
	case p.Features == nil:
		return errors.New("missing features")
	}
	return nil
}

// ImportLicenseCode registers the license carried by an encrypted code with
// the server and then activates it on this machine.
func (e *Engine) ImportLicenseCode(ctx context.Context, code string) (*Record, error) {
	if e.codeKey == nil {
		return nil, newActivationError(ActivationInvalidCode, "license codes are not enabled", nil)
	}

	payload, expiration, err := e.decodeCode(code)
	if err != nil {
		return nil, err
	}
	if !expiration.After(e.clock()) {
		return nil, newActivationError(ActivationExpired, "license code expired on "+payload.ExpirationDate, nil)
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	err = e.authority.Create(ctx, CreateRequest{
		LicenseKey:           payload.LicenseKey,
		ClientIdentification: payload.ClientIdentification,
		ClientName:           payload.ClientName,
		ExpirationDate:       payload.ExpirationDate,
		Features:             normalizeFeatures(payload.Features),
		HardwareID:           e.hardware.HardwareID(),
		AppVersion:           e.appVersion,
	})
	if err != nil {
		aerr := activationErrorFrom(err)
		e.logAction(ctx, slog.LevelWarn, "import", "License code registration failed",
			append(keyAttrs(payload.LicenseKey), slog.String("kind", string(aerr.Kind)))...)
		return nil, aerr
	}

	e.logAction(ctx, slog.LevelInfo, "import", "License code registered", keyAttrs(payload.LicenseKey)...)
	return e.activateLocked(ctx, payload.LicenseKey)
}

func (e *Engine) decodeCode(code string) (*licenseCodePayload, time.Time, error) {
	plaintext, err := security.DecodeLicenseCode(e.codeKey, code)
	if err != nil {
		return nil, time.Time{}, newActivationError(ActivationInvalidCode, "", err)
	}

	var p licenseCodePayload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, time.Time{}, newActivationError(ActivationInvalidCode, "payload is not json", err)
	}
	if err := p.validate(); err != nil {
		return nil, time.Time{}, newActivationError(ActivationInvalidCode, err.Error(), nil)
	}

	key, err := normalizeKey(p.LicenseKey)
	if err != nil {
		return nil, time.Time{}, newActivationError(ActivationInvalidCode, "bad license key", ErrInvalidLicenseKey)
	}
	p.LicenseKey = key

	expiration, err := time.ParseInLocation(CodeDateLayout, strings.TrimSpace(p.ExpirationDate), time.UTC)
	if err != nil {
		return nil, time.Time{}, newActivationError(ActivationInvalidCode, "bad expiration_date", err)
	}
	return &p, expiration, nil
}
