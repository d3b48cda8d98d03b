package errors

import (
	"context"
	"errors"
	"net/http"

	"bootlicense/internal/license"
)

type licenseProblem struct {
	status int
	typ    string
	title  string
	detail string
	code   string
}

var activationProblems = map[license.ActivationErrorKind]licenseProblem{
	license.ActivationInvalidKey: {
		http.StatusBadRequest, TypeLicenseInvalidKey, "Invalid License Key",
		"License key must look like BOOT-XXXX-XXXX-XXXX.", "INVALID_LICENSE_KEY",
	},
	license.ActivationInvalidCode: {
		http.StatusBadRequest, TypeLicenseInvalidCode, "Invalid License Code",
		"The license code could not be decrypted or is incomplete.", "INVALID_LICENSE_CODE",
	},
	license.ActivationNotFound: {
		http.StatusNotFound, TypeLicenseNotFound, "License Not Found",
		"The license key is not registered.", "LICENSE_NOT_FOUND",
	},
	license.ActivationExpired: {
		http.StatusForbidden, TypeLicenseExpired, "License Expired",
		"Your license has expired. Please renew to continue.", "LICENSE_EXPIRED",
	},
	license.ActivationAlreadyActivatedElsewhere: {
		http.StatusConflict, TypeLicenseAlreadyActive, "License Already Activated",
		"This license is already activated on another device. Contact support to transfer it.", "LICENSE_ALREADY_ACTIVATED",
	},
	license.ActivationUnreachable: {
		http.StatusServiceUnavailable, TypeLicenseUnreachable, "License Server Unreachable",
		"Unable to connect to the license server. Please check your connection.", "LICENSE_SERVER_UNREACHABLE",
	},
	license.ActivationRejected: {
		http.StatusUnprocessableEntity, TypeLicenseRejected, "License Activation Rejected",
		"The license server refused the request.", "ACTIVATION_REJECTED",
	},
	license.ActivationStore: {
		http.StatusInternalServerError, TypeLicenseStore, "License Not Saved",
		"The license was accepted but could not be saved on this machine.", "LICENSE_STORE_FAILED",
	},
}

// MapLicenseError maps license engine errors to problem details. Anything
// unrecognised becomes a 500 without leaking the cause.
func MapLicenseError(err error, instance string) *ProblemDetails {
	var p licenseProblem

	var aerr *license.ActivationError
	switch {
	case errors.As(err, &aerr):
		p = activationProblems[aerr.Kind]
		if p.status == 0 {
			p = activationProblems[license.ActivationRejected]
		}
	case errors.Is(err, license.ErrNotActivated):
		p = licenseProblem{http.StatusPreconditionRequired, TypeLicenseNotActivated, "License Not Activated",
			"No license has been activated. Please activate a license to continue.", "LICENSE_NOT_ACTIVATED"}
	case errors.Is(err, license.ErrHardwareMismatch):
		p = licenseProblem{http.StatusForbidden, TypeLicenseHardwareChange, "License Hardware Mismatch",
			"This license is registered to a different device.", "LICENSE_HARDWARE_MISMATCH"}
	case errors.Is(err, license.ErrMalformedResponse):
		p = licenseProblem{http.StatusBadGateway, TypeLicenseBadResponse, "Bad License Server Response",
			"The license server sent an answer that could not be understood.", "LICENSE_SERVER_BAD_RESPONSE"}
	case errors.Is(err, license.ErrUnreachable):
		p = activationProblems[license.ActivationUnreachable]
	case errors.Is(err, license.ErrRejected):
		p = licenseProblem{http.StatusUnprocessableEntity, TypeLicenseRejected, "License Request Rejected",
			"The license server refused the request.", "LICENSE_REJECTED"}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		p = licenseProblem{http.StatusGatewayTimeout, TypeTimeout, "Request Timeout",
			"The request took too long to process and was cancelled.", "TIMEOUT"}
	default:
		p = licenseProblem{http.StatusInternalServerError, TypeInternal, "Internal Server Error",
			"An unexpected error occurred while processing your request.", "INTERNAL_ERROR"}
	}

	problem := NewProblemDetails(p.status, p.typ, p.title, p.detail, instance).
		WithExtension("error_code", p.code)
	if aerr != nil && aerr.Message != "" {
		problem.WithExtension("server_message", aerr.Message)
	}
	return problem
}
