package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "bootlicense/internal/errors"
)

// MaxBodySize bounds the JSON bodies accepted by the loopback API
const MaxBodySize = 64 * 1024

var licenseKeyShape = regexp.MustCompile(`^(?i)BOOT-[A-Z0-9]+(-[A-Z0-9]+)*$`)

// Validator decodes request bodies and checks their struct tags
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the license_key rule registered
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("license_key", isLicenseKey)

	return &Validator{validate: v}
}

// DecodeAndValidate reads a JSON body into dst and validates it. The
// returned error is an *apierrors.APIError ready for the error handler.
func (v *Validator) DecodeAndValidate(r *http.Request, dst any) error {
	if r.Body == nil {
		return apierrors.New(http.StatusBadRequest, "INVALID_JSON", "Request body is required")
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.New(http.StatusBadRequest, "INVALID_JSON", "Request body is required")
		}
		return apierrors.NewWithDetails(http.StatusBadRequest, "INVALID_JSON",
			"Request body contains invalid JSON", err.Error())
	}

	return v.Struct(dst)
}

// Struct validates s and converts failures to validation errors
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}

	out := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatValidationError(fe),
		})
	}
	return apierrors.NewValidationErrors(out)
}

func formatValidationError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, param)
	case "base64":
		return fmt.Sprintf("%s must be base64 encoded", field)
	case "license_key":
		return fmt.Sprintf("%s must look like BOOT-XXXX-XXXX", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}

// isLicenseKey checks the shape of a key before it is normalized
func isLicenseKey(fl validator.FieldLevel) bool {
	return licenseKeyShape.MatchString(strings.TrimSpace(fl.Field().String()))
}
