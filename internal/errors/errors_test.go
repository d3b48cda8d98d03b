package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bootlicense/internal/license"
)

func TestAPIError_Render(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/test", nil)

	require.NoError(t, render.Render(w, r, ErrRateLimitExceeded))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)

	var body APIError
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.ErrorCode)
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	p := NewProblemDetails(http.StatusConflict, TypeLicenseAlreadyActive, "License Already Activated", "", "/api/license/activate").
		WithExtension("trace_id", "abc").
		WithExtension("status", 999)

	raw, err := json.Marshal(p)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, "abc", got["trace_id"])
	assert.Equal(t, float64(http.StatusConflict), got["status"], "extensions never override standard fields")
	assert.NotContains(t, got, "detail")
	assert.Equal(t, "/api/license/activate", got["instance"])
}

func TestMapLicenseError(t *testing.T) {
	activation := func(kind license.ActivationErrorKind) error {
		return &license.ActivationError{Kind: kind}
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid key", activation(license.ActivationInvalidKey), http.StatusBadRequest, "INVALID_LICENSE_KEY"},
		{"invalid code", activation(license.ActivationInvalidCode), http.StatusBadRequest, "INVALID_LICENSE_CODE"},
		{"not found", activation(license.ActivationNotFound), http.StatusNotFound, "LICENSE_NOT_FOUND"},
		{"expired", activation(license.ActivationExpired), http.StatusForbidden, "LICENSE_EXPIRED"},
		{"elsewhere", activation(license.ActivationAlreadyActivatedElsewhere), http.StatusConflict, "LICENSE_ALREADY_ACTIVATED"},
		{"unreachable", activation(license.ActivationUnreachable), http.StatusServiceUnavailable, "LICENSE_SERVER_UNREACHABLE"},
		{"rejected", activation(license.ActivationRejected), http.StatusUnprocessableEntity, "ACTIVATION_REJECTED"},
		{"store", activation(license.ActivationStore), http.StatusInternalServerError, "LICENSE_STORE_FAILED"},
		{"wrapped activation error", fmt.Errorf("import: %w", activation(license.ActivationExpired)), http.StatusForbidden, "LICENSE_EXPIRED"},
		{"not activated", license.ErrNotActivated, http.StatusPreconditionRequired, "LICENSE_NOT_ACTIVATED"},
		{"malformed", fmt.Errorf("validate: %w", license.ErrMalformedResponse), http.StatusBadGateway, "LICENSE_SERVER_BAD_RESPONSE"},
		{"unreachable sentinel", license.ErrUnreachable, http.StatusServiceUnavailable, "LICENSE_SERVER_UNREACHABLE"},
		{"unknown rejection", &license.RejectionError{StatusCode: 400, Code: "quota"}, http.StatusUnprocessableEntity, "LICENSE_REJECTED"},
		{"timeout", context.DeadlineExceeded, http.StatusGatewayTimeout, "TIMEOUT"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := MapLicenseError(tt.err, "/api/license/activate")
			assert.Equal(t, tt.wantStatus, p.Status)
			assert.Equal(t, tt.wantCode, p.Extensions["error_code"])
			assert.Equal(t, "/api/license/activate", p.Instance)
			assert.NotContains(t, p.Detail, "boom")
		})
	}
}

func TestMapLicenseErrorServerMessage(t *testing.T) {
	err := &license.ActivationError{Kind: license.ActivationNotFound, Message: "License not found"}
	p := MapLicenseError(err, "")
	assert.Equal(t, "License not found", p.Extensions["server_message"])
}

func TestErrorHandler_HandleError(t *testing.T) {
	h := NewErrorHandler(nil, false)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantType   string
	}{
		{"api error", InvalidRequestWithError(errors.New("bad")), http.StatusBadRequest, TypeValidation},
		{"problem", NewProblemDetails(http.StatusTeapot, "/errors/teapot", "Teapot", "", ""), http.StatusTeapot, "/errors/teapot"},
		{"license error", &license.ActivationError{Kind: license.ActivationExpired}, http.StatusForbidden, TypeLicenseExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/license/activate", nil)
			var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				h.HandleError(w, r, tt.err)
			})
			middleware.RequestID(handler).ServeHTTP(w, r)

			assert.Equal(t, tt.wantStatus, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tt.wantType, body["type"])
			assert.NotEmpty(t, body["trace_id"])
		})
	}
}

func TestErrorHandler_Recoverer(t *testing.T) {
	h := NewErrorHandler(nil, true)
	panicky := h.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))

	w := httptest.NewRecorder()
	panicky.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/license/status", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "kaboom", body["panic"])
}

func TestErrorHandler_NotFoundAndMethod(t *testing.T) {
	h := NewErrorHandler(nil, false)

	w := httptest.NewRecorder()
	h.NotFound(w, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.MethodNotAllowed(w, httptest.NewRequest(http.MethodDelete, "/api/license/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Contains(t, w.Body.String(), "DELETE")
}
