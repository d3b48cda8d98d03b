package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apierrors "bootlicense/internal/errors"
	"bootlicense/internal/infrastructure"
	"bootlicense/internal/license"
	"bootlicense/internal/middleware"
)

// LicenseEngine is the part of *license.Engine the handler drives
type LicenseEngine interface {
	Snapshot() license.Snapshot
	Activate(ctx context.Context, key string) (*license.Record, error)
	ImportLicenseCode(ctx context.Context, code string) (*license.Record, error)
	Validate(ctx context.Context) (license.Outcome, error)
	HasFeatureTag(tag string) bool
}

// ActivationRequest is the body of POST /activate
type ActivationRequest struct {
	LicenseKey string `json:"license_key" validate:"required,max=128,license_key"`
}

// ImportRequest is the body of POST /import
type ImportRequest struct {
	Code string `json:"code" validate:"required,max=16384"`
}

// LicenseHandler handles license-related HTTP requests
type LicenseHandler struct {
	engine       LicenseEngine
	validator    *middleware.Validator
	errorHandler *apierrors.ErrorHandler
	limiter      *middleware.RateLimiter
	tracer       trace.Tracer
	logger       *slog.Logger

	// Upper bound of one activation or import, covering every retry
	activationTimeout time.Duration
}

// LicenseHandlerOptions wires a LicenseHandler
type LicenseHandlerOptions struct {
	Engine            LicenseEngine
	ErrorHandler      *apierrors.ErrorHandler
	Limiter           *middleware.RateLimiter
	ActivationTimeout time.Duration
	Logger            *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(opts LicenseHandlerOptions) *LicenseHandler {
	logger := opts.Logger
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	errorHandler := opts.ErrorHandler
	if errorHandler == nil {
		errorHandler = apierrors.NewErrorHandler(logger, false)
	}
	timeout := opts.ActivationTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &LicenseHandler{
		engine:            opts.Engine,
		validator:         middleware.NewValidator(),
		errorHandler:      errorHandler,
		limiter:           opts.Limiter,
		tracer:            otel.Tracer("license-handler"),
		logger:            logger.With(slog.String("handler", "license")),
		activationTimeout: timeout,
	}
}

// Routes returns a chi router for license endpoints
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/status", h.GetStatus)
	r.Post("/validate", h.Validate)
	r.Get("/features/{tag}", h.GetFeature)

	// Attempts that reach the license server are throttled
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Handler)
		}
		r.Post("/activate", h.Activate)
		r.Post("/import", h.Import)
	})

	return r
}

// GetStatus handles GET /api/license/status. It never touches the network.
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, newStatusResponse(h.engine.Snapshot()))
}

// Activate handles POST /api/license/activate
func (h *LicenseHandler) Activate(w http.ResponseWriter, r *http.Request) {
	var req ActivationRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "license_handler.activate",
		trace.WithAttributes(
			attribute.String("license.key_prefix", license.MaskLicenseKey(req.LicenseKey)),
			attribute.String("license.operation", "activation"),
		),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.activationTimeout)
	defer cancel()

	rec, err := h.engine.Activate(ctx, req.LicenseKey)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("license.result", "success"))
	h.renderActivation(w, r, rec, "License activated successfully")
}

// Import handles POST /api/license/import
func (h *LicenseHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req ImportRequest
	if err := h.validator.DecodeAndValidate(r, &req); err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	ctx, span := h.tracer.Start(r.Context(), "license_handler.import",
		trace.WithAttributes(attribute.String("license.operation", "import")),
	)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, h.activationTimeout)
	defer cancel()

	rec, err := h.engine.ImportLicenseCode(ctx, req.Code)
	if err != nil {
		infrastructure.RecordError(ctx, err)
		h.errorHandler.HandleError(w, r, err)
		return
	}

	span.SetAttributes(attribute.String("license.result", "success"))
	h.renderActivation(w, r, rec, "License code imported successfully")
}

func (h *LicenseHandler) renderActivation(w http.ResponseWriter, r *http.Request, rec *license.Record, message string) {
	h.logger.InfoContext(r.Context(), message,
		slog.String("license_key_masked", license.MaskLicenseKey(rec.LicenseKey)))

	render.JSON(w, r, ActivationResponse{
		Success:   true,
		Message:   message,
		License:   newRecordView(rec),
		Status:    newStatusResponse(h.engine.Snapshot()),
		TraceID:   infrastructure.GetTraceID(r.Context()),
		Timestamp: time.Now().UTC(),
	})
}

// Validate handles POST /api/license/validate. Revocation, expiry and an
// unreachable server are outcomes, not errors.
func (h *LicenseHandler) Validate(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.activationTimeout)
	defer cancel()

	outcome, err := h.engine.Validate(ctx)
	if err != nil {
		h.errorHandler.HandleError(w, r, err)
		return
	}

	resp := ValidationResponse{
		Outcome: outcome.Kind,
		License: newRecordView(outcome.Record),
		Status:  newStatusResponse(h.engine.Snapshot()),
	}
	if !outcome.GraceDeadline.IsZero() {
		d := outcome.GraceDeadline
		resp.GraceDeadline = &d
	}
	if outcome.Cause != nil {
		resp.Cause = outcome.Cause.Error()
	}

	render.JSON(w, r, resp)
}

// GetFeature handles GET /api/license/features/{tag}
func (h *LicenseHandler) GetFeature(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")
	render.JSON(w, r, FeatureResponse{
		Feature: tag,
		Known:   license.ParseFeature(tag).Known(),
		Enabled: h.engine.HasFeatureTag(tag),
	})
}
