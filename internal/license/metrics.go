package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"bootlicense/internal/apiclient"
)

// Metrics holds the license OpenTelemetry instruments
type Metrics struct {
	ActivationAttempts metric.Int64Counter
	ActivationFailures metric.Int64Counter
	ActivationDuration metric.Float64Histogram

	ValidationAttempts metric.Int64Counter
	ValidationOutcomes metric.Int64Counter
	ValidationDuration metric.Float64Histogram

	APIAttempts metric.Int64Counter
	Transitions metric.Int64Counter
	StateGauge  metric.Int64Gauge
}

// NewMetrics creates the instruments on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error

	if m.ActivationAttempts, err = meter.Int64Counter("license_activation_attempts_total",
		metric.WithDescription("Total number of license activation attempts")); err != nil {
		return nil, fmt.Errorf("failed to create activation attempts counter: %w", err)
	}
	if m.ActivationFailures, err = meter.Int64Counter("license_activation_failures_total",
		metric.WithDescription("Total number of failed license activations by kind")); err != nil {
		return nil, fmt.Errorf("failed to create activation failures counter: %w", err)
	}
	if m.ActivationDuration, err = meter.Float64Histogram("license_activation_duration_seconds",
		metric.WithDescription("License activation duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create activation duration histogram: %w", err)
	}
	if m.ValidationAttempts, err = meter.Int64Counter("license_validation_attempts_total",
		metric.WithDescription("Total number of license validations that reached the server")); err != nil {
		return nil, fmt.Errorf("failed to create validation attempts counter: %w", err)
	}
	if m.ValidationOutcomes, err = meter.Int64Counter("license_validation_outcomes_total",
		metric.WithDescription("License validation outcomes by kind")); err != nil {
		return nil, fmt.Errorf("failed to create validation outcomes counter: %w", err)
	}
	if m.ValidationDuration, err = meter.Float64Histogram("license_validation_duration_seconds",
		metric.WithDescription("License validation duration in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create validation duration histogram: %w", err)
	}
	if m.APIAttempts, err = meter.Int64Counter("license_api_attempts_total",
		metric.WithDescription("HTTP attempts made to the license server")); err != nil {
		return nil, fmt.Errorf("failed to create api attempts counter: %w", err)
	}
	if m.Transitions, err = meter.Int64Counter("license_state_transitions_total",
		metric.WithDescription("License engine state transitions")); err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}
	if m.StateGauge, err = meter.Int64Gauge("license_state",
		metric.WithDescription("1 for the current license engine state")); err != nil {
		return nil, fmt.Errorf("failed to create state gauge: %w", err)
	}

	return &m, nil
}

// AttemptObserver counts API attempts by status class
func (m *Metrics) AttemptObserver() apiclient.AttemptObserver {
	return func(ctx context.Context, a apiclient.Attempt) {
		if m == nil {
			return
		}
		result := "ok"
		if a.Err != nil {
			result = "error"
		}
		m.APIAttempts.Add(ctx, 1, metric.WithAttributes(
			attribute.String("path", a.Path),
			attribute.String("result", result),
			attribute.Int("status", a.StatusCode),
		))
	}
}

func (m *Metrics) recordActivation(ctx context.Context, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ActivationAttempts.Add(ctx, 1)
	m.ActivationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		kind := "unknown"
		var ae *ActivationError
		if errors.As(err, &ae) {
			kind = string(ae.Kind)
		}
		m.ActivationFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
}

func (m *Metrics) recordValidation(ctx context.Context, start time.Time, kind OutcomeKind, networked bool) {
	if m == nil {
		return
	}
	if networked {
		m.ValidationAttempts.Add(ctx, 1)
		m.ValidationDuration.Record(ctx, time.Since(start).Seconds())
	}
	m.ValidationOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(kind))))
}

var allStates = []State{
	StateUninitialized, StateActivating, StateActive, StateOfflineGrace,
	StateExpired, StateSuspended, StateRevoked, StateHardwareMismatch, StateNotFound,
}

func (m *Metrics) recordTransition(ctx context.Context, t Transition) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(t.From)),
		attribute.String("to", string(t.To)),
	))
	for _, s := range allStates {
		v := int64(0)
		if s == t.To {
			v = 1
		}
		m.StateGauge.Record(ctx, v, metric.WithAttributes(attribute.String("state", string(s))))
	}
}
