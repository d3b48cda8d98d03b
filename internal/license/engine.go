package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"bootlicense/internal/security"
)

var licenseKeyPattern = regexp.MustCompile(`^BOOT-[A-Z0-9]+(-[A-Z0-9]+)*$`)

// Options wires an Engine
type Options struct {
	Store        RecordStore
	Authority    Authority
	Hardware     security.HardwareIDProvider
	OfflineGrace time.Duration
	AppVersion   string
	// CodeKey decrypts distributed license codes; nil disables ImportLicenseCode
	CodeKey *security.FernetKey
	Metrics *Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// Engine is the license state machine. All methods are safe for
// concurrent use.
type Engine struct {
	store      RecordStore
	authority  Authority
	hardware   security.HardwareIDProvider
	grace      time.Duration
	appVersion string
	codeKey    *security.FernetKey
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	// opMu serialises read record -> remote call -> write record
	opMu sync.Mutex

	mu            sync.RWMutex
	state         State
	record        *Record
	graceDeadline time.Time

	observersMu sync.Mutex
	observers   []func(Transition)
}

// NewEngine validates opts and returns an engine in StateUninitialized.
// Call Init to load the stored record.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Authority == nil {
		return nil, errors.New("authority is required")
	}
	if opts.Hardware == nil {
		return nil, errors.New("hardware id provider is required")
	}
	if opts.OfflineGrace <= 0 {
		return nil, fmt.Errorf("offline grace must be positive, got %s", opts.OfflineGrace)
	}
	if opts.AppVersion == "" {
		return nil, errors.New("app version is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:      opts.Store,
		authority:  opts.Authority,
		hardware:   opts.Hardware,
		grace:      opts.OfflineGrace,
		appVersion: opts.AppVersion,
		codeKey:    opts.CodeKey,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With(slog.String("component", "license_engine")),
		now:        opts.Now,
		state:      StateUninitialized,
	}, nil
}

func (e *Engine) clock() time.Time {
	return e.now().UTC()
}

// Init loads the stored record and derives the starting state
func (e *Engine) Init(ctx context.Context) error {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	rec, err := e.store.Load(ctx)
	if errors.Is(err, ErrHardwareMismatch) {
		e.publish(ctx, StateHardwareMismatch, nil, time.Time{}, OutcomeHardwareMismatch)
		e.logAction(ctx, slog.LevelWarn, "init", "Stored license belongs to different hardware")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load license: %w", err)
	}
	if rec == nil {
		e.logAction(ctx, slog.LevelInfo, "init", "No stored license")
		return nil
	}

	state := StateUninitialized
	switch {
	case rec.HardwareID != "" && rec.HardwareID != e.hardware.HardwareID():
		state = StateHardwareMismatch
	case rec.Status == StatusExpired:
		state = StateExpired
	case rec.Status == StatusSuspended:
		state = StateSuspended
	case rec.Status == StatusRevoked:
		state = StateRevoked
	case !e.clock().After(rec.GraceDeadline(e.grace)):
		state = StateActive
	}

	e.publish(ctx, state, rec, time.Time{}, "")
	e.logAction(ctx, slog.LevelInfo, "init", "Stored license loaded",
		append(keyAttrs(rec.LicenseKey),
			slog.String("state", string(state)),
			slog.Time("last_validation", rec.LastValidation))...)
	return nil
}

// Activate binds key to this machine
func (e *Engine) Activate(ctx context.Context, key string) (*Record, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.activateLocked(ctx, key)
}

// Reactivate activates the stored key again, for recovery after an offline
// lockout or a renewal.
func (e *Engine) Reactivate(ctx context.Context) (*Record, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	e.mu.RLock()
	rec := e.record
	e.mu.RUnlock()
	if rec == nil {
		return nil, newActivationError(ActivationInvalidKey, "", ErrNotActivated)
	}
	return e.activateLocked(ctx, rec.LicenseKey)
}

func normalizeKey(key string) (string, error) {
	key = strings.ToUpper(strings.TrimSpace(key))
	if !licenseKeyPattern.MatchString(key) {
		return "", newActivationError(ActivationInvalidKey, "", ErrInvalidLicenseKey)
	}
	return key, nil
}

func (e *Engine) activateLocked(ctx context.Context, key string) (_ *Record, err error) {
	start := time.Now()
	defer func() { e.metrics.recordActivation(ctx, start, err) }()
	e.expireGraceLocked(ctx)

	e.mu.RLock()
	prior, priorRecord, priorDeadline := e.state, e.record, e.graceDeadline
	e.mu.RUnlock()

	restore := func() {
		if !prior.Valid() {
			e.publish(ctx, prior, priorRecord, priorDeadline, "")
		}
	}
	if !prior.Valid() {
		e.publish(ctx, StateActivating, priorRecord, time.Time{}, "")
	}

	hardwareID := e.hardware.HardwareID()
	lic, err := e.authority.Activate(ctx, LicenseRequest{
		LicenseKey: key,
		HardwareID: hardwareID,
		AppVersion: e.appVersion,
	})
	if err != nil {
		aerr := activationErrorFrom(err)
		if aerr.Kind == ActivationAlreadyActivatedElsewhere && !prior.Valid() {
			e.publish(ctx, StateHardwareMismatch, priorRecord, time.Time{}, OutcomeHardwareMismatch)
		} else {
			restore()
		}
		e.logAction(ctx, slog.LevelWarn, "activate", "License activation failed",
			append(keyAttrs(key), slog.String("kind", string(aerr.Kind)), slog.String("error", err.Error()))...)
		return nil, aerr
	}

	now := e.clock()
	switch {
	case lic.Status == StatusExpired || !lic.ExpirationDate.After(now):
		restore()
		return nil, newActivationError(ActivationExpired, "license expired on "+lic.ExpirationDate.Format(time.DateOnly), nil)
	case lic.Status != StatusActive:
		restore()
		return nil, newActivationError(ActivationRejected, "license is "+string(lic.Status), ErrRejected)
	}

	rec := &Record{
		LicenseKey:           key,
		ClientName:           lic.ClientName,
		ClientIdentification: lic.ClientIdentification,
		ExpirationDate:       lic.ExpirationDate,
		Features:             lic.Features,
		Status:               StatusActive,
		HardwareID:           hardwareID,
		LastValidation:       now,
		ActivatedAt:          now,
	}
	if priorRecord != nil && priorRecord.LicenseKey == key {
		rec.ValidationCount = priorRecord.ValidationCount
	}

	if err := e.store.Save(ctx, rec); err != nil {
		restore()
		e.logAction(ctx, slog.LevelError, "activate", "Failed to persist activated license",
			append(keyAttrs(key), slog.String("error", err.Error()))...)
		return nil, newActivationError(ActivationStore, "", err)
	}

	e.publish(ctx, StateActive, rec, time.Time{}, OutcomeValid)
	e.logAction(ctx, slog.LevelInfo, "activate", "License activated",
		append(keyAttrs(key),
			slog.Time("expiration_date", rec.ExpirationDate),
			slog.Int("features", len(rec.Features)))...)
	return rec.Clone(), nil
}

func activationErrorFrom(err error) *ActivationError {
	var rej *RejectionError
	switch {
	case errors.As(err, &rej):
		switch rej.Code {
		case CodeNotFound:
			return newActivationError(ActivationNotFound, rej.Message, err)
		case CodeExpired:
			return newActivationError(ActivationExpired, rej.Message, err)
		case CodeAlreadyActivated:
			return newActivationError(ActivationAlreadyActivatedElsewhere, rej.Message, err)
		default:
			return newActivationError(ActivationRejected, rej.Message, err)
		}
	case errors.Is(err, ErrUnreachable), isContextError(err):
		return newActivationError(ActivationUnreachable, "", err)
	default:
		return newActivationError(ActivationRejected, "", err)
	}
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// Validate revalidates the current record with the server. The error is
// non-nil only when no outcome could be applied: a cancelled context, a
// malformed server answer, an unknown rejection or a failed store write.
// In those cases the state is unchanged.
func (e *Engine) Validate(ctx context.Context) (Outcome, error) {
	e.opMu.Lock()
	defer e.opMu.Unlock()
	return e.validateLocked(ctx)
}

func (e *Engine) validateLocked(ctx context.Context) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	start := time.Now()
	e.expireGraceLocked(ctx)

	e.mu.RLock()
	state, rec := e.state, e.record
	e.mu.RUnlock()

	if state.Terminal() {
		out := Outcome{Kind: terminalOutcome(state), Record: rec.Clone()}
		e.metrics.recordValidation(ctx, start, out.Kind, false)
		return out, nil
	}
	if rec == nil {
		e.metrics.recordValidation(ctx, start, OutcomeNotActivated, false)
		return Outcome{Kind: OutcomeNotActivated}, nil
	}

	hardwareID := e.hardware.HardwareID()
	if rec.HardwareID != "" && rec.HardwareID != hardwareID {
		e.publish(ctx, StateHardwareMismatch, rec, time.Time{}, OutcomeHardwareMismatch)
		e.logAction(ctx, slog.LevelWarn, "validate", "License bound to different hardware", keyAttrs(rec.LicenseKey)...)
		e.metrics.recordValidation(ctx, start, OutcomeHardwareMismatch, false)
		return Outcome{Kind: OutcomeHardwareMismatch, Record: rec.Clone()}, nil
	}

	lic, err := e.authority.Validate(ctx, LicenseRequest{
		LicenseKey: rec.LicenseKey,
		HardwareID: hardwareID,
		AppVersion: e.appVersion,
	})

	out, applyErr := e.applyValidation(ctx, state, rec, lic, err)
	if applyErr != nil {
		e.logAction(ctx, slog.LevelError, "validate", "License validation not applied",
			append(keyAttrs(rec.LicenseKey), slog.String("error", applyErr.Error()))...)
		return Outcome{}, applyErr
	}

	e.metrics.recordValidation(ctx, start, out.Kind, true)
	level := slog.LevelInfo
	if out.Kind != OutcomeValid {
		level = slog.LevelWarn
	}
	e.logAction(ctx, level, "validate", "License validated",
		append(keyAttrs(rec.LicenseKey), slog.String("outcome", string(out.Kind)))...)
	return out, nil
}

func (e *Engine) applyValidation(ctx context.Context, state State, rec *Record, lic *RemoteLicense, err error) (Outcome, error) {
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && isContextError(err) {
			return Outcome{}, ctxErr
		}

		var rej *RejectionError
		switch {
		case errors.As(err, &rej):
			switch rej.Code {
			case CodeNotFound:
				if err := e.store.Clear(ctx); err != nil {
					return Outcome{}, err
				}
				e.publish(ctx, StateNotFound, nil, time.Time{}, OutcomeNotFound)
				return Outcome{Kind: OutcomeNotFound}, nil
			case CodeExpired:
				return e.applyStatus(ctx, rec, StatusExpired, rej.Data)
			case CodeSuspended:
				return e.applyStatus(ctx, rec, StatusSuspended, rej.Data)
			case CodeRevoked:
				return e.applyStatus(ctx, rec, StatusRevoked, rej.Data)
			case CodeAlreadyActivated:
				e.publish(ctx, StateHardwareMismatch, rec, time.Time{}, OutcomeHardwareMismatch)
				return Outcome{Kind: OutcomeHardwareMismatch, Record: rec.Clone()}, nil
			default:
				return Outcome{}, fmt.Errorf("validate: %w", err)
			}
		case errors.Is(err, ErrUnreachable):
			return e.applyUnreachable(ctx, state, rec, err), nil
		default:
			return Outcome{}, fmt.Errorf("validate: %w", err)
		}
	}

	if !strings.EqualFold(strings.TrimSpace(lic.LicenseKey), rec.LicenseKey) {
		return Outcome{}, fmt.Errorf("validate: %w: license_key does not match the stored license", ErrMalformedResponse)
	}
	if lic.Status != StatusActive {
		return e.applyStatus(ctx, rec, lic.Status, lic)
	}

	next := mergeRemote(rec, lic)
	next.Status = StatusActive
	next.LastValidation = e.clock()
	next.ValidationCount++
	if err := e.store.Save(ctx, next); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist license: %w", err)
	}

	e.publish(ctx, StateActive, next, time.Time{}, OutcomeValid)
	return Outcome{Kind: OutcomeValid, Record: next.Clone()}, nil
}

// applyStatus persists a terminal server status. The record is kept for
// display.
func (e *Engine) applyStatus(ctx context.Context, rec *Record, status Status, lic *RemoteLicense) (Outcome, error) {
	next := mergeRemote(rec, lic)
	next.Status = status
	next.LastValidation = e.clock()
	next.ValidationCount++
	if err := e.store.Save(ctx, next); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist license: %w", err)
	}

	var state State
	var kind OutcomeKind
	switch status {
	case StatusExpired:
		state, kind = StateExpired, OutcomeExpired
	case StatusSuspended:
		state, kind = StateSuspended, OutcomeSuspended
	default:
		state, kind = StateRevoked, OutcomeRevoked
	}

	e.publish(ctx, state, next, time.Time{}, kind)
	return Outcome{Kind: kind, Record: next.Clone()}, nil
}

// applyUnreachable applies the offline grace rules. Nothing is persisted.
func (e *Engine) applyUnreachable(ctx context.Context, state State, rec *Record, cause error) Outcome {
	deadline := rec.GraceDeadline(e.grace)
	within := !e.clock().After(deadline)

	switch {
	case within:
		e.publish(ctx, StateOfflineGrace, rec, deadline, OutcomeUnreachable)
	case state.Valid():
		e.publish(ctx, StateExpired, rec, deadline, OutcomeUnreachable)
		e.logAction(ctx, slog.LevelWarn, "validate", "Offline grace elapsed",
			append(keyAttrs(rec.LicenseKey), slog.Time("grace_deadline", deadline))...)
	}

	return Outcome{Kind: OutcomeUnreachable, Record: rec.Clone(), GraceDeadline: deadline, Cause: cause}
}

// expireGraceLocked moves an elapsed offline grace window to StateExpired.
// Callers hold opMu.
func (e *Engine) expireGraceLocked(ctx context.Context) {
	e.mu.RLock()
	state, rec, deadline := e.state, e.record, e.graceDeadline
	e.mu.RUnlock()

	if state != StateOfflineGrace || !e.clock().After(deadline) {
		return
	}
	e.publish(ctx, StateExpired, rec, deadline, OutcomeUnreachable)
	e.logAction(ctx, slog.LevelWarn, "validate", "Offline grace elapsed",
		append(keyAttrs(rec.LicenseKey), slog.Time("grace_deadline", deadline))...)
}

// currentStateLocked is the state as of now: offline grace ends at its
// deadline even before the next validation records it. Callers hold mu.
func (e *Engine) currentStateLocked() State {
	if e.state == StateOfflineGrace && e.clock().After(e.graceDeadline) {
		return StateExpired
	}
	return e.state
}

func mergeRemote(rec *Record, lic *RemoteLicense) *Record {
	next := rec.Clone()
	if lic == nil {
		return next
	}
	next.ExpirationDate = lic.ExpirationDate
	next.Features = lic.Features
	if lic.ClientName != "" {
		next.ClientName = lic.ClientName
	}
	if lic.ClientIdentification != "" {
		next.ClientIdentification = lic.ClientIdentification
	}
	return next
}

func terminalOutcome(s State) OutcomeKind {
	switch s {
	case StateExpired:
		return OutcomeExpired
	case StateSuspended:
		return OutcomeSuspended
	case StateRevoked:
		return OutcomeRevoked
	case StateHardwareMismatch:
		return OutcomeHardwareMismatch
	default:
		return OutcomeNotFound
	}
}

// publish replaces the visible state and notifies observers on change.
// Callers hold opMu and have already written the store.
func (e *Engine) publish(ctx context.Context, state State, rec *Record, deadline time.Time, outcome OutcomeKind) {
	e.mu.Lock()
	from := e.state
	e.state = state
	e.record = rec
	e.graceDeadline = deadline
	e.mu.Unlock()

	if from == state {
		return
	}

	t := Transition{From: from, To: state, Outcome: outcome, At: e.clock()}
	e.metrics.recordTransition(ctx, t)

	e.observersMu.Lock()
	observers := append([]func(Transition){}, e.observers...)
	e.observersMu.Unlock()
	for _, fn := range observers {
		fn(t)
	}
}

// OnTransition registers fn to be called after every state change. fn runs
// synchronously while the engine operation lock is held, so it must not
// call Activate, Validate or ImportLicenseCode.
func (e *Engine) OnTransition(fn func(Transition)) {
	if fn == nil {
		return
	}
	e.observersMu.Lock()
	e.observers = append(e.observers, fn)
	e.observersMu.Unlock()
}

// IsValid reports whether licensed features may be used. It never blocks
// on the network.
func (e *Engine) IsValid() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentStateLocked().Valid()
}

// HasFeature reports whether the license is valid and grants f
func (e *Engine) HasFeature(f Feature) bool {
	if !f.Known() {
		return false
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentStateLocked().Valid() && e.record.HasFeatureTag(string(f))
}

// HasFeatureTag is HasFeature for a raw tag; unknown tags are always false
func (e *Engine) HasFeatureTag(tag string) bool {
	return e.HasFeature(ParseFeature(tag))
}

// DaysRemaining returns the whole days left before expiration, floored at 0
func (e *Engine) DaysRemaining() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.record.DaysRemaining(e.clock())
}

// State returns the current state
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.currentStateLocked()
}

// HardwareID returns the id of this machine
func (e *Engine) HardwareID() string {
	return e.hardware.HardwareID()
}

// Snapshot returns a copy of the visible state
func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	state := e.currentStateLocked()
	return Snapshot{
		State:         state,
		Record:        e.record.Clone(),
		GraceDeadline: e.graceDeadline,
		DaysRemaining: e.record.DaysRemaining(e.clock()),
		Notice:        noticeFor(state, e.graceDeadline),
		HardwareID:    e.hardware.HardwareID(),
	}
}
