package license

import "time"

// State is the engine state
type State string

const (
	StateUninitialized    State = "uninitialized"
	StateActivating       State = "activating"
	StateActive           State = "active"
	StateOfflineGrace     State = "offline_grace"
	StateExpired          State = "expired"
	StateSuspended        State = "suspended"
	StateRevoked          State = "revoked"
	StateHardwareMismatch State = "hardware_mismatch"
	StateNotFound         State = "not_found"
)

// Valid reports whether features may be used in this state
func (s State) Valid() bool {
	return s == StateActive || s == StateOfflineGrace
}

// Terminal reports whether only a new activation can leave this state
func (s State) Terminal() bool {
	switch s {
	case StateExpired, StateSuspended, StateRevoked, StateHardwareMismatch, StateNotFound:
		return true
	}
	return false
}

// OutcomeKind tags a ValidationOutcome
type OutcomeKind string

const (
	OutcomeValid            OutcomeKind = "valid"
	OutcomeExpired          OutcomeKind = "expired"
	OutcomeSuspended        OutcomeKind = "suspended"
	OutcomeRevoked          OutcomeKind = "revoked"
	OutcomeNotFound         OutcomeKind = "not_found"
	OutcomeHardwareMismatch OutcomeKind = "hardware_mismatch"
	OutcomeUnreachable      OutcomeKind = "unreachable"
	OutcomeNotActivated     OutcomeKind = "not_activated"
)

// Outcome is the result of one Validate call
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// Record is a copy of the record after the outcome was applied, if any
	Record *Record `json:"record,omitempty"`
	// GraceDeadline is set for OutcomeUnreachable when a record exists
	GraceDeadline time.Time `json:"grace_deadline,omitempty"`
	// Cause is the transport failure behind OutcomeUnreachable
	Cause error `json:"-"`
}

// NoticeKind is what the UI should tell the user
type NoticeKind string

const (
	NoticeOK               NoticeKind = "ok"
	NoticeNeedsActivation  NoticeKind = "needs_activation"
	NoticeRenewalRequired  NoticeKind = "renewal_required"
	NoticeContactSupport   NoticeKind = "contact_support"
	NoticeOfflineUntil     NoticeKind = "offline_until"
	NoticeHardwareMismatch NoticeKind = "hardware_mismatch"
)

// Notice is a user-facing summary of the engine state
type Notice struct {
	Kind     NoticeKind `json:"kind"`
	Message  string     `json:"message"`
	Deadline time.Time  `json:"deadline,omitempty"`
}

func noticeFor(state State, graceDeadline time.Time) Notice {
	switch state {
	case StateActive:
		return Notice{Kind: NoticeOK, Message: "License is valid and active."}
	case StateOfflineGrace:
		return Notice{
			Kind:     NoticeOfflineUntil,
			Message:  "Temporarily offline. Continuing on the cached license until " + graceDeadline.Format(time.RFC1123) + ".",
			Deadline: graceDeadline,
		}
	case StateExpired:
		return Notice{Kind: NoticeRenewalRequired, Message: "License has expired. Please renew your license to continue."}
	case StateSuspended, StateRevoked:
		return Notice{Kind: NoticeContactSupport, Message: "License is " + string(state) + ". Please contact support."}
	case StateHardwareMismatch:
		return Notice{Kind: NoticeHardwareMismatch, Message: "License is registered to a different device."}
	case StateNotFound:
		return Notice{Kind: NoticeNeedsActivation, Message: "License key is no longer registered. Please activate a new license."}
	default:
		return Notice{Kind: NoticeNeedsActivation, Message: "License not activated. Please activate a license to continue."}
	}
}

// Snapshot is a read-only view of the engine
type Snapshot struct {
	State         State     `json:"state"`
	Record        *Record   `json:"record,omitempty"`
	GraceDeadline time.Time `json:"grace_deadline,omitempty"`
	DaysRemaining int       `json:"days_remaining"`
	Notice        Notice    `json:"notice"`
	HardwareID    string    `json:"hardware_id"`
}

// Transition is delivered to observers after a state change is persisted
type Transition struct {
	From    State       `json:"from"`
	To      State       `json:"to"`
	Outcome OutcomeKind `json:"outcome,omitempty"`
	At      time.Time   `json:"at"`
}
