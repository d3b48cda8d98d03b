package websocket

import (
	"time"

	"bootlicense/internal/license"
)

// TransitionEvent is the data of a license:transition message
type TransitionEvent struct {
	From     license.State       `json:"from"`
	To       license.State       `json:"to"`
	Outcome  license.OutcomeKind `json:"outcome,omitempty"`
	At       time.Time           `json:"at"`
	Valid    bool                `json:"valid"`
	Snapshot license.Snapshot    `json:"snapshot"`
}

// SnapshotSource is the read side of the license engine
type SnapshotSource interface {
	Snapshot() license.Snapshot
}

// TransitionNotifier returns an engine observer that pushes every state
// change to the hub. It only reads the engine snapshot and never blocks.
func TransitionNotifier(hub *Hub, source SnapshotSource) func(license.Transition) {
	return func(t license.Transition) {
		hub.Broadcast(TypeLicenseTransition, TransitionEvent{
			From:     t.From,
			To:       t.To,
			Outcome:  t.Outcome,
			At:       t.At,
			Valid:    t.To.Valid(),
			Snapshot: maskedSnapshot(source),
		}, "")
	}
}

// LicenseWelcome is a WithWelcome func sending the current snapshot
func LicenseWelcome(source SnapshotSource) func() any {
	return func() any {
		return maskedSnapshot(source)
	}
}

func maskedSnapshot(source SnapshotSource) license.Snapshot {
	snap := source.Snapshot()
	if snap.Record != nil {
		rec := snap.Record.Clone()
		rec.LicenseKey = license.MaskLicenseKey(rec.LicenseKey)
		snap.Record = rec
	}
	return snap
}
