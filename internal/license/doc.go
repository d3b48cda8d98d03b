// Package license owns the locally cached license of this installation.
//
// # Components
//
//	- Engine: the single owner of the license state machine
//	- Store: sealed, hardware-bound persistence of the last known Record
//	- RemoteAuthority: the HTTP binding to the license server
//	- Scheduler: periodic revalidation sharing the engine lock
//	- Metrics: OpenTelemetry instruments for activations and validations
//
// # States
//
//	uninitialized -> activating -> active <-> offline_grace
//
// with the absorbing states expired, suspended, revoked, hardware_mismatch
// and not_found. Absorbing states are left only through a new activation.
//
// # Concurrency
//
// Every operation that reads the record, talks to the server and writes the
// record back runs under one mutex. Feature checks read a published
// snapshot under a separate RWMutex and never wait on the network. The
// snapshot is replaced only after the store write has completed, so a
// caller never observes a state the disk does not hold.
//
// # Usage
//
//	engine, err := license.NewEngine(license.Options{...})
//	if err := engine.Init(ctx); err != nil { ... }
//	if _, err := engine.Activate(ctx, "BOOT-2024-ABCD-1234"); err != nil { ... }
//	if engine.HasFeature(license.FeatureCaseProcessing) { ... }
package license
