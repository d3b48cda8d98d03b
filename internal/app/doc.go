// Package app wires the license engine, its loopback API and the push
// channel into one process and manages their lifecycle.
//
// # Initialization Flow
//
//	1. Load configuration from defaults, an optional YAML file and the environment
//	2. Initialize logging and OpenTelemetry
//	3. Build the API client, hardware identity, encrypted store and engine
//	4. Load the stored license (no network access)
//	5. Mount the HTTP routes and the /ws push channel
//
// Run starts the revalidation scheduler and the server and returns once
// the context is cancelled and everything has stopped. Errors are
// returned to the caller; the package never calls os.Exit.
package app
