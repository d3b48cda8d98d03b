// Package shared holds helpers used by more than one package.
//
// testutil captures slog output so tests can assert on what was logged,
// and on what must never be logged.
package shared
