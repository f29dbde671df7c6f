// Package logging provides a minimal logging interface and adapters for
// RecallKit.
//
// The Logger interface defines the standard logging methods (Debug, Info,
// Warn, Error) that the engines and stores use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - RecallLogger with contextual helpers and domain-specific logging
//     for trigger evaluation, search and store flushes
//
// The design intentionally keeps the interface minimal to avoid vendor
// lock-in while supporting structured logging where available.
package logging
