// Package observability wires OpenTelemetry tracing for the channel router.
//
// Metrics live in internal/metrics and are exposed by the HTTP API.
package observability
