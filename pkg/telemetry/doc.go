// Package telemetry wires the observability stack: zerolog structured
// logging, Prometheus metrics for plan and apply runs, and OpenTelemetry
// tracing. Everything is configured from one Config so the CLI has a
// single switchboard.
package telemetry
