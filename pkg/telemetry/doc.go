// Package telemetry provides the observability plumbing for AutoOps:
// structured logging built on zerolog, Prometheus metrics on a private
// registry, and OpenTelemetry tracing with OTLP or stdout export.
package telemetry
