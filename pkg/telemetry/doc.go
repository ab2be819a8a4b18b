// Package telemetry wires OpenTelemetry exporters and meters for the
// decision service.
//
// It centralises trace provider setup, applies service-level resource
// attributes, and offers recording helpers that attach decision outcomes and
// risk metadata to metrics and spans so operators can correlate denials with
// catalog revisions and traffic patterns.
package telemetry
