// Package sinks provides progress.Sink implementations: structured logs,
// Prometheus collectors, and an in-memory aggregate for the stats endpoint.
package sinks
