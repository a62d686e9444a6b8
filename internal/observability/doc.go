// Package observability provides structured logging and metrics
// for the portal.
//
// This package implements:
//   - zap logger construction (json or console encoding)
//   - Prometheus collectors for HTTP traffic, gate decisions and store retries
//
// Collectors are registered on a private registry so tests can build as many
// Metrics values as they like.
package observability
