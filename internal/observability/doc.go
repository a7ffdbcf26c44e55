// Package observability provides structured logging and Prometheus metrics
// for the identity service.
//
// This package implements:
//   - zap logger construction from LOG_LEVEL / LOG_FORMAT
//   - request-scoped loggers carrying the chi request id
//   - counters for authentication outcomes and rate-limit rejections
//   - HTTP request metrics middleware
package observability
