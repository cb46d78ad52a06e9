// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state and state transitions
//   - Reconnect attempts and authentication failures
//   - Outbound operations sent and dropped
//   - Inbound events dispatched, protocol errors, listener panics
//   - Track recorder rows written and batch errors
//
// All recording methods are safe to call on a nil *Metrics, so components can
// run without instrumentation in tests.
package metrics
