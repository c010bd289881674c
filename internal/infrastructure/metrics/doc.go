// Package metrics exposes relay activity as Prometheus collectors.
//
// Metrics implements connpool.Observer, so the connection registry reports
// shared connections opening and closing, user counts and state changes
// directly. Routers and publishers report through the Record* methods.
//
// Collectors are registered on the Registerer passed to New; the HTTP API
// serves that registry at /metrics.
package metrics
