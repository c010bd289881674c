// Package host builds and runs the relay's endpoints from configuration.
//
// A Flow owns the credentials, inbound command routers and outbound event
// publishers described by the config, all attached to one shared
// connpool.Registry. Endpoints naming the same credentials and scope share
// a single platform connection.
//
// Routed commands and send outcomes are fanned out to the optional
// Broadcaster (WebSocket clients), Metrics and Telemetry collaborators.
package host
