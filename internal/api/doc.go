// Package api implements the HTTP REST API and WebSocket server for the relay.
//
// This package provides:
//   - Read-only views of shared connections and running endpoints
//   - An outbound send operation for configured event publishers
//   - A WebSocket activity stream of routed commands, send results and status
//   - Prometheus exposition and a JSON system summary
//   - Middleware (request ID, access log, panic recovery, CORS, body limit)
//   - TLS support for production deployments
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/metrics
//	GET  /api/v1/connections
//	GET  /api/v1/endpoints
//	POST /api/v1/endpoints/{id}/events
//	GET  /api/v1/ws
//	GET  /metrics
//
// # Activity Stream
//
// Viewers connect to /api/v1/ws, optionally with ?channels=a,b, and then
// exchange JSON frames:
//
//	{"type":"subscribe","id":"1","channels":["command.routed"]}
//	{"type":"ack","id":"1","channels":["command.routed"]}
//	{"type":"activity","channel":"command.routed","at":"...","data":{...}}
//
// The channels are command.routed, event.published and endpoint.status.
// Naming any other channel is an error; in the query it fails the upgrade
// with 400 unknown_channel.
//
// # Errors
//
// Failed requests answer with a Problem body carrying status, code,
// message and the request ID. Codes are invalid_body, body_too_large,
// unknown_endpoint, unknown_channel and internal_error.
//
// # Send Semantics
//
// A send that the platform connection could not deliver is still answered
// with 202 Accepted; the warning is carried in the response body and the
// endpoint remains usable. Only unknown endpoints and malformed bodies are
// request errors.
package api
