// Package event publishes outbound device events.
//
// A Publisher is one outbound endpoint. It joins the shared connection for
// its credentials (or the anonymous quickstart service) and, on every Send,
// resolves the event name, format and QoS, normalises the payload into the
// platform envelope and hands it to the connection.
//
// Send never fails hard. A transmission error is returned as the Outcome's
// Warning and the publisher stays usable for the next message.
package event
