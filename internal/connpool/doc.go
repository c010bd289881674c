// Package connpool shares physical Watson IoT connections between many
// logical endpoints.
//
// Endpoints (command routers and event publishers) describe the connection they
// need with a Config. Every Config reduces to an order-independent Identity;
// all endpoints with the same identity share one Transport, created on the
// first Acquire and disconnected when the last user releases it.
//
// # Lifecycle
//
// Each shared connection is tracked by a record that moves through:
//
//	(absent) → connecting → connected ⇄ reconnecting → (absent)
//
// Transport connect, disconnect and reconnect events are fanned out to every
// attached user as Status notifications. A user's Ready callback fires once,
// the first time the connection is up while that user is attached. Transport
// errors are logged and never change the record state.
//
// # Usage
//
//	reg := connpool.NewRegistry(mqtt.NewDialer(settings, log))
//	reg.SetLogger(log)
//
//	h, err := reg.Acquire(connpool.AcquireRequest{
//	    Config:    cfg,
//	    KeepAlive: 60 * time.Second,
//	    Attachment: connpool.Attachment{
//	        UserID: "router-1",
//	        Status: func(s connpool.Status) { log.Info("status", "state", s) },
//	        Ready:  func(c *connpool.Conn) { /* subscribe */ },
//	    },
//	})
//	defer h.Release()
//
// # Thread Safety
//
// All Registry methods are safe for concurrent use. Operations on the same
// identity (acquire, release, destroy, and transport event handling) are
// serialised against each other.
package connpool
