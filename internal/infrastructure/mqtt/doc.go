// Package mqtt connects devices and gateways to the IBM Watson IoT Platform.
//
// It implements connpool.Transport on top of paho.mqtt.golang. One Client
// is one platform identity:
//   - device clients (d:<org>:<type>:<id>) publish on iot-2/evt/... and
//     receive their own commands on iot-2/cmd/+/fmt/+
//   - gateway clients (g:<org>:<type>:<id>) publish and subscribe on behalf
//     of devices behind them via iot-2/type/<type>/id/<id>/...
//
// # Connection
//
// Organisation brokers are reached over TLS on port 8883 with token
// authentication (username "use-token-auth"). The quickstart organisation
// is reached over plain TCP on 1883 without authentication and receives no
// commands.
//
// Connect never blocks. paho retries the first connection and every later
// one with exponential backoff; the Client maps paho's callbacks onto the
// connpool.Handlers: the first connect fires OnConnect, later ones
// OnReconnect, a lost connection OnError and OnDisconnect.
//
// # Subscriptions
//
// Sessions are clean, so the broker forgets subscriptions when the
// connection drops. Device clients resubscribe to their command topic on
// every connect; gateway clients track each SubscribeToDeviceCommand call
// and restore all of them on every connect.
//
// # Usage
//
//	dial := mqtt.NewDialer(cfg.MQTT, logger.Component("mqtt"))
//	reg := connpool.NewRegistry(dial)
package mqtt
