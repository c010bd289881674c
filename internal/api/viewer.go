package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
)

const (
	// outboxSize is how many frames may queue for one viewer before
	// activity frames are dropped.
	outboxSize = 256

	defaultPingInterval = 30 * time.Second
	defaultPongTimeout  = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origins are policed by the cors middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// viewer is one WebSocket connection on the activity stream.
//
// The hub never closes outbox; done signals shutdown instead, so a late
// offer can never panic. Only writeLoop writes to conn.
type viewer struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	outbox chan []byte

	ping, pong time.Duration
	readLimit  int64

	done      chan struct{}
	closeOnce sync.Once
}

func newViewer(hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *viewer {
	ping, pong := wsTimings(cfg)
	return &viewer{
		id:        uuid.NewString(),
		hub:       hub,
		conn:      conn,
		outbox:    make(chan []byte, outboxSize),
		ping:      ping,
		pong:      pong,
		readLimit: int64(cfg.MaxMessageSize),
		done:      make(chan struct{}),
	}
}

// handleWebSocket upgrades the request and attaches a viewer.
//
// The optional channels query parameter (comma separated) is followed from
// the start. An unknown channel is rejected with 400 before upgrading.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	var requested []string
	if q := r.URL.Query().Get("channels"); q != "" {
		requested = strings.Split(q, ",")
	}
	channels, err := parseChannels(requested)
	if err != nil {
		fail(w, r, http.StatusBadRequest, CodeUnknownChannel, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already answered the request.
		s.logger.Warn("websocket upgrade failed", "error", err, "request_id", requestID(r.Context()))
		return
	}

	v := newViewer(s.hub, conn, s.wsCfg)
	s.hub.attach(v, channels)
	go v.writeLoop()
	go v.readLoop()
}

// offer queues an encoded frame without blocking. It reports false when
// the frame was not queued.
func (v *viewer) offer(data []byte) bool {
	select {
	case <-v.done:
		return false
	default:
	}
	select {
	case v.outbox <- data:
		return true
	default:
		return false
	}
}

// close stops the viewer. writeLoop then says goodbye and closes the
// connection, which ends readLoop.
func (v *viewer) close() {
	v.closeOnce.Do(func() { close(v.done) })
}

// reply queues a response frame stamped with the current time.
func (v *viewer) reply(f frame) {
	f.At = time.Now().UTC().Format(time.RFC3339Nano)
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	v.offer(data)
}

// readLoop handles viewer requests until the connection fails, then
// detaches the viewer.
func (v *viewer) readLoop() {
	defer v.hub.detach(v)

	if v.readLimit > 0 {
		v.conn.SetReadLimit(v.readLimit)
	}
	extend := func() error {
		return v.conn.SetReadDeadline(time.Now().Add(v.ping + v.pong))
	}
	//nolint:errcheck // a failed deadline surfaces as a read error
	extend()
	v.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, data, err := v.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				v.hub.logger.Warn("viewer read failed", "viewer", v.id, "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by talking.
		//nolint:errcheck // a failed deadline surfaces as a read error
		extend()
		v.handle(data)
	}
}

// writeLoop drains the outbox and pings until the viewer closes.
func (v *viewer) writeLoop() {
	ticker := time.NewTicker(v.ping)
	defer func() {
		ticker.Stop()
		//nolint:errcheck // the peer may already be gone
		v.conn.Close()
	}()

	write := func(kind int, data []byte) bool {
		//nolint:errcheck // a failed deadline surfaces as a write error
		v.conn.SetWriteDeadline(time.Now().Add(v.pong))
		return v.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case <-v.done:
			//nolint:errcheck // best effort on the way out
			v.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay stopping"),
				time.Now().Add(time.Second))
			return
		case data := <-v.outbox:
			if !write(websocket.TextMessage, data) {
				v.hub.detach(v)
				return
			}
		case <-ticker.C:
			if !write(websocket.PingMessage, nil) {
				v.hub.detach(v)
				return
			}
		}
	}
}

// handle answers one request frame.
func (v *viewer) handle(data []byte) {
	var req frame
	if err := json.Unmarshal(data, &req); err != nil {
		v.reply(frame{Type: frameError, Error: "invalid JSON frame"})
		return
	}

	switch req.Type {
	case framePing:
		v.reply(frame{Type: framePong, ID: req.ID})
	case frameSubscribe, frameUnsubscribe:
		channels, err := parseChannels(req.Channels)
		if err != nil {
			v.reply(frame{Type: frameError, ID: req.ID, Error: err.Error()})
			return
		}
		if len(channels) == 0 {
			v.reply(frame{Type: frameError, ID: req.ID, Error: "no channels given"})
			return
		}
		var following []string
		if req.Type == frameSubscribe {
			following = v.hub.follow(v, channels)
		} else {
			following = v.hub.unfollow(v, channels)
		}
		v.hub.logger.Debug("viewer channels changed", "viewer", v.id, "request", req.Type, "following", following)
		v.reply(frame{Type: frameAck, ID: req.ID, Channels: following})
	default:
		v.reply(frame{Type: frameError, ID: req.ID, Error: "unknown frame type: " + req.Type})
	}
}

// wsTimings returns the ping interval and pong timeout, with defaults for
// unset values.
func wsTimings(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = defaultPingInterval, defaultPongTimeout
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}
