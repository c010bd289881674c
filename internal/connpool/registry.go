package connpool

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Attachment describes one user of a shared connection.
type Attachment struct {
	// UserID uniquely identifies the user within an identity.
	UserID string

	// Status receives connecting/connected/disconnected notifications. Optional.
	Status StatusSink

	// Ready is called once, the first time the connection is up while this
	// user is attached. Optional.
	Ready func(conn *Conn)

	// Commands receives every inbound command on the connection. Optional.
	// Filtering is the caller's job.
	Commands func(cmd Command)
}

// AcquireRequest holds the arguments to Registry.Acquire.
type AcquireRequest struct {
	Config     Config
	KeepAlive  time.Duration
	QoS        byte
	Attachment Attachment
}

// RecordInfo is a read-only view of a shared connection.
type RecordInfo struct {
	Identity   string `json:"identity"`
	Mode       Mode   `json:"mode"`
	Org        string `json:"org"`
	DeviceType string `json:"device_type"`
	DeviceID   string `json:"device_id"`
	State      State  `json:"state"`
	Connected  bool   `json:"connected"`
	Users      int    `json:"users"`
}

// Registry owns one shared connection per identity.
//
// Records are created on the first Acquire for an identity and removed when
// the last user releases, or on Destroy.
//
// All public methods are thread-safe. Lock order is Registry.mu, then
// record.mu; record.fanout is never held while acquiring Registry.mu.
type Registry struct {
	dial     Dialer
	mu       sync.Mutex         // Protects records
	records  map[string]*record // Live records by identity
	logger   Logger
	observer Observer
}

// record is the registry's state for one shared connection.
type record struct {
	identity  string
	cfg       Config
	transport Transport
	conn      *Conn

	mu     sync.Mutex // Protects state, users, closed
	state  State
	users  map[string]*member
	closed bool

	// fanout orders status deliveries so every user observes lifecycle
	// transitions in the order the transport reported them.
	fanout sync.Mutex
}

// member is one attached user.
type member struct {
	Attachment
	detached  atomic.Bool
	readyOnce sync.Once

	// started and last are guarded by the owning record's fanout lock.
	started bool
	last    Status
}

// NewRegistry creates a registry that builds transports with dial.
func NewRegistry(dial Dialer) *Registry {
	return &Registry{
		dial:     dial,
		records:  make(map[string]*record),
		logger:   noopLogger{},
		observer: noopObserver{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetObserver sets the lifecycle observer for the registry.
func (r *Registry) SetObserver(observer Observer) {
	r.observer = observer
}

// Acquire attaches a user to the shared connection for req.Config, creating
// and connecting it if this is the first user of that identity.
//
// Once the user is attached it is notified "connecting". If the connection
// is already up, "connected" is delivered and Ready is invoked before
// Acquire returns; otherwise both arrive when the transport connects. A
// request that fails validation or dialing delivers no status at all.
//
// Acquiring twice with the same user ID replaces the earlier attachment.
//
// Returns:
//   - *Handle: The user's subscription; call Release on teardown
//   - error: If the request is invalid or the transport cannot be built
func (r *Registry) Acquire(req AcquireRequest) (*Handle, error) {
	if req.Attachment.UserID == "" {
		return nil, ErrMissingUserID
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}

	identity := req.Config.Identity()
	m := &member{Attachment: req.Attachment}

	r.mu.Lock()
	rec, existed := r.records[identity]
	if !existed {
		var err error
		rec, err = r.open(identity, req)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.records[identity] = rec
	}

	rec.mu.Lock()
	previous := rec.users[m.UserID]
	rec.users[m.UserID] = m
	users := len(rec.users)
	rec.mu.Unlock()

	if !existed {
		r.logger.Info("connecting shared connection",
			"identity", identity,
			"client", req.Config.ClientLabel(),
			"keepalive_seconds", int(req.KeepAlive/time.Second),
			"qos", req.QoS,
		)
		// Connect runs under r.mu so a concurrent Destroy cannot close the
		// record before the transport has started.
		rec.transport.Connect(req.QoS)
	}
	r.mu.Unlock()

	if previous != nil {
		previous.detach()
	}
	if !existed {
		r.observer.ConnectionOpened(identity)
		r.observer.StateChanged(identity, StateConnecting)
	}
	r.observer.UsersChanged(identity, users)

	// Fan-out events that ran before this point skipped the member because it
	// had not started. Late joiners to a live connection are readied here
	// rather than waiting for a connect event that has already happened.
	rec.fanout.Lock()
	if !m.detached.Load() {
		m.start(r.logger)
		if rec.transport.IsConnected() {
			m.status(StatusConnected, r.logger)
			m.ready(rec.conn, r.logger)
		}
	}
	rec.fanout.Unlock()

	return &Handle{reg: r, identity: identity, m: m, conn: rec.conn}, nil
}

// open builds a new record and its transport. Caller holds r.mu.
func (r *Registry) open(identity string, req AcquireRequest) (*record, error) {
	transport, err := r.dial(req.Config)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrDialFailed, req.Config.ClientLabel(), err)
	}
	if transport == nil {
		return nil, fmt.Errorf("%w: %s: dialer returned nil transport", ErrDialFailed, req.Config.ClientLabel())
	}

	rec := &record{
		identity:  identity,
		cfg:       req.Config,
		transport: transport,
		state:     StateConnecting,
		users:     make(map[string]*member),
	}
	rec.conn = &Conn{rec: rec}

	if req.KeepAlive > 0 {
		transport.SetKeepAlive(req.KeepAlive)
	}
	transport.SetHandlers(Handlers{
		OnConnect:    func() { r.handleConnect(rec) },
		OnReconnect:  func() { r.handleConnect(rec) },
		OnDisconnect: func() { r.handleDisconnect(rec) },
		OnError:      func(err error) { r.handleError(rec, err) },
		OnCommand:    func(cmd Command) { r.handleCommand(rec, cmd) },
	})

	return rec, nil
}

// Release detaches userID from the connection for identity. When no users
// remain the transport is disconnected and the record removed.
//
// Releasing an unknown identity or user is a no-op.
func (r *Registry) Release(identity, userID string) {
	r.release(identity, userID, nil)
}

// release removes userID. When only is non-nil the user is removed only if
// it is still that exact attachment, so a stale Handle cannot detach a newer
// attachment that reused the same user ID.
func (r *Registry) release(identity, userID string, only *member) {
	r.mu.Lock()
	rec, ok := r.records[identity]
	if !ok {
		r.mu.Unlock()
		return
	}

	rec.mu.Lock()
	m, ok := rec.users[userID]
	if !ok || (only != nil && m != only) {
		rec.mu.Unlock()
		r.mu.Unlock()
		return
	}
	delete(rec.users, userID)
	m.detach()
	remaining := len(rec.users)
	if remaining == 0 {
		rec.closed = true
		rec.state = StateClosed
		delete(r.records, identity)
	}
	rec.mu.Unlock()
	r.mu.Unlock()

	r.observer.UsersChanged(identity, remaining)
	if remaining == 0 {
		r.teardown(rec, "last user released")
	}
}

// Destroy disconnects and removes the connection for identity regardless of
// remaining users. All users are detached without further notifications.
//
// Destroying an unknown identity is a no-op.
func (r *Registry) Destroy(identity string) {
	r.mu.Lock()
	rec, ok := r.records[identity]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.records, identity)

	rec.mu.Lock()
	rec.closed = true
	rec.state = StateClosed
	for id, m := range rec.users {
		m.detach()
		delete(rec.users, id)
	}
	rec.mu.Unlock()
	r.mu.Unlock()

	r.observer.UsersChanged(identity, 0)
	r.teardown(rec, "destroyed")
}

// Close destroys every record. Intended for process shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	identities := make([]string, 0, len(r.records))
	for id := range r.records {
		identities = append(identities, id)
	}
	r.mu.Unlock()

	for _, id := range identities {
		r.Destroy(id)
	}
}

// teardown disconnects a record that is already removed from the map.
// Disconnect failures, including panics, are swallowed.
func (r *Registry) teardown(rec *record, reason string) {
	func() {
		defer func() {
			if p := recover(); p != nil {
				r.logger.Debug("transport disconnect panicked", "identity", rec.identity, "panic", p)
			}
		}()
		if err := rec.transport.Disconnect(); err != nil {
			r.logger.Debug("transport disconnect failed", "identity", rec.identity, "error", err)
		}
	}()

	r.logger.Info("shared connection closed",
		"identity", rec.identity,
		"client", rec.cfg.ClientLabel(),
		"reason", reason,
	)
	r.observer.StateChanged(rec.identity, StateClosed)
	r.observer.ConnectionClosed(rec.identity)
}

// Snapshot returns the current records sorted by identity.
func (r *Registry) Snapshot() []RecordInfo {
	r.mu.Lock()
	records := make([]*record, 0, len(r.records))
	for _, rec := range r.records {
		records = append(records, rec)
	}
	r.mu.Unlock()

	infos := make([]RecordInfo, 0, len(records))
	for _, rec := range records {
		rec.mu.Lock()
		info := RecordInfo{
			Identity:   rec.identity,
			Mode:       rec.cfg.mode(),
			Org:        rec.cfg.Org,
			DeviceType: rec.cfg.DeviceType,
			DeviceID:   rec.cfg.DeviceID,
			State:      rec.state,
			Users:      len(rec.users),
		}
		rec.mu.Unlock()
		info.Connected = rec.transport.IsConnected()
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Identity < infos[j].Identity })
	return infos
}

// Len returns the number of live records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Users returns the number of users attached to identity, or 0 if there is
// no record.
func (r *Registry) Users(identity string) int {
	r.mu.Lock()
	rec, ok := r.records[identity]
	r.mu.Unlock()
	if !ok {
		return 0
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return len(rec.users)
}

// transition moves rec to state and returns the users to notify.
// It returns ok=false if the record has already been closed.
func (rec *record) transition(state State) (members []*member, ok bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return nil, false
	}
	rec.state = state
	return rec.members(), true
}

// members snapshots the attached users. Caller holds rec.mu.
func (rec *record) members() []*member {
	members := make([]*member, 0, len(rec.users))
	for _, m := range rec.users {
		members = append(members, m)
	}
	return members
}

// handleConnect handles both the first connect and every reconnect.
// Ready fires once per user, so it is not repeated on reconnect.
func (r *Registry) handleConnect(rec *record) {
	rec.fanout.Lock()
	defer rec.fanout.Unlock()

	members, ok := rec.transition(StateConnected)
	if !ok {
		return
	}
	r.logger.Info("shared connection up", "identity", rec.identity, "users", len(members))
	r.observer.StateChanged(rec.identity, StateConnected)

	for _, m := range members {
		m.status(StatusConnected, r.logger)
		m.ready(rec.conn, r.logger)
	}
}

// handleDisconnect notifies all users that the connection was lost.
func (r *Registry) handleDisconnect(rec *record) {
	rec.fanout.Lock()
	defer rec.fanout.Unlock()

	members, ok := rec.transition(StateReconnecting)
	if !ok {
		return
	}
	r.logger.Warn("shared connection lost", "identity", rec.identity, "users", len(members))
	r.observer.StateChanged(rec.identity, StateReconnecting)

	for _, m := range members {
		m.status(StatusDisconnected, r.logger)
	}
}

// handleError logs transport errors. The record state is not changed.
func (r *Registry) handleError(rec *record, err error) {
	r.logger.Error("transport error",
		"identity", rec.identity,
		"client", rec.cfg.ClientLabel(),
		"error", err,
	)
}

// handleCommand delivers an inbound command to every attached user.
func (r *Registry) handleCommand(rec *record, cmd Command) {
	rec.mu.Lock()
	if rec.closed {
		rec.mu.Unlock()
		return
	}
	members := rec.members()
	rec.mu.Unlock()

	for _, m := range members {
		m.command(cmd, r.logger)
	}
}

// detach stops all further deliveries to m.
func (m *member) detach() {
	m.detached.Store(true)
}

// start marks the member live for fan-out and delivers "connecting".
// Callers hold rec.fanout.
func (m *member) start(logger Logger) {
	m.started = true
	m.status(StatusConnecting, logger)
}

// status delivers s unless the member has not started, is detached, or was
// already told s. Callers hold rec.fanout.
func (m *member) status(s Status, logger Logger) {
	if !m.started || m.detached.Load() || m.last == s {
		return
	}
	m.last = s
	if m.Status == nil {
		return
	}
	defer recoverCallback(logger, m.UserID, "status")
	m.Status(s)
}

func (m *member) ready(conn *Conn, logger Logger) {
	if m.Ready == nil || !m.started || m.detached.Load() {
		return
	}
	m.readyOnce.Do(func() {
		defer recoverCallback(logger, m.UserID, "ready")
		m.Ready(conn)
	})
}

func (m *member) command(cmd Command, logger Logger) {
	if m.Commands == nil || m.detached.Load() {
		return
	}
	defer recoverCallback(logger, m.UserID, "command")
	m.Commands(cmd)
}

// recoverCallback keeps a panicking user callback from taking down the
// transport goroutine that delivered the event.
func recoverCallback(logger Logger, userID, callback string) {
	if p := recover(); p != nil {
		logger.Error("connection user callback panic recovered",
			"user_id", userID,
			"callback", callback,
			"panic", p,
		)
	}
}
