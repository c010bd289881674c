package connpool

// Status is the connection state reported to an attached user.
type Status string

// Statuses delivered to users. Connecting is sent on acquire, Connected on
// first connect and every reconnect, Disconnected on every connection loss.
const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// StatusSink receives status notifications for one user.
type StatusSink func(Status)

// State is the lifecycle state of a shared connection record.
type State string

// Record states.
const (
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateClosed       State = "closed"
)

// Observer receives registry lifecycle notifications, typically for metrics.
// Methods are called outside registry locks and must not block.
type Observer interface {
	ConnectionOpened(identity string)
	ConnectionClosed(identity string)
	UsersChanged(identity string, users int)
	StateChanged(identity string, state State)
}

// noopObserver discards all notifications.
type noopObserver struct{}

func (noopObserver) ConnectionOpened(string)    {}
func (noopObserver) ConnectionClosed(string)    {}
func (noopObserver) UsersChanged(string, int)   {}
func (noopObserver) StateChanged(string, State) {}
