package api

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/wiotp-relay/internal/command"
	"github.com/nerrad567/wiotp-relay/internal/host"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/config"
	"github.com/nerrad567/wiotp-relay/internal/infrastructure/logging"
)

// Frame types on the activity stream.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	framePing        = "ping"
	framePong        = "pong"
	frameActivity    = "activity"
	frameAck         = "ack"
	frameError       = "error"
)

// frame is one message on the activity stream, in either direction.
//
// Viewers send subscribe, unsubscribe and ping frames; the relay answers
// with ack, pong or error frames carrying the same ID, and pushes activity
// frames for every followed channel.
type frame struct {
	Type     string   `json:"type"`
	ID       string   `json:"id,omitempty"`
	Channel  string   `json:"channel,omitempty"`
	Channels []string `json:"channels,omitempty"`
	At       string   `json:"at,omitempty"`
	Data     any      `json:"data,omitempty"`
	Error    string   `json:"error,omitempty"`
}

// streamChannels are the channels a viewer may follow.
var streamChannels = map[string]bool{
	host.ChannelCommand: true,
	host.ChannelEvent:   true,
	host.ChannelStatus:  true,
}

// parseChannels checks names against the known channels. Empty names are
// skipped; any unknown name rejects the whole list.
func parseChannels(names []string) ([]string, error) {
	var out, unknown []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		switch {
		case name == "":
		case streamChannels[name]:
			out = append(out, name)
		default:
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		return nil, fmt.Errorf("unknown channels: %s", strings.Join(unknown, ", "))
	}
	return out, nil
}

// Hub fans relay activity out to WebSocket viewers. It implements
// host.Broadcaster.
//
// Followers are indexed per channel, so an activity frame is encoded once
// and offered only to the viewers that follow its channel. A viewer whose
// outbox is full misses the frame; misses are counted in Dropped.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu        sync.RWMutex
	viewers   map[*viewer]struct{}
	followers map[string]map[*viewer]struct{}

	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	followers := make(map[string]map[*viewer]struct{}, len(streamChannels))
	for name := range streamChannels {
		followers[name] = make(map[*viewer]struct{})
	}
	return &Hub{
		cfg:       cfg,
		logger:    logger,
		viewers:   make(map[*viewer]struct{}),
		followers: followers,
	}
}

// Run blocks until ctx is cancelled, then disconnects every viewer.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	viewers := make([]*viewer, 0, len(h.viewers))
	for v := range h.viewers {
		viewers = append(viewers, v)
	}
	h.viewers = make(map[*viewer]struct{})
	for name := range h.followers {
		h.followers[name] = make(map[*viewer]struct{})
	}
	h.mu.Unlock()

	for _, v := range viewers {
		v.close()
	}
}

// CommandRouted pushes a matched inbound command to host.ChannelCommand.
func (h *Hub) CommandRouted(res command.Result) {
	h.publish(host.ChannelCommand, res)
}

// EventPublished pushes an outbound send result to host.ChannelEvent.
func (h *Hub) EventPublished(res host.SendResult) {
	h.publish(host.ChannelEvent, res)
}

// StatusChanged pushes an endpoint status change to host.ChannelStatus.
func (h *Hub) StatusChanged(change host.StatusChange) {
	h.publish(host.ChannelStatus, change)
}

// Viewers returns the number of connected viewers.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.viewers)
}

// Followers returns how many viewers follow channel.
func (h *Hub) Followers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.followers[channel])
}

// Dropped returns how many activity frames were skipped for slow viewers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) publish(channel string, data any) {
	h.mu.RLock()
	targets := make([]*viewer, 0, len(h.followers[channel]))
	for v := range h.followers[channel] {
		targets = append(targets, v)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	encoded, err := json.Marshal(frame{
		Type:    frameActivity,
		Channel: channel,
		At:      time.Now().UTC().Format(time.RFC3339Nano),
		Data:    data,
	})
	if err != nil {
		h.logger.Error("encoding activity frame", "channel", channel, "error", err)
		return
	}

	for _, v := range targets {
		if !v.offer(encoded) {
			h.dropped.Add(1)
			h.logger.Debug("viewer outbox full, frame dropped", "channel", channel, "viewer", v.id)
		}
	}
}

// attach registers v and makes it follow channels.
func (h *Hub) attach(v *viewer, channels []string) {
	h.mu.Lock()
	h.viewers[v] = struct{}{}
	for _, name := range channels {
		h.followers[name][v] = struct{}{}
	}
	count := len(h.viewers)
	h.mu.Unlock()
	h.logger.Debug("viewer attached", "viewer", v.id, "channels", channels, "viewers", count)
}

// detach forgets v. It is safe to call more than once.
func (h *Hub) detach(v *viewer) {
	h.mu.Lock()
	_, known := h.viewers[v]
	delete(h.viewers, v)
	for _, set := range h.followers {
		delete(set, v)
	}
	count := len(h.viewers)
	h.mu.Unlock()

	v.close()
	if known {
		h.logger.Debug("viewer detached", "viewer", v.id, "viewers", count)
	}
}

// follow and unfollow change v's channels and return what it now follows.
func (h *Hub) follow(v *viewer, channels []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.viewers[v]; ok {
		for _, name := range channels {
			h.followers[name][v] = struct{}{}
		}
	}
	return h.followedLocked(v)
}

func (h *Hub) unfollow(v *viewer, channels []string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, name := range channels {
		delete(h.followers[name], v)
	}
	return h.followedLocked(v)
}

func (h *Hub) followedLocked(v *viewer) []string {
	out := []string{}
	for name, set := range h.followers {
		if _, ok := set[v]; ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
