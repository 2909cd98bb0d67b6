package server

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// AllKeys is the channel that receives every change.
const AllKeys = "*"

// WSMessage is one change notification sent to watchers.
type WSMessage struct {
	Channel string          `json:"channel"`
	Type    string          `json:"type,omitempty"`
	Data    json.RawMessage `json:"data"`
}

type WSClient struct {
	Send chan WSMessage
}

// WSHub fans store changes out to websocket watchers, keyed by channel.
type WSHub struct {
	mu      sync.RWMutex
	clients map[string]map[*WSClient]struct{} // channel -> clients
	logger  *slog.Logger
}

func NewWSHub(logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHub{
		clients: make(map[string]map[*WSClient]struct{}),
		logger:  logger.With("component", "watch"),
	}
}

// Subscribe registers a new client for the given channel.
func (h *WSHub) Subscribe(channel string) *WSClient {
	c := &WSClient{
		Send: make(chan WSMessage, 16),
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[channel] == nil {
		h.clients[channel] = make(map[*WSClient]struct{})
	}
	h.clients[channel][c] = struct{}{}
	return c
}

// Unsubscribe removes a client from the given channel and closes its send channel.
func (h *WSHub) Unsubscribe(channel string, c *WSClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.clients[channel]
	if subs == nil {
		return
	}
	if _, ok := subs[c]; !ok {
		return
	}

	delete(subs, c)
	close(c.Send)
	if len(subs) == 0 {
		delete(h.clients, channel)
	}
}

// Publish broadcasts a message to all clients on the given channel. A
// client whose buffer is full misses the message.
func (h *WSHub) Publish(channel, msgType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal change", "error", err)
		return
	}

	ev := WSMessage{
		Channel: channel,
		Type:    msgType,
		Data:    data,
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients[channel] {
		select {
		case c.Send <- ev:
		default:
		}
	}
}

type change struct {
	Key string `json:"key"`
}

// NotifyChange publishes op on the key's own channel and on AllKeys.
func (h *WSHub) NotifyChange(op, key string) {
	h.Publish(key, op, change{Key: key})
	h.Publish(AllKeys, op, change{Key: key})
}
