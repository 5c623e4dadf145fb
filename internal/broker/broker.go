package broker

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"chat-backend/internal/hub"
	"chat-backend/internal/store"
)

// Outbound event shapes, tagged so the client can dispatch on "type".
type messageEvent struct {
	Type      string    `json:"type"`
	Username  string    `json:"username"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type usersUpdateEvent struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// MessageAppender is the slice of the store the broker needs.
type MessageAppender interface {
	AppendMessage(ctx context.Context, username, content string) (store.Message, error)
}

// Broker turns accepted inbound content and presence changes into fan-out
// over the hub. One mutex serializes every broadcast, so all live
// connections observe messages and presence counts in a single total order
// that matches append and join/leave order.
type Broker struct {
	mu       sync.Mutex
	hub      *hub.Hub
	messages MessageAppender
	log      *slog.Logger
}

func New(h *hub.Hub, messages MessageAppender, log *slog.Logger) *Broker {
	return &Broker{hub: h, messages: messages, log: log}
}

// HandleContent persists inbound chat content from username and fans it out
// to every live handle. Blank content is dropped silently, matching the
// client's no-op on empty submit. Append failures are logged and the
// message is dropped, never partially broadcast.
func (b *Broker) HandleContent(ctx context.Context, username, content string) {
	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	msg, err := b.messages.AppendMessage(ctx, username, content)
	if err != nil {
		b.log.Error("Failed to persist message, dropping", "username", username, "error", err)
		return
	}

	payload, err := json.Marshal(messageEvent{
		Type:      "message",
		Username:  msg.Username,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	})
	if err != nil {
		b.log.Error("Failed to encode message event", "error", err)
		return
	}
	b.fanout(payload)
}

// PresenceChanged recounts the hub and fans the count out to every
// remaining handle. The count is read under the broadcast lock, so the
// sequence of counts each client sees is consistent with the actual
// join/leave order.
func (b *Broker) PresenceChanged() {
	b.mu.Lock()
	defer b.mu.Unlock()

	payload, err := json.Marshal(usersUpdateEvent{
		Type:  "users_update",
		Count: b.hub.Count(),
	})
	if err != nil {
		b.log.Error("Failed to encode presence event", "error", err)
		return
	}
	b.fanout(payload)
}

// fanout delivers one payload to all live handles. A handle that cannot
// accept the frame is dead: it is closed and its leave runs asynchronously
// so the rest of the batch is never held up. Callers hold b.mu.
func (b *Broker) fanout(payload []byte) {
	b.hub.ForEach(func(h hub.Handle) {
		if h.Deliver(payload) {
			return
		}
		b.log.Warn("Dropping unresponsive client", "username", h.Username())
		h.Close()
		go func() {
			if b.hub.Leave(h) {
				b.PresenceChanged()
			}
		}()
	})
}
