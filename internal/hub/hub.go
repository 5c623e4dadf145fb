package hub

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// Handle is one live transport for a username. Deliver must not block:
// it reports false when the handle is dead or too far behind, and the
// caller decides what to do with it.
type Handle interface {
	Username() string
	Deliver(payload []byte) bool
	Close()
}

// Hub maps each username to its single live handle. A new join for a
// username already present supersedes (closes) the prior handle.
type Hub struct {
	mu      sync.Mutex
	handles map[string]Handle
	log     *slog.Logger
}

func New(log *slog.Logger) *Hub {
	return &Hub{
		handles: make(map[string]Handle),
		log:     log,
	}
}

// Join registers the handle for its username, closing any prior handle for
// the same name first. Supersede-then-insert happens under one lock.
func (h *Hub) Join(handle Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	username := handle.Username()
	if prev, ok := h.handles[username]; ok && prev != handle {
		prev.Close()
		h.log.Info("Superseding connection", "username", username)
	}
	h.handles[username] = handle
	h.log.Info("Client joined", "username", username, "total_clients", len(h.handles))
}

// Leave removes the mapping only if it still points at this handle, so a
// leave racing a newer join never evicts the newer connection. It reports
// whether anything was removed and is idempotent.
func (h *Hub) Leave(handle Handle) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	username := handle.Username()
	if h.handles[username] != handle {
		return false
	}
	delete(h.handles, username)
	h.log.Info("Client left", "username", username, "total_clients", len(h.handles))
	return true
}

// Count returns the number of live handles.
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}

// ForEach applies fn to a snapshot of the live handles. fn runs outside the
// hub lock so it may itself call back into the hub.
func (h *Hub) ForEach(fn func(Handle)) {
	h.mu.Lock()
	snapshot := lo.Values(h.handles)
	h.mu.Unlock()

	for _, handle := range snapshot {
		fn(handle)
	}
}
