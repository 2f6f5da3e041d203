package realtime

import (
	"encoding/json"
	"log"
	"sync"
)

// Client represents a single websocket client connection.
// We keep it minimal here; the actual network conn is managed in the ws handler.
type Client interface {
	Send(message []byte) bool
	Close()
}

// PromptEvent is broadcast to an org's subscribers whenever one of its
// prompts changes.
type PromptEvent struct {
	Event    string `json:"event"` // "prompt.created" | "prompt.updated" | "prompt.deleted"
	PromptID string `json:"prompt_id"`
	Org      string `json:"org"`
	App      string `json:"app"`
	Name     string `json:"name"`
}

// Hub maintains active subscriber connections per org and broadcasts prompt
// change events to them.
type Hub struct {
	mu           sync.RWMutex
	orgToClients map[string]map[Client]struct{}
}

var hubInstance *Hub
var once sync.Once

// GetHub returns a singleton hub instance.
func GetHub() *Hub {
	once.Do(func() {
		hubInstance = &Hub{
			orgToClients: make(map[string]map[Client]struct{}),
		}
	})
	return hubInstance
}

// Register adds a client subscription for an org.
func (h *Hub) Register(org string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.orgToClients[org]; !ok {
		h.orgToClients[org] = make(map[Client]struct{})
	}
	h.orgToClients[org][client] = struct{}{}
}

// Unregister removes a client; if the org has no more clients, cleans up map.
func (h *Hub) Unregister(org string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.orgToClients[org]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.orgToClients, org)
		}
	}
}

// Broadcast sends an event to all subscribers of its org.
func (h *Hub) Broadcast(event PromptEvent) {
	message, err := json.Marshal(event)
	if err != nil {
		log.Printf("realtime: failed to encode event: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	clients := h.orgToClients[event.Org]
	for c := range clients {
		if ok := c.Send(message); !ok {
			// client write failed; let the handler clean it up on its side
		}
	}
}
