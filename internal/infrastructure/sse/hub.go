package sse

import (
	"errors"
	"sync"
	"time"

	"github.com/nestkit/nestkit/internal/protocol"
)

var (
	ErrClientNotFound = errors.New("sse client not found")
	ErrChannelFull    = errors.New("sse client channel is full")
)

// Message is one server-sent event.
type Message struct {
	ID    string            `json:"id"`
	Event protocol.Kind     `json:"event"`
	Data  protocol.Envelope `json:"data"`
	At    time.Time         `json:"at"`
}

// Client is one open stream. A zero Account receives every message.
type Client struct {
	ClientID    string
	Account     protocol.ActorRef
	ConnectedAt time.Time
	MessageChan chan *Message
}

func NewClient(clientID string, account protocol.ActorRef, buffer int) *Client {
	if buffer <= 0 {
		buffer = 100
	}
	return &Client{
		ClientID:    clientID,
		Account:     account,
		ConnectedAt: time.Now().UTC(),
		MessageChan: make(chan *Message, buffer),
	}
}

func (c *Client) wants(env protocol.Envelope) bool {
	return c.Account.IsZero() || c.Account == env.Target || c.Account == env.Origin
}

// Hub manages SSE clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	dropped uint64
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

func (h *Hub) Register(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if old, ok := h.clients[client.ClientID]; ok {
		close(old.MessageChan)
	}
	h.clients[client.ClientID] = client
}

// Unregister removes client unless a newer stream took over its id.
func (h *Hub) Unregister(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[client.ClientID]; ok && c == client {
		close(c.MessageChan)
		delete(h.clients, client.ClientID)
	}
}

func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped counts messages skipped because a client was not reading.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Publish fans a completed operation out to interested clients. It never
// blocks; slow clients lose messages.
func (h *Hub) Publish(env protocol.Envelope) {
	msg := &Message{ID: env.ID.String(), Event: env.Kind, Data: env, At: env.SentAt}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.wants(env) && !trySend(c, msg) {
			h.dropped++
		}
	}
}

func (h *Hub) SendToClient(clientID string, message *Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c := h.clients[clientID]
	if c == nil {
		return ErrClientNotFound
	}
	if !trySend(c, message) {
		return ErrChannelFull
	}
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		close(c.MessageChan)
		delete(h.clients, id)
	}
}

func trySend(c *Client, msg *Message) bool {
	select {
	case c.MessageChan <- msg:
		return true
	default:
		return false
	}
}
