package notifications

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"threadline/internal/observability"

	"github.com/gofiber/websocket/v2"
)

const (
	maxConnsPerUser = 12
	maxTotalConns   = 10000
)

var (
	// ErrServerFull is returned when the hub holds maxTotalConns clients.
	ErrServerFull = errors.New("server connection limit reached")
	// ErrUserFull is returned when one user holds maxConnsPerUser clients.
	ErrUserFull = errors.New("user connection limit reached")
)

// Hub tracks this process's websocket clients and the groups each client
// subscribed to. Membership is per connection: a socket only receives the
// groups it joined itself, plus its user's personal group.
type Hub struct {
	mu         sync.RWMutex
	conns      map[uint]map[*Client]struct{}
	groups     map[string]map[*Client]struct{}
	totalConns int
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{
		conns:  make(map[uint]map[*Client]struct{}),
		groups: make(map[string]map[*Client]struct{}),
	}
}

// Register adds a connection for userID. conn may be nil.
func (h *Hub) Register(userID uint, conn *websocket.Conn) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.totalConns >= maxTotalConns {
		return nil, ErrServerFull
	}
	m, ok := h.conns[userID]
	if !ok {
		m = make(map[*Client]struct{})
		h.conns[userID] = m
	}
	if len(m) >= maxConnsPerUser {
		return nil, ErrUserFull
	}

	client := newClient(h, conn, userID)
	m[client] = struct{}{}
	h.totalConns++
	return client, nil
}

// UnregisterClient removes client from the hub and from every group it joined.
func (h *Hub) UnregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	m, ok := h.conns[client.UserID]
	if !ok {
		return
	}
	if _, exists := m[client]; !exists {
		return
	}
	delete(m, client)
	if len(m) == 0 {
		delete(h.conns, client.UserID)
	}
	h.totalConns--
	close(client.Send)

	for key := range h.groups {
		h.unsubscribeLocked(key, client)
	}
}

// Subscribe adds client to groupKey. Subscribing twice is a no-op.
func (h *Hub) Subscribe(groupKey string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, live := h.conns[client.UserID][client]; !live {
		return
	}
	members, ok := h.groups[groupKey]
	if !ok {
		members = make(map[*Client]struct{})
		h.groups[groupKey] = members
	}
	if _, joined := members[client]; !joined {
		members[client] = struct{}{}
		observability.ThreadSubscribers.Inc()
	}
}

// Unsubscribe removes client from groupKey. Other connections of the same
// user keep their subscriptions.
func (h *Hub) Unsubscribe(groupKey string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribeLocked(groupKey, client)
}

func (h *Hub) unsubscribeLocked(groupKey string, client *Client) {
	members, ok := h.groups[groupKey]
	if !ok {
		return
	}
	if _, joined := members[client]; joined {
		delete(members, client)
		observability.ThreadSubscribers.Dec()
	}
	if len(members) == 0 {
		delete(h.groups, groupKey)
	}
}

// SendToGroup writes message to every local client subscribed to groupKey.
// A personal group reaches every connection of its user.
func (h *Hub) SendToGroup(_ context.Context, groupKey string, message []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if userID, ok := parseUserGroup(groupKey); ok {
		for c := range h.conns[userID] {
			c.TrySend(message)
		}
		return nil
	}
	for c := range h.groups[groupKey] {
		c.TrySend(message)
	}
	return nil
}

// Members returns the distinct users with a local client in groupKey.
func (h *Hub) Members(groupKey string) []uint {
	h.mu.RLock()
	defer h.mu.RUnlock()
	seen := make(map[uint]struct{}, len(h.groups[groupKey]))
	out := make([]uint, 0, len(h.groups[groupKey]))
	for c := range h.groups[groupKey] {
		if _, dup := seen[c.UserID]; dup {
			continue
		}
		seen[c.UserID] = struct{}{}
		out = append(out, c.UserID)
	}
	return out
}

// Shutdown closes every websocket connection and forgets all state.
func (h *Hub) Shutdown(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	for userID, userConns := range h.conns {
		for client := range userConns {
			close(client.Send)
			if client.Conn == nil {
				continue
			}
			if err := client.Conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "Server shutting down")); err != nil {
				observability.Logger.Warn("failed to write close message",
					slog.Uint64("user_id", uint64(userID)),
					slog.String("error", err.Error()),
				)
			}
			_ = client.Conn.Close()
		}
	}
	for _, members := range h.groups {
		observability.ThreadSubscribers.Sub(float64(len(members)))
	}
	h.conns = make(map[uint]map[*Client]struct{})
	h.groups = make(map[string]map[*Client]struct{})
	h.totalConns = 0
	return nil
}
