package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"support-chat-service/internal/models"
	"support-chat-service/internal/observability"
)

// Conn is a live connection as seen by the hub.
type Conn interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

type member struct {
	conn     Conn
	identity models.Identity
	topics   map[string]struct{}
}

// Hub is the connection registry and topic router. Membership changes and
// publishes are serialized by one lock; sends happen outside of it.
type Hub struct {
	mu        sync.RWMutex
	customers map[string]map[string]Conn
	operators map[string]map[string]Conn
	members   map[string]*member
	topics    map[string]map[string]Conn
	log       zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		customers: make(map[string]map[string]Conn),
		operators: make(map[string]map[string]Conn),
		members:   make(map[string]*member),
		topics:    make(map[string]map[string]Conn),
		log:       log.With().Str("component", "ws_hub").Logger(),
	}
}

// Admit registers an authenticated connection and subscribes it to its
// personal topic, plus the operators topic for operator identities.
func (h *Hub) Admit(id models.Identity, conn Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[conn.ID()]; ok {
		return
	}

	h.members[conn.ID()] = &member{conn: conn, identity: id, topics: make(map[string]struct{})}
	pool := h.customers
	if id.IsOperator() {
		pool = h.operators
	}
	if _, ok := pool[id.ID]; !ok {
		pool[id.ID] = make(map[string]Conn)
	}
	pool[id.ID][conn.ID()] = conn

	h.joinLocked(conn, PersonalTopic(id.ID))
	if id.IsOperator() {
		h.joinLocked(conn, OperatorsTopic)
	}
}

// Remove drops the connection from the registry and every topic. It reports
// whether the connection was still registered.
func (h *Hub) Remove(conn Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.members[conn.ID()]
	if !ok {
		return false
	}

	for topic := range m.topics {
		h.leaveLocked(conn, topic)
	}
	pool := h.customers
	if m.identity.IsOperator() {
		pool = h.operators
	}
	if conns, ok := pool[m.identity.ID]; ok {
		delete(conns, conn.ID())
		if len(conns) == 0 {
			delete(pool, m.identity.ID)
		}
	}
	delete(h.members, conn.ID())
	return true
}

// Join subscribes a registered connection to a topic.
func (h *Hub) Join(conn Conn, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[conn.ID()]; !ok {
		return false
	}
	h.joinLocked(conn, topic)
	return true
}

// Leave unsubscribes a connection from a topic.
func (h *Hub) Leave(conn Conn, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.members[conn.ID()]; !ok {
		return
	}
	h.leaveLocked(conn, topic)
}

// JoinIdentity subscribes every connection of an identity to a topic and
// returns how many connections that was.
func (h *Hub) JoinIdentity(identityID, topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, pool := range []map[string]map[string]Conn{h.customers, h.operators} {
		for _, conn := range pool[identityID] {
			h.joinLocked(conn, topic)
			n++
		}
	}
	return n
}

// DropTopic unsubscribes every connection from topic and returns how many
// were subscribed.
func (h *Hub) DropTopic(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	n := len(subs)
	for _, conn := range subs {
		h.leaveLocked(conn, topic)
	}
	delete(h.topics, topic)
	return n
}

// Publish delivers payload once to every current subscriber of topic.
// Connections that fail to accept the payload are dropped.
func (h *Hub) Publish(topic string, payload []byte) int {
	h.mu.RLock()
	subs := h.topics[topic]
	targets := make([]Conn, 0, len(subs))
	for _, conn := range subs {
		targets = append(targets, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range targets {
		if err := conn.Send(payload); err != nil {
			h.log.Warn().Err(err).Str("conn_id", conn.ID()).Str("topic", topic).Msg("websocket send failed")
			h.drop(conn, err)
			continue
		}
		delivered++
	}
	return delivered
}

// Connections returns the number of live connections of an identity.
func (h *Hub) Connections(identityID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.customers[identityID]) + len(h.operators[identityID])
}

// Subscribers returns the number of connections joined to a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Joined reports whether conn is subscribed to topic.
func (h *Hub) Joined(conn Conn, topic string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.members[conn.ID()]
	if !ok {
		return false
	}
	_, ok = m.topics[topic]
	return ok
}

// Close disconnects every registered connection.
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]Conn, 0, len(h.members))
	for _, m := range h.members {
		conns = append(conns, m.conn)
	}
	h.mu.Unlock()

	for _, conn := range conns {
		h.Remove(conn)
		_ = conn.Close()
	}
}

func (h *Hub) joinLocked(conn Conn, topic string) {
	m, ok := h.members[conn.ID()]
	if !ok {
		return
	}
	if _, ok := h.topics[topic]; !ok {
		h.topics[topic] = make(map[string]Conn)
	}
	h.topics[topic][conn.ID()] = conn
	m.topics[topic] = struct{}{}
}

func (h *Hub) leaveLocked(conn Conn, topic string) {
	if subs, ok := h.topics[topic]; ok {
		delete(subs, conn.ID())
		if len(subs) == 0 {
			delete(h.topics, topic)
		}
	}
	if m, ok := h.members[conn.ID()]; ok {
		delete(m.topics, topic)
	}
}

func (h *Hub) drop(conn Conn, cause error) {
	if !h.Remove(conn) {
		return
	}
	_ = conn.Close()

	client, ok := conn.(*Client)
	if !ok {
		return
	}
	info := client.Info()
	headers := observability.BuildHeaders(info.Request.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey, observability.WSEvent(
		"ws_error", info.ConnID, info.Identity.ID, info.role(), info.Request.DeviceID, info.Request.IP,
		cause.Error(), time.Since(info.ConnectedAt).Milliseconds(),
	), headers)
	observability.IncWSEvent(info.role(), "ws_error")
}

const wsRoutingKey = "ws_events.support_chat"
