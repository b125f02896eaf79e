// Package reconcile merges locally rendered messages with the server's
// confirmed stream so each send shows up exactly once.
package reconcile

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"support-chat-service/internal/models"
)

type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateFailed    State = "failed"
)

// Entry is one line of the rendered conversation.
type Entry struct {
	models.Message
	State State  `json:"state"`
	Error string `json:"error,omitempty"`
}

// Timeline is safe for concurrent use by the socket reader and the UI.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
	queued  map[string]time.Time
	seq     int
	now     func() time.Time
	newID   func() string
}

func NewTimeline() *Timeline {
	return &Timeline{
		queued: make(map[string]time.Time),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// AddProvisional renders a message before the server has seen it.
func (t *Timeline) AddProvisional(body string, role models.Role) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	now := t.now()
	e := Entry{
		Message: models.Message{
			ID:         "temp-" + strconv.Itoa(t.seq),
			SenderRole: role.SenderRole(),
			Body:       body,
			ClientID:   t.newID(),
			CreatedAt:  now,
		},
		State: StatePending,
	}
	t.entries = append(t.entries, e)
	t.queued[e.ID] = now
	return e
}

// Confirm merges a server-confirmed message and returns the resulting entry.
func (t *Timeline) Confirm(msg models.Message) Entry {
	t.mu.Lock()
	defer t.mu.Unlock()

	confirmed := Entry{Message: msg, State: StateConfirmed}
	if i := t.indexByID(msg.ID); i >= 0 {
		return t.entries[i]
	}
	if i := t.provisionalFor(msg); i >= 0 {
		delete(t.queued, t.entries[i].ID)
		t.entries[i] = confirmed
		return confirmed
	}
	t.entries = append(t.entries, confirmed)
	return confirmed
}

// Reject marks the provisional entry with clientID failed.
func (t *Timeline) Reject(clientID, reason string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.entries {
		e := &t.entries[i]
		if e.State == StatePending && clientID != "" && e.ClientID == clientID {
			e.State = StateFailed
			e.Error = reason
			delete(t.queued, e.ID)
			return true
		}
	}
	return false
}

// Expire fails provisional entries queued for longer than age.
func (t *Timeline) Expire(age time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-age)
	n := 0
	for i := range t.entries {
		e := &t.entries[i]
		if e.State != StatePending {
			continue
		}
		if queuedAt, ok := t.queued[e.ID]; ok && queuedAt.Before(cutoff) {
			e.State = StateFailed
			e.Error = "not confirmed in time"
			delete(t.queued, e.ID)
			n++
		}
	}
	return n
}

// Load replaces the confirmed history. Provisional and failed entries stay
// after it.
func (t *Timeline) Load(history []models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make([]Entry, 0, len(history)+len(t.queued))
	seen := make(map[string]struct{}, len(history))
	for _, m := range history {
		next = append(next, Entry{Message: m, State: StateConfirmed})
		seen[m.ID] = struct{}{}
		if m.ClientID != "" {
			seen["client:"+m.ClientID] = struct{}{}
		}
	}
	sort.SliceStable(next, func(i, j int) bool { return next[i].CreatedAt.Before(next[j].CreatedAt) })

	for _, e := range t.entries {
		if e.State == StateConfirmed {
			continue
		}
		if _, ok := seen["client:"+e.ClientID]; ok {
			delete(t.queued, e.ID)
			continue
		}
		next = append(next, e)
	}
	t.entries = next
}

// Remove drops a message deleted by moderation.
func (t *Timeline) Remove(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexByID(id)
	if i < 0 {
		return false
	}
	t.entries = append(t.entries[:i], t.entries[i+1:]...)
	return true
}

// Restore reinserts a message at its chronological position.
func (t *Timeline) Restore(msg models.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.indexByID(msg.ID) >= 0 {
		return
	}
	at := len(t.entries)
	for i, e := range t.entries {
		if e.State != StateConfirmed || e.CreatedAt.After(msg.CreatedAt) {
			at = i
			break
		}
	}
	t.entries = append(t.entries, Entry{})
	copy(t.entries[at+1:], t.entries[at:])
	t.entries[at] = Entry{Message: msg, State: StateConfirmed}
}

// Entries returns a snapshot in render order.
func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Pending reports how many sends still await confirmation.
func (t *Timeline) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queued)
}

func (t *Timeline) indexByID(id string) int {
	for i := range t.entries {
		if t.entries[i].ID == id {
			return i
		}
	}
	return -1
}

// provisionalFor finds the local entry a confirmation belongs to: by
// correlation id when the server echoes one, else by body and role.
func (t *Timeline) provisionalFor(msg models.Message) int {
	if msg.ClientID != "" {
		for i, e := range t.entries {
			if e.State != StateConfirmed && e.ClientID == msg.ClientID {
				return i
			}
		}
		return -1
	}
	for i, e := range t.entries {
		if e.State == StatePending && e.Body == msg.Body && e.SenderRole == msg.SenderRole {
			return i
		}
	}
	return -1
}
