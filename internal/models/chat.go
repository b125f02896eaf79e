package models

import "time"

// Status of a support conversation.
type Status string

const (
	StatusPending Status = "pending"
	StatusOpen    Status = "open"
	StatusTrashed Status = "trashed"
)

// ActiveStatuses are the statuses covered by the one-active-conversation rule.
var ActiveStatuses = []Status{StatusPending, StatusOpen}

// IsActive reports whether the status counts as active.
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusOpen
}

// Conversation is the support thread between one customer and the operator pool.
type Conversation struct {
	ID                    string      `db:"id" json:"id" bson:"_id"`
	ParticipantID         string      `db:"participant_id" json:"participant_id" bson:"participant_id"`
	AdminID               string      `db:"admin_id" json:"admin_id,omitempty" bson:"admin_id,omitempty"`
	Status                Status      `db:"status" json:"status" bson:"status"`
	Viewed                bool        `db:"viewed" json:"viewed" bson:"viewed"`
	ViewedAt              *time.Time  `db:"viewed_at" json:"viewed_at,omitempty" bson:"viewed_at,omitempty"`
	LastCustomerMessageAt *time.Time  `db:"last_customer_message_at" json:"last_customer_message_at,omitempty" bson:"last_customer_message_at,omitempty"`
	TrashedAt             *time.Time  `db:"trashed_at" json:"trashed_at,omitempty" bson:"trashed_at,omitempty"`
	Messages              MessageList `db:"messages" json:"messages" bson:"messages"`
	CreatedAt             time.Time   `db:"created_at" json:"created_at" bson:"created_at"`
	UpdatedAt             time.Time   `db:"updated_at" json:"updated_at" bson:"updated_at"`
}

// Clone returns a copy that shares no message storage with c.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = make(MessageList, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// VisibleMessages returns messages that are not soft-deleted, in order.
func (c Conversation) VisibleMessages() []Message {
	out := make([]Message, 0, len(c.Messages))
	for _, m := range c.Messages {
		if !m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

// TrashedMessages returns the soft-deleted messages, in order.
func (c Conversation) TrashedMessages() []Message {
	out := make([]Message, 0)
	for _, m := range c.Messages {
		if m.Deleted {
			out = append(out, m)
		}
	}
	return out
}

// UnreadBy counts visible messages from the other side that reader has not read.
func (c Conversation) UnreadBy(reader Role) int {
	side := reader.SenderRole()
	n := 0
	for _, m := range c.Messages {
		if !m.Deleted && !m.Read && m.SenderRole != side {
			n++
		}
	}
	return n
}

// LastVisible returns the newest message that is not soft-deleted.
func (c Conversation) LastVisible() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if !c.Messages[i].Deleted {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// HasAdminReply reports whether any operator message exists, deleted or not.
func (c Conversation) HasAdminReply() bool {
	for _, m := range c.Messages {
		if m.SenderRole == RoleAdmin {
			return true
		}
	}
	return false
}

// ConversationView is the API shape of a conversation with derived counts.
type ConversationView struct {
	ID                    string     `json:"id"`
	ParticipantID         string     `json:"participant_id"`
	AdminID               string     `json:"admin_id,omitempty"`
	Status                Status     `json:"status"`
	Viewed                bool       `json:"viewed"`
	ViewedAt              *time.Time `json:"viewed_at,omitempty"`
	LastCustomerMessageAt *time.Time `json:"last_customer_message_at,omitempty"`
	UnreadByAdmin         int        `json:"unread_by_admin"`
	UnreadByCustomer      int        `json:"unread_by_customer"`
	MessageCount          int        `json:"message_count"`
	Messages              []Message  `json:"messages,omitempty"`
	LastMessage           *Message   `json:"last_message,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

// View builds the API shape; messages are included only when withMessages is set.
func (c Conversation) View(withMessages bool) ConversationView {
	visible := c.VisibleMessages()
	v := ConversationView{
		ID:                    c.ID,
		ParticipantID:         c.ParticipantID,
		AdminID:               c.AdminID,
		Status:                c.Status,
		Viewed:                c.Viewed,
		ViewedAt:              c.ViewedAt,
		LastCustomerMessageAt: c.LastCustomerMessageAt,
		UnreadByAdmin:         c.UnreadBy(RoleAdmin),
		UnreadByCustomer:      c.UnreadBy(RoleCustomer),
		MessageCount:          len(visible),
		CreatedAt:             c.CreatedAt,
		UpdatedAt:             c.UpdatedAt,
	}
	if withMessages {
		v.Messages = visible
	}
	if last, ok := c.LastVisible(); ok {
		v.LastMessage = &last
	}
	return v
}

// Pagination describes a page of an admin listing.
type Pagination struct {
	Page      int `json:"page"`
	Limit     int `json:"limit"`
	Total     int `json:"total"`
	TotalPage int `json:"total_page"`
}
