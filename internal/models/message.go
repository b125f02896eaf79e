package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// Role is the side of the conversation an identity speaks for.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
	RoleStaff    Role = "staff"
)

// IsOperator reports whether the role belongs to the operator pool.
func (r Role) IsOperator() bool {
	return r == RoleAdmin || r == RoleStaff
}

// SenderRole collapses staff into the admin side of a conversation.
func (r Role) SenderRole() Role {
	if r.IsOperator() {
		return RoleAdmin
	}
	return RoleCustomer
}

// Message is embedded in a Conversation; it is never stored on its own.
type Message struct {
	ID         string     `json:"id" bson:"_id"`
	SenderID   string     `json:"sender_id" bson:"sender_id"`
	SenderRole Role       `json:"sender_role" bson:"sender_role"`
	Body       string     `json:"body" bson:"body"`
	ClientID   string     `json:"client_id,omitempty" bson:"client_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at" bson:"created_at"`
	Read       bool       `json:"read" bson:"read"`
	Deleted    bool       `json:"deleted" bson:"deleted"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty" bson:"deleted_at,omitempty"`
	DeletedBy  string     `json:"deleted_by,omitempty" bson:"deleted_by,omitempty"`
}

// MessageList is the ordered message sequence, stored as a JSONB column in
// Postgres and as an embedded array in Mongo.
type MessageList []Message

// Value implements driver.Valuer.
func (l MessageList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *MessageList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = MessageList{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("messages: unsupported column type")
	}
	return json.Unmarshal(raw, l)
}

// Find returns the index of the message with id, or -1.
func (l MessageList) Find(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}
