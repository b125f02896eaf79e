package ws

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/models"
)

// Inbound is a decoded client event.
type Inbound interface {
	EventName() string
}

type JoinChat struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

type LeaveChat struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
}

type SendMessage struct {
	Message  string `json:"message" validate:"required"`
	ClientID string `json:"client_id" validate:"omitempty,max=64"`
}

type AdminSendMessage struct {
	ConversationID string `json:"conversation_id" validate:"required,max=128"`
	Message        string `json:"message" validate:"required"`
	ClientID       string `json:"client_id" validate:"omitempty,max=64"`
}

func (*JoinChat) EventName() string         { return models.EventJoinChat }
func (*LeaveChat) EventName() string        { return models.EventLeaveChat }
func (*SendMessage) EventName() string      { return models.EventSendMessage }
func (*AdminSendMessage) EventName() string { return models.EventAdminSendMessage }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeInbound parses a client frame into its typed event. Every failure is
// an InvalidArgument error carrying a message safe to echo to the client.
// When only validation fails the partially decoded event is returned too, so
// the caller can still correlate the error.
func DecodeInbound(data []byte) (Inbound, error) {
	var frame models.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return nil, apperr.InvalidArgument("malformed frame")
	}

	var ev Inbound
	switch frame.Event {
	case models.EventJoinChat:
		ev = &JoinChat{}
	case models.EventLeaveChat:
		ev = &LeaveChat{}
	case models.EventSendMessage:
		ev = &SendMessage{}
	case models.EventAdminSendMessage:
		ev = &AdminSendMessage{}
	case "":
		return nil, apperr.InvalidArgument("event is required")
	default:
		return nil, apperr.InvalidArgument("unknown event " + frame.Event)
	}

	if len(frame.Data) == 0 || string(frame.Data) == "null" {
		return nil, apperr.InvalidArgument("data is required")
	}
	if err := json.Unmarshal(frame.Data, ev); err != nil {
		return nil, apperr.InvalidArgument("malformed " + frame.Event + " payload")
	}
	if err := validate.Struct(ev); err != nil {
		return ev, apperr.InvalidArgument(validationMessage(err))
	}
	return ev, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "max":
		return fe.Field() + " is too long"
	default:
		return fe.Field() + " is invalid"
	}
}

// clientIDOf returns the correlation id carried by an event, if any.
func clientIDOf(ev Inbound) string {
	switch e := ev.(type) {
	case *SendMessage:
		return e.ClientID
	case *AdminSendMessage:
		return e.ClientID
	}
	return ""
}
