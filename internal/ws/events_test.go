package ws

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-service/internal/apperr"
)

func TestDecodeInbound(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"chat:admin_send_message","data":{"conversation_id":"x","message":"hi","client_id":"c-1"}}`))
	require.NoError(t, err)
	assert.Equal(t, &AdminSendMessage{ConversationID: "x", Message: "hi", ClientID: "c-1"}, ev)

	ev, err = DecodeInbound([]byte(`{"event":"join_chat","data":{"conversation_id":"x"}}`))
	require.NoError(t, err)
	assert.Equal(t, &JoinChat{ConversationID: "x"}, ev)
}

func TestDecodeInboundRejects(t *testing.T) {
	cases := map[string]struct {
		frame string
		msg   string
	}{
		"not json":        {`nope`, "malformed frame"},
		"no event":        {`{"data":{}}`, "event is required"},
		"unknown event":   {`{"event":"chat:explode","data":{}}`, "unknown event chat:explode"},
		"no data":         {`{"event":"join_chat"}`, "data is required"},
		"wrong type":      {`{"event":"join_chat","data":{"conversation_id":7}}`, "malformed join_chat payload"},
		"missing field":   {`{"event":"leave_chat","data":{}}`, "conversation_id is required"},
		"empty message":   {`{"event":"chat:send_message","data":{"message":""}}`, "message is required"},
		"client id limit": {`{"event":"chat:send_message","data":{"message":"hi","client_id":"` + strings.Repeat("a", 65) + `"}}`, "client_id is too long"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeInbound([]byte(tc.frame))
			require.ErrorIs(t, err, apperr.ErrInvalidArgument)
			assert.Equal(t, tc.msg, apperr.PublicMessage(err))
		})
	}
}

func TestDecodeInboundKeepsClientIDOnValidationFailure(t *testing.T) {
	ev, err := DecodeInbound([]byte(`{"event":"chat:send_message","data":{"message":"","client_id":"c-9"}}`))
	require.Error(t, err)
	assert.Equal(t, "c-9", clientIDOf(ev))
}
