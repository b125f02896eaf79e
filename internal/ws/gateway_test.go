package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/chat"
	"support-chat-service/internal/models"
	"support-chat-service/internal/repositories"
)

type stubGate map[string]models.Identity

func (g stubGate) Authenticate(_ context.Context, token string) (models.Identity, error) {
	id, ok := g[token]
	if !ok {
		return models.Identity{}, apperr.Unauthorized("invalid or expired token")
	}
	return id, nil
}

type testEnv struct {
	hub    *Hub
	svc    *chat.Service
	server *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := zerolog.Nop()
	hub := NewHub(log)
	svc := chat.NewService(repositories.NewMemoryConversationRepo(), NewNotifier(hub, log), log)
	gate := stubGate{
		"cust":    {ID: "cust-1", Role: models.RoleCustomer},
		"admin-a": {ID: "admin-a", Role: models.RoleAdmin},
		"admin-b": {ID: "admin-b", Role: models.RoleStaff},
	}

	r := gin.New()
	r.GET("/ws", NewGateway(hub, svc, gate, log, GatewayOptions{}).Handle)
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		server.Close()
	})
	return &testEnv{hub: hub, svc: svc, server: server}
}

func (e *testEnv) dial(t *testing.T, token, identityID string) *websocket.Conn {
	t.Helper()
	before := e.hub.Connections(identityID)
	url := "ws" + strings.TrimPrefix(e.server.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return e.hub.Connections(identityID) > before },
		time.Second, 5*time.Millisecond)
	return conn
}

func send(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	frame, err := models.EncodeFrame(event, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))
}

func expect(t *testing.T, conn *websocket.Conn, event string, out any) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var frame models.Frame
	require.NoError(t, json.Unmarshal(data, &frame))
	require.Equal(t, event, frame.Event, string(data))
	if out != nil {
		require.NoError(t, json.Unmarshal(frame.Data, out))
	}
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(150*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	require.Error(t, err, "unexpected frame %s", data)
}

func TestGatewayRejectsUnauthenticatedHandshake(t *testing.T) {
	env := newTestEnv(t)
	url := "ws" + strings.TrimPrefix(env.server.URL, "http") + "/ws?token=bogus"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayOperatorFanOut(t *testing.T) {
	env := newTestEnv(t)
	customerConn := env.dial(t, "cust", "cust-1")
	opA := env.dial(t, "admin-a", "admin-a")
	opB := env.dial(t, "admin-b", "admin-b")

	send(t, customerConn, models.EventSendMessage, SendMessage{Message: "hello", ClientID: "c-1"})

	var own models.Message
	expect(t, customerConn, models.EventNewMessage, &own)
	assert.Equal(t, "hello", own.Body)
	assert.Equal(t, "c-1", own.ClientID)

	var alert models.CustomerMessageEvent
	expect(t, opA, models.EventNewCustomerMessage, &alert)
	expect(t, opB, models.EventNewCustomerMessage, nil)
	convID := alert.ConversationID
	require.NotEmpty(t, convID)

	for _, op := range []*websocket.Conn{opA, opB} {
		send(t, op, models.EventJoinChat, JoinChat{ConversationID: convID})
		var joined models.JoinedEvent
		expect(t, op, models.EventJoined, &joined)
		assert.Equal(t, convID, joined.ConversationID)
	}

	send(t, opA, models.EventAdminSendMessage, AdminSendMessage{ConversationID: convID, Message: "how can I help?"})

	for _, op := range []*websocket.Conn{opA, opB} {
		var msg models.Message
		expect(t, op, models.EventNewMessage, &msg)
		assert.Equal(t, models.RoleAdmin, msg.SenderRole)
		expect(t, op, models.EventNewAdminMessage, nil)
		expectSilence(t, op)
	}
	expect(t, customerConn, models.EventNewMessage, nil)
	expectSilence(t, customerConn)

	view, err := env.svc.Conversation(context.Background(), convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, view.Status)
}

func TestGatewayErrorsGoOnlyToSender(t *testing.T) {
	env := newTestEnv(t)
	customerConn := env.dial(t, "cust", "cust-1")
	op := env.dial(t, "admin-a", "admin-a")

	send(t, customerConn, models.EventSendMessage, SendMessage{Message: "   ", ClientID: "c-7"})

	var failure models.ErrorEvent
	expect(t, customerConn, models.EventError, &failure)
	assert.Equal(t, "message is required", failure.Message)
	assert.Equal(t, "c-7", failure.ClientID)
	expectSilence(t, op)

	active, err := env.svc.ActiveConversation(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestGatewayRoleChecks(t *testing.T) {
	env := newTestEnv(t)
	customerConn := env.dial(t, "cust", "cust-1")
	op := env.dial(t, "admin-a", "admin-a")

	send(t, customerConn, models.EventAdminSendMessage, AdminSendMessage{ConversationID: "x", Message: "hi", ClientID: "c-2"})
	var failure models.ErrorEvent
	expect(t, customerConn, models.EventError, &failure)
	assert.Equal(t, "c-2", failure.ClientID)

	send(t, customerConn, models.EventJoinChat, JoinChat{ConversationID: "x"})
	expect(t, customerConn, models.EventError, nil)

	send(t, op, models.EventJoinChat, JoinChat{ConversationID: "missing"})
	expect(t, op, models.EventError, &failure)
	assert.Equal(t, "conversation not found", failure.Message)
}

func TestGatewayCustomerAutoJoinsActiveConversation(t *testing.T) {
	env := newTestEnv(t)
	customer := models.Identity{ID: "cust-1", Role: models.RoleCustomer}
	_, err := env.svc.Send(context.Background(), customer, chat.SendInput{Body: "first"})
	require.NoError(t, err)
	active, err := env.svc.ActiveConversation(context.Background(), "cust-1")
	require.NoError(t, err)
	require.NotNil(t, active)

	conn := env.dial(t, "cust", "cust-1")
	require.Eventually(t, func() bool { return env.hub.Subscribers(ConversationTopic(active.ID)) == 1 },
		time.Second, 5*time.Millisecond)

	operator := models.Identity{ID: "admin-a", Role: models.RoleAdmin}
	_, err = env.svc.Send(context.Background(), operator, chat.SendInput{ConversationID: active.ID, Body: "reply"})
	require.NoError(t, err)

	var msg models.Message
	expect(t, conn, models.EventNewMessage, &msg)
	assert.Equal(t, "reply", msg.Body)
}

func TestGatewayDisconnectLeavesNoMembership(t *testing.T) {
	env := newTestEnv(t)
	conn := env.dial(t, "admin-a", "admin-a")
	require.Equal(t, 1, env.hub.Subscribers(OperatorsTopic))

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return env.hub.Connections("admin-a") == 0 },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, env.hub.Subscribers(OperatorsTopic))
}

func TestGatewayOperatorSendToTrashedConversation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customerConn := env.dial(t, "cust", "cust-1")

	_, err := env.svc.Send(ctx, models.Identity{ID: "cust-1", Role: models.RoleCustomer}, chat.SendInput{Body: "hi"})
	require.NoError(t, err)
	expect(t, customerConn, models.EventNewMessage, nil)
	active, err := env.svc.ActiveConversation(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	_, err = env.svc.Close(ctx, active.ID)
	require.NoError(t, err)

	op := env.dial(t, "admin-a", "admin-a")
	send(t, op, models.EventAdminSendMessage, AdminSendMessage{ConversationID: active.ID, Message: "late", ClientID: "x"})

	var failure models.ErrorEvent
	expect(t, op, models.EventError, &failure)
	assert.Equal(t, "conversation not found", failure.Message)
	assert.Equal(t, "x", failure.ClientID)
	expectSilence(t, customerConn)

	view, err := env.svc.Conversation(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusTrashed, view.Status)
	assert.Equal(t, 1, view.MessageCount)
}

func TestGatewayCloseAndRestoreMoveTopicMembership(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	customerConn := env.dial(t, "cust", "cust-1")
	operator := models.Identity{ID: "admin-a", Role: models.RoleAdmin}

	msg, err := env.svc.Send(ctx, models.Identity{ID: "cust-1", Role: models.RoleCustomer}, chat.SendInput{Body: "hi"})
	require.NoError(t, err)
	expect(t, customerConn, models.EventNewMessage, nil)
	active, err := env.svc.ActiveConversation(ctx, "cust-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	topic := ConversationTopic(active.ID)
	require.Equal(t, 1, env.hub.Subscribers(topic))

	_, err = env.svc.Close(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, env.hub.Subscribers(topic))

	_, err = env.svc.SoftDelete(ctx, active.ID, msg.ID, operator)
	require.NoError(t, err)
	expectSilence(t, customerConn)

	_, err = env.svc.RestoreConversation(ctx, active.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, env.hub.Subscribers(topic))

	_, err = env.svc.Send(ctx, operator, chat.SendInput{ConversationID: active.ID, Body: "back again"})
	require.NoError(t, err)
	var reply models.Message
	expect(t, customerConn, models.EventNewMessage, &reply)
	assert.Equal(t, "back again", reply.Body)

	_, err = env.svc.Close(ctx, active.ID)
	require.NoError(t, err)
	require.NoError(t, env.svc.Purge(ctx, active.ID))
	assert.Equal(t, 0, env.hub.Subscribers(topic))
}
