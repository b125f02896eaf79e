package ws

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/chat"
	"support-chat-service/internal/identity"
	"support-chat-service/internal/models"
	"support-chat-service/internal/observability"
)

// ChatService is the part of the engine the gateway drives.
type ChatService interface {
	Send(ctx context.Context, actor models.Identity, in chat.SendInput) (models.Message, error)
	ActiveConversation(ctx context.Context, participantID string) (*models.ConversationView, error)
	ConversationExists(ctx context.Context, conversationID string) error
}

// GatewayOptions tunes the socket gateway. Empty AllowedOrigins accepts any
// origin; a zero SendBuffer uses the default.
type GatewayOptions struct {
	AllowedOrigins []string
	SendBuffer     int
}

// Gateway authenticates socket handshakes and dispatches client events.
type Gateway struct {
	hub        *Hub
	chat       ChatService
	gate       identity.Gate
	log        zerolog.Logger
	upgrader   websocket.Upgrader
	sendBuffer int
}

// NewGateway wires a gateway over the hub and the chat engine.
func NewGateway(hub *Hub, svc ChatService, gate identity.Gate, log zerolog.Logger, opts GatewayOptions) *Gateway {
	return &Gateway{
		hub:  hub,
		chat: svc,
		gate: gate,
		log:  log.With().Str("component", "ws_gateway").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
		sendBuffer: opts.SendBuffer,
	}
}

// Handle authenticates the handshake, upgrades and serves the connection.
func (g *Gateway) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("support-chat/ws").Start(c.Request.Context(), "ws.handshake",
		trace.WithSpanKind(trace.SpanKindServer))

	id, err := g.gate.Authenticate(ctx, identity.TokenFromRequest(c.Request))
	if err != nil {
		span.SetStatus(codes.Error, apperr.PublicMessage(err))
		span.End()
		observability.IncWSEvent("anonymous", "ws_rejected")
		c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.PublicMessage(err)})
		return
	}
	span.SetAttributes(attribute.String("identity.id", id.ID), attribute.String("identity.role", string(id.Role)))

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.End()
		g.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		Identity:    id,
		Request:     observability.RequestInfoFrom(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	client := NewClient(conn, info, g.sendBuffer, g.log)
	go client.writeLoop()

	connCtx := context.WithoutCancel(ctx)
	g.admit(connCtx, client)
	go g.readLoop(connCtx, conn, client)
}

func (g *Gateway) admit(ctx context.Context, client *Client) {
	info := client.Info()
	g.hub.Admit(info.Identity, client)

	observability.IncWSActive(info.role())
	g.lifecycle(ctx, client, "ws_connect", "")

	if info.Identity.IsOperator() {
		return
	}
	view, err := g.chat.ActiveConversation(ctx, info.Identity.ID)
	if err != nil {
		client.log.Warn().Err(err).Msg("active conversation lookup failed")
		return
	}
	if view != nil {
		g.hub.Join(client, ConversationTopic(view.ID))
	}
}

func (g *Gateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client) {
	var reason string
	defer func() {
		g.hub.Remove(client)
		_ = client.Close()
		observability.DecWSActive(client.Info().role())
		g.lifecycle(ctx, client, "ws_disconnect", reason)
	}()

	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			reason = err.Error()
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.lifecycle(ctx, client, "ws_error", reason)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		g.dispatch(ctx, client, data)
	}
}

func (g *Gateway) dispatch(ctx context.Context, client *Client, data []byte) {
	id := client.Info().Identity

	ev, err := DecodeInbound(data)
	if err != nil {
		g.replyError(client, err, clientIDOf(ev))
		return
	}
	observability.IncWSEvent(string(id.Role), ev.EventName())

	switch e := ev.(type) {
	case *JoinChat:
		if !id.IsOperator() {
			g.replyError(client, apperr.Unauthorized("only operators can join conversations"), "")
			return
		}
		if err := g.chat.ConversationExists(ctx, e.ConversationID); err != nil {
			g.replyError(client, err, "")
			return
		}
		g.hub.Join(client, ConversationTopic(e.ConversationID))
		g.reply(client, models.EventJoined, models.JoinedEvent{ConversationID: e.ConversationID})

	case *LeaveChat:
		if !id.IsOperator() {
			g.replyError(client, apperr.Unauthorized("only operators can leave conversations"), "")
			return
		}
		g.hub.Leave(client, ConversationTopic(e.ConversationID))

	case *SendMessage:
		if id.IsOperator() {
			g.replyError(client, apperr.Unauthorized("operators must use "+models.EventAdminSendMessage), e.ClientID)
			return
		}
		if _, err := g.chat.Send(ctx, id, chat.SendInput{Body: e.Message, ClientID: e.ClientID}); err != nil {
			g.replyError(client, err, e.ClientID)
		}

	case *AdminSendMessage:
		if !id.IsOperator() {
			g.replyError(client, apperr.Unauthorized("only operators can send to a conversation"), e.ClientID)
			return
		}
		in := chat.SendInput{ConversationID: e.ConversationID, Body: e.Message, ClientID: e.ClientID}
		if _, err := g.chat.Send(ctx, id, in); err != nil {
			g.replyError(client, err, e.ClientID)
		}
	}
}

func (g *Gateway) reply(client *Client, event string, data any) {
	payload, err := models.EncodeFrame(event, data)
	if err != nil {
		client.log.Error().Err(err).Str("event", event).Msg("encode reply")
		return
	}
	if err := client.Send(payload); err != nil {
		client.log.Debug().Err(err).Str("event", event).Msg("reply dropped")
	}
}

func (g *Gateway) replyError(client *Client, err error, clientID string) {
	g.reply(client, models.EventError, models.ErrorEvent{
		Message:  apperr.PublicMessage(err),
		ClientID: clientID,
	})
}

func (g *Gateway) lifecycle(ctx context.Context, client *Client, event, reason string) {
	info := client.Info()
	observability.IncWSEvent(info.role(), event)
	headers := observability.BuildHeaders(info.Request.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.WSEvent(
		event, info.ConnID, info.Identity.ID, info.role(), info.Request.DeviceID, info.Request.IP,
		reason, time.Since(info.ConnectedAt).Milliseconds(),
	), headers)
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[u.Scheme+"://"+u.Host]
		return ok
	}
}
