package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/chat"
	"support-chat-service/internal/middleware"
	"support-chat-service/internal/telemetry"
)

// AdminHandler serves the operator inbox and moderation endpoints.
type AdminHandler struct {
	chat  *chat.Service
	audit *telemetry.AuditEmitter
}

// NewAdminHandler builds the operator handlers. audit may be nil.
func NewAdminHandler(svc *chat.Service, audit *telemetry.AuditEmitter) *AdminHandler {
	return &AdminHandler{chat: svc, audit: audit}
}

// ListChats handles GET /admin/chats.
func (h *AdminHandler) ListChats(c *gin.Context) {
	page, err := queryInt(c, "page")
	if err != nil {
		respondError(c, err)
		return
	}
	limit, err := queryInt(c, "limit")
	if err != nil {
		respondError(c, err)
		return
	}

	result, err := h.chat.ListConversations(c.Request.Context(), chat.ListQuery{
		Page:   page,
		Limit:  limit,
		Filter: c.Query("status"),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GetChat handles GET /admin/chats/:chat_id.
func (h *AdminHandler) GetChat(c *gin.Context) {
	view, err := h.chat.Conversation(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// PostMessage handles POST /admin/chats/:chat_id/messages.
func (h *AdminHandler) PostMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), middleware.IdentityFrom(c), chat.SendInput{
		ConversationID: c.Param("chat_id"),
		Body:           req.Message,
		ClientID:       req.ClientID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkRead handles POST /admin/chats/:chat_id/mark-read.
func (h *AdminHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	reader := middleware.IdentityFrom(c).Role
	view, err := h.chat.MarkRead(c.Request.Context(), c.Param("chat_id"), reader, req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// MarkUnviewed handles POST /admin/chats/:chat_id/mark-unviewed.
func (h *AdminHandler) MarkUnviewed(c *gin.Context) {
	view, err := h.chat.MarkUnviewed(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// CloseChat handles POST /admin/chats/:chat_id/close.
func (h *AdminHandler) CloseChat(c *gin.Context) {
	view, err := h.chat.Close(c.Request.Context(), c.Param("chat_id"))
	h.emitAudit(c, "conversation_closed", err, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// RestoreChat handles POST /admin/chats/:chat_id/restore.
func (h *AdminHandler) RestoreChat(c *gin.Context) {
	view, err := h.chat.RestoreConversation(c.Request.Context(), c.Param("chat_id"))
	h.emitAudit(c, "conversation_restored", err, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// PurgeChat handles DELETE /admin/chats/:chat_id.
func (h *AdminHandler) PurgeChat(c *gin.Context) {
	err := h.chat.Purge(c.Request.Context(), c.Param("chat_id"))
	h.emitAudit(c, "conversation_purged", err, "")
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "purged"})
}

// ListTrash handles GET /admin/chats/:chat_id/trash.
func (h *AdminHandler) ListTrash(c *gin.Context) {
	msgs, err := h.chat.ListTrash(c.Request.Context(), c.Param("chat_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// DeleteMessage handles DELETE /admin/chats/:chat_id/messages/:message_id.
func (h *AdminHandler) DeleteMessage(c *gin.Context) {
	msg, err := h.chat.SoftDelete(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"), middleware.IdentityFrom(c))
	h.emitAudit(c, "message_deleted", err, c.Param("message_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// RestoreMessage handles POST /admin/chats/:chat_id/messages/:message_id/restore.
func (h *AdminHandler) RestoreMessage(c *gin.Context) {
	msg, err := h.chat.RestoreMessage(c.Request.Context(), c.Param("chat_id"), c.Param("message_id"))
	h.emitAudit(c, "message_restored", err, c.Param("message_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

func (h *AdminHandler) emitAudit(c *gin.Context, action string, err error, messageID string) {
	if h.audit == nil {
		return
	}
	text := action
	if err != nil {
		text = action + ": " + apperr.PublicMessage(err)
	}
	h.audit.Emit(c.Request.Context(), requestIDFromContext(c), userIDFromContext(c), telemetry.AuditPayload{
		Level:          auditLevel(err),
		Text:           text,
		Action:         action,
		ConversationID: c.Param("chat_id"),
		MessageID:      messageID,
	})
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.InvalidArgument(key + " must be a non-negative integer")
	}
	return n, nil
}
