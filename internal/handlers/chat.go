package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"support-chat-service/internal/chat"
	"support-chat-service/internal/middleware"
)

// ChatHandler serves the customer side of the support chat.
type ChatHandler struct {
	chat *chat.Service
}

// NewChatHandler builds the customer handlers over the engine.
func NewChatHandler(svc *chat.Service) *ChatHandler {
	return &ChatHandler{chat: svc}
}

type sendRequest struct {
	Message  string `json:"message" binding:"required"`
	ClientID string `json:"client_id" binding:"omitempty,max=64"`
}

type markReadRequest struct {
	MessageIDs []string `json:"message_ids" binding:"omitempty,max=500,dive,required,max=128"`
}

// GetChat handles GET /chat.
func (h *ChatHandler) GetChat(c *gin.Context) {
	view, err := h.chat.ActiveConversation(c.Request.Context(), middleware.IdentityFrom(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// GetMessages handles GET /chat/messages.
func (h *ChatHandler) GetMessages(c *gin.Context) {
	msgs, err := h.chat.CustomerMessages(c.Request.Context(), middleware.IdentityFrom(c).ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// PostMessage handles POST /chat/messages.
func (h *ChatHandler) PostMessage(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, bindError(err))
		return
	}

	msg, err := h.chat.Send(c.Request.Context(), middleware.IdentityFrom(c), chat.SendInput{
		Body:     req.Message,
		ClientID: req.ClientID,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": msg})
}

// MarkRead handles POST /chat/mark-read.
func (h *ChatHandler) MarkRead(c *gin.Context) {
	var req markReadRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		respondError(c, err)
		return
	}

	view, err := h.chat.MarkCustomerRead(c.Request.Context(), middleware.IdentityFrom(c).ID, req.MessageIDs)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"chat": view})
}

// bindOptionalJSON accepts an empty body as the zero request.
func bindOptionalJSON(c *gin.Context, dst any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	if err := c.ShouldBindJSON(dst); err != nil && !errors.Is(err, io.EOF) {
		return bindError(err)
	}
	return nil
}
