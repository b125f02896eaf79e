package chat

import (
	"context"
	"errors"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/models"
	"support-chat-service/internal/observability"
)

// SoftDelete tombstones a message. Deleting an already deleted message keeps
// the first tombstone.
func (s *Service) SoftDelete(ctx context.Context, conversationID, messageID string, actor models.Identity) (models.Message, error) {
	if !actor.IsOperator() {
		return models.Message{}, apperr.Unauthorized("only operators can delete messages")
	}
	if conversationID == "" || messageID == "" {
		return models.Message{}, apperr.InvalidArgument("conversation_id and message_id are required")
	}

	var msg models.Message
	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		i := conv.Messages.Find(messageID)
		if i < 0 {
			return apperr.NotFound("message not found")
		}
		m := &conv.Messages[i]
		if m.Deleted {
			msg = *m
			return errNoChange
		}
		now := s.now().UTC()
		m.Deleted = true
		m.DeletedAt = &now
		m.DeletedBy = actor.ID
		msg = *m
		return nil
	})
	if errors.Is(err, errNoChange) {
		return msg, nil
	}
	if err != nil {
		return models.Message{}, s.fail("soft delete", err)
	}

	s.moderated(ctx, "message_deleted", actor.ID, conv.ID, msg.ID)
	s.broadcaster.MessageDeleted(conv, msg)
	return msg, nil
}

// RestoreMessage clears a message tombstone without touching its content.
func (s *Service) RestoreMessage(ctx context.Context, conversationID, messageID string) (models.Message, error) {
	if conversationID == "" || messageID == "" {
		return models.Message{}, apperr.InvalidArgument("conversation_id and message_id are required")
	}

	var msg models.Message
	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		i := conv.Messages.Find(messageID)
		if i < 0 || !conv.Messages[i].Deleted {
			return apperr.NotFound("deleted message not found")
		}
		m := &conv.Messages[i]
		m.Deleted = false
		m.DeletedAt = nil
		m.DeletedBy = ""
		msg = *m
		return nil
	})
	if err != nil {
		return models.Message{}, s.fail("restore message", err)
	}

	s.moderated(ctx, "message_restored", "", conv.ID, msg.ID)
	s.broadcaster.MessageRestored(conv, msg)
	return msg, nil
}

// ListTrash returns exactly the soft-deleted messages of a conversation.
func (s *Service) ListTrash(ctx context.Context, conversationID string) ([]models.Message, error) {
	conv, err := s.get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conv.TrashedMessages(), nil
}

// Close moves an active conversation to the trash. Messages are kept.
func (s *Service) Close(ctx context.Context, conversationID string) (models.ConversationView, error) {
	if conversationID == "" {
		return models.ConversationView{}, apperr.InvalidArgument("conversation_id is required")
	}
	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		if conv.Status == models.StatusTrashed {
			return apperr.InvalidState("conversation is already trashed")
		}
		now := s.now().UTC()
		conv.Status = models.StatusTrashed
		conv.TrashedAt = &now
		conv.UpdatedAt = now
		return nil
	})
	if err != nil {
		return models.ConversationView{}, s.fail("close conversation", err)
	}
	s.moderated(ctx, "conversation_closed", "", conv.ID, "")
	s.broadcaster.ConversationClosed(conv)
	return conv.View(true), nil
}

// RestoreConversation brings a trashed conversation back. It becomes open when
// an operator has ever replied and pending otherwise.
func (s *Service) RestoreConversation(ctx context.Context, conversationID string) (models.ConversationView, error) {
	if conversationID == "" {
		return models.ConversationView{}, apperr.InvalidArgument("conversation_id is required")
	}
	conv, err := s.repo.Update(ctx, conversationID, func(conv *models.Conversation) error {
		if conv.Status != models.StatusTrashed {
			return apperr.InvalidState("conversation is not trashed")
		}
		conv.Status = models.StatusPending
		if conv.HasAdminReply() {
			conv.Status = models.StatusOpen
		}
		conv.TrashedAt = nil
		conv.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return models.ConversationView{}, s.fail("restore conversation", err)
	}
	s.moderated(ctx, "conversation_restored", "", conv.ID, "")
	s.broadcaster.ConversationRestored(conv)
	return conv.View(true), nil
}

// Purge permanently removes a trashed conversation.
func (s *Service) Purge(ctx context.Context, conversationID string) error {
	if conversationID == "" {
		return apperr.InvalidArgument("conversation_id is required")
	}
	var purged models.Conversation
	err := s.repo.Delete(ctx, conversationID, func(conv models.Conversation) error {
		if conv.Status != models.StatusTrashed {
			return apperr.InvalidState("only trashed conversations can be purged")
		}
		purged = conv
		return nil
	})
	if err != nil {
		return s.fail("purge conversation", err)
	}
	s.moderated(ctx, "conversation_purged", "", conversationID, "")
	s.broadcaster.ConversationClosed(purged)
	return nil
}

func (s *Service) moderated(ctx context.Context, action, actorID, conversationID, messageID string) {
	observability.IncModeration(action)
	s.log.Info().
		Str("action", action).
		Str("conversation_id", conversationID).
		Str("message_id", messageID).
		Str("actor_id", actorID).
		Msg("moderation action")
	s.emit(ctx, action, map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"actor_id":        actorID,
	})
}
