package chat

import (
	"context"
	"errors"
	"time"

	"support-chat-service/internal/models"
	"support-chat-service/internal/repositories"
)

// PurgeTrashed permanently removes conversations trashed before now-olderThan.
func (s *Service) PurgeTrashed(ctx context.Context, olderThan time.Duration) (int, error) {
	convs, err := s.repo.ListByStatus(ctx, models.StatusTrashed)
	if err != nil {
		return 0, s.fail("list trashed", err)
	}
	cutoff := s.now().UTC().Add(-olderThan)
	expired := func(c models.Conversation) bool {
		return c.Status == models.StatusTrashed && c.TrashedAt != nil && c.TrashedAt.Before(cutoff)
	}

	purged := 0
	for _, conv := range convs {
		if !expired(conv) {
			continue
		}
		err := s.repo.Delete(ctx, conv.ID, func(current models.Conversation) error {
			if !expired(current) {
				return errNoChange
			}
			return nil
		})
		if errors.Is(err, errNoChange) || errors.Is(err, repositories.ErrConversationNotFound) {
			continue
		}
		if err != nil {
			return purged, s.fail("purge trashed", err)
		}
		purged++
		s.moderated(ctx, "conversation_purged", "", conv.ID, "")
		s.broadcaster.ConversationClosed(conv)
	}
	return purged, nil
}

// CloseInactive trashes pending conversations whose last customer message is
// older than olderThan and that never got an operator reply.
func (s *Service) CloseInactive(ctx context.Context, olderThan time.Duration) (int, error) {
	convs, err := s.repo.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		return 0, s.fail("list pending", err)
	}
	cutoff := s.now().UTC().Add(-olderThan)
	stale := func(c models.Conversation) bool {
		if c.Status != models.StatusPending || c.HasAdminReply() {
			return false
		}
		last := c.CreatedAt
		if c.LastCustomerMessageAt != nil {
			last = *c.LastCustomerMessageAt
		}
		return last.Before(cutoff)
	}

	closed := 0
	for _, conv := range convs {
		if !stale(conv) {
			continue
		}
		updated, err := s.repo.Update(ctx, conv.ID, func(current *models.Conversation) error {
			if !stale(*current) {
				return errNoChange
			}
			now := s.now().UTC()
			current.Status = models.StatusTrashed
			current.TrashedAt = &now
			current.UpdatedAt = now
			return nil
		})
		if errors.Is(err, errNoChange) || errors.Is(err, repositories.ErrConversationNotFound) {
			continue
		}
		if err != nil {
			return closed, s.fail("close inactive", err)
		}
		closed++
		s.moderated(ctx, "conversation_closed", "", conv.ID, "")
		s.broadcaster.ConversationClosed(updated)
	}
	return closed, nil
}
