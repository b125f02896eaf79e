package repositories

import (
	"context"
	"errors"
	"sort"
	"sync"

	"support-chat-service/internal/models"
)

// MemoryConversationRepo keeps conversations in process memory. Mutations are
// serialized per participant, so different customers never contend.
type MemoryConversationRepo struct {
	mu    sync.RWMutex
	byID  map[string]models.Conversation
	locks map[string]*sync.Mutex
}

// NewMemoryConversationRepo constructs an empty MemoryConversationRepo.
func NewMemoryConversationRepo() *MemoryConversationRepo {
	return &MemoryConversationRepo{
		byID:  make(map[string]models.Conversation),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryConversationRepo) Get(ctx context.Context, id string) (models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.byID[id]
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (r *MemoryConversationRepo) FindActive(ctx context.Context, participantID string) (models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.activeLocked(participantID, "")
	if !ok {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv.Clone(), nil
}

func (r *MemoryConversationRepo) ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Conversation, error) {
	want := make(map[models.Status]struct{}, len(statuses))
	for _, s := range statuses {
		want[s] = struct{}{}
	}

	r.mu.RLock()
	out := make([]models.Conversation, 0, len(r.byID))
	for _, conv := range r.byID {
		if _, ok := want[conv.Status]; ok {
			out = append(out, conv.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (r *MemoryConversationRepo) WithActive(ctx context.Context, participantID string, create func() models.Conversation, fn MutateFunc) (models.Conversation, error) {
	unlock := r.lockParticipant(participantID)
	defer unlock()

	conv, err := r.FindActive(ctx, participantID)
	if errors.Is(err, ErrConversationNotFound) {
		conv = create()
	} else if err != nil {
		return models.Conversation{}, err
	}
	if err := fn(&conv); err != nil {
		return models.Conversation{}, err
	}
	return r.store(conv)
}

func (r *MemoryConversationRepo) Update(ctx context.Context, id string, fn MutateFunc) (models.Conversation, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return models.Conversation{}, err
	}
	unlock := r.lockParticipant(current.ParticipantID)
	defer unlock()

	// re-read under the participant lock
	conv, err := r.Get(ctx, id)
	if err != nil {
		return models.Conversation{}, err
	}
	if err := fn(&conv); err != nil {
		return models.Conversation{}, err
	}
	return r.store(conv)
}

func (r *MemoryConversationRepo) Delete(ctx context.Context, id string, check func(models.Conversation) error) error {
	current, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	unlock := r.lockParticipant(current.ParticipantID)
	defer unlock()

	conv, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := check(conv); err != nil {
		return err
	}
	r.mu.Lock()
	delete(r.byID, id)
	r.mu.Unlock()
	return nil
}

func (r *MemoryConversationRepo) Ping(ctx context.Context) error {
	return nil
}

func (r *MemoryConversationRepo) store(conv models.Conversation) (models.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if conv.Status.IsActive() {
		if _, clash := r.activeLocked(conv.ParticipantID, conv.ID); clash {
			return models.Conversation{}, ErrActiveConflict
		}
	}
	r.byID[conv.ID] = conv.Clone()
	return conv, nil
}

func (r *MemoryConversationRepo) activeLocked(participantID, exceptID string) (models.Conversation, bool) {
	for id, conv := range r.byID {
		if id != exceptID && conv.ParticipantID == participantID && conv.Status.IsActive() {
			return conv, true
		}
	}
	return models.Conversation{}, false
}

func (r *MemoryConversationRepo) lockParticipant(participantID string) func() {
	r.mu.Lock()
	l, ok := r.locks[participantID]
	if !ok {
		l = &sync.Mutex{}
		r.locks[participantID] = l
	}
	r.mu.Unlock()
	l.Lock()
	return l.Unlock
}
