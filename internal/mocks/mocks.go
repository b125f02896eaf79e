package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"support-chat-service/internal/chat"
	"support-chat-service/internal/identity"
	"support-chat-service/internal/models"
	"support-chat-service/internal/repositories"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, id string) (models.Conversation, error) {
	args := m.Called(ctx, id)
	return conversation(args.Get(0)), args.Error(1)
}

func (m *ConversationRepositoryMock) FindActive(ctx context.Context, participantID string) (models.Conversation, error) {
	args := m.Called(ctx, participantID)
	return conversation(args.Get(0)), args.Error(1)
}

func (m *ConversationRepositoryMock) ListByStatus(ctx context.Context, statuses ...models.Status) ([]models.Conversation, error) {
	args := m.Called(ctx, statuses)
	var list []models.Conversation
	if val := args.Get(0); val != nil {
		list = val.([]models.Conversation)
	}
	return list, args.Error(1)
}

func (m *ConversationRepositoryMock) WithActive(ctx context.Context, participantID string, create func() models.Conversation, fn repositories.MutateFunc) (models.Conversation, error) {
	args := m.Called(ctx, participantID)
	return conversation(args.Get(0)), args.Error(1)
}

func (m *ConversationRepositoryMock) Update(ctx context.Context, id string, fn repositories.MutateFunc) (models.Conversation, error) {
	args := m.Called(ctx, id)
	return conversation(args.Get(0)), args.Error(1)
}

func (m *ConversationRepositoryMock) Delete(ctx context.Context, id string, check func(models.Conversation) error) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ConversationRepositoryMock) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func conversation(val any) models.Conversation {
	if val == nil {
		return models.Conversation{}
	}
	return val.(models.Conversation)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) MessageSent(conv models.Conversation, msg models.Message) {
	m.Called(conv, msg)
}

func (m *BroadcasterMock) MessageDeleted(conv models.Conversation, msg models.Message) {
	m.Called(conv, msg)
}

func (m *BroadcasterMock) MessageRestored(conv models.Conversation, msg models.Message) {
	m.Called(conv, msg)
}

func (m *BroadcasterMock) MessagesRead(conv models.Conversation, reader models.Role) {
	m.Called(conv, reader)
}

func (m *BroadcasterMock) ConversationClosed(conv models.Conversation) {
	m.Called(conv)
}

func (m *BroadcasterMock) ConversationRestored(conv models.Conversation) {
	m.Called(conv)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) Lookup(ctx context.Context, id string) (identity.User, error) {
	args := m.Called(ctx, id)
	var user identity.User
	if val := args.Get(0); val != nil {
		user = val.(identity.User)
	}
	return user, args.Error(1)
}

var (
	_ repositories.ConversationRepository = (*ConversationRepositoryMock)(nil)
	_ chat.Broadcaster                    = (*BroadcasterMock)(nil)
	_ identity.Directory                  = (*DirectoryMock)(nil)
)
