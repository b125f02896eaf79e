package chat_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/chat"
	"support-chat-service/internal/mocks"
	"support-chat-service/internal/models"
	"support-chat-service/internal/repositories"
)

var (
	customer = models.Identity{ID: "cust-1", Role: models.RoleCustomer}
	admin    = models.Identity{ID: "admin-1", Role: models.RoleAdmin}
	staff    = models.Identity{ID: "staff-1", Role: models.RoleStaff}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newService(t *testing.T, b chat.Broadcaster) (*chat.Service, *fakeClock) {
	t.Helper()
	clock := newClock()
	svc := chat.NewService(repositories.NewMemoryConversationRepo(), b, zerolog.Nop(), chat.WithClock(clock.Now))
	return svc, clock
}

func activeID(t *testing.T, svc *chat.Service, participantID string) string {
	t.Helper()
	view, err := svc.ActiveConversation(context.Background(), participantID)
	require.NoError(t, err)
	require.NotNil(t, view)
	return view.ID
}

func TestFirstContactAndReply(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	view, err := svc.ActiveConversation(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, view)

	msg, err := svc.Send(ctx, customer, chat.SendInput{Body: "  hi  ", ClientID: "c-1"})
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Body)
	assert.Equal(t, "c-1", msg.ClientID)
	assert.Equal(t, models.RoleCustomer, msg.SenderRole)

	convID := activeID(t, svc, customer.ID)
	conv, err := svc.Conversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, conv.Status)
	assert.False(t, conv.Viewed)
	assert.Equal(t, 1, conv.UnreadByAdmin)
	require.NotNil(t, conv.LastCustomerMessageAt)

	reply, err := svc.Send(ctx, staff, chat.SendInput{ConversationID: convID, Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, reply.SenderRole)
	assert.Equal(t, "staff-1", reply.SenderID)

	conv, err = svc.Conversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, conv.Status)
	assert.Equal(t, "staff-1", conv.AdminID)
	assert.True(t, conv.Viewed)
	assert.Equal(t, 1, conv.UnreadByCustomer)
	require.NotNil(t, conv.LastMessage)
	assert.Equal(t, reply.ID, conv.LastMessage.ID)

	_, err = svc.Send(ctx, customer, chat.SendInput{Body: "thanks"})
	require.NoError(t, err)
	conv, err = svc.Conversation(ctx, convID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusOpen, conv.Status)
	assert.False(t, conv.Viewed)
	assert.Equal(t, 3, conv.MessageCount)
}

func TestSendValidation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	cases := map[string]struct {
		actor models.Identity
		in    chat.SendInput
		kind  error
	}{
		"no identity":       {models.Identity{}, chat.SendInput{Body: "hi"}, apperr.ErrUnauthorized},
		"blank body":        {customer, chat.SendInput{Body: " \n\t "}, apperr.ErrInvalidArgument},
		"body too long":     {customer, chat.SendInput{Body: strings.Repeat("ж", 4001)}, apperr.ErrInvalidArgument},
		"client id too big": {customer, chat.SendInput{Body: "hi", ClientID: strings.Repeat("x", 65)}, apperr.ErrInvalidArgument},
		"operator no conv":  {admin, chat.SendInput{Body: "hi"}, apperr.ErrInvalidArgument},
		"operator unknown":  {admin, chat.SendInput{ConversationID: "nope", Body: "hi"}, apperr.ErrNotFound},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := svc.Send(ctx, tc.actor, tc.in)
			assert.ErrorIs(t, err, tc.kind)
		})
	}

	active, err := svc.ActiveConversation(ctx, customer.ID)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestSendKeepsTimestampsStrictlyIncreasing(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := svc.Send(ctx, customer, chat.SendInput{Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	msgs, err := svc.CustomerMessages(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 5)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].CreatedAt.After(msgs[i-1].CreatedAt))
		assert.Equal(t, fmt.Sprintf("m%d", i), msgs[i].Body)
	}
}

func TestConcurrentFirstSendsShareOneConversation(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Send(ctx, customer, chat.SendInput{Body: fmt.Sprintf("tab %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	result, err := svc.ListConversations(ctx, chat.ListQuery{})
	require.NoError(t, err)
	require.Len(t, result.Chats, 1)
	assert.Equal(t, 20, result.Chats[0].MessageCount)
}

func TestMarkReadIsIdempotent(t *testing.T) {
	b := new(mocks.BroadcasterMock)
	b.On("MessageSent", mock.Anything, mock.Anything).Return()
	svc, _ := newService(t, b)
	ctx := context.Background()

	_, err := svc.Send(ctx, customer, chat.SendInput{Body: "one"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, customer, chat.SendInput{Body: "two"})
	require.NoError(t, err)
	convID := activeID(t, svc, customer.ID)

	b.On("MessagesRead", mock.MatchedBy(func(c models.Conversation) bool { return c.ID == convID }), models.RoleAdmin).Return().Once()

	view, err := svc.MarkRead(ctx, convID, models.RoleStaff, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, view.UnreadByAdmin)
	assert.True(t, view.Viewed)

	view, err = svc.MarkRead(ctx, convID, models.RoleAdmin, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, view.UnreadByAdmin)

	b.AssertExpectations(t)
	b.AssertNumberOfCalls(t, "MessagesRead", 1)
}

func TestMarkReadSelectedMessages(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()

	first, err := svc.Send(ctx, customer, chat.SendInput{Body: "one"})
	require.NoError(t, err)
	_, err = svc.Send(ctx, customer, chat.SendInput{Body: "two"})
	require.NoError(t, err)
	convID := activeID(t, svc, customer.ID)

	view, err := svc.MarkRead(ctx, convID, models.RoleAdmin, []string{first.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, view.UnreadByAdmin)

	_, err = svc.MarkCustomerRead(ctx, "someone-else", nil)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestMarkUnviewed(t *testing.T) {
	svc, _ := newService(t, nil)
	ctx := context.Background()
	_, err := svc.Send(ctx, customer, chat.SendInput{Body: "hi"})
	require.NoError(t, err)
	convID := activeID(t, svc, customer.ID)

	_, err = svc.MarkRead(ctx, convID, models.RoleAdmin, nil)
	require.NoError(t, err)
	view, err := svc.MarkUnviewed(ctx, convID)
	require.NoError(t, err)
	assert.False(t, view.Viewed)
	assert.Nil(t, view.ViewedAt)
	assert.Equal(t, 0, view.UnreadByAdmin)
}

func TestStoreFailureBecomesInternal(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	repo.On("FindActive", mock.Anything, customer.ID).Return(nil, errors.New("connection reset")).Once()
	svc := chat.NewService(repo, nil, zerolog.Nop())

	_, err := svc.ActiveConversation(context.Background(), customer.ID)
	require.ErrorIs(t, err, apperr.ErrInternal)
	assert.Equal(t, "internal error", apperr.PublicMessage(err))
	repo.AssertExpectations(t)
}

func TestActiveConflictBecomesInvalidState(t *testing.T) {
	repo := new(mocks.ConversationRepositoryMock)
	repo.On("Update", mock.Anything, "c-1").Return(nil, repositories.ErrActiveConflict).Once()
	svc := chat.NewService(repo, nil, zerolog.Nop())

	_, err := svc.RestoreConversation(context.Background(), "c-1")
	assert.ErrorIs(t, err, apperr.ErrInvalidState)
	repo.AssertExpectations(t)
}

func TestSendUsesIDGenerator(t *testing.T) {
	n := 0
	svc := chat.NewService(repositories.NewMemoryConversationRepo(), nil, zerolog.Nop(),
		chat.WithIDGenerator(func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		}))

	msg, err := svc.Send(context.Background(), customer, chat.SendInput{Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", activeID(t, svc, customer.ID))
	assert.Equal(t, "id-2", msg.ID)
}
