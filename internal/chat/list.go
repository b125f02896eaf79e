package chat

import (
	"context"
	"sort"
	"time"

	"support-chat-service/internal/apperr"
	"support-chat-service/internal/models"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// ListQuery selects a page of the operator inbox.
type ListQuery struct {
	Page   int
	Limit  int
	Filter string
}

// ListResult is a page of conversations with counts and last message.
type ListResult struct {
	Chats      []models.ConversationView `json:"chats"`
	Pagination models.Pagination         `json:"pagination"`
}

type listFilter struct {
	statuses []models.Status
	keep     func(models.Conversation) bool
}

func lastSenderIs(role models.Role) func(models.Conversation) bool {
	return func(c models.Conversation) bool {
		last, ok := c.LastVisible()
		return ok && last.SenderRole == role
	}
}

var listFilters = map[string]listFilter{
	"":          {statuses: models.ActiveStatuses},
	"active":    {statuses: models.ActiveStatuses},
	"trashed":   {statuses: []models.Status{models.StatusTrashed}},
	"closed":    {statuses: []models.Status{models.StatusTrashed}},
	"deleted":   {statuses: []models.Status{models.StatusTrashed}},
	"unviewed":  {statuses: models.ActiveStatuses, keep: func(c models.Conversation) bool { return !c.Viewed }},
	"viewed":    {statuses: models.ActiveStatuses, keep: func(c models.Conversation) bool { return c.Viewed }},
	"unreplied": {statuses: models.ActiveStatuses, keep: lastSenderIs(models.RoleCustomer)},
	"pending":   {statuses: models.ActiveStatuses, keep: lastSenderIs(models.RoleCustomer)},
	"replied":   {statuses: models.ActiveStatuses, keep: lastSenderIs(models.RoleAdmin)},
	"open":      {statuses: models.ActiveStatuses, keep: lastSenderIs(models.RoleAdmin)},
}

// ListConversations returns the operator inbox, newest activity first.
func (s *Service) ListConversations(ctx context.Context, q ListQuery) (ListResult, error) {
	filter, ok := listFilters[q.Filter]
	if !ok {
		return ListResult{}, apperr.InvalidArgument("unknown status filter")
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	limit := q.Limit
	if limit < 1 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}

	convs, err := s.repo.ListByStatus(ctx, filter.statuses...)
	if err != nil {
		return ListResult{}, s.fail("list conversations", err)
	}

	matched := make([]models.Conversation, 0, len(convs))
	for _, c := range convs {
		if len(c.Messages) == 0 {
			continue
		}
		if filter.keep != nil && !filter.keep(c) {
			continue
		}
		matched = append(matched, c)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return lastActivity(matched[i]).After(lastActivity(matched[j]))
	})

	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	views := make([]models.ConversationView, 0, end-start)
	for _, c := range matched[start:end] {
		views = append(views, c.View(false))
	}
	return ListResult{
		Chats: views,
		Pagination: models.Pagination{
			Page:      page,
			Limit:     limit,
			Total:     total,
			TotalPage: (total + limit - 1) / limit,
		},
	}, nil
}

func lastActivity(c models.Conversation) time.Time {
	if n := len(c.Messages); n > 0 {
		return c.Messages[n-1].CreatedAt
	}
	return c.UpdatedAt
}
