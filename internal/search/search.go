package search

import (
	"context"
	"log"

	"leonadmin/api/internal/store"
)

// ConversationRecord is the data we index per conversation.
type ConversationRecord struct {
	ID           string `json:"id"`
	Subject      string `json:"subject"`
	EmployeeName string `json:"employeeName"`
	Status       string `json:"status"`
}

// ConversationStore is the slice of storage the facade needs: substring
// fallback search plus lookups to hydrate index hits.
type ConversationStore interface {
	SearchConversations(ctx context.Context, keyword string, limit int) ([]store.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
}

// Service tries Meilisearch first and falls back to the store substring
// search when the index is unavailable.
type Service struct {
	meili *Meili
	store ConversationStore
}

// NewService creates the facade. meili may be nil when Meilisearch is not
// configured.
func NewService(meili *Meili, cs ConversationStore) *Service {
	return &Service{meili: meili, store: cs}
}

// Search returns matching conversations, most recently active first. Results
// are not scope-filtered here; the engine admits them per caller.
func (s *Service) Search(ctx context.Context, keyword string, limit int) ([]store.Conversation, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.Search(keyword, limit)
		if err == nil {
			return s.hydrate(ctx, ids)
		}
		log.Printf("search: meilisearch error, falling back to store: %v", err)
	}
	return s.store.SearchConversations(ctx, keyword, limit)
}

func (s *Service) hydrate(ctx context.Context, ids []string) ([]store.Conversation, error) {
	items := make([]store.Conversation, 0, len(ids))
	for _, id := range ids {
		c, err := s.store.GetConversation(ctx, id)
		if err != nil {
			// Index may lag behind deletes; skip stale hits.
			continue
		}
		items = append(items, c)
	}
	return items, nil
}

// IndexConversation pushes a conversation into the index (fire-and-forget).
func (s *Service) IndexConversation(c store.Conversation) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	rec := ConversationRecord{ID: c.ID, Subject: c.Subject, EmployeeName: c.EmployeeName, Status: c.Status}
	go func() {
		if err := s.meili.IndexConversation(rec); err != nil {
			log.Printf("search: index conversation %s: %v", rec.ID, err)
		}
	}()
}

// Close stops the Meilisearch health monitor if one is running.
func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}
