package search

import (
	"context"
	"database/sql"
	"testing"

	"leonadmin/api/internal/store"
)

type fakeConversationStore struct {
	conversations map[string]store.Conversation
	searched      []store.Conversation
	searchCalls   int
}

func (f *fakeConversationStore) SearchConversations(_ context.Context, _ string, _ int) ([]store.Conversation, error) {
	f.searchCalls++
	return f.searched, nil
}

func (f *fakeConversationStore) GetConversation(_ context.Context, id string) (store.Conversation, error) {
	c, ok := f.conversations[id]
	if !ok {
		return store.Conversation{}, sql.ErrNoRows
	}
	return c, nil
}

func TestSearchFallsBackWithoutMeili(t *testing.T) {
	fs := &fakeConversationStore{
		searched: []store.Conversation{{ID: "conv_1", Subject: "badge printer broken"}},
	}
	svc := NewService(nil, fs)

	got, err := svc.Search(context.Background(), "badge", 20)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if fs.searchCalls != 1 {
		t.Errorf("expected one fallback call, got %d", fs.searchCalls)
	}
	if len(got) != 1 || got[0].ID != "conv_1" {
		t.Errorf("unexpected results: %+v", got)
	}
}

func TestIndexConversationNoMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, &fakeConversationStore{})
	// Must not panic or spawn work when the index is not configured.
	svc.IndexConversation(store.Conversation{ID: "conv_1"})
	svc.Close()
}
