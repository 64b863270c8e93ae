package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"testing"
	"time"

	"leonadmin/api/internal/adminauth"
	"leonadmin/api/internal/auth"
	"leonadmin/api/internal/config"
	"leonadmin/api/internal/filter"
	"leonadmin/api/internal/session"
	"leonadmin/api/internal/store"
)

type fakeStore struct {
	getAdminByUsernameFn          func(context.Context, string) (store.Admin, error)
	getAdminByIDFn                func(context.Context, string) (store.Admin, error)
	listEmployeesFn               func(context.Context, store.EmployeeQuery) ([]store.Employee, error)
	countEmployeesFn              func(context.Context, store.EmployeeQuery) (int, error)
	getEmployeeFn                 func(context.Context, string) (store.Employee, error)
	listConversationsFn           func(context.Context, store.ConversationQuery) ([]store.Conversation, error)
	getConversationFn             func(context.Context, string) (store.Conversation, error)
	listMessagesFn                func(context.Context, string) ([]store.Message, error)
	insertMessageFn               func(context.Context, store.Message) error
	conversationMessageStatsFn    func(context.Context, string) (store.MessageStats, error)
	applyReplyFn                  func(context.Context, string, string, time.Time) error
	setConversationStatusFn       func(context.Context, string, string, time.Time) error
	assignConversationFn          func(context.Context, string, string) error
	markMessagesReadFn            func(context.Context, string, string) error
	searchConversationsFn         func(context.Context, string, int) ([]store.Conversation, error)
	listDocumentRequestsFn        func(context.Context, store.DocumentRequestQuery) ([]store.DocumentRequest, error)
	getDocumentRequestFn          func(context.Context, string) (store.DocumentRequest, error)
	setDocumentRequestStatusFn    func(context.Context, string, string) error
	setDocumentRequestAttachFn    func(context.Context, string, string) error
	countDocumentRequestsFn       func(context.Context, store.DocumentRequestQuery) (int, error)
	listNewsFn                    func(context.Context, store.NewsQuery) ([]store.NewsItem, error)
	getNewsItemFn                 func(context.Context, string) (store.NewsItem, error)
	insertNewsItemFn              func(context.Context, store.NewsItem) error
	publishNewsItemFn             func(context.Context, string, time.Time) error
	deleteNewsItemFn              func(context.Context, string) error
	listDepartmentsFn             func(context.Context) ([]string, error)
	listLocationsFn               func(context.Context) ([]string, error)
}

func (f *fakeStore) GetAdminByUsername(ctx context.Context, username string) (store.Admin, error) {
	if f.getAdminByUsernameFn != nil {
		return f.getAdminByUsernameFn(ctx, username)
	}
	return store.Admin{}, sql.ErrNoRows
}
func (f *fakeStore) GetAdminByID(ctx context.Context, adminID string) (store.Admin, error) {
	if f.getAdminByIDFn != nil {
		return f.getAdminByIDFn(ctx, adminID)
	}
	return store.Admin{}, sql.ErrNoRows
}
func (f *fakeStore) ListEmployees(ctx context.Context, q store.EmployeeQuery) ([]store.Employee, error) {
	if f.listEmployeesFn != nil {
		return f.listEmployeesFn(ctx, q)
	}
	return nil, nil
}
func (f *fakeStore) CountEmployees(ctx context.Context, q store.EmployeeQuery) (int, error) {
	if f.countEmployeesFn != nil {
		return f.countEmployeesFn(ctx, q)
	}
	return 0, nil
}
func (f *fakeStore) GetEmployee(ctx context.Context, employeeID string) (store.Employee, error) {
	if f.getEmployeeFn != nil {
		return f.getEmployeeFn(ctx, employeeID)
	}
	return store.Employee{}, sql.ErrNoRows
}
func (f *fakeStore) ListConversations(ctx context.Context, q store.ConversationQuery) ([]store.Conversation, error) {
	if f.listConversationsFn != nil {
		return f.listConversationsFn(ctx, q)
	}
	return nil, nil
}
func (f *fakeStore) GetConversation(ctx context.Context, conversationID string) (store.Conversation, error) {
	if f.getConversationFn != nil {
		return f.getConversationFn(ctx, conversationID)
	}
	return store.Conversation{}, sql.ErrNoRows
}
func (f *fakeStore) ListMessages(ctx context.Context, conversationID string) ([]store.Message, error) {
	if f.listMessagesFn != nil {
		return f.listMessagesFn(ctx, conversationID)
	}
	return nil, nil
}
func (f *fakeStore) InsertMessage(ctx context.Context, m store.Message) error {
	if f.insertMessageFn != nil {
		return f.insertMessageFn(ctx, m)
	}
	return nil
}
func (f *fakeStore) ConversationMessageStats(ctx context.Context, conversationID string) (store.MessageStats, error) {
	if f.conversationMessageStatsFn != nil {
		return f.conversationMessageStatsFn(ctx, conversationID)
	}
	return store.MessageStats{}, nil
}
func (f *fakeStore) ApplyReply(ctx context.Context, conversationID, adminID string, now time.Time) error {
	if f.applyReplyFn != nil {
		return f.applyReplyFn(ctx, conversationID, adminID, now)
	}
	return nil
}
func (f *fakeStore) SetConversationStatus(ctx context.Context, conversationID, status string, now time.Time) error {
	if f.setConversationStatusFn != nil {
		return f.setConversationStatusFn(ctx, conversationID, status, now)
	}
	return nil
}
func (f *fakeStore) AssignConversation(ctx context.Context, conversationID, adminID string) error {
	if f.assignConversationFn != nil {
		return f.assignConversationFn(ctx, conversationID, adminID)
	}
	return nil
}
func (f *fakeStore) MarkMessagesRead(ctx context.Context, conversationID, readerSenderType string) error {
	if f.markMessagesReadFn != nil {
		return f.markMessagesReadFn(ctx, conversationID, readerSenderType)
	}
	return nil
}
func (f *fakeStore) SearchConversations(ctx context.Context, keyword string, limit int) ([]store.Conversation, error) {
	if f.searchConversationsFn != nil {
		return f.searchConversationsFn(ctx, keyword, limit)
	}
	return nil, nil
}
func (f *fakeStore) ListDocumentRequests(ctx context.Context, q store.DocumentRequestQuery) ([]store.DocumentRequest, error) {
	if f.listDocumentRequestsFn != nil {
		return f.listDocumentRequestsFn(ctx, q)
	}
	return nil, nil
}
func (f *fakeStore) GetDocumentRequest(ctx context.Context, requestID string) (store.DocumentRequest, error) {
	if f.getDocumentRequestFn != nil {
		return f.getDocumentRequestFn(ctx, requestID)
	}
	return store.DocumentRequest{}, sql.ErrNoRows
}
func (f *fakeStore) SetDocumentRequestStatus(ctx context.Context, requestID, status string) error {
	if f.setDocumentRequestStatusFn != nil {
		return f.setDocumentRequestStatusFn(ctx, requestID, status)
	}
	return nil
}
func (f *fakeStore) SetDocumentRequestAttachment(ctx context.Context, requestID, attachmentKey string) error {
	if f.setDocumentRequestAttachFn != nil {
		return f.setDocumentRequestAttachFn(ctx, requestID, attachmentKey)
	}
	return nil
}
func (f *fakeStore) CountDocumentRequests(ctx context.Context, q store.DocumentRequestQuery) (int, error) {
	if f.countDocumentRequestsFn != nil {
		return f.countDocumentRequestsFn(ctx, q)
	}
	return 0, nil
}
func (f *fakeStore) ListNews(ctx context.Context, q store.NewsQuery) ([]store.NewsItem, error) {
	if f.listNewsFn != nil {
		return f.listNewsFn(ctx, q)
	}
	return nil, nil
}
func (f *fakeStore) GetNewsItem(ctx context.Context, newsID string) (store.NewsItem, error) {
	if f.getNewsItemFn != nil {
		return f.getNewsItemFn(ctx, newsID)
	}
	return store.NewsItem{}, sql.ErrNoRows
}
func (f *fakeStore) InsertNewsItem(ctx context.Context, n store.NewsItem) error {
	if f.insertNewsItemFn != nil {
		return f.insertNewsItemFn(ctx, n)
	}
	return nil
}
func (f *fakeStore) PublishNewsItem(ctx context.Context, newsID string, now time.Time) error {
	if f.publishNewsItemFn != nil {
		return f.publishNewsItemFn(ctx, newsID, now)
	}
	return nil
}
func (f *fakeStore) DeleteNewsItem(ctx context.Context, newsID string) error {
	if f.deleteNewsItemFn != nil {
		return f.deleteNewsItemFn(ctx, newsID)
	}
	return nil
}
func (f *fakeStore) ListDepartments(ctx context.Context) ([]string, error) {
	if f.listDepartmentsFn != nil {
		return f.listDepartmentsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) ListLocations(ctx context.Context) ([]string, error) {
	if f.listLocationsFn != nil {
		return f.listLocationsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) Ping(context.Context) error { return nil }

// convState is a small in-memory conversation store backing the fakeStore
// function fields, so reply/read side effects behave like the real thing.
type convState struct {
	conversations map[string]*store.Conversation
	messages      []store.Message
	order         []string
}

func (cs *convState) stats(conversationID string) store.MessageStats {
	var st store.MessageStats
	for _, m := range cs.messages {
		if m.ConversationID != conversationID {
			continue
		}
		st.Count++
		if m.SenderType == "user" && !m.IsRead {
			st.UnreadFromUser++
		}
		if m.CreatedAt.After(st.LastAt) {
			st.LastAt = m.CreatedAt
			st.LastBody = m.Body
		}
	}
	return st
}

func (cs *convState) wire(f *fakeStore) {
	f.listConversationsFn = func(_ context.Context, q store.ConversationQuery) ([]store.Conversation, error) {
		items := make([]store.Conversation, 0, len(cs.order))
		for _, id := range cs.order {
			c := *cs.conversations[id]
			if q.Status != "" && c.Status != q.Status {
				continue
			}
			items = append(items, c)
		}
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].LastActivityAt.After(items[j].LastActivityAt)
		})
		return items, nil
	}
	f.getConversationFn = func(_ context.Context, id string) (store.Conversation, error) {
		c, ok := cs.conversations[id]
		if !ok {
			return store.Conversation{}, sql.ErrNoRows
		}
		return *c, nil
	}
	f.conversationMessageStatsFn = func(_ context.Context, id string) (store.MessageStats, error) {
		return cs.stats(id), nil
	}
	f.listMessagesFn = func(_ context.Context, id string) ([]store.Message, error) {
		var out []store.Message
		for _, m := range cs.messages {
			if m.ConversationID == id {
				out = append(out, m)
			}
		}
		sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	}
	f.insertMessageFn = func(_ context.Context, m store.Message) error {
		cs.messages = append(cs.messages, m)
		return nil
	}
	f.applyReplyFn = func(_ context.Context, id, adminID string, now time.Time) error {
		c, ok := cs.conversations[id]
		if !ok {
			return sql.ErrNoRows
		}
		c.MessageCount++
		if c.Status == "open" {
			c.Status = "in_progress"
		}
		c.HasUnreadMessages = true
		if c.AssignedAdminID == "" {
			c.AssignedAdminID = adminID
		}
		c.LastActivityAt = now
		return nil
	}
	f.setConversationStatusFn = func(_ context.Context, id, status string, now time.Time) error {
		c, ok := cs.conversations[id]
		if !ok {
			return sql.ErrNoRows
		}
		c.Status = status
		c.LastActivityAt = now
		return nil
	}
	f.assignConversationFn = func(_ context.Context, id, adminID string) error {
		c, ok := cs.conversations[id]
		if !ok {
			return sql.ErrNoRows
		}
		c.AssignedAdminID = adminID
		return nil
	}
	f.markMessagesReadFn = func(_ context.Context, id, readerType string) error {
		for i := range cs.messages {
			if cs.messages[i].ConversationID == id && cs.messages[i].SenderType != readerType {
				cs.messages[i].IsRead = true
			}
		}
		c, ok := cs.conversations[id]
		if ok {
			c.HasUnreadMessages = cs.stats(id).UnreadFromUser > 0
		}
		return nil
	}
}

type fixture struct {
	svc   *Service
	fake  *fakeStore
	state *convState
	base  time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	base := time.Now().UTC().Add(-48 * time.Hour)
	state := &convState{
		conversations: map[string]*store.Conversation{
			"conv_prod": {
				ID: "conv_prod", EmployeeID: "emp_1", EmployeeName: "Sami Trabelsi",
				Subject: "Line 3 conveyor stopped", Status: "open",
				TargetDepartment: "Production", TargetLocation: "Mateur",
				CreatedAt: base, LastActivityAt: base.Add(3 * time.Hour),
			},
			"conv_it": {
				ID: "conv_it", EmployeeID: "emp_2", EmployeeName: "Rim Ben Ali",
				Subject: "VPN access request", Status: "open",
				TargetDepartment: "IT", TargetLocation: "Sousse",
				CreatedAt: base, LastActivityAt: base.Add(2 * time.Hour),
			},
			"conv_legacy": {
				ID: "conv_legacy", EmployeeID: "emp_3", EmployeeName: "Hedi Gharbi",
				Subject: "Spare part missing", Status: "in_progress",
				Category:  "production_support",
				CreatedAt: base, LastActivityAt: base.Add(time.Hour),
			},
			"conv_unresolved": {
				ID: "conv_unresolved", EmployeeID: "emp_4", EmployeeName: "Imen Said",
				Subject: "General question", Status: "open",
				CreatedAt: base, LastActivityAt: base.Add(30 * time.Minute),
			},
			"conv_closed": {
				ID: "conv_closed", EmployeeID: "emp_1", EmployeeName: "Sami Trabelsi",
				Subject: "Badge replacement", Status: "closed",
				TargetDepartment: "Production", TargetLocation: "Mateur",
				CreatedAt: base, LastActivityAt: base.Add(15 * time.Minute),
			},
		},
		order: []string{"conv_prod", "conv_it", "conv_legacy", "conv_unresolved", "conv_closed"},
		messages: []store.Message{
			{ID: "msg_1", ConversationID: "conv_prod", SenderID: "emp_1", SenderName: "Sami Trabelsi", SenderType: "user", Body: "The conveyor stopped again", CreatedAt: base.Add(time.Hour)},
			{ID: "msg_2", ConversationID: "conv_prod", SenderID: "emp_1", SenderName: "Sami Trabelsi", SenderType: "user", Body: "Still waiting", CreatedAt: base.Add(3 * time.Hour)},
			{ID: "msg_3", ConversationID: "conv_it", SenderID: "emp_2", SenderName: "Rim Ben Ali", SenderType: "user", Body: "Need VPN for home office", CreatedAt: base.Add(2 * time.Hour)},
		},
	}

	admins := map[string]store.Admin{
		"adm_prod":  {ID: "adm_prod", Username: "karim", Role: "ADMIN", Department: "Production", Location: "Mateur", Active: true},
		"adm_it":    {ID: "adm_it", Username: "aziz", Role: "ADMIN", Department: "IT", Location: "Sousse", Active: true},
		"adm_super": {ID: "adm_super", Username: "root", Role: "SUPERADMIN", Active: true},
	}

	fake := &fakeStore{
		getAdminByIDFn: func(_ context.Context, id string) (store.Admin, error) {
			a, ok := admins[id]
			if !ok {
				return store.Admin{}, sql.ErrNoRows
			}
			return a, nil
		},
	}
	state.wire(fake)

	tokens := auth.NewService(session.NewMemoryStore(), 24*time.Hour)
	svc := &Service{
		cfg:    config.Config{},
		store:  fake,
		tokens: tokens,
		creds:  adminauth.NewService(fake),
		now:    time.Now,
	}
	return &fixture{svc: svc, fake: fake, state: state, base: base}
}

func (fx *fixture) token(t *testing.T, adminID, username, role, department, location string) string {
	t.Helper()
	token, err := fx.svc.tokens.Issue(context.Background(), auth.Claims{
		SubjectID: adminID, Username: username, Role: role, Department: department, Location: location,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func (fx *fixture) prodToken(t *testing.T) string {
	return fx.token(t, "adm_prod", "karim", "ADMIN", "Production", "Mateur")
}

func (fx *fixture) superToken(t *testing.T) string {
	return fx.token(t, "adm_super", "root", "SUPERADMIN", "", "")
}

func conversationIDs(t *testing.T, payload map[string]any) []string {
	t.Helper()
	raw, ok := payload["conversations"].([]map[string]any)
	if !ok {
		t.Fatalf("payload has no conversations list: %+v", payload)
	}
	ids := make([]string, 0, len(raw))
	for _, item := range raw {
		ids = append(ids, item["id"].(string))
	}
	return ids
}

func TestListConversationsScopeContainment(t *testing.T) {
	fx := newFixture(t)

	payload, err := fx.svc.ListConversations(context.Background(), fx.prodToken(t), 0, 20, "")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	ids := conversationIDs(t, payload)

	want := map[string]bool{"conv_prod": true, "conv_legacy": true, "conv_unresolved": true, "conv_closed": true}
	if len(ids) != len(want) {
		t.Fatalf("expected %d conversations, got %v", len(want), ids)
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("conversation %s leaked into (Production, Mateur) scope", id)
		}
	}
}

func TestListConversationsUnrestrictedFullScan(t *testing.T) {
	fx := newFixture(t)

	payload, err := fx.svc.ListConversations(context.Background(), fx.superToken(t), 0, 20, "")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	if got := payload["totalElements"].(int); got != len(fx.state.conversations) {
		t.Errorf("unrestricted listing returned %d of %d conversations", got, len(fx.state.conversations))
	}
}

func TestListConversationsInvalidScopeForbidden(t *testing.T) {
	fx := newFixture(t)
	token := fx.token(t, "adm_broken", "broken", "ADMIN", "Production", "")

	_, err := fx.svc.ListConversations(context.Background(), token, 0, 20, "")
	if !errors.Is(err, filter.ErrScopeInvalid) {
		t.Fatalf("expected scope invalid error for scope-less admin, got %v", err)
	}
}

func TestListConversationsSortedByActivity(t *testing.T) {
	fx := newFixture(t)

	payload, err := fx.svc.ListConversations(context.Background(), fx.superToken(t), 0, 20, "")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	raw := payload["conversations"].([]map[string]any)
	var prev time.Time
	for i, item := range raw {
		at := item["lastActivityAt"].(time.Time)
		if i > 0 && at.After(prev) {
			t.Errorf("conversations out of order at index %d", i)
		}
		prev = at
	}
}

func TestListConversationsEnrichment(t *testing.T) {
	fx := newFixture(t)

	payload, err := fx.svc.ListConversations(context.Background(), fx.prodToken(t), 0, 20, "open")
	if err != nil {
		t.Fatalf("ListConversations failed: %v", err)
	}
	raw := payload["conversations"].([]map[string]any)
	for _, item := range raw {
		if item["id"] != "conv_prod" {
			continue
		}
		if item["messageCount"].(int) != 2 {
			t.Errorf("expected live message count 2, got %v", item["messageCount"])
		}
		if item["hasUnreadMessages"].(bool) != true {
			t.Error("expected unread flag from unread user messages")
		}
		if item["lastMessage"] != "Still waiting" {
			t.Errorf("unexpected last message: %v", item["lastMessage"])
		}
		return
	}
	t.Fatal("conv_prod missing from open listing")
}

func TestGetConversationForbiddenOutsideScope(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.GetConversation(context.Background(), fx.prodToken(t), "conv_it")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403, got %v", err)
	}
}

func TestGetConversationReadSideEffects(t *testing.T) {
	fx := newFixture(t)

	payload, err := fx.svc.GetConversation(context.Background(), fx.prodToken(t), "conv_prod")
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got := payload["unreadCountForCaller"].(int); got != 2 {
		t.Errorf("expected 2 unread before marking, got %d", got)
	}
	for _, m := range fx.state.messages {
		if m.ConversationID == "conv_prod" && m.SenderType == "user" && !m.IsRead {
			t.Errorf("message %s still unread after detail view", m.ID)
		}
	}
	conv := payload["conversation"].(map[string]any)
	if conv["hasUnreadMessages"].(bool) {
		t.Error("unread flag should clear once everything is read")
	}

	// A second view reports nothing unread.
	payload, err = fx.svc.GetConversation(context.Background(), fx.prodToken(t), "conv_prod")
	if err != nil {
		t.Fatalf("second GetConversation failed: %v", err)
	}
	if got := payload["unreadCountForCaller"].(int); got != 0 {
		t.Errorf("expected 0 unread on second view, got %d", got)
	}
}

func TestReplySideEffects(t *testing.T) {
	fx := newFixture(t)
	before := *fx.state.conversations["conv_prod"]

	payload, err := fx.svc.Reply(context.Background(), fx.prodToken(t), "conv_prod", "Technician dispatched")
	if err != nil {
		t.Fatalf("Reply failed: %v", err)
	}

	after := fx.state.conversations["conv_prod"]
	if after.MessageCount != before.MessageCount+1 {
		t.Errorf("message count: got %d, want %d", after.MessageCount, before.MessageCount+1)
	}
	if after.Status != "in_progress" {
		t.Errorf("open conversation should move to in_progress, got %s", after.Status)
	}
	if !after.HasUnreadMessages {
		t.Error("reply must flag unread for the participant")
	}
	if after.AssignedAdminID != "adm_prod" {
		t.Errorf("first responder should be assigned, got %q", after.AssignedAdminID)
	}

	msg := payload["message"].(map[string]any)
	if msg["senderType"] != "admin" {
		t.Errorf("unexpected sender type: %v", msg["senderType"])
	}
}

func TestReplyKeepsExistingAssignee(t *testing.T) {
	fx := newFixture(t)
	fx.state.conversations["conv_prod"].AssignedAdminID = "adm_super"

	if _, err := fx.svc.Reply(context.Background(), fx.prodToken(t), "conv_prod", "Following up"); err != nil {
		t.Fatalf("Reply failed: %v", err)
	}
	if got := fx.state.conversations["conv_prod"].AssignedAdminID; got != "adm_super" {
		t.Errorf("existing assignee overwritten: %q", got)
	}
}

func TestReplyEmptyBodyRejected(t *testing.T) {
	fx := newFixture(t)

	_, err := fx.svc.Reply(context.Background(), fx.prodToken(t), "conv_prod", "   ")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for empty body, got %v", err)
	}
}

func TestStatusTransitions(t *testing.T) {
	fx := newFixture(t)
	token := fx.prodToken(t)

	if _, err := fx.svc.SetConversationStatus(context.Background(), token, "conv_prod", "closed"); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// closed -> open requires the explicit reopen action
	_, err := fx.svc.SetConversationStatus(context.Background(), token, "conv_prod", "open")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for closed->open, got %v", err)
	}

	if _, err := fx.svc.ReopenConversation(context.Background(), token, "conv_prod"); err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got := fx.state.conversations["conv_prod"].Status; got != "open" {
		t.Errorf("status after reopen: %s", got)
	}

	// Reopen only applies to closed conversations.
	_, err = fx.svc.ReopenConversation(context.Background(), token, "conv_prod")
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 reopening a non-closed conversation, got %v", err)
	}

	_, err = fx.svc.SetConversationStatus(context.Background(), token, "conv_prod", "paused")
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for unknown status, got %v", err)
	}
}

func TestAssignmentAuthorization(t *testing.T) {
	fx := newFixture(t)

	// An admin may claim a conversation for themself.
	if _, err := fx.svc.AssignConversation(context.Background(), fx.prodToken(t), "conv_prod", "adm_prod"); err != nil {
		t.Fatalf("self-assign failed: %v", err)
	}

	// But never for anyone else.
	_, err := fx.svc.AssignConversation(context.Background(), fx.prodToken(t), "conv_prod", "adm_it")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 403 {
		t.Fatalf("expected 403 assigning another admin, got %v", err)
	}

	// A superadmin may assign anyone.
	if _, err := fx.svc.AssignConversation(context.Background(), fx.superToken(t), "conv_prod", "adm_it"); err != nil {
		t.Fatalf("superadmin assign failed: %v", err)
	}
	if got := fx.state.conversations["conv_prod"].AssignedAdminID; got != "adm_it" {
		t.Errorf("assignment not recorded: %q", got)
	}

	// Unknown target admins are rejected before any write.
	_, err = fx.svc.AssignConversation(context.Background(), fx.superToken(t), "conv_prod", "adm_ghost")
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for unknown admin, got %v", err)
	}
}

func TestSearchConversationsScoped(t *testing.T) {
	fx := newFixture(t)
	fx.fake.searchConversationsFn = func(_ context.Context, keyword string, limit int) ([]store.Conversation, error) {
		var out []store.Conversation
		for _, id := range fx.state.order {
			out = append(out, *fx.state.conversations[id])
		}
		return out, nil
	}

	payload, err := fx.svc.SearchConversations(context.Background(), fx.prodToken(t), "anything")
	if err != nil {
		t.Fatalf("SearchConversations failed: %v", err)
	}
	for _, id := range conversationIDs(t, payload) {
		if id == "conv_it" {
			t.Error("search leaked a conversation outside the caller's scope")
		}
	}

	_, err = fx.svc.SearchConversations(context.Background(), fx.prodToken(t), "  ")
	var derr *DomainError
	if !asDomainError(err, &derr) || derr.Status != 422 {
		t.Fatalf("expected 422 for blank query, got %v", err)
	}
}

func TestStatistics(t *testing.T) {
	fx := newFixture(t)
	fx.fake.countEmployeesFn = func(_ context.Context, q store.EmployeeQuery) (int, error) {
		if q.Department == "Production" && q.Location == "Mateur" {
			return 12, nil
		}
		return 40, nil
	}

	payload, err := fx.svc.Statistics(context.Background(), fx.prodToken(t))
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	conv := payload["conversations"].(map[string]any)
	if conv["total"].(int) != 4 {
		t.Errorf("scoped total: got %v, want 4", conv["total"])
	}
	if conv["open"].(int) != 2 || conv["inProgress"].(int) != 1 || conv["closed"].(int) != 1 {
		t.Errorf("per-status counts wrong: %+v", conv)
	}
	if conv["unread"].(int) != 1 {
		t.Errorf("unread: got %v, want 1 (conv_prod)", conv["unread"])
	}
	if payload["employees"].(int) != 12 {
		t.Errorf("employee count not scoped: %v", payload["employees"])
	}
}

func TestEndToEndProductionMateur(t *testing.T) {
	fx := newFixture(t)
	token := fx.prodToken(t)

	payload, err := fx.svc.ListConversations(context.Background(), token, 0, 20, "open")
	if err != nil {
		t.Fatalf("first listing failed: %v", err)
	}
	ids := conversationIDs(t, payload)
	for _, id := range ids {
		if id == "conv_it" || id == "conv_closed" || id == "conv_legacy" {
			t.Errorf("unexpected conversation in open (Production, Mateur) listing: %s", id)
		}
	}

	if _, err := fx.svc.Reply(context.Background(), token, "conv_prod", "On our way"); err != nil {
		t.Fatalf("reply failed: %v", err)
	}

	payload, err = fx.svc.ListConversations(context.Background(), token, 0, 20, "")
	if err != nil {
		t.Fatalf("second listing failed: %v", err)
	}
	for _, item := range payload["conversations"].([]map[string]any) {
		if item["id"] != "conv_prod" {
			continue
		}
		if item["status"] != "in_progress" {
			t.Errorf("status after reply: %v", item["status"])
		}
		if item["messageCount"].(int) != 3 {
			t.Errorf("message count after reply: %v", item["messageCount"])
		}
		if item["assignedAdminId"] != "adm_prod" {
			t.Errorf("assignee after reply: %v", item["assignedAdminId"])
		}
		return
	}
	t.Fatal("conv_prod missing from second listing")
}

func TestFilteringOptions(t *testing.T) {
	fx := newFixture(t)
	fx.fake.listDepartmentsFn = func(context.Context) ([]string, error) {
		return []string{"IT", "Production"}, nil
	}
	fx.fake.listLocationsFn = func(context.Context) ([]string, error) {
		return []string{"Mateur", "Sousse"}, nil
	}

	payload, err := fx.svc.FilteringOptions(context.Background(), fx.prodToken(t))
	if err != nil {
		t.Fatalf("FilteringOptions failed: %v", err)
	}
	deps := payload["departments"].([]string)
	if len(deps) != 1 || deps[0] != "Production" {
		t.Errorf("restricted admin should only see their department: %v", deps)
	}

	payload, err = fx.svc.FilteringOptions(context.Background(), fx.superToken(t))
	if err != nil {
		t.Fatalf("FilteringOptions failed: %v", err)
	}
	if len(payload["departments"].([]string)) != 2 {
		t.Errorf("unrestricted options wrong: %v", payload["departments"])
	}
}

func TestNewsTargetForcedForRestrictedAdmin(t *testing.T) {
	fx := newFixture(t)
	var inserted store.NewsItem
	fx.fake.insertNewsItemFn = func(_ context.Context, n store.NewsItem) error {
		inserted = n
		return nil
	}

	_, err := fx.svc.CreateNews(context.Background(), fx.prodToken(t), CreateNewsInput{
		Title:            "Shift change",
		Body:             "New rotation starts Monday",
		TargetDepartment: "IT",
		TargetLocation:   "Sousse",
	})
	if err != nil {
		t.Fatalf("CreateNews failed: %v", err)
	}
	if inserted.TargetDepartment != "Production" || inserted.TargetLocation != "Mateur" {
		t.Errorf("restricted admin escaped their scope: %+v", inserted)
	}
}

func asDomainError(err error, target **DomainError) bool {
	if err == nil {
		return false
	}
	d, ok := err.(*DomainError)
	if !ok {
		return false
	}
	*target = d
	return true
}
