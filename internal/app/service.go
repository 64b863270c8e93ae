package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"leonadmin/api/internal/adminauth"
	"leonadmin/api/internal/attach"
	"leonadmin/api/internal/auth"
	"leonadmin/api/internal/config"
	"leonadmin/api/internal/filter"
	"leonadmin/api/internal/reconcile"
	"leonadmin/api/internal/scope"
	"leonadmin/api/internal/store"
	"leonadmin/api/internal/util"
)

const searchResultCap = 20

var allowedConversationStatus = map[string]struct{}{
	"open":        {},
	"in_progress": {},
	"closed":      {},
}

var allowedRequestStatus = map[string]struct{}{
	"pending":     {},
	"in_progress": {},
	"ready":       {},
	"delivered":   {},
}

type EmployeeFilterInput struct {
	Department string
	Location   string
	Status     string
	Keyword    string
	Page       int
	Size       int
}

type CreateNewsInput struct {
	Title            string `json:"title"`
	Body             string `json:"body"`
	TargetDepartment string `json:"targetDepartment"`
	TargetLocation   string `json:"targetLocation"`
}

type dataStore interface {
	GetAdminByUsername(ctx context.Context, username string) (store.Admin, error)
	GetAdminByID(ctx context.Context, adminID string) (store.Admin, error)
	ListEmployees(ctx context.Context, q store.EmployeeQuery) ([]store.Employee, error)
	CountEmployees(ctx context.Context, q store.EmployeeQuery) (int, error)
	GetEmployee(ctx context.Context, employeeID string) (store.Employee, error)
	ListConversations(ctx context.Context, q store.ConversationQuery) ([]store.Conversation, error)
	GetConversation(ctx context.Context, conversationID string) (store.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
	InsertMessage(ctx context.Context, m store.Message) error
	ConversationMessageStats(ctx context.Context, conversationID string) (store.MessageStats, error)
	ApplyReply(ctx context.Context, conversationID, adminID string, now time.Time) error
	SetConversationStatus(ctx context.Context, conversationID, status string, now time.Time) error
	AssignConversation(ctx context.Context, conversationID, adminID string) error
	MarkMessagesRead(ctx context.Context, conversationID, readerSenderType string) error
	SearchConversations(ctx context.Context, keyword string, limit int) ([]store.Conversation, error)
	ListDocumentRequests(ctx context.Context, q store.DocumentRequestQuery) ([]store.DocumentRequest, error)
	GetDocumentRequest(ctx context.Context, requestID string) (store.DocumentRequest, error)
	SetDocumentRequestStatus(ctx context.Context, requestID, status string) error
	SetDocumentRequestAttachment(ctx context.Context, requestID, attachmentKey string) error
	CountDocumentRequests(ctx context.Context, q store.DocumentRequestQuery) (int, error)
	ListNews(ctx context.Context, q store.NewsQuery) ([]store.NewsItem, error)
	GetNewsItem(ctx context.Context, newsID string) (store.NewsItem, error)
	InsertNewsItem(ctx context.Context, n store.NewsItem) error
	PublishNewsItem(ctx context.Context, newsID string, now time.Time) error
	DeleteNewsItem(ctx context.Context, newsID string) error
	ListDepartments(ctx context.Context) ([]string, error)
	ListLocations(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
}

type conversationSearch interface {
	Search(ctx context.Context, keyword string, limit int) ([]store.Conversation, error)
	IndexConversation(c store.Conversation)
}

type attachmentStore interface {
	Upload(ctx context.Context, requestID, filename, contentType string, data []byte) (string, error)
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type Service struct {
	cfg    config.Config
	store  dataStore
	tokens *auth.Service
	creds  *adminauth.Service
	search conversationSearch
	attach attachmentStore
	now    func() time.Time
}

// New wires the engine. searchSvc and attachSvc may be nil when those
// backends are not configured.
func New(cfg config.Config, dataStore *store.PostgresStore, tokens *auth.Service, searchSvc conversationSearch, attachSvc *attach.Service) *Service {
	s := &Service{
		cfg:    cfg,
		store:  dataStore,
		tokens: tokens,
		creds:  adminauth.NewService(dataStore),
		now:    time.Now,
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if attachSvc != nil {
		s.attach = attachSvc
	}
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- authentication ---

func (s *Service) Login(ctx context.Context, username, password string) (map[string]any, error) {
	admin, err := s.creds.Authenticate(ctx, username, password)
	if errors.Is(err, adminauth.ErrBadCredentials) {
		return nil, domainError(http.StatusUnauthorized, "UNAUTHORIZED", "Invalid username or password", nil)
	}
	if errors.Is(err, adminauth.ErrAccountInactive) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Account is inactive", nil)
	}
	if err != nil {
		return nil, err
	}

	role := string(scope.Normalize(admin.Role))
	token, err := s.tokens.Issue(ctx, auth.Claims{
		SubjectID:  admin.ID,
		Username:   admin.Username,
		Role:       role,
		Department: admin.Department,
		Location:   admin.Location,
	})
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"token": token,
		"admin": map[string]any{
			"id":         admin.ID,
			"username":   admin.Username,
			"fullName":   admin.FullName,
			"role":       role,
			"department": admin.Department,
			"location":   admin.Location,
		},
		"expiresInMinutes": s.tokens.RemainingMinutes(ctx, token),
	}, nil
}

func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}

func (s *Service) ValidateSession(ctx context.Context, token string) (map[string]any, error) {
	claims, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"valid":            true,
		"username":         claims.Username,
		"role":             claims.Role,
		"department":       claims.Department,
		"location":         claims.Location,
		"expiresInMinutes": s.tokens.RemainingMinutes(ctx, token),
	}, nil
}

func (s *Service) RefreshSession(ctx context.Context, token string) (map[string]any, error) {
	newToken, err := s.tokens.Refresh(ctx, token)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"token":            newToken,
		"expiresInMinutes": s.tokens.RemainingMinutes(ctx, newToken),
	}, nil
}

// sessionScope validates the token and resolves the caller's visibility
// scope in one step.
func (s *Service) sessionScope(ctx context.Context, token string) (auth.Claims, scope.Scope, error) {
	claims, err := s.tokens.Validate(ctx, token)
	if err != nil {
		return auth.Claims{}, scope.Scope{}, err
	}
	return claims, scope.Resolve(claims.Role, claims.Department, claims.Location), nil
}

// --- conversations ---

func (s *Service) ListConversations(ctx context.Context, token string, page, size int, status string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if status != "" {
		if _, ok := allowedConversationStatus[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open, in_progress or closed", nil)
		}
	}
	q, err := filter.BuildConversationQuery(sc, status, "")
	if err != nil {
		return nil, err
	}

	candidates, err := s.store.ListConversations(ctx, q)
	if err != nil {
		return nil, err
	}

	items, err := s.admitAndEnrich(ctx, sc, candidates)
	if err != nil {
		return nil, err
	}

	page, size = normalizePage(page, size)
	total := len(items)
	totalPages := (total + size - 1) / size
	start := page * size
	if start > total {
		start = total
	}
	end := start + size
	if end > total {
		end = total
	}

	payload := make([]map[string]any, 0, end-start)
	for _, it := range items[start:end] {
		payload = append(payload, conversationPayload(it.conv, it.stats))
	}
	return map[string]any{
		"conversations": payload,
		"page":          page,
		"size":          size,
		"totalElements": total,
		"totalPages":    totalPages,
	}, nil
}

type enrichedConversation struct {
	conv  store.Conversation
	stats store.MessageStats
}

// admitAndEnrich applies the scope to each candidate, then folds in the live
// message counters. Output keeps the store's last-activity ordering, with
// enrichment-updated timestamps re-sorted stably.
func (s *Service) admitAndEnrich(ctx context.Context, sc scope.Scope, candidates []store.Conversation) ([]enrichedConversation, error) {
	items := make([]enrichedConversation, 0, len(candidates))
	for _, c := range candidates {
		if !filter.AdmitConversation(sc, c) {
			continue
		}
		st, err := s.store.ConversationMessageStats(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		c.MessageCount = st.Count
		c.HasUnreadMessages = st.UnreadFromUser > 0
		if st.LastAt.After(c.LastActivityAt) {
			c.LastActivityAt = st.LastAt
		}
		items = append(items, enrichedConversation{conv: c, stats: st})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].conv.LastActivityAt.After(items[j].conv.LastActivityAt)
	})
	return items, nil
}

func (s *Service) GetConversation(ctx context.Context, token, conversationID string) (map[string]any, error) {
	claims, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !filter.AdmitConversation(sc, conv) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	messages, err := s.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	callerType := senderTypeForRole(claims.Role)
	unreadForCaller := 0
	for _, m := range messages {
		if m.SenderType != callerType && !m.IsRead {
			unreadForCaller++
		}
	}

	if err := s.store.MarkMessagesRead(ctx, conversationID, callerType); err != nil {
		return nil, err
	}

	st, err := s.store.ConversationMessageStats(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.MessageCount = st.Count
	conv.HasUnreadMessages = st.UnreadFromUser > 0
	if st.LastAt.After(conv.LastActivityAt) {
		conv.LastActivityAt = st.LastAt
	}

	msgPayload := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		read := m.IsRead || m.SenderType != callerType
		msgPayload = append(msgPayload, map[string]any{
			"id":         m.ID,
			"senderId":   m.SenderID,
			"senderName": m.SenderName,
			"senderType": m.SenderType,
			"body":       m.Body,
			"isRead":     read,
			"isEdited":   m.IsEdited,
			"createdAt":  m.CreatedAt,
		})
	}

	return map[string]any{
		"conversation":         conversationPayload(conv, st),
		"messages":             msgPayload,
		"unreadCountForCaller": unreadForCaller,
	}, nil
}

func (s *Service) Reply(ctx context.Context, token, conversationID, body string) (map[string]any, error) {
	claims, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "message body is required", nil)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !filter.AdmitConversation(sc, conv) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	now := s.now().UTC()
	msg := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversationID,
		SenderID:       claims.SubjectID,
		SenderName:     claims.Username,
		SenderType:     senderTypeForRole(claims.Role),
		Body:           body,
		CreatedAt:      now,
	}
	if err := s.store.InsertMessage(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.store.ApplyReply(ctx, conversationID, claims.SubjectID, now); err != nil {
		return nil, err
	}

	conv, err = s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	st, err := s.store.ConversationMessageStats(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	conv.MessageCount = st.Count
	if s.search != nil {
		s.search.IndexConversation(conv)
	}

	return map[string]any{
		"conversation": conversationPayload(conv, st),
		"message": map[string]any{
			"id":         msg.ID,
			"senderId":   msg.SenderID,
			"senderName": msg.SenderName,
			"senderType": msg.SenderType,
			"body":       msg.Body,
			"createdAt":  msg.CreatedAt,
		},
	}, nil
}

func (s *Service) SetConversationStatus(ctx context.Context, token, conversationID, status string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, ok := allowedConversationStatus[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be open, in_progress or closed", nil)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !filter.AdmitConversation(sc, conv) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if conv.Status == "closed" && status == "open" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "closed conversations require an explicit reopen", nil)
	}

	if err := s.store.SetConversationStatus(ctx, conversationID, status, s.now().UTC()); err != nil {
		return nil, err
	}
	conv.Status = status
	if s.search != nil {
		s.search.IndexConversation(conv)
	}
	return map[string]any{"id": conversationID, "status": status}, nil
}

func (s *Service) ReopenConversation(ctx context.Context, token, conversationID string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !filter.AdmitConversation(sc, conv) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if conv.Status != "closed" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "only closed conversations can be reopened", nil)
	}

	if err := s.store.SetConversationStatus(ctx, conversationID, "open", s.now().UTC()); err != nil {
		return nil, err
	}
	conv.Status = "open"
	if s.search != nil {
		s.search.IndexConversation(conv)
	}
	return map[string]any{"id": conversationID, "status": "open"}, nil
}

func (s *Service) AssignConversation(ctx context.Context, token, conversationID, targetAdminID string) (map[string]any, error) {
	claims, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if targetAdminID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "adminId is required", nil)
	}
	if !sc.IsSuperAdmin() && targetAdminID != claims.SubjectID {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if !filter.AdmitConversation(sc, conv) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	if _, err := s.store.GetAdminByID(ctx, targetAdminID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown admin", nil)
		}
		return nil, err
	}

	if err := s.store.AssignConversation(ctx, conversationID, targetAdminID); err != nil {
		return nil, err
	}
	return map[string]any{"id": conversationID, "assignedAdminId": targetAdminID}, nil
}

func (s *Service) SearchConversations(ctx context.Context, token, keyword string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if !sc.IsValid() {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	keyword = strings.TrimSpace(keyword)
	if keyword == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "query is required", nil)
	}

	var candidates []store.Conversation
	if s.search != nil {
		candidates, err = s.search.Search(ctx, keyword, searchResultCap)
	} else {
		candidates, err = s.store.SearchConversations(ctx, keyword, searchResultCap)
	}
	if err != nil {
		return nil, err
	}

	items, err := s.admitAndEnrich(ctx, sc, candidates)
	if err != nil {
		return nil, err
	}
	if len(items) > searchResultCap {
		items = items[:searchResultCap]
	}

	payload := make([]map[string]any, 0, len(items))
	for _, it := range items {
		payload = append(payload, conversationPayload(it.conv, it.stats))
	}
	return map[string]any{"conversations": payload, "query": keyword, "total": len(payload)}, nil
}

// --- statistics ---

func (s *Service) Statistics(ctx context.Context, token string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	q, err := filter.BuildConversationQuery(sc, "", "")
	if err != nil {
		return nil, err
	}
	candidates, err := s.store.ListConversations(ctx, q)
	if err != nil {
		return nil, err
	}
	items, err := s.admitAndEnrich(ctx, sc, candidates)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	byStatus := map[string]int{"open": 0, "in_progress": 0, "closed": 0}
	unread := 0
	last24h, last7d, last30d := 0, 0, 0
	for _, it := range items {
		byStatus[it.conv.Status]++
		if it.conv.HasUnreadMessages {
			unread++
		}
		age := now.Sub(it.conv.CreatedAt)
		if age <= 24*time.Hour {
			last24h++
		}
		if age <= 7*24*time.Hour {
			last7d++
		}
		if age <= 30*24*time.Hour {
			last30d++
		}
	}

	eq, err := filter.BuildEmployeeQuery(sc, store.EmployeeQuery{})
	if err != nil {
		return nil, err
	}
	employeeCount, err := s.store.CountEmployees(ctx, eq)
	if err != nil {
		return nil, err
	}
	dq, err := filter.BuildDocumentRequestQuery(sc, store.DocumentRequestQuery{})
	if err != nil {
		return nil, err
	}
	requestCount, err := s.store.CountDocumentRequests(ctx, dq)
	if err != nil {
		return nil, err
	}
	nq, err := filter.BuildNewsQuery(sc, false)
	if err != nil {
		return nil, err
	}
	news, err := s.store.ListNews(ctx, nq)
	if err != nil {
		return nil, err
	}

	return map[string]any{
		"conversations": map[string]any{
			"total":      len(items),
			"open":       byStatus["open"],
			"inProgress": byStatus["in_progress"],
			"closed":     byStatus["closed"],
			"unread":     unread,
			"last24h":    last24h,
			"last7d":     last7d,
			"last30d":    last30d,
		},
		"employees":        employeeCount,
		"documentRequests": requestCount,
		"news":             len(news),
	}, nil
}

// --- employees ---

func (s *Service) ListEmployees(ctx context.Context, token string, input EmployeeFilterInput) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	page, size := normalizePage(input.Page, input.Size)
	q, err := filter.BuildEmployeeQuery(sc, store.EmployeeQuery{
		Department: input.Department,
		Location:   input.Location,
		Status:     input.Status,
		Keyword:    input.Keyword,
	})
	if err != nil {
		return nil, err
	}
	total, err := s.store.CountEmployees(ctx, q)
	if err != nil {
		return nil, err
	}
	q.Limit = size
	q.Offset = page * size
	employees, err := s.store.ListEmployees(ctx, q)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(employees))
	for _, e := range employees {
		payload = append(payload, employeePayload(e))
	}
	return map[string]any{
		"employees":     payload,
		"page":          page,
		"size":          size,
		"totalElements": total,
		"totalPages":    (total + size - 1) / size,
	}, nil
}

func (s *Service) GetEmployee(ctx context.Context, token, employeeID string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	e, err := s.store.GetEmployee(ctx, employeeID)
	if err != nil {
		return nil, err
	}
	if !sc.Allows(e.Department, e.Location) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return employeePayload(e), nil
}

// --- document requests ---

func (s *Service) ListDocumentRequests(ctx context.Context, token, status string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if status != "" {
		if _, ok := allowedRequestStatus[status]; !ok {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be pending, in_progress, ready or delivered", nil)
		}
	}
	q, err := filter.BuildDocumentRequestQuery(sc, store.DocumentRequestQuery{Status: status})
	if err != nil {
		return nil, err
	}
	requests, err := s.store.ListDocumentRequests(ctx, q)
	if err != nil {
		return nil, err
	}

	payload := make([]map[string]any, 0, len(requests))
	for _, d := range requests {
		payload = append(payload, documentRequestPayload(d))
	}
	return map[string]any{"documentRequests": payload, "total": len(payload)}, nil
}

func (s *Service) SetDocumentRequestStatus(ctx context.Context, token, requestID, status string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if _, ok := allowedRequestStatus[status]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be pending, in_progress, ready or delivered", nil)
	}
	d, err := s.store.GetDocumentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !sc.Allows(d.Department, d.Location) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.SetDocumentRequestStatus(ctx, requestID, status); err != nil {
		return nil, err
	}
	return map[string]any{"id": requestID, "status": status}, nil
}

func (s *Service) AttachDocument(ctx context.Context, token, requestID, filename, contentType string, data []byte) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.attach == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	if len(data) == 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "attachment payload is empty", nil)
	}
	d, err := s.store.GetDocumentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !sc.Allows(d.Department, d.Location) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}

	key, err := s.attach.Upload(ctx, requestID, filename, contentType, data)
	if err != nil {
		return nil, err
	}
	if err := s.store.SetDocumentRequestAttachment(ctx, requestID, key); err != nil {
		return nil, err
	}
	return map[string]any{"id": requestID, "attachmentKey": key}, nil
}

func (s *Service) AttachmentURL(ctx context.Context, token, requestID string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if s.attach == nil {
		return nil, domainError(http.StatusServiceUnavailable, "UNAVAILABLE", "Attachment storage is not configured", nil)
	}
	d, err := s.store.GetDocumentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !sc.Allows(d.Department, d.Location) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if d.AttachmentKey == "" {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "Request has no attachment", nil)
	}
	url, err := s.attach.PresignedURL(ctx, d.AttachmentKey, 15*time.Minute)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

// --- news ---

func (s *Service) ListNews(ctx context.Context, token string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	q, err := filter.BuildNewsQuery(sc, false)
	if err != nil {
		return nil, err
	}
	news, err := s.store.ListNews(ctx, q)
	if err != nil {
		return nil, err
	}
	payload := make([]map[string]any, 0, len(news))
	for _, n := range news {
		payload = append(payload, newsPayload(n))
	}
	return map[string]any{"news": payload, "total": len(payload)}, nil
}

func (s *Service) CreateNews(ctx context.Context, token string, input CreateNewsInput) (map[string]any, error) {
	claims, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	if !sc.IsValid() {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if strings.TrimSpace(input.Title) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}

	targetDept, targetLoc := input.TargetDepartment, input.TargetLocation
	if sc.Kind == scope.Restricted {
		// Restricted admins publish to their own scope only.
		targetDept, targetLoc = sc.Department, sc.Location
	}

	item := store.NewsItem{
		ID:               util.NewID("news"),
		Title:            strings.TrimSpace(input.Title),
		Body:             input.Body,
		AuthorID:         claims.SubjectID,
		AuthorName:       claims.Username,
		TargetDepartment: targetDept,
		TargetLocation:   targetLoc,
		CreatedAt:        s.now().UTC(),
	}
	if err := s.store.InsertNewsItem(ctx, item); err != nil {
		return nil, err
	}
	return newsPayload(item), nil
}

func (s *Service) PublishNews(ctx context.Context, token, newsID string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	n, err := s.store.GetNewsItem(ctx, newsID)
	if err != nil {
		return nil, err
	}
	if !newsVisible(sc, n) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	if err := s.store.PublishNewsItem(ctx, newsID, s.now().UTC()); err != nil {
		return nil, err
	}
	return map[string]any{"id": newsID, "published": true}, nil
}

func (s *Service) DeleteNews(ctx context.Context, token, newsID string) error {
	claims, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return err
	}
	n, err := s.store.GetNewsItem(ctx, newsID)
	if err != nil {
		return err
	}
	if !sc.IsSuperAdmin() && n.AuthorID != claims.SubjectID {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return s.store.DeleteNewsItem(ctx, newsID)
}

// newsVisible mirrors the list query: untargeted news is org-wide.
func newsVisible(sc scope.Scope, n store.NewsItem) bool {
	if !sc.IsValid() {
		return false
	}
	if n.TargetDepartment == "" {
		return true
	}
	return sc.Allows(n.TargetDepartment, n.TargetLocation)
}

// --- filtering options ---

func (s *Service) FilteringOptions(ctx context.Context, token string) (map[string]any, error) {
	_, sc, err := s.sessionScope(ctx, token)
	if err != nil {
		return nil, err
	}
	switch sc.Kind {
	case scope.Restricted:
		return map[string]any{
			"departments": []string{sc.Department},
			"locations":   []string{sc.Location},
		}, nil
	case scope.Unrestricted:
		departments, err := s.store.ListDepartments(ctx)
		if err != nil {
			return nil, err
		}
		locations, err := s.store.ListLocations(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"departments": departments, "locations": locations}, nil
	default:
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
}

// --- payload helpers ---

func conversationPayload(c store.Conversation, st store.MessageStats) map[string]any {
	target, resolved := reconcile.Effective(c.TargetDepartment, c.TargetLocation, c.Category, c.Service)
	payload := map[string]any{
		"id":                c.ID,
		"employeeId":        c.EmployeeID,
		"employeeName":      c.EmployeeName,
		"subject":           c.Subject,
		"status":            c.Status,
		"department":        target.Department,
		"location":          target.Location,
		"assignedAdminId":   c.AssignedAdminID,
		"messageCount":      c.MessageCount,
		"hasUnreadMessages": c.HasUnreadMessages,
		"createdAt":         c.CreatedAt,
		"lastActivityAt":    c.LastActivityAt,
	}
	if !resolved {
		payload["department"] = nil
		payload["location"] = nil
	}
	if st.LastBody != "" {
		payload["lastMessage"] = preview(st.LastBody, 120)
	}
	return payload
}

func employeePayload(e store.Employee) map[string]any {
	return map[string]any{
		"id":         e.ID,
		"username":   e.Username,
		"fullName":   e.FullName,
		"email":      e.Email,
		"department": e.Department,
		"location":   e.Location,
		"position":   e.Position,
		"status":     e.Status,
		"createdAt":  e.CreatedAt,
	}
}

func documentRequestPayload(d store.DocumentRequest) map[string]any {
	return map[string]any{
		"id":            d.ID,
		"employeeId":    d.EmployeeID,
		"employeeName":  d.EmployeeName,
		"type":          d.Type,
		"status":        d.Status,
		"department":    d.Department,
		"location":      d.Location,
		"notes":         d.Notes,
		"hasAttachment": d.AttachmentKey != "",
		"createdAt":     d.CreatedAt,
		"updatedAt":     d.UpdatedAt,
	}
}

func newsPayload(n store.NewsItem) map[string]any {
	return map[string]any{
		"id":               n.ID,
		"title":            n.Title,
		"body":             n.Body,
		"authorId":         n.AuthorID,
		"authorName":       n.AuthorName,
		"targetDepartment": n.TargetDepartment,
		"targetLocation":   n.TargetLocation,
		"published":        n.Published,
		"publishedAt":      n.PublishedAt,
		"createdAt":        n.CreatedAt,
	}
}

func senderTypeForRole(role string) string {
	if role == string(scope.RoleSuperAdmin) {
		return "superadmin"
	}
	return "admin"
}

func normalizePage(page, size int) (int, int) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = 20
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

func preview(body string, max int) string {
	body = strings.TrimSpace(body)
	runes := []rune(body)
	if len(runes) <= max {
		return body
	}
	return string(runes[:max]) + "..."
}
