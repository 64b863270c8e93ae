package app

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"leonadmin/api/internal/attach"
	"leonadmin/api/internal/auth"
	"leonadmin/api/internal/filter"
)

const maxAttachmentBytes = 10 << 20

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		status := "ready"
		statusCode := http.StatusOK
		checks := map[string]any{"database": map[string]any{"status": "ok"}}
		if err := s.service.Ping(ctx); err != nil {
			status = "degraded"
			statusCode = http.StatusServiceUnavailable
			checks["database"] = map[string]any{"status": "error", "message": err.Error()}
		}
		writeJSON(w, statusCode, map[string]any{"status": status, "checks": checks})
		return
	}

	switch {
	case r.URL.Path == "/api/auth/login" && r.Method == http.MethodPost:
		s.handleLogin(w, r)
	case r.URL.Path == "/api/auth/validate" && r.Method == http.MethodGet:
		s.handleValidate(w, r)
	case r.URL.Path == "/api/auth/refresh" && r.Method == http.MethodPost:
		s.handleRefresh(w, r)
	case r.URL.Path == "/api/auth/logout" && r.Method == http.MethodPost:
		s.handleLogout(w, r)
	case r.URL.Path == "/api/conversations/search" && r.Method == http.MethodGet:
		s.handleSearchConversations(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/conversations"):
		s.handleConversations(w, r)
	case r.URL.Path == "/api/statistics" && r.Method == http.MethodGet:
		s.handleStatistics(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/employees"):
		s.handleEmployees(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/document-requests"):
		s.handleDocumentRequests(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/news"):
		s.handleNews(w, r)
	case r.URL.Path == "/api/filtering-options" && r.Method == http.MethodGet:
		s.handleFilteringOptions(w, r)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	payload, err := s.service.Login(r.Context(), body.Username, body.Password)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.ValidateSession(r.Context(), requestToken(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.RefreshSession(r.Context(), requestToken(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := requestToken(r); token != "" {
		_ = s.service.Logout(r.Context(), token)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *HTTPServer) handleSearchConversations(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.SearchConversations(r.Context(), requestToken(r), r.URL.Query().Get("q"))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleConversations(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	// parts[0]="api", parts[1]="conversations"
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		page, size, ok := pageParams(w, r)
		if !ok {
			return
		}
		payload, err := s.service.ListConversations(r.Context(), requestToken(r), page, size, r.URL.Query().Get("status"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 3 && r.Method == http.MethodGet:
		payload, err := s.service.GetConversation(r.Context(), requestToken(r), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 4 && parts[3] == "reply" && r.Method == http.MethodPost:
		var body struct {
			Body string `json:"body"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.Reply(r.Context(), requestToken(r), parts[2], body.Body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPut:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SetConversationStatus(r.Context(), requestToken(r), parts[2], body.Status)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 4 && parts[3] == "reopen" && r.Method == http.MethodPost:
		payload, err := s.service.ReopenConversation(r.Context(), requestToken(r), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 4 && parts[3] == "assign" && r.Method == http.MethodPut:
		var body struct {
			AdminID string `json:"adminId"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.AssignConversation(r.Context(), requestToken(r), parts[2], body.AdminID)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleStatistics(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.Statistics(r.Context(), requestToken(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleEmployees(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		page, size, ok := pageParams(w, r)
		if !ok {
			return
		}
		query := r.URL.Query()
		payload, err := s.service.ListEmployees(r.Context(), requestToken(r), EmployeeFilterInput{
			Department: query.Get("department"),
			Location:   query.Get("location"),
			Status:     query.Get("status"),
			Keyword:    query.Get("q"),
			Page:       page,
			Size:       size,
		})
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 3 && r.Method == http.MethodGet:
		payload, err := s.service.GetEmployee(r.Context(), requestToken(r), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleDocumentRequests(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		payload, err := s.service.ListDocumentRequests(r.Context(), requestToken(r), r.URL.Query().Get("status"))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 4 && parts[3] == "status" && r.Method == http.MethodPut:
		var body struct {
			Status string `json:"status"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.SetDocumentRequestStatus(r.Context(), requestToken(r), parts[2], body.Status)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 4 && parts[3] == "attachment" && r.Method == http.MethodPost:
		s.handleAttachmentUpload(w, r, parts[2])

	case len(parts) == 4 && parts[3] == "attachment-url" && r.Method == http.MethodGet:
		payload, err := s.service.AttachmentURL(r.Context(), requestToken(r), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleAttachmentUpload(w http.ResponseWriter, r *http.Request, requestID string) {
	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "expected multipart form with a file field", nil)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "file field is required", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxAttachmentBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "could not read file", nil)
		return
	}

	payload, err := s.service.AttachDocument(r.Context(), requestToken(r), requestID, header.Filename, header.Header.Get("Content-Type"), data)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleNews(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path)
	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		payload, err := s.service.ListNews(r.Context(), requestToken(r))
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 2 && r.Method == http.MethodPost:
		var body CreateNewsInput
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		payload, err := s.service.CreateNews(r.Context(), requestToken(r), body)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusCreated, payload)

	case len(parts) == 4 && parts[3] == "publish" && r.Method == http.MethodPost:
		payload, err := s.service.PublishNews(r.Context(), requestToken(r), parts[2])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, payload)

	case len(parts) == 3 && r.Method == http.MethodDelete:
		if err := s.service.DeleteNews(r.Context(), requestToken(r), parts[2]); err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleFilteringOptions(w http.ResponseWriter, r *http.Request) {
	payload, err := s.service.FilteringOptions(r.Context(), requestToken(r))
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

// --- middleware ---

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

func setCORSHeaders(h http.Header, origin string) {
	if origin == "" {
		origin = "*"
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
	h.Set("Content-Type", "application/json")
}

func randomRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "req-unknown"
	}
	return hex.EncodeToString(b)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

// requestToken reads the bearer header, falling back to the token query
// parameter used by legacy clients.
func requestToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func pageParams(w http.ResponseWriter, r *http.Request) (page, size int, ok bool) {
	query := r.URL.Query()
	page, size = 0, 20
	if raw := query.Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "page must be an integer", nil)
			return 0, 0, false
		}
		page = parsed
	}
	if raw := query.Get("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "size must be an integer", nil)
			return 0, 0, false
		}
		size = parsed
	}
	return page, size, true
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, filter.ErrScopeInvalid) {
		return http.StatusForbidden, "FORBIDDEN", "Forbidden", nil
	}
	if errors.Is(err, attach.ErrNotConfigured) {
		return http.StatusServiceUnavailable, "UNAVAILABLE", "Attachment storage is not configured", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
