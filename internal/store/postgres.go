package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) GetAdminByUsername(ctx context.Context, username string) (Admin, error) {
	var a Admin
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, full_name, role, department, location, email, active, created_at
		FROM admins
		WHERE username=$1
	`, username).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.FullName, &a.Role, &a.Department, &a.Location, &a.Email, &a.Active, &a.CreatedAt)
	if err != nil {
		return Admin{}, err
	}
	return a, nil
}

func (s *PostgresStore) GetAdminByID(ctx context.Context, adminID string) (Admin, error) {
	var a Admin
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, full_name, role, department, location, email, active, created_at
		FROM admins
		WHERE id=$1
	`, adminID).Scan(&a.ID, &a.Username, &a.PasswordHash, &a.FullName, &a.Role, &a.Department, &a.Location, &a.Email, &a.Active, &a.CreatedAt)
	if err != nil {
		return Admin{}, err
	}
	return a, nil
}

func (s *PostgresStore) ListEmployees(ctx context.Context, q EmployeeQuery) ([]Employee, error) {
	query, args := buildEmployeeSQL(`
		SELECT id, username, full_name, email, department, location, position, status, created_at
		FROM employees
	`, q, true)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	items := make([]Employee, 0)
	for rows.Next() {
		var e Employee
		if err := rows.Scan(&e.ID, &e.Username, &e.FullName, &e.Email, &e.Department, &e.Location, &e.Position, &e.Status, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CountEmployees(ctx context.Context, q EmployeeQuery) (int, error) {
	query, args := buildEmployeeSQL(`SELECT COUNT(*) FROM employees`, q, false)
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count employees: %w", err)
	}
	return n, nil
}

func buildEmployeeSQL(base string, q EmployeeQuery, paged bool) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Department != "" {
		add("department=$%d", q.Department)
	}
	if q.Location != "" {
		add("location=$%d", q.Location)
	}
	if q.Status != "" {
		add("status=$%d", q.Status)
	}
	if q.Keyword != "" {
		add("(full_name ILIKE '%%' || $%d || '%%' OR username ILIKE '%%' || $%[1]d || '%%')", q.Keyword)
	}

	query := base
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	if paged {
		query += " ORDER BY created_at DESC, id"
		if q.Limit > 0 {
			query += fmt.Sprintf(" LIMIT %d OFFSET %d", q.Limit, q.Offset)
		}
	}
	return query, args
}

func (s *PostgresStore) GetEmployee(ctx context.Context, employeeID string) (Employee, error) {
	var e Employee
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, full_name, email, department, location, position, status, created_at
		FROM employees
		WHERE id=$1
	`, employeeID).Scan(&e.ID, &e.Username, &e.FullName, &e.Email, &e.Department, &e.Location, &e.Position, &e.Status, &e.CreatedAt)
	if err != nil {
		return Employee{}, err
	}
	return e, nil
}

const conversationColumns = `
	id, employee_id, employee_name, subject, status,
	category, service, target_department, target_location,
	assigned_admin_id, message_count, has_unread_messages,
	created_at, last_activity_at
`

func scanConversation(row interface{ Scan(...any) error }) (Conversation, error) {
	var c Conversation
	err := row.Scan(&c.ID, &c.EmployeeID, &c.EmployeeName, &c.Subject, &c.Status,
		&c.Category, &c.Service, &c.TargetDepartment, &c.TargetLocation,
		&c.AssignedAdminID, &c.MessageCount, &c.HasUnreadMessages,
		&c.CreatedAt, &c.LastActivityAt)
	return c, err
}

// ListConversations returns candidates ordered by last activity. Scope
// filtering happens above this layer, after legacy reconciliation.
func (s *PostgresStore) ListConversations(ctx context.Context, q ConversationQuery) ([]Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations`
	var args []any
	var conds []string
	if q.Status != "" {
		args = append(args, q.Status)
		conds = append(conds, fmt.Sprintf("status=$%d", len(args)))
	}
	if q.Keyword != "" {
		args = append(args, q.Keyword)
		conds = append(conds, fmt.Sprintf("(subject ILIKE '%%' || $%d || '%%' OR employee_name ILIKE '%%' || $%[1]d || '%%')", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY last_activity_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	return scanConversation(row)
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, sender_type, body, is_read, is_edited, original_body, created_at
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC, id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderName, &m.SenderType, &m.Body, &m.IsRead, &m.IsEdited, &m.OriginalBody, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, m Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_type, body, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, m.ID, m.ConversationID, m.SenderID, m.SenderName, m.SenderType, m.Body, m.IsRead, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ConversationMessageStats aggregates the counters the engine folds into
// listings. UnreadFromUser counts unread messages authored by the employee
// side, which is what drives the conversation-level unread flag.
func (s *PostgresStore) ConversationMessageStats(ctx context.Context, conversationID string) (MessageStats, error) {
	var st MessageStats
	var lastBody sql.NullString
	var lastAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COUNT(*) FILTER (WHERE sender_type='user' AND NOT is_read),
			(SELECT body FROM messages WHERE conversation_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1),
			MAX(created_at)
		FROM messages
		WHERE conversation_id=$1
	`, conversationID).Scan(&st.Count, &st.UnreadFromUser, &lastBody, &lastAt)
	if err != nil {
		return MessageStats{}, fmt.Errorf("message stats: %w", err)
	}
	st.LastBody = lastBody.String
	if lastAt.Valid {
		st.LastAt = lastAt.Time
	}
	return st, nil
}

// ApplyReply folds every reply side effect into one statement so concurrent
// replies serialize on the conversation row: bump the counter, move open to
// in_progress, flag unread, claim the conversation for the first responder,
// touch last activity.
func (s *PostgresStore) ApplyReply(ctx context.Context, conversationID, adminID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations
		SET message_count = message_count + 1,
			status = CASE WHEN status='open' THEN 'in_progress' ELSE status END,
			has_unread_messages = TRUE,
			assigned_admin_id = CASE WHEN assigned_admin_id='' THEN $2 ELSE assigned_admin_id END,
			last_activity_at = $3
		WHERE id=$1
	`, conversationID, adminID, now)
	if err != nil {
		return fmt.Errorf("apply reply: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetConversationStatus(ctx context.Context, conversationID, status string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status=$2, last_activity_at=$3 WHERE id=$1
	`, conversationID, status, now)
	if err != nil {
		return fmt.Errorf("set conversation status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) AssignConversation(ctx context.Context, conversationID, adminID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET assigned_admin_id=$2 WHERE id=$1
	`, conversationID, adminID)
	if err != nil {
		return fmt.Errorf("assign conversation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkMessagesRead marks every message in the conversation not authored by
// the given sender type as read, then recomputes the conversation-level
// unread flag from what is left.
func (s *PostgresStore) MarkMessagesRead(ctx context.Context, conversationID, readerSenderType string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET is_read=TRUE
		WHERE conversation_id=$1 AND sender_type<>$2 AND NOT is_read
	`, conversationID, readerSenderType)
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE conversations SET has_unread_messages = EXISTS(
			SELECT 1 FROM messages
			WHERE conversation_id=$1 AND sender_type='user' AND NOT is_read
		)
		WHERE id=$1
	`, conversationID)
	if err != nil {
		return fmt.Errorf("refresh unread flag: %w", err)
	}
	return nil
}

// SearchConversations is the fallback substring search used when the search
// index is unavailable.
func (s *PostgresStore) SearchConversations(ctx context.Context, keyword string, limit int) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE subject ILIKE '%' || $1 || '%' OR employee_name ILIKE '%' || $1 || '%'
		ORDER BY last_activity_at DESC, id
		LIMIT $2
	`, keyword, limit)
	if err != nil {
		return nil, fmt.Errorf("search conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) ListDocumentRequests(ctx context.Context, q DocumentRequestQuery) ([]DocumentRequest, error) {
	query := `
		SELECT id, employee_id, employee_name, type, status, department, location, notes, attachment_key, created_at, updated_at
		FROM document_requests
	`
	var args []any
	var conds []string
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Department != "" {
		add("department=$%d", q.Department)
	}
	if q.Location != "" {
		add("location=$%d", q.Location)
	}
	if q.Status != "" {
		add("status=$%d", q.Status)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list document requests: %w", err)
	}
	defer rows.Close()

	items := make([]DocumentRequest, 0)
	for rows.Next() {
		var d DocumentRequest
		if err := rows.Scan(&d.ID, &d.EmployeeID, &d.EmployeeName, &d.Type, &d.Status, &d.Department, &d.Location, &d.Notes, &d.AttachmentKey, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document request: %w", err)
		}
		items = append(items, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate document requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocumentRequest(ctx context.Context, requestID string) (DocumentRequest, error) {
	var d DocumentRequest
	err := s.db.QueryRowContext(ctx, `
		SELECT id, employee_id, employee_name, type, status, department, location, notes, attachment_key, created_at, updated_at
		FROM document_requests
		WHERE id=$1
	`, requestID).Scan(&d.ID, &d.EmployeeID, &d.EmployeeName, &d.Type, &d.Status, &d.Department, &d.Location, &d.Notes, &d.AttachmentKey, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return DocumentRequest{}, err
	}
	return d, nil
}

func (s *PostgresStore) SetDocumentRequestStatus(ctx context.Context, requestID, status string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_requests SET status=$2, updated_at=NOW() WHERE id=$1
	`, requestID, status)
	if err != nil {
		return fmt.Errorf("set document request status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetDocumentRequestAttachment(ctx context.Context, requestID, attachmentKey string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE document_requests SET attachment_key=$2, updated_at=NOW() WHERE id=$1
	`, requestID, attachmentKey)
	if err != nil {
		return fmt.Errorf("set document request attachment: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListNews(ctx context.Context, q NewsQuery) ([]NewsItem, error) {
	query := `
		SELECT id, title, body, author_id, author_name, target_department, target_location, published, published_at, created_at
		FROM news
	`
	var args []any
	var conds []string
	if q.Department != "" && q.Location != "" {
		args = append(args, q.Department, q.Location)
		conds = append(conds, `(target_department='' OR (target_department=$1 AND target_location=$2))`)
	}
	if q.PublishedOnly {
		conds = append(conds, "published")
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list news: %w", err)
	}
	defer rows.Close()

	items := make([]NewsItem, 0)
	for rows.Next() {
		var n NewsItem
		if err := rows.Scan(&n.ID, &n.Title, &n.Body, &n.AuthorID, &n.AuthorName, &n.TargetDepartment, &n.TargetLocation, &n.Published, &n.PublishedAt, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		items = append(items, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate news: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetNewsItem(ctx context.Context, newsID string) (NewsItem, error) {
	var n NewsItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, body, author_id, author_name, target_department, target_location, published, published_at, created_at
		FROM news
		WHERE id=$1
	`, newsID).Scan(&n.ID, &n.Title, &n.Body, &n.AuthorID, &n.AuthorName, &n.TargetDepartment, &n.TargetLocation, &n.Published, &n.PublishedAt, &n.CreatedAt)
	if err != nil {
		return NewsItem{}, err
	}
	return n, nil
}

func (s *PostgresStore) InsertNewsItem(ctx context.Context, n NewsItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO news (id, title, body, author_id, author_name, target_department, target_location, published, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, n.ID, n.Title, n.Body, n.AuthorID, n.AuthorName, n.TargetDepartment, n.TargetLocation, n.Published, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert news item: %w", err)
	}
	return nil
}

func (s *PostgresStore) PublishNewsItem(ctx context.Context, newsID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE news SET published=TRUE, published_at=$2 WHERE id=$1
	`, newsID, now)
	if err != nil {
		return fmt.Errorf("publish news item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteNewsItem(ctx context.Context, newsID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM news WHERE id=$1`, newsID)
	if err != nil {
		return fmt.Errorf("delete news item: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) ListDepartments(ctx context.Context) ([]string, error) {
	return s.listDistinct(ctx, `SELECT DISTINCT department FROM employees WHERE department<>'' ORDER BY department`)
}

func (s *PostgresStore) ListLocations(ctx context.Context) ([]string, error) {
	return s.listDistinct(ctx, `SELECT DISTINCT location FROM employees WHERE location<>'' ORDER BY location`)
}

func (s *PostgresStore) listDistinct(ctx context.Context, query string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list distinct values: %w", err)
	}
	defer rows.Close()

	values := make([]string, 0)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return values, nil
}

func (s *PostgresStore) CountDocumentRequests(ctx context.Context, q DocumentRequestQuery) (int, error) {
	query := `SELECT COUNT(*) FROM document_requests`
	var args []any
	var conds []string
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if q.Department != "" {
		add("department=$%d", q.Department)
	}
	if q.Location != "" {
		add("location=$%d", q.Location)
	}
	if q.Status != "" {
		add("status=$%d", q.Status)
	}
	for i, c := range conds {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count document requests: %w", err)
	}
	return n, nil
}
