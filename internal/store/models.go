package store

import "time"

type Admin struct {
	ID           string
	Username     string
	PasswordHash string
	FullName     string
	Role         string
	Department   string
	Location     string
	Email        string
	Active       bool
	CreatedAt    time.Time
}

type Employee struct {
	ID         string
	Username   string
	FullName   string
	Email      string
	Department string
	Location   string
	Position   string
	Status     string
	CreatedAt  time.Time
}

// Conversation carries both the structured target fields and the legacy
// category/service tags; records written before the schema migration have
// only the latter.
type Conversation struct {
	ID                string
	EmployeeID        string
	EmployeeName      string
	Subject           string
	Status            string
	Category          string
	Service           string
	TargetDepartment  string
	TargetLocation    string
	AssignedAdminID   string
	MessageCount      int
	HasUnreadMessages bool
	CreatedAt         time.Time
	LastActivityAt    time.Time
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderType     string
	Body           string
	IsRead         bool
	IsEdited       bool
	OriginalBody   string
	CreatedAt      time.Time
}

// MessageStats is the per-conversation aggregate used for read-time
// enrichment of listings.
type MessageStats struct {
	Count          int
	UnreadFromUser int
	LastBody       string
	LastAt         time.Time
}

type DocumentRequest struct {
	ID            string
	EmployeeID    string
	EmployeeName  string
	Type          string
	Status        string
	Department    string
	Location      string
	Notes         string
	AttachmentKey string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type NewsItem struct {
	ID               string
	Title            string
	Body             string
	AuthorID         string
	AuthorName       string
	TargetDepartment string
	TargetLocation   string
	Published        bool
	PublishedAt      *time.Time
	CreatedAt        time.Time
}

// EmployeeQuery narrows ListEmployees. Blank fields are not filtered on.
type EmployeeQuery struct {
	Department string
	Location   string
	Status     string
	Keyword    string
	Limit      int
	Offset     int
}

// ConversationQuery narrows ListConversations. Department/location are never
// part of it: legacy records cannot be scoped in SQL, so the engine
// reconciles and filters candidates after the fact.
type ConversationQuery struct {
	Status  string
	Keyword string
}

type DocumentRequestQuery struct {
	Department string
	Location   string
	Status     string
}

// NewsQuery scopes ListNews. When Department/Location are set, items with a
// blank target still match: untargeted news is org-wide.
type NewsQuery struct {
	Department    string
	Location      string
	PublishedOnly bool
}
