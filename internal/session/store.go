// Package session provides storage backends for bearer session tokens.
package session

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a token is unknown to the store.
var ErrNotFound = errors.New("session not found")

// Record holds the claims stored for each issued token. Claims are immutable
// once written; refresh replaces the whole record under a new token.
type Record struct {
	SubjectID  string    `json:"subject_id"`
	Username   string    `json:"username"`
	Role       string    `json:"role"`
	Department string    `json:"department,omitempty"`
	Location   string    `json:"location,omitempty"`
	IssuedAt   time.Time `json:"issued_at"`
}

// Store is the injected session-store abstraction. Implementations must be
// safe under concurrent access from many simultaneous requests.
type Store interface {
	Put(ctx context.Context, token string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, token string) (Record, error)
	Delete(ctx context.Context, token string) error
	Ping(ctx context.Context) error
	Close() error
}
