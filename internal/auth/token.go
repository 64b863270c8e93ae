// Package auth issues and validates opaque bearer session tokens. Claims
// never travel inside the token; they live in the injected session store,
// which makes revocation immediate.
package auth

import (
	"context"
	"errors"
	"time"

	"leonadmin/api/internal/session"
	"leonadmin/api/internal/util"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Claims is the identity tuple bound to a token at issue time.
type Claims struct {
	SubjectID  string
	Username   string
	Role       string
	Department string
	Location   string
	IssuedAt   time.Time
}

type Service struct {
	store session.Store
	ttl   time.Duration
}

// NewService creates a token service over the given session store. ttl is
// the validity window measured from IssuedAt.
func NewService(store session.Store, ttl time.Duration) *Service {
	return &Service{store: store, ttl: ttl}
}

// Issue generates a fresh unguessable token and stores the claim tuple
// under it with IssuedAt set to now.
func (s *Service) Issue(ctx context.Context, claims Claims) (string, error) {
	token := util.NewID("lat") + util.NewID("")
	rec := session.Record{
		SubjectID:  claims.SubjectID,
		Username:   claims.Username,
		Role:       claims.Role,
		Department: claims.Department,
		Location:   claims.Location,
		IssuedAt:   time.Now(),
	}
	if err := s.store.Put(ctx, token, rec, s.ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Validate resolves a token to its claims. Unknown tokens yield
// ErrInvalidToken; tokens past the validity window are evicted from the
// store as a side effect and yield ErrExpiredToken. Successful validation
// never mutates state.
func (s *Service) Validate(ctx context.Context, token string) (Claims, error) {
	if token == "" {
		return Claims{}, ErrInvalidToken
	}
	rec, err := s.store.Get(ctx, token)
	if errors.Is(err, session.ErrNotFound) {
		return Claims{}, ErrInvalidToken
	}
	if err != nil {
		return Claims{}, err
	}
	if time.Since(rec.IssuedAt) > s.ttl {
		_ = s.store.Delete(ctx, token)
		return Claims{}, ErrExpiredToken
	}
	return Claims{
		SubjectID:  rec.SubjectID,
		Username:   rec.Username,
		Role:       rec.Role,
		Department: rec.Department,
		Location:   rec.Location,
		IssuedAt:   rec.IssuedAt,
	}, nil
}

// Refresh atomically replaces the token: the old entry is evicted and a new
// token is issued with identical claims and a fresh IssuedAt.
func (s *Service) Refresh(ctx context.Context, token string) (string, error) {
	claims, err := s.Validate(ctx, token)
	if err != nil {
		return "", err
	}
	if err := s.store.Delete(ctx, token); err != nil {
		return "", err
	}
	return s.Issue(ctx, claims)
}

// Revoke removes a token from the store. Revoking an unknown token is a
// no-op.
func (s *Service) Revoke(ctx context.Context, token string) error {
	return s.store.Delete(ctx, token)
}

// RemainingMinutes reports how long a token stays valid: -1 for unknown
// tokens, 0 for expired ones.
func (s *Service) RemainingMinutes(ctx context.Context, token string) int64 {
	rec, err := s.store.Get(ctx, token)
	if err != nil {
		return -1
	}
	remaining := time.Until(rec.IssuedAt.Add(s.ttl))
	if remaining <= 0 {
		return 0
	}
	return int64(remaining / time.Minute)
}
