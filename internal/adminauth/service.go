// Package adminauth verifies administrator credentials.
package adminauth

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"leonadmin/api/internal/store"
)

var (
	ErrBadCredentials  = errors.New("invalid username or password")
	ErrAccountInactive = errors.New("account is inactive")
)

// AdminStore is the slice of storage the authenticator needs.
type AdminStore interface {
	GetAdminByUsername(ctx context.Context, username string) (store.Admin, error)
}

type Service struct {
	store AdminStore
}

func NewService(s AdminStore) *Service {
	return &Service{store: s}
}

// Authenticate checks username/password and returns the matched admin.
// Hashes are bcrypt; accounts imported from the legacy system may still
// carry a plaintext password, which is accepted until the next rehash.
func (s *Service) Authenticate(ctx context.Context, username, password string) (store.Admin, error) {
	username = strings.TrimSpace(username)
	if username == "" || password == "" {
		return store.Admin{}, ErrBadCredentials
	}

	admin, err := s.store.GetAdminByUsername(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Admin{}, ErrBadCredentials
	}
	if err != nil {
		return store.Admin{}, err
	}

	if !matchesPassword(admin.PasswordHash, password) {
		return store.Admin{}, ErrBadCredentials
	}
	if !admin.Active {
		return store.Admin{}, ErrAccountInactive
	}
	return admin, nil
}

func matchesPassword(stored, password string) bool {
	if stored == "" {
		return false
	}
	if strings.HasPrefix(stored, "$2a$") || strings.HasPrefix(stored, "$2b$") || strings.HasPrefix(stored, "$2y$") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(password)) == nil
	}
	// Legacy plaintext fallback
	return subtle.ConstantTimeCompare([]byte(stored), []byte(password)) == 1
}

// HashPassword produces a bcrypt hash for new or rehashed accounts.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
