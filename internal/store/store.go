// Package store provides the local key-value persistence used by the client.
package store

import (
	"context"
	"time"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// CredentialKey is the key the bearer token is stored under.
const CredentialKey = "auth_token"

// Repository defines the local state the client persists.
type Repository interface {
	// GetValue returns the value stored under key, or "" when absent.
	GetValue(ctx context.Context, key string) (string, error)

	// PutValue stores value under key.
	PutValue(ctx context.Context, key, value string) error

	// DeleteValue removes key.
	DeleteValue(ctx context.Context, key string) error

	// SaveBookmark creates or updates the state behind an address.
	SaveBookmark(ctx context.Context, b domain.Bookmark) error

	// GetBookmark returns the bookmark for path, or nil when absent.
	GetBookmark(ctx context.Context, path string) (*domain.Bookmark, error)

	// PruneBookmarks removes bookmarks not updated within ttl.
	PruneBookmarks(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

// Credentials reads the bearer token from a Repository.
type Credentials struct {
	repo Repository
}

// NewCredentials wraps repo.
func NewCredentials(repo Repository) *Credentials {
	return &Credentials{repo: repo}
}

// Token returns the stored token, or "" when none is stored.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	return c.repo.GetValue(ctx, CredentialKey)
}

// SetToken stores token.
func (c *Credentials) SetToken(ctx context.Context, token string) error {
	return c.repo.PutValue(ctx, CredentialKey, token)
}

// Clear removes the stored token.
func (c *Credentials) Clear(ctx context.Context) error {
	return c.repo.DeleteValue(ctx, CredentialKey)
}
