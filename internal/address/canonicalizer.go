package address

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// BookmarkStore persists the state folded into an address.
// GetBookmark returns nil, nil when nothing is stored.
type BookmarkStore interface {
	SaveBookmark(ctx context.Context, b domain.Bookmark) error
	GetBookmark(ctx context.Context, path string) (*domain.Bookmark, error)
}

// Canonicalizer is the only writer of the address.
type Canonicalizer struct {
	history History
	store   BookmarkStore
	logger  *slog.Logger
	now     func() time.Time
}

// NewCanonicalizer creates a canonicalizer. store may be nil.
func NewCanonicalizer(history History, store BookmarkStore, logger *slog.Logger) *Canonicalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Canonicalizer{history: history, store: store, logger: logger, now: time.Now}
}

// CurrentPath returns the address currently shown.
func (c *Canonicalizer) CurrentPath() string {
	return c.history.CurrentPath()
}

// ApplyBookmark replaces the current address with path in place and folds nav
// into its state. The state is also persisted so a reload can restore it.
func (c *Canonicalizer) ApplyBookmark(ctx context.Context, path, title string, nav domain.NavigationContext) error {
	if !Parse(path).Valid {
		return fmt.Errorf("%w: %q", ErrInvalid, path)
	}
	c.history.SetPath(path, State{Title: title, Nav: nav}, ModeReplace)

	if c.store == nil {
		return nil
	}
	now := c.now().UTC()
	if err := c.store.SaveBookmark(ctx, domain.Bookmark{
		Path:      path,
		Title:     title,
		Nav:       nav,
		CreatedAt: now,
		UpdatedAt: now,
	}); err != nil {
		c.logger.Warn("failed to persist bookmark", "path", path, "error", err)
		return fmt.Errorf("persist bookmark: %w", err)
	}
	return nil
}

// Redirect navigates away from the session view carrying nav.
func (c *Canonicalizer) Redirect(path string, nav domain.NavigationContext) {
	c.history.SetPath(path, State{Nav: nav}, ModeNavigate)
}

// Restore returns the navigation context stored for path.
func (c *Canonicalizer) Restore(ctx context.Context, path string) (domain.NavigationContext, bool, error) {
	if c.store == nil {
		return domain.NavigationContext{}, false, nil
	}
	b, err := c.store.GetBookmark(ctx, path)
	if err != nil {
		return domain.NavigationContext{}, false, fmt.Errorf("load bookmark: %w", err)
	}
	if b == nil {
		return domain.NavigationContext{}, false, nil
	}
	return b.Nav, true, nil
}

// NotFoundDestination is where a missing case redirects to.
func NotFoundDestination(nav domain.NavigationContext) string {
	if nav.ReturnPath != "" {
		return nav.ReturnPath
	}
	if nav.Tag != "" {
		return CaseListPath + "?category=" + url.QueryEscape(nav.Tag)
	}
	return CaseListPath
}

// LoginDestination is where an auth failure redirects to; returnTo is the
// address to come back to after signing in.
func LoginDestination(returnTo string) string {
	if returnTo == "" {
		return LoginPath
	}
	return LoginPath + "?returnTo=" + url.QueryEscape(returnTo)
}
