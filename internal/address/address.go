// Package address maps sessions to their canonical, bookmarkable paths.
package address

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	// Root prefixes every session address.
	Root = "/session-root"

	// CasePattern is the pre-session address.
	CasePattern = Root + "/{caseID}"
	// SessionPattern is the canonical post-session address.
	SessionPattern = Root + "/{caseID}/session/{sessionID}"

	// CaseListPath is where a missing case sends the operator by default.
	CaseListPath = "/cases"
	// LoginPath is where an expired credential sends the operator.
	LoginPath = "/login"
)

// ErrInvalid is returned when a path does not fit the address grammar.
var ErrInvalid = errors.New("invalid session address")

// Location is a parsed address.
type Location struct {
	CaseID    string
	SessionID string
	Pattern   string
	Valid     bool
}

// HasSession reports whether the location names a started session.
func (l Location) HasSession() bool {
	return l.Valid && l.SessionID != ""
}

var grammar = newGrammar()

func newGrammar() *chi.Mux {
	r := chi.NewRouter()
	noop := func(http.ResponseWriter, *http.Request) {}
	r.Get(CasePattern, noop)
	r.Get(SessionPattern, noop)
	return r
}

// CanonicalFor returns the case path when sessionID is empty and the session
// path otherwise. Segments are path-escaped.
func CanonicalFor(caseID, sessionID string) string {
	p := Root + "/" + url.PathEscape(caseID)
	if sessionID == "" {
		return p
	}
	return p + "/session/" + url.PathEscape(sessionID)
}

// Parse is the inverse of CanonicalFor. Query and fragment are ignored.
func Parse(raw string) Location {
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}
	}
	path := u.EscapedPath()
	if !strings.HasPrefix(path, Root+"/") || strings.HasSuffix(path, "/") {
		return Location{}
	}

	rctx := chi.NewRouteContext()
	if !grammar.Match(rctx, http.MethodGet, path) {
		return Location{}
	}

	loc := Location{Pattern: rctx.RoutePattern()}
	if loc.CaseID, err = segment(rctx.URLParam("caseID")); err != nil {
		return Location{}
	}
	if loc.Pattern == SessionPattern {
		if loc.SessionID, err = segment(rctx.URLParam("sessionID")); err != nil {
			return Location{}
		}
	}
	loc.Valid = true
	return loc
}

func segment(escaped string) (string, error) {
	s, err := url.PathUnescape(escaped)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", ErrInvalid
	}
	return s, nil
}

// Valid reports whether caseID (and sessionID, when given) may appear in an address.
func Valid(caseID, sessionID string) bool {
	if strings.TrimSpace(caseID) == "" {
		return false
	}
	return sessionID == "" || strings.TrimSpace(sessionID) != ""
}

// PatternOf returns the grammar pattern a path matches, or the raw path when
// it matches none. Used for diagnostics.
func PatternOf(raw string) string {
	if loc := Parse(raw); loc.Valid {
		return loc.Pattern
	}
	return raw
}
