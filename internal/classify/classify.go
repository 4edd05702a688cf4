// Package classify maps raw failures from remote operations into typed diagnoses.
//
// Structured signals win: an error exposing a server error code or an HTTP
// status, context deadlines, and net errors are classified without looking at
// their text. Substring matching on the message is the fallback for opaque
// errors and follows a fixed priority order, first match wins.
package classify

import (
	"context"
	"errors"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"github.com/ngalo-coder/simclient/internal/domain"
)

// coded is implemented by errors that carry a structured kind from the server.
type coded interface {
	ErrorCode() string
}

// statused is implemented by errors that carry an HTTP status.
type statused interface {
	StatusCode() int
}

var (
	notFoundMarkers = []string{"not found", "404", "invalid case"}
	authMarkers     = []string{"401", "unauthorized", "session expired", "authentication"}
	serverMarkers   = []string{"server error", "internal error", "bad gateway", "service unavailable"}
	timeoutMarkers  = []string{"timeout", "timed out", "deadline exceeded"}
	networkMarkers  = []string{"fetch failed", "failed to fetch", "network", "connection refused", "connection reset", "no such host", "eof"}
)

// Classify returns the diagnosis for err. It never panics; a nil error is Unknown.
func Classify(err error) domain.ErrorState {
	kind := kindOf(err)
	st := domain.NewErrorState(kind, err)
	return *st
}

func kindOf(err error) domain.ErrorKind {
	if err == nil {
		return domain.KindUnknown
	}

	var existing *domain.ErrorState
	if errors.As(err, &existing) {
		return existing.Kind
	}
	if kind, ok := fromCode(err); ok {
		return kind
	}
	if kind, ok := fromStatus(err); ok {
		return kind
	}
	if kind, ok := fromType(err); ok {
		return kind
	}
	return fromText(err.Error())
}

func fromCode(err error) (domain.ErrorKind, bool) {
	var c coded
	if !errors.As(err, &c) {
		return "", false
	}
	return KindFromCode(c.ErrorCode())
}

// KindFromCode maps a server-provided error code onto a kind.
func KindFromCode(code string) (domain.ErrorKind, bool) {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "not_found", "notfound", "case_not_found", "invalid_case":
		return domain.KindNotFound, true
	case "auth", "unauthorized", "session_expired", "token_expired", "authentication":
		return domain.KindAuth, true
	case "server_fault", "server_error", "internal", "unavailable":
		return domain.KindServerFault, true
	case "timeout", "deadline_exceeded":
		return domain.KindTimeout, true
	case "network":
		return domain.KindNetwork, true
	case "unknown":
		return domain.KindUnknown, true
	}
	return "", false
}

func fromStatus(err error) (domain.ErrorKind, bool) {
	var s statused
	if !errors.As(err, &s) {
		return "", false
	}
	code := s.StatusCode()
	switch {
	case code == 404:
		return domain.KindNotFound, true
	case code == 401:
		return domain.KindAuth, true
	case code >= 500 && code <= 599:
		return domain.KindServerFault, true
	case code == 408:
		return domain.KindTimeout, true
	}
	return "", false
}

func fromType(err error) (domain.ErrorKind, bool) {
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.KindTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return domain.KindTimeout, true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return domain.KindNetwork, true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return domain.KindNetwork, true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.KindNetwork, true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return domain.KindNetwork, true
	}
	return "", false
}

func fromText(msg string) domain.ErrorKind {
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, notFoundMarkers):
		return domain.KindNotFound
	case containsAny(lower, authMarkers):
		return domain.KindAuth
	case containsAny(lower, serverMarkers) || hasServerStatus(lower):
		return domain.KindServerFault
	case containsAny(lower, timeoutMarkers):
		return domain.KindTimeout
	case containsAny(lower, networkMarkers):
		return domain.KindNetwork
	default:
		return domain.KindUnknown
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// hasServerStatus finds a standalone 5xx code such as "status 503".
func hasServerStatus(s string) bool {
	for _, field := range strings.FieldsFunc(s, func(r rune) bool {
		return r < '0' || r > '9'
	}) {
		if len(field) != 3 || field[0] != '5' {
			continue
		}
		if n, err := strconv.Atoi(field); err == nil && n >= 500 && n <= 599 {
			return true
		}
	}
	return false
}
