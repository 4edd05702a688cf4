package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/fatih/color"

	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/session"
)

// Renderer prints controller output to a terminal. It implements session.Observer.
type Renderer struct {
	out io.Writer

	mu          sync.Mutex
	streamingID string
	printed     int
	lastStatus  domain.Status
	lastFailure string
}

func NewRenderer(out io.Writer, noColor bool) *Renderer {
	color.NoColor = noColor
	return &Renderer{out: out}
}

var (
	dim       = color.New(color.FgHiBlack)
	operator  = color.New(color.FgCyan, color.Bold)
	speaker   = color.New(color.FgGreen, color.Bold)
	errorText = color.New(color.FgRed)
	warn      = color.New(color.FgYellow)
	headline  = color.New(color.FgMagenta, color.Bold)
)

// MessageUpdated prints new messages and the unseen tail of a streaming one.
func (r *Renderer) MessageUpdated(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch m.Role {
	case domain.RoleOperator:
		r.closeStream()
		fmt.Fprintf(r.out, "%s %s\n", operator.Sprint("you ›"), m.Content)
		return
	case domain.RoleSystemNotice:
		r.closeStream()
		fmt.Fprintln(r.out, dim.Sprint(m.Content))
		return
	}

	if m.ID != r.streamingID {
		r.closeStream()
		r.streamingID = m.ID
		r.printed = 0
		fmt.Fprintf(r.out, "%s ", speaker.Sprintf("%s ›", m.Speaker))
	}
	if len(m.Content) > r.printed {
		fmt.Fprint(r.out, m.Content[r.printed:])
		r.printed = len(m.Content)
	}
	if !m.Streaming {
		r.closeStream()
	}
}

// closeStream ends the line of an open reply.
func (r *Renderer) closeStream() {
	if r.streamingID == "" {
		return
	}
	fmt.Fprintln(r.out)
	r.streamingID = ""
	r.printed = 0
}

// StateChanged reports status transitions and new failures once each.
func (r *Renderer) StateChanged(st session.State) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if st.Status != r.lastStatus {
		r.lastStatus = st.Status
		switch st.Status {
		case domain.StatusStarting:
			fmt.Fprintln(r.out, dim.Sprint("Starting simulation..."))
		case domain.StatusEnding:
			fmt.Fprintln(r.out, dim.Sprint("Ending simulation..."))
		}
	}

	if st.Failure == nil {
		r.lastFailure = ""
		return
	}
	key := fmt.Sprintf("%s/%s/%d/%s", st.FailedOp, st.Failure.Kind, st.Failure.RetryCount, st.PendingRedirect)
	if key == r.lastFailure {
		return
	}
	r.lastFailure = key

	r.closeStream()
	fmt.Fprintln(r.out, errorText.Sprint(st.Failure.Message))
	switch {
	case st.CanRetry:
		fmt.Fprintln(r.out, warn.Sprintf("Type /retry to try again (attempt %d of %d).",
			st.Budget.Attempts, st.Budget.MaxAttempts))
	case st.Failure.Retryable && st.Budget.MaxAttempts > 0:
		fmt.Fprintln(r.out, warn.Sprint("No retries left."))
	}
	if st.PendingRedirect != "" {
		fmt.Fprintln(r.out, dim.Sprintf("Redirecting to %s...", st.PendingRedirect))
	}
}

func (r *Renderer) EvaluationReady(ev domain.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeStream()
	fmt.Fprintln(r.out, headline.Sprint("Evaluation"))
	if ev.Summary != "" {
		fmt.Fprintln(r.out, ev.Summary)
	} else {
		fmt.Fprintln(r.out, string(ev.Raw))
	}
}

func (r *Renderer) Redirected(path string, kind domain.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeStream()
	fmt.Fprintln(r.out, warn.Sprintf("→ %s", path))
	if kind == domain.KindAuth {
		fmt.Fprintln(r.out, dim.Sprint("Sign in with /login <token>, then /open to come back."))
	}
}

// Help prints text as-is.
func (r *Renderer) Help(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.out, text)
}

// Notice prints a dimmed informational line.
func (r *Renderer) Notice(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeStream()
	fmt.Fprintln(r.out, dim.Sprintf(format, args...))
}

// Error prints a command failure.
func (r *Renderer) Error(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeStream()
	fmt.Fprintln(r.out, errorText.Sprintf(format, args...))
}

// Stats prints gathered counters.
func (r *Renderer) Stats(counters []diagnostics.Counter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(counters) == 0 {
		fmt.Fprintln(r.out, dim.Sprint("No counters recorded yet."))
		return
	}
	for _, c := range counters {
		fmt.Fprintf(r.out, "%s%s %g\n", c.Name, formatLabels(c.Labels), c.Value)
	}
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, labels[k]))
	}
	return "{" + strings.Join(parts, ",") + "}"
}
