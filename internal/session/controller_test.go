package session_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngalo-coder/simclient/internal/address"
	"github.com/ngalo-coder/simclient/internal/diagnostics"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/remotetest"
	"github.com/ngalo-coder/simclient/internal/retry"
	"github.com/ngalo-coder/simclient/internal/session"
	"github.com/ngalo-coder/simclient/internal/store"
	"github.com/ngalo-coder/simclient/internal/stream"
)

type redirect struct {
	path string
	kind domain.ErrorKind
}

type recorder struct {
	// onState, when set, runs after each recorded state change.
	onState func(session.State)

	mu        sync.Mutex
	states    []session.State
	messages  []domain.Message
	evals     []domain.Evaluation
	redirects []redirect
}

func (r *recorder) StateChanged(s session.State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
	if r.onState != nil {
		r.onState(s)
	}
}

func (r *recorder) MessageUpdated(m domain.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
}

func (r *recorder) EvaluationReady(e domain.Evaluation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evals = append(r.evals, e)
}

func (r *recorder) Redirected(path string, kind domain.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.redirects = append(r.redirects, redirect{path, kind})
}

func (r *recorder) Redirects() []redirect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]redirect(nil), r.redirects...)
}

func (r *recorder) Evaluations() []domain.Evaluation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Evaluation(nil), r.evals...)
}

type captureSink struct {
	mu      sync.Mutex
	records []diagnostics.Record
}

func (s *captureSink) Report(_ context.Context, rec diagnostics.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
}

func (s *captureSink) Records() []diagnostics.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]diagnostics.Record(nil), s.records...)
}

// flakyRemote refuses the first failures start calls before delegating.
type flakyRemote struct {
	session.Remote
	failures int32
	calls    atomic.Int32
}

func (f *flakyRemote) Start(ctx context.Context, caseID string) (remote.StartResult, error) {
	n := f.calls.Add(1)
	if n <= f.failures {
		return remote.StartResult{}, fmt.Errorf("dial tcp: %w", syscall.ECONNREFUSED)
	}
	return f.Remote.Start(ctx, caseID)
}

type harness struct {
	srv      *remotetest.Server
	ctrl     *session.Controller
	history  *address.MemoryHistory
	bookmark *store.SQLiteStore
	observer *recorder
	sink     *captureSink
	flaky    *flakyRemote
}

type harnessOpts struct {
	path     string
	token    string
	tokens   remote.TokenSource
	failures int32
}

// swappableToken lets a test sign in mid-session.
type swappableToken struct{ v atomic.Value }

func (s *swappableToken) Set(token string) { s.v.Store(token) }

func (s *swappableToken) Token(context.Context) (string, error) {
	token, _ := s.v.Load().(string)
	return token, nil
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.path == "" {
		opts.path = address.CanonicalFor("CASE-1", "")
	}
	if opts.token == "" {
		opts.token = "tok"
	}

	srv := remotetest.NewServer()
	t.Cleanup(srv.Close)

	db, err := store.NewSQLite(filepath.Join(t.TempDir(), "session.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	var tokens remote.TokenSource = remote.StaticToken(opts.token)
	switch {
	case opts.tokens != nil:
		tokens = opts.tokens
	case opts.token == "-":
		tokens = remote.StaticToken("")
	}
	client := remote.NewClient(remote.Config{
		BaseURL:      srv.URL(),
		Timeout:      5 * time.Second,
		EndRetries:   0,
		EndRetryWait: time.Millisecond,
	}, tokens)
	flaky := &flakyRemote{Remote: client, failures: opts.failures}

	h := &harness{
		srv:      srv,
		history:  address.NewMemoryHistory(opts.path),
		bookmark: db,
		observer: &recorder{},
		sink:     &captureSink{},
		flaky:    flaky,
	}
	h.ctrl = session.New(session.Config{
		NotFoundRedirectDelay: 30 * time.Millisecond,
		AuthRedirectDelay:     20 * time.Millisecond,
	}, session.Deps{
		Remote:        flaky,
		Streamer:      stream.NewConsumer(stream.NewSSETransport(srv.URL(), nil), tokens),
		Tokens:        tokens,
		Canonicalizer: address.NewCanonicalizer(h.history, db, nil),
		Sink:          h.sink,
		Observer:      h.observer,
	})
	t.Cleanup(h.ctrl.Unmount)
	return h
}

func (h *harness) mount(t *testing.T, nav domain.NavigationContext) error {
	t.Helper()
	return h.ctrl.Mount(context.Background(), h.history.CurrentPath(), nav)
}

func TestMountStartsSessionAtCanonicalAddress(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	nav := domain.NavigationContext{ReturnPath: "/cases?category=cardio", Tag: "cardio"}

	require.NoError(t, h.mount(t, nav))

	st := h.ctrl.State()
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, "S-1", st.SessionID)
	assert.Nil(t, st.Failure)
	assert.Equal(t, "/session-root/CASE-1/session/S-1", h.history.CurrentPath())

	entries := h.history.Entries()
	require.Len(t, entries, 1, "address is replaced in place")
	assert.Equal(t, address.ModeReplace, entries[0].Mode)
	assert.Equal(t, nav, entries[0].State.Nav)

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, domain.RoleSystemNotice, snap.Messages[0].Role)
	assert.Equal(t, domain.RoleCounterpart, snap.Messages[1].Role)
	assert.Equal(t, "Jane", snap.Messages[1].Speaker)
	assert.Equal(t, "Hi doctor", snap.Messages[1].Content)
	assert.Equal(t, "Jane", snap.CounterpartName)

	b, err := h.bookmark.GetBookmark(context.Background(), h.history.CurrentPath())
	require.NoError(t, err)
	require.NotNil(t, b)
	assert.Equal(t, nav, b.Nav)

	assert.Equal(t, []string{"CASE-1"}, h.srv.StartedCases())
	assert.Empty(t, h.sink.Records())
}

func TestStartWithoutGreetingUsesPlaceholder(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnStart(remotetest.Reply{Body: map[string]any{"sessionId": "S-2"}})

	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, session.DefaultCounterpartName, snap.CounterpartName)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, session.DefaultCounterpartName, snap.Messages[1].Speaker)
	assert.Contains(t, snap.Messages[1].Content, session.DefaultCounterpartName)
	assert.NotEmpty(t, snap.Messages[1].Content)
}

func TestStartNetworkFailureThenRetry(t *testing.T) {
	h := newHarness(t, harnessOpts{failures: 1})

	err := h.mount(t, domain.NavigationContext{})
	var es *domain.ErrorState
	require.ErrorAs(t, err, &es)
	assert.Equal(t, domain.KindNetwork, es.Kind)

	st := h.ctrl.State()
	assert.Equal(t, domain.StatusErrored, st.Status)
	require.NotNil(t, st.Failure)
	assert.Equal(t, domain.KindNetwork, st.Failure.Kind)
	assert.True(t, st.CanRetry)
	assert.Equal(t, 1, st.Budget.Attempts)
	assert.Equal(t, "/session-root/CASE-1", h.history.CurrentPath())

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, diagnostics.OpStart, recs[0].Operation)
	assert.Equal(t, "CASE-1", recs[0].CaseID)
	assert.Equal(t, address.CasePattern, recs[0].AddressPattern)
	assert.Equal(t, 1, recs[0].Attempt)

	require.NoError(t, h.ctrl.Retry(context.Background()))
	assert.Equal(t, domain.StatusActive, h.ctrl.State().Status)
	assert.Equal(t, int32(2), h.flaky.calls.Load())
	assert.Equal(t, 1, h.srv.StartCalls())
	assert.Equal(t, "/session-root/CASE-1/session/S-1", h.history.CurrentPath())
}

func TestStartRetryIsCapped(t *testing.T) {
	h := newHarness(t, harnessOpts{failures: 100})
	ctx := context.Background()

	require.Error(t, h.mount(t, domain.NavigationContext{}))
	require.Error(t, h.ctrl.Retry(ctx))
	require.Error(t, h.ctrl.Retry(ctx))
	assert.False(t, h.ctrl.State().CanRetry)

	err := h.ctrl.Retry(ctx)
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Equal(t, int32(3), h.flaky.calls.Load())
	assert.Len(t, h.sink.Records(), 3)
	assert.Equal(t, domain.StatusErrored, h.ctrl.State().Status)
}

func TestStartIsSingleFlight(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	release := make(chan struct{})
	h.srv.OnStart(remotetest.Reply{
		Body: map[string]any{"sessionId": "S-1", "counterpartName": "Jane"},
		Wait: release,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- h.mount(t, domain.NavigationContext{}) }()

	require.Eventually(t, func() bool { return h.srv.StartCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, h.ctrl.Start(context.Background(), "CASE-1", domain.NavigationContext{}))
	assert.Equal(t, domain.StatusStarting, h.ctrl.State().Status)

	close(release)
	require.NoError(t, <-errCh)
	require.NoError(t, h.ctrl.Start(context.Background(), "CASE-1", domain.NavigationContext{}))

	assert.Equal(t, 1, h.srv.StartCalls())
	assert.Len(t, h.history.Entries(), 1)
}

func TestNotFoundRedirectsToCaseList(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnStart(remotetest.Reply{Status: http.StatusNotFound, Body: map[string]string{"message": "Case not found"}})

	err := h.mount(t, domain.NavigationContext{Tag: "cardio"})
	var es *domain.ErrorState
	require.ErrorAs(t, err, &es)
	assert.Equal(t, domain.KindNotFound, es.Kind)

	st := h.ctrl.State()
	assert.False(t, st.CanRetry)
	assert.Equal(t, "/cases?category=cardio", st.PendingRedirect)
	assert.ErrorIs(t, h.ctrl.Retry(context.Background()), retry.ErrNotRetryable)

	require.Eventually(t, func() bool { return len(h.observer.Redirects()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, redirect{"/cases?category=cardio", domain.KindNotFound}, h.observer.Redirects()[0])

	cur := h.history.Current()
	assert.Equal(t, "/cases?category=cardio", cur.Path)
	assert.Equal(t, address.ModeNavigate, cur.Mode)
	assert.Equal(t, "cardio", cur.State.Nav.Tag)
	assert.Empty(t, h.ctrl.State().PendingRedirect)
}

func TestMissingCredentialRedirectsToLogin(t *testing.T) {
	h := newHarness(t, harnessOpts{token: "-"})

	err := h.mount(t, domain.NavigationContext{})
	var es *domain.ErrorState
	require.ErrorAs(t, err, &es)
	assert.Equal(t, domain.KindAuth, es.Kind)
	assert.True(t, errors.Is(err, remote.ErrMissingCredential))
	assert.Equal(t, 0, h.srv.StartCalls())

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, domain.KindAuth, recs[0].Kind)

	want := address.LoginDestination("/session-root/CASE-1")
	require.Eventually(t, func() bool { return h.history.CurrentPath() == want }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []redirect{{want, domain.KindAuth}}, h.observer.Redirects())
}

func TestAuthFailureAllowsSecondEntry(t *testing.T) {
	tokens := &swappableToken{}
	h := newHarness(t, harnessOpts{tokens: tokens})

	require.Error(t, h.mount(t, domain.NavigationContext{}))
	assert.Equal(t, domain.StatusErrored, h.ctrl.State().Status)

	tokens.Set("tok")
	require.NoError(t, h.ctrl.Start(context.Background(), "CASE-1", domain.NavigationContext{}))
	assert.Equal(t, domain.StatusActive, h.ctrl.State().Status)
	assert.Empty(t, h.ctrl.State().PendingRedirect, "re-entry cancels the pending redirect")
	assert.Equal(t, 1, h.srv.StartCalls())
}

func TestRedirectAfterUnmountDoesNothing(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnStart(remotetest.Reply{Status: http.StatusNotFound})

	require.Error(t, h.mount(t, domain.NavigationContext{}))
	require.NotEmpty(t, h.ctrl.State().PendingRedirect)
	h.ctrl.Unmount()

	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, h.observer.Redirects())
	assert.Equal(t, "/session-root/CASE-1", h.history.CurrentPath())
	assert.ErrorIs(t, h.ctrl.Retry(context.Background()), session.ErrUnmounted)
}

func TestInvalidAddressIsConfigurationError(t *testing.T) {
	h := newHarness(t, harnessOpts{path: "/elsewhere/CASE-1"})

	err := h.mount(t, domain.NavigationContext{})
	var es *domain.ErrorState
	require.ErrorAs(t, err, &es)
	assert.Equal(t, domain.KindConfiguration, es.Kind)
	assert.ErrorIs(t, err, session.ErrInvalidAddress)
	assert.False(t, h.ctrl.State().CanRetry)
	assert.Equal(t, 0, h.srv.StartCalls())

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, h.observer.Redirects())
}

func TestResumeRestoresNavigation(t *testing.T) {
	path := address.CanonicalFor("CASE-1", "S-9")
	h := newHarness(t, harnessOpts{path: path})
	nav := domain.NavigationContext{ReturnPath: "/cases?category=neuro"}
	require.NoError(t, h.bookmark.SaveBookmark(context.Background(), domain.Bookmark{Path: path, Nav: nav}))

	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	st := h.ctrl.State()
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, "S-9", st.SessionID)
	assert.Equal(t, nav, st.Nav)
	assert.Equal(t, path, h.history.CurrentPath())
	assert.Equal(t, 0, h.srv.StartCalls())

	require.NoError(t, h.ctrl.Submit(context.Background(), "hello"))
	assert.Equal(t, "S-9", h.srv.Asks()[0].SessionID)
}

func TestSubmitStreamsReply(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnAsk(remotetest.Exchange{Frames: []remotetest.Frame{
		remotetest.Chunk("I have ", ""),
		remotetest.Chunk("a headache", ""),
		remotetest.Done(),
	}})
	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	require.NoError(t, h.ctrl.Submit(context.Background(), "  What brings you in?  "))

	snap := h.ctrl.Snapshot()
	require.Len(t, snap.Messages, 4)
	assert.Equal(t, domain.RoleOperator, snap.Messages[2].Role)
	assert.Equal(t, "What brings you in?", snap.Messages[2].Content)
	assert.Equal(t, "I have a headache", snap.Messages[3].Content)
	assert.False(t, snap.Messages[3].Streaming)
	assert.Equal(t, domain.StatusActive, snap.Status)

	assert.Equal(t, []stream.Request{{SessionID: "S-1", Utterance: "What brings you in?"}}, h.srv.Asks())

	h.observer.mu.Lock()
	defer h.observer.mu.Unlock()
	var partials []string
	for _, m := range h.observer.messages {
		if m.Role == domain.RoleCounterpart && m.ID == snap.Messages[3].ID {
			partials = append(partials, m.Content)
		}
	}
	assert.Equal(t, []string{"I have ", "I have a headache", "I have a headache"}, partials)
}

func TestSubmitMidStreamErrorKeepsPartialReply(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnAsk(
		remotetest.Exchange{Frames: []remotetest.Frame{
			remotetest.Chunk("Hello", ""),
			remotetest.Error("model failed", "server_error"),
		}},
		remotetest.Exchange{Frames: []remotetest.Frame{remotetest.Chunk("Hello again", ""), remotetest.Done()}},
	)
	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	err := h.ctrl.Submit(context.Background(), "hi")
	var es *domain.ErrorState
	require.ErrorAs(t, err, &es)
	assert.Equal(t, domain.KindServerFault, es.Kind)

	st := h.ctrl.State()
	assert.Equal(t, domain.StatusActive, st.Status)
	assert.Equal(t, diagnostics.OpExchange, st.FailedOp)
	assert.True(t, st.CanRetry)

	snap := h.ctrl.Snapshot()
	last := snap.Messages[len(snap.Messages)-1]
	assert.Equal(t, "Hello", last.Content)
	assert.False(t, last.Streaming)

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, diagnostics.OpExchange, recs[0].Operation)
	assert.Equal(t, "S-1", recs[0].SessionID)
	assert.Equal(t, address.SessionPattern, recs[0].AddressPattern)

	require.NoError(t, h.ctrl.Retry(context.Background()))
	snap = h.ctrl.Snapshot()
	assert.Equal(t, "Hello", snap.Messages[len(snap.Messages)-2].Content)
	assert.Equal(t, "Hello again", snap.Messages[len(snap.Messages)-1].Content)
	assert.Nil(t, h.ctrl.State().Failure)
	assert.Equal(t, 2, h.srv.AskCalls())
	for _, ask := range h.srv.Asks() {
		assert.Equal(t, "hi", ask.Utterance)
	}
}

func TestSubmitGuards(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	assert.ErrorIs(t, h.ctrl.Submit(ctx, "hi"), session.ErrNotActive)
	require.NoError(t, h.mount(t, domain.NavigationContext{}))
	assert.ErrorIs(t, h.ctrl.Submit(ctx, "   "), session.ErrEmptyUtterance)

	h.srv.OnAsk(remotetest.Exchange{Frames: []remotetest.Frame{
		{Event: "chunk", Data: map[string]any{"type": "chunk", "content": "slow"}, Delay: 150 * time.Millisecond},
		remotetest.Done(),
	}})
	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Submit(ctx, "first") }()
	require.Eventually(t, func() bool { return h.ctrl.State().Status == domain.StatusExchanging }, 2*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, h.ctrl.Submit(ctx, "second"), session.ErrBusy)
	assert.ErrorIs(t, h.ctrl.End(ctx), session.ErrBusy)
	require.NoError(t, <-errCh)

	require.NoError(t, h.ctrl.End(ctx))
	assert.ErrorIs(t, h.ctrl.Submit(ctx, "after"), session.ErrSessionEnded)
	assert.Equal(t, 1, h.srv.AskCalls())
}

func TestSessionEndFrameEndsSession(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnAsk(remotetest.Exchange{Frames: []remotetest.Frame{
		remotetest.Chunk("Thank you, doctor.", ""),
		remotetest.SessionEnd("Clear and empathetic"),
	}})
	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	require.NoError(t, h.ctrl.Submit(context.Background(), "Goodbye"))

	assert.Equal(t, domain.StatusEnded, h.ctrl.State().Status)
	evals := h.observer.Evaluations()
	require.Len(t, evals, 1)
	assert.Equal(t, "Clear and empathetic", evals[0].Summary)
	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), "wait"), session.ErrSessionEnded)
}

func TestEndSurfacesEvaluation(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	require.NoError(t, h.ctrl.End(context.Background()))

	snap := h.ctrl.Snapshot()
	assert.Equal(t, domain.StatusEnded, snap.Status)
	assert.Equal(t, domain.RoleSystemNotice, snap.Messages[len(snap.Messages)-1].Role)
	assert.Equal(t, 1, h.srv.EndCalls())

	evals := h.observer.Evaluations()
	require.Len(t, evals, 1)
	assert.Equal(t, "Well done", evals[0].Summary)
}

func TestEndFailureStillEndsLocally(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnEnd(remotetest.Reply{Status: http.StatusBadGateway, Body: map[string]string{"message": "upstream down"}})
	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	err := h.ctrl.End(context.Background())
	var es *domain.ErrorState
	require.ErrorAs(t, err, &es)
	assert.Equal(t, domain.KindServerFault, es.Kind)

	st := h.ctrl.State()
	assert.Equal(t, domain.StatusEnded, st.Status)
	assert.Equal(t, diagnostics.OpEnd, st.FailedOp)
	assert.False(t, st.CanRetry)
	assert.ErrorIs(t, h.ctrl.Retry(context.Background()), session.ErrNothingToRetry)

	recs := h.sink.Records()
	require.Len(t, recs, 1)
	assert.Equal(t, diagnostics.OpEnd, recs[0].Operation)
	assert.Empty(t, h.observer.Evaluations())
}

func TestUnmountAbortsExchange(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.srv.OnAsk(remotetest.Exchange{Frames: []remotetest.Frame{remotetest.Chunk("um", "")}, Hang: true})
	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	errCh := make(chan error, 1)
	go func() { errCh <- h.ctrl.Submit(context.Background(), "hi") }()
	require.Eventually(t, func() bool { return h.srv.OpenStreams() == 1 }, 2*time.Second, 5*time.Millisecond)

	h.ctrl.Unmount()

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("exchange not aborted")
	}
	assert.Eventually(t, func() bool { return h.srv.OpenStreams() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Empty(t, h.sink.Records(), "aborted exchanges are not failures")
	assert.ErrorIs(t, h.ctrl.Submit(context.Background(), "again"), session.ErrUnmounted)
}

func TestUnmountBeforeBookmarkLeavesAddress(t *testing.T) {
	entry := address.CanonicalFor("CASE-1", "")
	h := newHarness(t, harnessOpts{path: entry})
	h.observer.onState = func(s session.State) {
		if s.Status == domain.StatusActive {
			h.ctrl.Unmount()
		}
	}

	require.NoError(t, h.mount(t, domain.NavigationContext{}))

	assert.Equal(t, entry, h.history.CurrentPath())
	assert.Len(t, h.history.Entries(), 1)
	b, err := h.bookmark.GetBookmark(context.Background(), address.CanonicalFor("CASE-1", "S-1"))
	require.NoError(t, err)
	assert.Nil(t, b)
}

func TestUnmountBeforeResumeBookmarkLeavesStore(t *testing.T) {
	path := address.CanonicalFor("CASE-1", "S-9")
	h := newHarness(t, harnessOpts{path: path})
	h.observer.onState = func(s session.State) {
		if s.Status == domain.StatusActive {
			h.ctrl.Unmount()
		}
	}

	require.NoError(t, h.mount(t, domain.NavigationContext{ReturnPath: "/cases"}))

	b, err := h.bookmark.GetBookmark(context.Background(), path)
	require.NoError(t, err)
	assert.Nil(t, b)
}
