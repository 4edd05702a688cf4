package remote_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ngalo-coder/simclient/internal/classify"
	"github.com/ngalo-coder/simclient/internal/domain"
	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/remotetest"
)

func newClient(srv *remotetest.Server, token string) *remote.Client {
	return remote.NewClient(remote.Config{
		BaseURL:      srv.URL(),
		Timeout:      5 * time.Second,
		EndRetries:   2,
		EndRetryWait: 5 * time.Millisecond,
	}, remote.StaticToken(token))
}

func TestStartDecodesAliases(t *testing.T) {
	tests := []struct {
		name string
		body any
		want remote.StartResult
	}{
		{
			name: "canonical keys",
			body: map[string]any{"sessionId": "S-1", "counterpartName": "Jane", "initialUtterance": "Hi doctor"},
			want: remote.StartResult{SessionID: "S-1", CounterpartName: "Jane", InitialUtterance: "Hi doctor"},
		},
		{
			name: "snake case",
			body: map[string]any{"session_id": "S-2", "patient_name": "Bob", "initial_prompt": "Ouch"},
			want: remote.StartResult{SessionID: "S-2", CounterpartName: "Bob", InitialUtterance: "Ouch"},
		},
		{
			name: "legacy keys in data envelope",
			body: map[string]any{"data": map[string]any{"id": 42, "speaks_for": "Ann", "patientMessage": "Hello"}},
			want: remote.StartResult{SessionID: "42", CounterpartName: "Ann", InitialUtterance: "Hello"},
		},
		{
			name: "no optional fields",
			body: map[string]any{"sessionId": "S-2"},
			want: remote.StartResult{SessionID: "S-2"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := remotetest.NewServer()
			defer srv.Close()
			srv.OnStart(remotetest.Reply{Body: tt.body})

			got, err := newClient(srv, "tok").Start(context.Background(), "CASE-1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, []string{"CASE-1"}, srv.StartedCases())
		})
	}
}

func TestStartMissingSessionID(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.OnStart(remotetest.Reply{Body: map[string]any{"counterpartName": "Jane"}})

	_, err := newClient(srv, "tok").Start(context.Background(), "CASE-1")
	assert.ErrorIs(t, err, remote.ErrMalformedResponse)
}

func TestStartStatusErrors(t *testing.T) {
	tests := []struct {
		status int
		body   any
		want   domain.ErrorKind
	}{
		{http.StatusNotFound, map[string]string{"message": "Case not found"}, domain.KindNotFound},
		{http.StatusUnauthorized, "", domain.KindAuth},
		{http.StatusBadGateway, "upstream down", domain.KindServerFault},
		{http.StatusBadRequest, map[string]any{"error": map[string]string{"code": "invalid_case", "message": "bad"}}, domain.KindNotFound},
		{http.StatusInternalServerError, map[string]string{"code": "session_expired"}, domain.KindAuth},
	}

	for _, tt := range tests {
		srv := remotetest.NewServer()
		srv.OnStart(remotetest.Reply{Status: tt.status, Body: tt.body})

		_, err := newClient(srv, "tok").Start(context.Background(), "CASE-1")
		require.Error(t, err)

		var se *remote.StatusError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, tt.status, se.StatusCode())
		assert.Equal(t, tt.want, classify.Classify(err).Kind, "status %d", tt.status)
		assert.Equal(t, 1, srv.StartCalls(), "start is never retried by the transport")
		srv.Close()
	}
}

func TestStartWithoutCredentialMakesNoCall(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	_, err := newClient(srv, "  ").Start(context.Background(), "CASE-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, remote.ErrMissingCredential))

	var st *domain.ErrorState
	require.ErrorAs(t, err, &st)
	assert.Equal(t, domain.KindAuth, st.Kind)
	assert.False(t, st.Retryable)
	assert.Equal(t, 0, srv.StartCalls())
}

func TestStartSendsBearerToken(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.Token = "secret"

	_, err := newClient(srv, "secret").Start(context.Background(), "CASE-1")
	require.NoError(t, err)

	_, err = newClient(srv, "wrong").Start(context.Background(), "CASE-1")
	assert.Equal(t, domain.KindAuth, classify.Classify(err).Kind)
	assert.Equal(t, 2, srv.StartCalls(), "rejected requests still count")
	assert.Equal(t, []string{"CASE-1"}, srv.StartedCases())
}

func TestEndRetriesTransientFailures(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.OnEnd(
		remotetest.Reply{Status: http.StatusServiceUnavailable},
		remotetest.Reply{Body: map[string]any{"evaluation": map[string]any{"score": 8, "summary": "Thorough history"}}},
	)

	res, err := newClient(srv, "tok").End(context.Background(), "S-1")
	require.NoError(t, err)
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, "Thorough history", res.Evaluation.Summary)
	assert.JSONEq(t, `{"score":8,"summary":"Thorough history"}`, string(res.Evaluation.Raw))
	assert.Equal(t, 2, srv.EndCalls())
}

func TestEndGivesUpAfterRetries(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.OnEnd(remotetest.Reply{Status: http.StatusInternalServerError, Body: map[string]string{"message": "internal error"}})

	_, err := newClient(srv, "tok").End(context.Background(), "S-1")
	require.Error(t, err)
	assert.Equal(t, domain.KindServerFault, classify.Classify(err).Kind)
	assert.Equal(t, 3, srv.EndCalls())
}

func TestEndWithoutEvaluation(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()
	srv.OnEnd(remotetest.Reply{Body: map[string]any{"ok": true}})

	res, err := newClient(srv, "tok").End(context.Background(), "S-1")
	require.NoError(t, err)
	assert.Nil(t, res.Evaluation)

	srv.OnEnd(remotetest.Reply{Body: map[string]any{"summary": "Short and sweet"}})
	res, err = newClient(srv, "tok").End(context.Background(), "S-1")
	require.NoError(t, err)
	require.NotNil(t, res.Evaluation)
	assert.Equal(t, "Short and sweet", res.Evaluation.Summary)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := remotetest.NewServer()
	defer srv.Close()

	c := remote.NewClient(remote.Config{BaseURL: srv.URL(), RateLimitRPS: 0.001}, remote.StaticToken("tok"))
	_, err := c.Start(context.Background(), "CASE-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.Start(ctx, "CASE-1")
	require.Error(t, err)
	assert.Equal(t, 1, srv.StartCalls())
}
