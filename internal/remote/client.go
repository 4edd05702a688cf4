// Package remote talks to the simulation service's start and end endpoints.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/ngalo-coder/simclient/internal/domain"
)

const (
	StartPath = "/simulation/start"
	EndPath   = "/simulation/end"

	userAgent = "simclient/1.0"
)

// ErrMissingCredential means no bearer token is stored.
var ErrMissingCredential = errors.New("no credential stored")

// TokenSource supplies the bearer token. An empty token means none is stored.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource that always returns itself.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) { return string(t), nil }

// Config configures a Client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	RateLimitRPS float64
	EndRetries   int
	EndRetryWait time.Duration
	Logger       *slog.Logger
}

// StartResult is the decoded start response.
type StartResult struct {
	SessionID        string
	CounterpartName  string
	InitialUtterance string
}

// EndResult is the decoded end response.
type EndResult struct {
	Evaluation *domain.Evaluation
}

// Client performs the start and end calls.
type Client struct {
	resty   *resty.Client
	end     *retryablehttp.Client
	limiter *rate.Limiter
	tokens  TokenSource
	baseURL string
	logger  *slog.Logger
}

// NewClient builds a client. Start is sent exactly once per call; End is
// idempotent and retried on transient failures.
func NewClient(cfg Config, tokens TokenSource) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EndRetries < 0 {
		cfg.EndRetries = 0
	}
	if cfg.EndRetryWait <= 0 {
		cfg.EndRetryWait = 250 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	base := strings.TrimRight(cfg.BaseURL, "/")

	endClient := retryablehttp.NewClient()
	endClient.RetryMax = cfg.EndRetries
	endClient.RetryWaitMin = cfg.EndRetryWait
	endClient.RetryWaitMax = 4 * cfg.EndRetryWait
	endClient.HTTPClient.Timeout = cfg.Timeout
	endClient.Logger = nil
	endClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	restyClient := resty.New().
		SetBaseURL(base).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "application/json")
	restyClient.SetTransport(endClient.HTTPClient.Transport)

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RateLimitRPS > 0 {
		burst := int(cfg.RateLimitRPS)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}

	return &Client{
		resty:   restyClient,
		end:     endClient,
		limiter: limiter,
		tokens:  tokens,
		baseURL: base,
		logger:  cfg.Logger,
	}
}

// token returns the stored bearer token. A missing token is an Auth-kind
// failure that never reaches the network.
func (c *Client) token(ctx context.Context) (string, error) {
	if c.tokens == nil {
		return "", domain.NewErrorState(domain.KindAuth, ErrMissingCredential)
	}
	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("read credential: %w", err)
	}
	if strings.TrimSpace(tok) == "" {
		return "", domain.NewErrorState(domain.KindAuth, ErrMissingCredential)
	}
	return tok, nil
}

// Start asks the service to create a session for caseID.
func (c *Client) Start(ctx context.Context, caseID string) (StartResult, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return StartResult{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return StartResult{}, fmt.Errorf("start: %w", err)
	}

	resp, err := c.resty.R().
		SetContext(ctx).
		SetAuthToken(tok).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"caseId": caseID}).
		Post(StartPath)
	if err != nil {
		return StartResult{}, fmt.Errorf("start: %w", err)
	}
	if resp.IsError() {
		return StartResult{}, fmt.Errorf("start: %w", NewStatusError(resp.StatusCode(), resp.Body()))
	}

	res, err := decodeStart(resp.Body())
	if err != nil {
		return StartResult{}, fmt.Errorf("start: %w", err)
	}
	c.logger.Debug("Session started", "case_id", caseID, "session_id", res.SessionID)
	return res, nil
}

// End tells the service the session is over and returns its evaluation.
func (c *Client) End(ctx context.Context, sessionID string) (EndResult, error) {
	tok, err := c.token(ctx)
	if err != nil {
		return EndResult{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return EndResult{}, fmt.Errorf("end: %w", err)
	}

	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return EndResult{}, fmt.Errorf("end: marshal: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+EndPath, bytes.NewReader(body))
	if err != nil {
		return EndResult{}, fmt.Errorf("end: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.end.Do(req)
	if err != nil {
		return EndResult{}, fmt.Errorf("end: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return EndResult{}, fmt.Errorf("end: read body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return EndResult{}, fmt.Errorf("end: %w", NewStatusError(resp.StatusCode, data))
	}
	return EndResult{Evaluation: decodeEvaluation(data)}, nil
}
