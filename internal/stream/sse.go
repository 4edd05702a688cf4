package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ngalo-coder/simclient/internal/remote"
)

// SSETransport opens exchanges as text/event-stream GET requests.
type SSETransport struct {
	baseURL string
	client  *http.Client
}

// NewSSETransport creates a transport rooted at baseURL. client may be nil.
// The client must not set a Timeout; the consumer bounds each exchange itself.
func NewSSETransport(baseURL string, client *http.Client) *SSETransport {
	if client == nil {
		client = &http.Client{}
	}
	return &SSETransport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *SSETransport) Open(ctx context.Context, req Request, token string) (Channel, error) {
	q := url.Values{}
	q.Set("sessionId", req.SessionID)
	q.Set("utterance", req.Utterance)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+AskPath+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		_ = resp.Body.Close()
		return nil, remote.NewStatusError(resp.StatusCode, body)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type: %q", ct)
	}

	return &sseChannel{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

type sseChannel struct {
	body   io.ReadCloser
	reader *bufio.Reader

	closeOnce sync.Once
	closeErr  error
}

// Next reads lines until a blank line completes an event. Comment lines are
// heartbeats and are skipped. Multiple data lines are joined with newlines.
func (c *sseChannel) Next(ctx context.Context) (RawFrame, error) {
	var (
		event string
		data  strings.Builder
		lines int
	)
	for {
		if err := ctx.Err(); err != nil {
			return RawFrame{}, err
		}

		line, err := c.reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && lines > 0 {
				return RawFrame{Event: event, Data: []byte(data.String())}, nil
			}
			return RawFrame{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if lines > 0 {
				return RawFrame{Event: event, Data: []byte(data.String())}, nil
			}
			event = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if lines > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
			lines++
		}
	}
}

func (c *sseChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.body.Close()
	})
	return c.closeErr
}
