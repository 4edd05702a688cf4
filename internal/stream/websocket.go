package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/ngalo-coder/simclient/internal/remote"
)

// WebSocketTransport opens exchanges over a WebSocket. The first client frame
// carries the Request; every server frame is one JSON event.
type WebSocketTransport struct {
	url    string
	client *http.Client
}

// NewWebSocketTransport creates a transport rooted at an http(s) baseURL.
func NewWebSocketTransport(baseURL string, client *http.Client) *WebSocketTransport {
	u := strings.TrimRight(baseURL, "/") + AskWSPath
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return &WebSocketTransport{url: u, client: client}
}

func (t *WebSocketTransport) Open(ctx context.Context, req Request, token string) (Channel, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := websocket.Dial(ctx, t.url, &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: header,
	})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 {
			var body []byte
			if resp.Body != nil {
				body, _ = io.ReadAll(io.LimitReader(resp.Body, 64<<10))
				_ = resp.Body.Close()
			}
			return nil, remote.NewStatusError(resp.StatusCode, body)
		}
		return nil, err
	}

	if err := wsjson.Write(ctx, conn, req); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "request not sent")
		return nil, fmt.Errorf("send request: %w", err)
	}
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

func (c *wsChannel) Next(ctx context.Context) (RawFrame, error) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return RawFrame{}, io.EOF
			}
			return RawFrame{}, err
		}
		if typ != websocket.MessageText {
			continue
		}
		return RawFrame{Data: data}, nil
	}
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close(websocket.StatusNormalClosure, "exchange finished")
	})
	return err
}
