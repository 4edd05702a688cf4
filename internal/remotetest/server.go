// Package remotetest provides a scripted fake of the simulation service for tests.
package remotetest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/go-chi/chi/v5"

	"github.com/ngalo-coder/simclient/internal/remote"
	"github.com/ngalo-coder/simclient/internal/stream"
)

// Reply scripts one start or end response.
type Reply struct {
	Status int
	Body   any
	// Wait, when set, blocks the handler until it is closed or the request ends.
	Wait <-chan struct{}
}

// Frame is one event sent on an exchange channel.
type Frame struct {
	Event string
	Data  any
	Delay time.Duration
}

// Exchange scripts one exchange channel.
type Exchange struct {
	// Status rejects the exchange before any frame when non-zero.
	Status int
	Body   any
	Frames []Frame
	// Hang keeps the channel open after the frames until the client leaves.
	Hang bool
}

// Server is a fake simulation service. Scripted replies are consumed in order;
// the last one repeats.
type Server struct {
	srv *httptest.Server

	// Token, when non-empty, is the only bearer token accepted.
	Token string

	mu        sync.Mutex
	starts    []Reply
	ends      []Reply
	exchanges []Exchange
	asks      []stream.Request
	startReqs []string

	// Calls count every arrival, rejected ones included. The served
	// counters index the scripts.
	startCalls  atomic.Int32
	endCalls    atomic.Int32
	askCalls    atomic.Int32
	startServed atomic.Int32
	endServed   atomic.Int32
	askServed   atomic.Int32
	openStreams atomic.Int32
}

// NewServer starts a server with default scripts: start succeeds with session
// "S-1", end returns a short evaluation, and every exchange says "Hello".
func NewServer() *Server {
	s := &Server{
		starts:    []Reply{{Status: http.StatusOK, Body: map[string]any{"sessionId": "S-1", "counterpartName": "Jane", "initialUtterance": "Hi doctor"}}},
		ends:      []Reply{{Status: http.StatusOK, Body: map[string]any{"evaluation": "Well done"}}},
		exchanges: []Exchange{{Frames: []Frame{Chunk("Hello", ""), Done()}}},
	}

	r := chi.NewRouter()
	r.Use(s.auth)
	r.Post(remote.StartPath, s.handleStart)
	r.Post(remote.EndPath, s.handleEnd)
	r.Get(stream.AskPath, s.handleAskSSE)
	r.Get(stream.AskWSPath, s.handleAskWS)

	s.srv = httptest.NewServer(r)
	return s
}

// URL returns the base URL.
func (s *Server) URL() string { return s.srv.URL }

// Close drops open connections and shuts the server down.
func (s *Server) Close() {
	s.srv.CloseClientConnections()
	s.srv.Close()
}

// OnStart replaces the start script.
func (s *Server) OnStart(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts = replies
}

// OnEnd replaces the end script.
func (s *Server) OnEnd(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ends = replies
}

// OnAsk replaces the exchange script.
func (s *Server) OnAsk(exchanges ...Exchange) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exchanges = exchanges
}

// StartCalls returns how many start requests arrived.
func (s *Server) StartCalls() int { return int(s.startCalls.Load()) }

// EndCalls returns how many end requests arrived.
func (s *Server) EndCalls() int { return int(s.endCalls.Load()) }

// AskCalls returns how many exchanges were opened.
func (s *Server) AskCalls() int { return int(s.askCalls.Load()) }

// OpenStreams returns how many exchange channels are still being served.
func (s *Server) OpenStreams() int { return int(s.openStreams.Load()) }

// Asks returns the exchange requests received so far.
func (s *Server) Asks() []stream.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]stream.Request(nil), s.asks...)
}

// StartedCases returns the case ids received by start.
func (s *Server) StartedCases() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.startReqs...)
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case remote.StartPath:
			s.startCalls.Add(1)
		case remote.EndPath:
			s.endCalls.Add(1)
		case stream.AskPath, stream.AskWSPath:
			s.askCalls.Add(1)
		}
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": "session expired"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func pick[T any](mu *sync.Mutex, script *[]T, n int32) T {
	mu.Lock()
	defer mu.Unlock()
	items := *script
	var zero T
	if len(items) == 0 {
		return zero
	}
	i := int(n) - 1
	if i >= len(items) {
		i = len(items) - 1
	}
	return items[i]
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	n := s.startServed.Add(1)

	var body struct {
		CaseID string `json:"caseId"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	s.mu.Lock()
	s.startReqs = append(s.startReqs, body.CaseID)
	s.mu.Unlock()

	s.reply(w, r, pick(&s.mu, &s.starts, n))
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	n := s.endServed.Add(1)
	s.reply(w, r, pick(&s.mu, &s.ends, n))
}

func (s *Server) reply(w http.ResponseWriter, r *http.Request, rep Reply) {
	if rep.Wait != nil {
		select {
		case <-rep.Wait:
		case <-r.Context().Done():
			return
		}
	}
	status := rep.Status
	if status == 0 {
		status = http.StatusOK
	}
	writeJSON(w, status, rep.Body)
}

func (s *Server) nextExchange() Exchange {
	return pick(&s.mu, &s.exchanges, s.askServed.Add(1))
}

func (s *Server) recordAsk(req stream.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.asks = append(s.asks, req)
}

func (s *Server) handleAskSSE(w http.ResponseWriter, r *http.Request) {
	ex := s.nextExchange()
	s.recordAsk(stream.Request{
		SessionID: r.URL.Query().Get("sessionId"),
		Utterance: r.URL.Query().Get("utterance"),
	})
	if ex.Status != 0 {
		writeJSON(w, ex.Status, ex.Body)
		return
	}

	s.openStreams.Add(1)
	defer s.openStreams.Add(-1)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	for _, f := range ex.Frames {
		if !sleep(ctx, f.Delay) {
			return
		}
		if err := writeSSE(w, f.Event, encode(f.Data)); err != nil {
			return
		}
		flusher.Flush()
	}
	if ex.Hang {
		<-ctx.Done()
	}
}

func (s *Server) handleAskWS(w http.ResponseWriter, r *http.Request) {
	ex := s.nextExchange()
	if ex.Status != 0 {
		writeJSON(w, ex.Status, ex.Body)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		slog.Debug("Failed to accept WebSocket", "error", err)
		return
	}
	defer ws.CloseNow()

	s.openStreams.Add(1)
	defer s.openStreams.Add(-1)

	ctx := r.Context()
	var req stream.Request
	if err := wsjson.Read(ctx, ws, &req); err != nil {
		return
	}
	s.recordAsk(req)

	terminal := false
	for _, f := range ex.Frames {
		if !sleep(ctx, f.Delay) {
			return
		}
		if err := ws.Write(ctx, websocket.MessageText, []byte(encode(f.Data))); err != nil {
			return
		}
		if t, ok := f.Data.(map[string]any); ok {
			if typ, _ := t["type"].(string); stream.EventType(typ).Terminal() {
				terminal = true
			}
		}
	}
	switch {
	case ex.Hang:
		// Read until the client closes.
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	case terminal:
		_ = ws.Close(websocket.StatusNormalClosure, "exchange finished")
	}
}

func writeSSE(w io.Writer, event, data string) error {
	var b strings.Builder
	if event != "" {
		fmt.Fprintf(&b, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if s, ok := v.(string); ok {
		_, _ = io.WriteString(w, s)
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func encode(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Chunk builds a chunk frame. speaker is omitted when empty.
func Chunk(content, speaker string) Frame {
	data := map[string]any{"type": "chunk", "content": content}
	if speaker != "" {
		data["speaks_for"] = speaker
	}
	return Frame{Data: data}
}

// Done builds a done frame.
func Done() Frame {
	return Frame{Data: map[string]any{"type": "done"}}
}

// SessionEnd builds a session_end frame. summary is omitted when empty.
func SessionEnd(summary string) Frame {
	data := map[string]any{"type": "session_end"}
	if summary != "" {
		data["summary"] = summary
	}
	return Frame{Data: data}
}

// Error builds an error frame.
func Error(message, code string) Frame {
	data := map[string]any{"type": "error", "message": message}
	if code != "" {
		data["code"] = code
	}
	return Frame{Data: data}
}
