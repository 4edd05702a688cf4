package diagnostics

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

var (
	unsafePathChars = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	ansiSequence    = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
)

// FileConfig controls NDJSON failure logging.
type FileConfig struct {
	Enabled   bool
	Dir       string
	QueueSize int
}

// FileSink appends records as NDJSON, one file per case and session.
// Writes happen on a background goroutine; a full queue drops the record.
type FileSink struct {
	dir    string
	queue  chan Record
	logger *slog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewFileSink starts the writer goroutine. A disabled config returns a sink that
// drops everything.
func NewFileSink(cfg FileConfig, logger *slog.Logger) (*FileSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Enabled {
		return &FileSink{logger: logger, closed: true}, nil
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("diagnostics dir cannot be empty")
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create diagnostics dir: %w", err)
	}

	s := &FileSink{
		dir:    cfg.Dir,
		queue:  make(chan Record, cfg.QueueSize),
		logger: logger,
	}
	s.wg.Add(1)
	go s.run()
	return s, nil
}

func (s *FileSink) Report(_ context.Context, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	rec.Raw = cleanForReadability(rec.Raw)
	select {
	case s.queue <- rec:
	default:
		s.logger.Warn("diagnostics queue full, dropping record", "case_id", rec.CaseID, "kind", rec.Kind)
	}
}

// Path returns the file a record for caseID/sessionID is written to.
func (s *FileSink) Path(caseID, sessionID string) string {
	if sessionID == "" {
		sessionID = "pending"
	}
	return filepath.Join(s.dir, safeName(caseID), safeName(sessionID)+".ndjson")
}

// Close flushes queued records and stops the writer.
func (s *FileSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	return nil
}

func (s *FileSink) run() {
	defer s.wg.Done()
	for rec := range s.queue {
		if err := s.write(rec); err != nil {
			s.logger.Warn("failed to write diagnostics record", "error", err, "case_id", rec.CaseID)
		}
	}
}

func (s *FileSink) write(rec Record) error {
	path := s.Path(rec.CaseID, rec.SessionID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open record file: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		_ = f.Close()
		return fmt.Errorf("append record: %w", err)
	}
	return f.Close()
}

func safeName(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "unknown"
	}
	return unsafePathChars.ReplaceAllString(s, "_")
}

func cleanForReadability(s string) string {
	s = ansiSequence.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s))
}

var _ Sink = (*FileSink)(nil)
