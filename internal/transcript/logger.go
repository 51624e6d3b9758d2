// Package transcript writes every chat turn to NDJSON files for later
// review, off the request path.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/qiming/internal/flow"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is one transcript line.
type Entry struct {
	Timestamp   time.Time `json:"ts"`
	WorkspaceID string    `json:"workspace_id"`
	SessionID   string    `json:"session_id"`
	MessageID   string    `json:"message_id"`
	Speaker     string    `json:"speaker"`
	CardKind    string    `json:"card_kind,omitempty"`
	Text        string    `json:"text"`
}

// Logger accepts entries without blocking the caller.
type Logger interface {
	Log(e Entry)
	Close() error
}

// Config controls where transcripts go.
type Config struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
	MaxSizeMB     int
}

type noopLogger struct{}

func (noopLogger) Log(Entry)    {}
func (noopLogger) Close() error { return nil }

// Noop returns a Logger that discards everything.
func Noop() Logger { return noopLogger{} }

// FileLogger writes one file per session under Dir/<workspace>/<session>.ndjson
// and optionally mirrors every line into a size-rotated global file.
type FileLogger struct {
	dir     string
	global  io.WriteCloser
	queue   chan Entry
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	dropped atomic.Int64

	mu     sync.Mutex
	closed bool
}

// New builds a Logger from cfg. A disabled config yields a no-op logger.
func New(cfg Config, logger *slog.Logger) (Logger, error) {
	if !cfg.Enabled {
		return Noop(), nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Dir == "" {
		return nil, errors.New("transcript log dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}

	l := &FileLogger{
		dir:    cfg.Dir,
		queue:  make(chan Entry, cfg.QueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}
	if cfg.GlobalEnabled && cfg.GlobalPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.GlobalPath), 0o755); err != nil {
			return nil, fmt.Errorf("create global transcript dir: %w", err)
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 50
		}
		l.global = &lumberjack.Logger{
			Filename:   cfg.GlobalPath,
			MaxSize:    maxSize,
			MaxBackups: 5,
			MaxAge:     30,
		}
	}

	l.wg.Add(1)
	go l.process()
	logger.Info("Transcript logger started", "dir", cfg.Dir, "global", l.global != nil, "queue_size", cfg.QueueSize)
	return l, nil
}

// Log queues e. When the queue is full the oldest entry is dropped.
func (l *FileLogger) Log(e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	select {
	case l.queue <- e:
		return
	default:
	}

	select {
	case <-l.queue:
		l.dropped.Add(1)
		l.logger.Warn("Transcript queue full, dropped oldest entry",
			"session_id", e.SessionID,
			"dropped_total", l.dropped.Load(),
		)
	default:
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
	}
}

// Dropped reports how many entries were discarded because the queue was full.
func (l *FileLogger) Dropped() int64 {
	return l.dropped.Load()
}

func (l *FileLogger) process() {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.queue:
			l.write(e)
		case <-l.done:
			for {
				select {
				case e := <-l.queue:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *FileLogger) write(e Entry) {
	line, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("Failed to encode transcript entry", "error", err)
		return
	}
	line = append(line, '\n')

	path := filepath.Join(l.dir, safeComponent(e.WorkspaceID), safeComponent(e.SessionID)+".ndjson")
	if err := appendFile(path, line); err != nil {
		l.logger.Error("Failed to write transcript",
			"session_id", e.SessionID,
			"path", path,
			"error", err,
		)
	}
	if l.global != nil {
		if _, err := l.global.Write(line); err != nil {
			l.logger.Error("Failed to write global transcript", "error", err)
		}
	}
}

func appendFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// Close flushes queued entries and stops the writer.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	close(l.done)
	l.wg.Wait()

	if l.global != nil {
		if err := l.global.Close(); err != nil {
			return fmt.Errorf("close global transcript: %w", err)
		}
	}
	l.logger.Info("Transcript logger stopped", "dropped", l.dropped.Load())
	return nil
}

// safeComponent maps an id onto a single path element.
func safeComponent(s string) string {
	if s == "" {
		return "_"
	}
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Listener returns a flow listener that records every appended message.
func Listener(l Logger) flow.Listener {
	return func(e flow.Event) {
		if e.Kind != flow.EventMessage || e.Message == nil {
			return
		}
		m := e.Message
		entry := Entry{
			Timestamp:   m.CreatedAt,
			WorkspaceID: e.WorkspaceID,
			SessionID:   e.SessionID,
			MessageID:   m.ID,
			Speaker:     string(m.Speaker),
			Text:        m.Text,
		}
		if m.Card != nil {
			entry.CardKind = string(m.Card.Kind())
		}
		l.Log(entry)
	}
}
