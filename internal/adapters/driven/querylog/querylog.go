package querylog

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/custodia-labs/sercha-retrieval/internal/core/domain"
	"github.com/custodia-labs/sercha-retrieval/internal/core/ports/driven"
	"github.com/custodia-labs/sercha-retrieval/internal/logging"
)

// Verify interface compliance
var _ driven.QueryLog = (*Logger)(nil)

// Logger writes one JSON line per retrieval
type Logger struct {
	writer io.Writer
	closer io.Closer
	mu     sync.Mutex
}

// New creates a query log over w
func New(w io.Writer) *Logger {
	return &Logger{writer: w}
}

// NewFile appends to path and mirrors entries to stdout
func NewFile(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(filepath.Clean(path), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &Logger{writer: io.MultiWriter(os.Stdout, f), closer: f}, nil
}

// Record writes the entry. Missing timestamp and correlation id are filled in.
func (l *Logger) Record(ctx context.Context, entry domain.QueryLogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	if entry.CorrelationID == "" {
		entry.CorrelationID = logging.CorrelationID(ctx)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := json.NewEncoder(l.writer).Encode(entry); err != nil {
		slog.ErrorContext(ctx, "failed to write query log entry", "error", err)
	}
}

// Close closes the underlying file, if any
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}
