package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
)

// StatusLog is the append-only, human-readable event log of one task.
type StatusLog struct {
	mu   sync.Mutex
	w    io.Writer
	c    io.Closer
	path string
}

// OpenStatusLog opens (creating if needed) <dir>/<id>.log for appending.
func OpenStatusLog(dir, id string) (*StatusLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "task: create log dir %s", dir)
	}
	path := filepath.Join(dir, id+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "task: open status log %s", path)
	}
	return &StatusLog{w: f, c: f, path: path}, nil
}

// NewStatusLog writes to w. Used for tests and for callers that only need
// the lines in memory.
func NewStatusLog(w io.Writer) *StatusLog {
	return &StatusLog{w: w}
}

// Printf appends one line. Write errors are dropped: the log is a
// best-effort observability sink.
func (l *StatusLog) Printf(format string, args ...any) {
	if l == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = io.WriteString(l.w, line)
}

// Path is the file backing the log, or "" when it is not file-backed.
func (l *StatusLog) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close closes the underlying file, if any.
func (l *StatusLog) Close() error {
	if l == nil || l.c == nil {
		return nil
	}
	return l.c.Close()
}
