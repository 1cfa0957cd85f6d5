// Package runlog implements the flat-file run log: an append-only,
// pipe-delimited line format consumed by log-tailing clients. The format
// is a persisted artifact and must stay bit-compatible:
//
//	timestamp | run=<id|-> | node=<id|-> | title="<text|->" | lvl=<LEVEL> | msg=<text>[ | details=<json>]
package runlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Levels written by the engine and plugin handlers.
const (
	LevelDebug = "DEBUG"
	LevelInfo  = "INFO"
	LevelWarn  = "WARN"
	LevelError = "ERROR"
)

const timestampLayout = "2006-01-02 15:04:05.000"

// Tags carries the run/node identity attached to a log line. Empty fields
// render as "-" so every line has the same field count.
type Tags struct {
	RunID     string
	NodeID    string
	NodeTitle string
	Details   map[string]any
}

// Logger appends pipe-delimited lines to a single log file. Writes are
// mutex-guarded; write failures are swallowed so logging can never fail
// a run.
type Logger struct {
	path string

	mu sync.Mutex
	f  *os.File

	// now is replaceable for tests.
	now func() time.Time
}

// Open creates (if needed) and opens the log file for appending.
func Open(path string) (*Logger, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644) // #nosec G304 -- path from caller
	if err != nil {
		return nil, err
	}
	return &Logger{path: path, f: f, now: time.Now}, nil
}

// Close releases the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Path returns the log file location.
func (l *Logger) Path() string {
	return l.path
}

// Write appends one formatted line at the given level.
func (l *Logger) Write(level, message string, tags Tags) {
	var b strings.Builder
	b.WriteString(l.timestamp())
	b.WriteString(" | run=")
	b.WriteString(orDash(tags.RunID))
	b.WriteString(" | node=")
	b.WriteString(orDash(tags.NodeID))
	b.WriteString(` | title="`)
	b.WriteString(orDash(tags.NodeTitle))
	b.WriteString(`" | lvl=`)
	b.WriteString(level)
	b.WriteString(" | msg=")
	b.WriteString(escapeMessage(message))

	if len(tags.Details) > 0 {
		if detailsJSON, err := json.Marshal(tags.Details); err == nil {
			b.WriteString(" | details=")
			b.Write(detailsJSON)
		}
	}
	b.WriteByte('\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return
	}
	_, _ = l.f.WriteString(b.String())
}

// Debug appends a DEBUG line.
func (l *Logger) Debug(message string, tags Tags) { l.Write(LevelDebug, message, tags) }

// Info appends an INFO line.
func (l *Logger) Info(message string, tags Tags) { l.Write(LevelInfo, message, tags) }

// Warn appends a WARN line.
func (l *Logger) Warn(message string, tags Tags) { l.Write(LevelWarn, message, tags) }

// Error appends an ERROR line.
func (l *Logger) Error(message string, tags Tags) { l.Write(LevelError, message, tags) }

// Tail returns the last n lines of the log file, optionally filtered by an
// exact "lvl=<LEVEL>" substring match. Missing files yield an empty slice.
func (l *Logger) Tail(n int, level string) ([]string, error) {
	return TailFile(l.path, n, level)
}

// TailFile reads the last n lines of a log file without holding a Logger.
func TailFile(path string, n int, level string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path from caller
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}
	defer f.Close()

	var lines []string
	filter := ""
	if level != "" {
		filter = "lvl=" + level
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if filter != "" && !strings.Contains(line, filter) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	if lines == nil {
		lines = []string{}
	}
	return lines, nil
}

func (l *Logger) timestamp() string {
	return l.now().Format(timestampLayout)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// escapeMessage keeps every entry on one physical line.
func escapeMessage(s string) string {
	s = strings.ReplaceAll(s, "\n", `\n`)
	return strings.ReplaceAll(s, "\r", `\r`)
}
