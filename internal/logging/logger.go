package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Format selects how log lines are rendered.
type Format string

const (
	// FormatText renders human readable lines with an optional color prefix.
	FormatText Format = "text"

	// FormatJSON renders one JSON object per line, which CloudWatch Logs
	// indexes field by field.
	FormatJSON Format = "json"
)

// Logger provides leveled logging with redaction support
type Logger struct {
	debug   bool
	noColor bool
	format  Format
	fields  map[string]string

	mu  *sync.Mutex
	out io.Writer
	now func() time.Time
}

// New creates a new text logger writing to stderr
func New(debug, noColor bool) *Logger {
	return &Logger{
		debug:   debug,
		noColor: noColor,
		format:  FormatText,
		mu:      &sync.Mutex{},
		out:     os.Stderr,
		now:     time.Now,
	}
}

// NewJSON creates a logger that writes JSON lines to w
func NewJSON(w io.Writer, debug bool) *Logger {
	l := New(debug, true)
	l.format = FormatJSON
	l.out = w
	return l
}

// SetOutput redirects the logger, mainly for tests
func (l *Logger) SetOutput(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = w
}

// With returns a logger that adds key=value to every line. The returned
// logger shares the output of its parent.
func (l *Logger) With(key, value string) *Logger {
	child := *l
	child.fields = make(map[string]string, len(l.fields)+1)
	for k, v := range l.fields {
		child.fields[k] = v
	}
	child.fields[key] = value
	return &child
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.write("info", "\033[32m✓\033[0m ", "✓ ", format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.write("warn", "\033[33m⚠\033[0m ", "⚠ ", format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.write("error", "\033[31m✗\033[0m ", "✗ ", format, args...)
}

// Debug logs a debug message if debug mode is enabled
func (l *Logger) Debug(format string, args ...interface{}) {
	if !l.debug {
		return
	}
	l.write("debug", "\033[36m[DEBUG]\033[0m ", "[DEBUG] ", format, args...)
}

func (l *Logger) write(level, colorPrefix, plainPrefix, format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.format == FormatJSON {
		entry := map[string]string{
			"time":  l.now().UTC().Format(time.RFC3339Nano),
			"level": level,
			"msg":   msg,
		}
		for k, v := range l.fields {
			entry[k] = v
		}
		data, err := json.Marshal(entry)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(l.out, "%s\n", data)
		return
	}

	prefix := colorPrefix
	if l.noColor {
		prefix = plainPrefix
	}
	_, _ = fmt.Fprintf(l.out, "%s%s%s\n", prefix, msg, l.formatFields())
}

func (l *Logger) formatFields() string {
	if len(l.fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(l.fields))
	for k := range l.fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, l.fields[k])
	}
	return b.String()
}

// Secret represents a value that should be redacted in logs
type Secret string

// String implements the Stringer interface, always returning a redacted value
func (s Secret) String() string {
	return "[REDACTED]"
}

// GoString implements the GoStringer interface for %#v formatting
func (s Secret) GoString() string {
	return "[REDACTED]"
}

// MarshalJSON keeps secrets out of JSON log lines and journal entries
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"[REDACTED]"`), nil
}

// Redact replaces sensitive values in a string with [REDACTED]
func Redact(s string, secrets []string) string {
	result := s
	for _, secret := range secrets {
		if secret != "" && len(secret) > 3 { // Only redact non-trivial secrets
			result = strings.ReplaceAll(result, secret, "[REDACTED]")
		}
	}
	return result
}
