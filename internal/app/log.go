package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// lineHandler is a slog.Handler that writes one tab-separated line per record:
//
//	<timestamp>\t<level>\t<command>\t<code>\t<request_id>\t<message>\t<key=value ...>
//
// The share code and the HTTP request ID are lifted out of the attributes
// into fixed columns ("-" when absent), so share.log can be cut by share or
// by request with plain text tools.
type lineHandler struct {
	out       *lineOutput
	command   string
	code      string
	requestID string
	attrs     []slog.Attr
}

// lineOutput is shared by a handler and every handler derived from it, so
// concurrent requests never interleave within a line.
type lineOutput struct {
	mu           sync.Mutex
	file         io.Writer
	console      io.Writer // may be nil
	level        slog.Level
	consoleLevel slog.Level
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.out.level
}

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	code, requestID := h.code, h.requestID
	attrs := append([]slog.Attr{}, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		if !liftAttr(a, &code, &requestID) {
			attrs = append(attrs, a)
		}
		return true
	})

	var b strings.Builder
	fmt.Fprintf(&b, "%s\t%s\t%s\t%s\t%s\t%s",
		r.Time.UTC().Format("2006-01-02T15:04:05Z"), r.Level, h.command, orDash(code), orDash(requestID), r.Message)
	for _, a := range attrs {
		fmt.Fprintf(&b, "\t%s=%s", a.Key, formatValue(a.Value))
	}
	b.WriteByte('\n')
	line := b.String()

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	if _, err := io.WriteString(h.out.file, line); err != nil {
		return err
	}
	if h.out.console != nil && r.Level >= h.out.consoleLevel {
		io.WriteString(h.out.console, line)
	}
	return nil
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &lineHandler{
		out:       h.out,
		command:   h.command,
		code:      h.code,
		requestID: h.requestID,
		attrs:     append([]slog.Attr{}, h.attrs...),
	}
	for _, a := range attrs {
		if !liftAttr(a, &next.code, &next.requestID) {
			next.attrs = append(next.attrs, a)
		}
	}
	return next
}

func (h *lineHandler) WithGroup(string) slog.Handler { return h }

// liftAttr stores the code and request_id attributes in their columns.
func liftAttr(a slog.Attr, code, requestID *string) bool {
	switch a.Key {
	case "code":
		*code = a.Value.Resolve().String()
	case "request_id":
		*requestID = a.Value.Resolve().String()
	default:
		return false
	}
	return true
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatValue quotes values that would break the line format.
func formatValue(v slog.Value) string {
	s := v.Resolve().String()
	if s == "" || strings.ContainsAny(s, " \t\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

// newLogger creates a logger appending to logDir/share.log. Records below
// level are dropped; records at consoleLevel or above are echoed to console.
// It returns the open log file for the caller to close.
func newLogger(logDir, command string, level, consoleLevel slog.Level, console io.Writer) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	logPath := filepath.Join(logDir, "share.log")
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	out := &lineOutput{file: f, console: console, level: level, consoleLevel: consoleLevel}
	return slog.New(&lineHandler{out: out, command: command}), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the share.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
