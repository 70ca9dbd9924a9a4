package daemon

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// ANSI escape codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiRed    = "\033[31m"
	ansiYellow = "\033[33m"
	ansiGray   = "\033[90m"
)

// defaultRingSize is how many entries the daemon keeps for /api/logs.
const defaultRingSize = 500

// LogEntry is one captured log line.
type LogEntry struct {
	Time    time.Time
	Level   slog.Level
	Message string
}

// LogHandler is a slog.Handler that prints to the given writer (with ANSI
// color when it is a terminal), keeps the most recent entries in a ring
// buffer for the dashboard, and fans new entries out to SSE subscribers.
type LogHandler struct {
	core  *logCore
	attrs []slog.Attr
}

// logCore is shared by every handler derived via WithAttrs, so the ring
// buffer and subscriber set stay global to the process.
type logCore struct {
	out   io.Writer
	level slog.Level
	color bool

	mu      sync.Mutex
	entries []LogEntry
	maxSize int

	subMu sync.Mutex
	subs  map[chan LogEntry]struct{}
}

// NewLogHandler creates a handler buffering up to maxSize entries.
// maxSize <= 0 uses the default.
func NewLogHandler(out io.Writer, level slog.Level, maxSize int) *LogHandler {
	if maxSize <= 0 {
		maxSize = defaultRingSize
	}
	color := false
	if f, ok := out.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &LogHandler{core: &logCore{
		out:     out,
		level:   level,
		color:   color,
		entries: make([]LogEntry, 0, maxSize),
		maxSize: maxSize,
		subs:    make(map[chan LogEntry]struct{}),
	}}
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.core.level
}

func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})

	entry := LogEntry{Time: r.Time, Level: r.Level, Message: b.String()}
	if entry.Time.IsZero() {
		entry.Time = time.Now()
	}
	h.core.store(entry)
	h.core.print(entry)
	h.core.notify(entry)
	return nil
}

// WithAttrs returns a derived handler sharing the ring buffer and
// subscriber set.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &LogHandler{core: h.core, attrs: merged}
}

// WithGroup flattens groups; the dashboard shows plain key=value pairs.
func (h *LogHandler) WithGroup(string) slog.Handler { return h }

func (c *logCore) store(e LogEntry) {
	c.mu.Lock()
	if len(c.entries) >= c.maxSize {
		c.entries = c.entries[1:]
	}
	c.entries = append(c.entries, e)
	c.mu.Unlock()
}

func (c *logCore) print(e LogEntry) {
	ts := e.Time.Format("15:04:05")
	if !c.color {
		fmt.Fprintf(c.out, "%s %s %s\n", ts, e.Level.String(), e.Message)
		return
	}
	msg := e.Message
	switch {
	case e.Level >= slog.LevelError:
		msg = ansiBold + ansiRed + msg + ansiReset
	case e.Level >= slog.LevelWarn:
		msg = ansiYellow + msg + ansiReset
	case e.Level < slog.LevelInfo:
		msg = ansiDim + msg + ansiReset
	}
	fmt.Fprintf(c.out, "%s %s\n", ansiGray+ts+ansiReset, msg)
}

// notify pushes the entry to every subscriber without blocking; slow
// subscribers drop entries.
func (c *logCore) notify(e LogEntry) {
	c.subMu.Lock()
	for ch := range c.subs {
		select {
		case ch <- e:
		default:
		}
	}
	c.subMu.Unlock()
}

// Entries returns a copy of the buffered entries, oldest first.
func (h *LogHandler) Entries() []LogEntry {
	h.core.mu.Lock()
	defer h.core.mu.Unlock()
	cp := make([]LogEntry, len(h.core.entries))
	copy(cp, h.core.entries)
	return cp
}

// Subscribe returns a channel that receives every new entry in real time.
func (h *LogHandler) Subscribe() chan LogEntry {
	ch := make(chan LogEntry, 64)
	h.core.subMu.Lock()
	h.core.subs[ch] = struct{}{}
	h.core.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *LogHandler) Unsubscribe(ch chan LogEntry) {
	h.core.subMu.Lock()
	delete(h.core.subs, ch)
	h.core.subMu.Unlock()
	close(ch)
}
