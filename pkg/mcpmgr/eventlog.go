package mcpmgr

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// SystemServerID tags log entries that are not about a specific server.
const SystemServerID = "system"

// Severity orders log entries from least to most important.
type Severity int

const (
	SeverityDebug Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityError
)

func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// ParseSeverity accepts debug, info, warn, warning, and error (any case).
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "debug":
		return SeverityDebug, nil
	case "info":
		return SeverityInfo, nil
	case "warn", "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	default:
		return 0, fmt.Errorf("mcpmgr: unknown severity %q", s)
	}
}

func (s Severity) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Severity) slogLevel() slog.Level {
	switch s {
	case SeverityDebug:
		return slog.LevelDebug
	case SeverityWarning:
		return slog.LevelWarn
	case SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LogEntry is one immutable event. Data carries an optional structured
// payload such as call arguments, results, or error details.
type LogEntry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	ServerID  string    `json:"serverId"`
	Severity  Severity  `json:"level"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// Filter selects log entries. The zero value matches everything.
type Filter struct {
	// ServerID restricts results to one server; empty matches all.
	ServerID string
	// MinSeverity drops entries below this severity.
	MinSeverity Severity
}

func (f Filter) match(e LogEntry) bool {
	if f.ServerID != "" && e.ServerID != f.ServerID {
		return false
	}
	return e.Severity >= f.MinSeverity
}

// EventLog is an append-only, time-ordered record of lifecycle and call
// events. Entries are never modified or removed.
type EventLog struct {
	mu      sync.RWMutex
	entries []LogEntry
	last    time.Time
	subs    map[*subscriber]struct{}
	logger  *slog.Logger
	now     func() time.Time
}

type subscriber struct {
	ch     chan LogEntry
	filter Filter
}

// NewEventLog returns an empty log mirroring every entry to logger. A nil
// logger disables mirroring.
func NewEventLog(logger *slog.Logger) *EventLog {
	return &EventLog{
		subs:   make(map[*subscriber]struct{}),
		logger: logger,
		now:    time.Now,
	}
}

// Append stamps entry with an ID and a timestamp that never goes backwards
// relative to earlier appends, adds it to the tail, and returns the stored
// copy.
func (l *EventLog) Append(entry LogEntry) LogEntry {
	l.mu.Lock()
	ts := l.now()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	entry.Timestamp = ts
	entry.ID = ulid.MustNew(ulid.Timestamp(ts), ulid.DefaultEntropy()).String()
	if entry.ServerID == "" {
		entry.ServerID = SystemServerID
	}
	l.entries = append(l.entries, entry)
	for sub := range l.subs {
		if !sub.filter.match(entry) {
			continue
		}
		select {
		case sub.ch <- entry:
		default:
		}
	}
	l.mu.Unlock()

	if l.logger != nil {
		attrs := []any{"server", entry.ServerID, "entry", entry.ID}
		if entry.Data != nil {
			attrs = append(attrs, "data", entry.Data)
		}
		l.logger.Log(context.Background(), entry.Severity.slogLevel(), entry.Message, attrs...)
	}
	return entry
}

// Record is a convenience wrapper around Append.
func (l *EventLog) Record(serverID string, severity Severity, message string, data any) LogEntry {
	return l.Append(LogEntry{ServerID: serverID, Severity: severity, Message: message, Data: data})
}

// Query returns the entries matching f in append order. The sequence is
// lazy and restartable; each iteration observes the entries present when it
// starts.
func (l *EventLog) Query(f Filter) iter.Seq[LogEntry] {
	return func(yield func(LogEntry) bool) {
		l.mu.RLock()
		snapshot := l.entries
		l.mu.RUnlock()
		for _, e := range snapshot {
			if !f.match(e) {
				continue
			}
			if !yield(e) {
				return
			}
		}
	}
}

// Entries collects Query(f) into a slice.
func (l *EventLog) Entries(f Filter) []LogEntry {
	var out []LogEntry
	for e := range l.Query(f) {
		out = append(out, e)
	}
	return out
}

// Len returns the number of entries appended so far.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe streams entries matching f that are appended after the call.
// Delivery is best effort: when the buffer is full the entry is dropped for
// that subscriber so appends never block. The channel is closed once ctx is
// done.
func (l *EventLog) Subscribe(ctx context.Context, f Filter, buffer int) <-chan LogEntry {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan LogEntry, buffer), filter: f}
	l.mu.Lock()
	l.subs[sub] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.subs, sub)
		close(sub.ch)
		l.mu.Unlock()
	}()
	return sub.ch
}
