package tinkerpen

import (
	"fmt"
	"strings"
	"sync"
)

// Level is the severity of a captured console call.
type Level string

const (
	LevelLog   Level = "log"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// ParseLevel maps a guest-supplied level name to a Level.
// Anything other than warn or error is treated as log.
func ParseLevel(name string) Level {
	switch Level(strings.ToLower(name)) {
	case LevelWarn:
		return LevelWarn
	case LevelError:
		return LevelError
	default:
		return LevelLog
	}
}

// ConsoleEntry is one captured console call.
//
// Message holds every argument converted to a string and joined with a
// single space. Structured values lose their shape: an object argument
// arrives as its default string form, not a pretty-printed structure.
type ConsoleEntry struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// FormatArgs joins console arguments the way the bridge does.
func FormatArgs(args []any) string {
	parts := make([]string, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case string:
			parts[i] = v
		case nil:
			parts[i] = "null"
		default:
			parts[i] = fmt.Sprint(v)
		}
	}
	return strings.Join(parts, " ")
}

// ConsoleLog is the append-only log of a single run. It is cleared when the
// next run starts; there is no history across runs.
type ConsoleLog struct {
	mu          sync.RWMutex
	entries     []ConsoleEntry
	max         int
	subscribers []func(ConsoleEntry)
}

// NewConsoleLog creates a log that keeps at most max entries (0 = unlimited).
// When full, the oldest entries are dropped.
func NewConsoleLog(max int) *ConsoleLog {
	return &ConsoleLog{max: max}
}

// Append records an entry and notifies subscribers.
func (l *ConsoleLog) Append(entry ConsoleEntry) {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if l.max > 0 && len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
	subs := l.subscribers
	l.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}

// Clear empties the log.
func (l *ConsoleLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Entries returns a copy of the log in emission order.
func (l *ConsoleLog) Entries() []ConsoleEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]ConsoleEntry(nil), l.entries...)
}

// Len returns the number of entries.
func (l *ConsoleLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Subscribe registers fn to be called for every appended entry.
func (l *ConsoleLog) Subscribe(fn func(ConsoleEntry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	// copy-on-write so Append can iterate without the lock
	subs := make([]func(ConsoleEntry), len(l.subscribers), len(l.subscribers)+1)
	copy(subs, l.subscribers)
	l.subscribers = append(subs, fn)
}
