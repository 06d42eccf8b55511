package browser

import (
	"sync"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// ConsoleLog is a bounded, concurrency-safe buffer of console messages.
// Entries past the limit are counted but not kept.
type ConsoleLog struct {
	mu      sync.Mutex
	limit   int
	entries []model.ConsoleMessage
	dropped int
}

// NewConsoleLog creates a ConsoleLog holding at most limit entries.
// A non-positive limit keeps nothing.
func NewConsoleLog(limit int) *ConsoleLog {
	if limit < 0 {
		limit = 0
	}

	return &ConsoleLog{limit: limit}
}

// Add appends a message, or counts it as dropped once the log is full.
func (l *ConsoleLog) Add(msg model.ConsoleMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.entries) >= l.limit {
		l.dropped++
		return
	}

	l.entries = append(l.entries, msg)
}

// Drain returns the collected messages and the number of dropped ones,
// and resets the log.
func (l *ConsoleLog) Drain() ([]model.ConsoleMessage, int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, dropped := l.entries, l.dropped
	l.entries, l.dropped = nil, 0

	if entries == nil {
		entries = []model.ConsoleMessage{}
	}

	return entries, dropped
}
