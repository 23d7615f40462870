package logging

import (
	"strings"
	"sync"
)

// Tail keeps the most recent lines written to it. The builder feeds it the
// daemon's build output so a failing step can be reported with context.
type Tail struct {
	mu       sync.Mutex
	lines    []string
	maxSize  int
	position int // circular buffer position
	wrapped  bool
}

// NewTail creates a tail holding at most maxSize lines.
func NewTail(maxSize int) *Tail {
	if maxSize <= 0 {
		maxSize = 20
	}
	return &Tail{
		lines:   make([]string, maxSize),
		maxSize: maxSize,
	}
}

// Add appends one line per newline-separated segment of s. Blank lines are dropped.
func (t *Tail) Add(s string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, line := range strings.Split(s, "\n") {
		line = strings.TrimRight(line, "\r ")
		if strings.TrimSpace(line) == "" {
			continue
		}
		t.lines[t.position] = line
		t.position++
		if t.position >= t.maxSize {
			t.position = 0
			t.wrapped = true
		}
	}
}

// Lines returns the retained lines, oldest first.
func (t *Tail) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.wrapped {
		return append([]string(nil), t.lines[:t.position]...)
	}
	out := make([]string, 0, t.maxSize)
	out = append(out, t.lines[t.position:]...)
	return append(out, t.lines[:t.position]...)
}

// String joins the retained lines.
func (t *Tail) String() string {
	return strings.Join(t.Lines(), "\n")
}
