package process

import "sync"

// DefaultHistorySize is how many output lines a handle remembers when
// Options.HistorySize is not set
const DefaultHistorySize = 200

// History is a fixed-size ring of the most recent output lines of a child
type History struct {
	mu    sync.RWMutex
	lines []string
	head  int
	count int
}

// NewHistory creates a history holding at most size lines
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{lines: make([]string, size)}
}

// Add appends a line, evicting the oldest one when full
func (h *History) Add(line string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lines[h.head] = line
	h.head = (h.head + 1) % len(h.lines)
	if h.count < len(h.lines) {
		h.count++
	}
}

// Lines returns the remembered lines, oldest first
func (h *History) Lines() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.count == 0 {
		return nil
	}
	result := make([]string, h.count)
	if h.count < len(h.lines) {
		copy(result, h.lines[:h.count])
	} else {
		// Full: head points at the oldest entry
		n := copy(result, h.lines[h.head:])
		copy(result[n:], h.lines[:h.head])
	}
	return result
}

// Len returns the number of remembered lines
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}
