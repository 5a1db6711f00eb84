// Package buffer keeps the most recent shell output of a session.
package buffer

import (
	"regexp"
	"strings"
	"sync"
	"unicode"
)

// DefaultCapacity is enough for several screens of output.
const DefaultCapacity = 16 * 1024

// Tail is a thread-safe circular buffer holding the last capacity bytes
// written to it.
type Tail struct {
	mu    sync.RWMutex
	buf   []byte
	start int // index of the oldest byte
	size  int
}

// NewTail creates a Tail with the given capacity. Non-positive capacities
// default to 1.
func NewTail(capacity int) *Tail {
	if capacity <= 0 {
		capacity = 1
	}
	return &Tail{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes when full. It never fails.
func (t *Tail) Write(p []byte) (int, error) {
	n := len(p)
	if n == 0 {
		return 0, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	c := len(t.buf)
	if n >= c {
		copy(t.buf, p[n-c:])
		t.start, t.size = 0, c
		return n, nil
	}

	end := (t.start + t.size) % c
	first := copy(t.buf[end:], p)
	copy(t.buf, p[first:])

	t.size += n
	if t.size > c {
		t.start = (t.start + t.size - c) % c
		t.size = c
	}
	return n, nil
}

// Bytes returns a copy of the buffered data, oldest first.
func (t *Tail) Bytes() []byte {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if t.size == 0 {
		return nil
	}
	out := make([]byte, t.size)
	n := copy(out, t.buf[t.start:min(t.start+t.size, len(t.buf))])
	copy(out[n:], t.buf[:t.size-n])
	return out
}

// Reset discards all data.
func (t *Tail) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.start, t.size = 0, 0
}

// Len returns the number of buffered bytes.
func (t *Tail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Cap returns the capacity.
func (t *Tail) Cap() int {
	return len(t.buf)
}

// ansiPattern matches CSI, OSC, DCS/SOS/PM/APC and charset sequences.
var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]|\x1b\][^\x07\x1b]*(\x07|\x1b\\)|\x1b[PX^_][^\x1b]*\x1b\\|\x1b[()][0-9A-Za-z]|\x1b[=>78]`)

// StripANSI removes terminal escape sequences from s.
func StripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

// LastLine returns the last line of output that has visible text, with
// escape sequences and control characters removed.
func (t *Tail) LastLine() string {
	// The oldest bytes may start mid-rune.
	text := strings.ToValidUTF8(StripANSI(string(t.Bytes())), "")

	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := visible(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// visible renders a single line: a carriage return restarts the line, and
// other control characters are dropped.
func visible(line string) string {
	if i := strings.LastIndex(strings.TrimRight(line, "\r"), "\r"); i >= 0 {
		line = line[i+1:]
	}
	line = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\t' {
			return -1
		}
		return r
	}, line)
	return strings.TrimSpace(line)
}
