// SPDX-License-Identifier: MPL-2.0

package runner

import (
	"strings"
	"sync"
)

const (
	tailSize  = 16 << 10
	tailLines = 20
)

// tailBuffer keeps the last size bytes written to it.
type tailBuffer struct {
	mu   sync.Mutex
	size int
	buf  []byte
	// partial is set when trimming cut the first line.
	partial bool
}

func newTailBuffer(size int) *tailBuffer {
	return &tailBuffer{size: size}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.size; over > 0 {
		b.partial = b.buf[over-1] != '\n'
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

// Lines returns at most n trailing non-empty lines.
func (b *tailBuffer) Lines(n int) string {
	b.mu.Lock()
	text := string(b.buf)
	if _, rest, ok := strings.Cut(text, "\n"); ok && b.partial {
		text = rest
	}
	b.mu.Unlock()

	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
