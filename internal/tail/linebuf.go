package tail

import (
	"bytes"
	"sync"
)

// lineBuffer accumulates response bytes as they arrive and hands out
// complete lines. Bytes after the last newline stay buffered until the
// rest of the line shows up. Writes come from the exchange goroutine,
// reads from the driver, so both sides take mu.
type lineBuffer struct {
	mu   sync.Mutex
	data []byte
	pos  int // cursor: everything before pos has been consumed
}

func (b *lineBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, p...)
	return len(p), nil
}

// Next returns the next complete line without its terminator. ok is false
// when no newline remains after the cursor.
func (b *lineBuffer) Next() (line string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := bytes.IndexByte(b.data[b.pos:], '\n')
	if i < 0 {
		b.compact()
		return "", false
	}
	raw := b.data[b.pos : b.pos+i]
	b.pos += i + 1
	return string(bytes.TrimSuffix(raw, []byte{'\r'})), true
}

// compact drops consumed bytes once they dominate the buffer. Caller
// holds mu.
func (b *lineBuffer) compact() {
	if b.pos == 0 || b.pos < len(b.data)/2 {
		return
	}
	n := copy(b.data, b.data[b.pos:])
	b.data = b.data[:n]
	b.pos = 0
}
