package realtime

import (
	"sync"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
)

// History is a fixed-capacity circular buffer of broadcast messages. It lets
// clients that connect mid-execution catch up on recent chunks.
type History struct {
	mu       sync.RWMutex
	buf      []*protocol.Message
	capacity int
	pos      int // next write position
	full     bool
}

// NewHistory creates a history buffer with the given capacity.
func NewHistory(capacity int) *History {
	return &History{
		buf:      make([]*protocol.Message, capacity),
		capacity: capacity,
	}
}

// Record adds a message to the buffer.
func (h *History) Record(msg *protocol.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.pos] = msg
	h.pos = (h.pos + 1) % h.capacity
	if h.pos == 0 {
		h.full = true
	}
}

// ReadAll returns the buffered messages in chronological order.
func (h *History) ReadAll() []*protocol.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.full {
		result := make([]*protocol.Message, h.pos)
		copy(result, h.buf[:h.pos])
		return result
	}

	result := make([]*protocol.Message, h.capacity)
	copy(result, h.buf[h.pos:])
	copy(result[h.capacity-h.pos:], h.buf[:h.pos])
	return result
}
