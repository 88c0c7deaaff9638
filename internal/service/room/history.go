package room

import "github.com/zhouzirui/cinema-room/backend/internal/model/room"

// history keeps messages in receipt order. A positive limit turns it into a
// ring that retains only the newest limit messages.
type history struct {
	limit int
	items []room.Message
	start int
}

func newHistory(limit int) *history {
	if limit < 0 {
		limit = 0
	}
	h := &history{limit: limit}
	if limit > 0 {
		h.items = make([]room.Message, 0, limit)
	} else {
		h.items = make([]room.Message, 0, 16)
	}
	return h
}

func (h *history) append(msg room.Message) {
	if h.limit == 0 || len(h.items) < h.limit {
		h.items = append(h.items, msg)
		return
	}

	// ring is full: overwrite the oldest slot
	h.items[h.start] = msg
	h.start = (h.start + 1) % h.limit
}

func (h *history) len() int {
	return len(h.items)
}

func (h *history) snapshot() []room.Message {
	copied := make([]room.Message, 0, len(h.items))
	copied = append(copied, h.items[h.start:]...)
	copied = append(copied, h.items[:h.start]...)
	return copied
}
