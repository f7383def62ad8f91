package bus

import (
	"sync"

	"github.com/forgemesh/forgemesh/core"
)

// history is a bounded ring buffer of message envelopes. Once full, the
// oldest entry is evicted per append. Envelopes are stored by value and
// never mutated after admission.
type history struct {
	mu   sync.RWMutex
	buf  []core.Message
	next int
	full bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = 1
	}
	return &history{buf: make([]core.Message, size)}
}

func (h *history) add(msg core.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = msg
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
}

// list returns up to limit most recent entries in chronological order. A
// non-empty agentID keeps only envelopes where the agent is origin or
// destination. limit <= 0 means no limit.
func (h *history) list(agentID string, limit int) []core.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var ordered []core.Message
	if h.full {
		ordered = append(ordered, h.buf[h.next:]...)
		ordered = append(ordered, h.buf[:h.next]...)
	} else {
		ordered = append(ordered, h.buf[:h.next]...)
	}

	if agentID != "" {
		filtered := ordered[:0]
		for _, m := range ordered {
			if m.From == agentID || m.To == agentID {
				filtered = append(filtered, m)
			}
		}
		ordered = filtered
	}

	if limit > 0 && len(ordered) > limit {
		ordered = ordered[len(ordered)-limit:]
	}
	return ordered
}
