package relay

import "github.com/lanlobby/lanlobby/model"

// DefaultMaxMessages is the default visible chat window.
const DefaultMaxMessages = 25

// History keeps the most recent chat messages for display, evicting the
// oldest in arrival order once the limit is reached. Eviction is display
// policy only; messages are not persisted anywhere.
type History struct {
	max  int
	msgs []model.ChatMessage
}

func NewHistory(max int) *History {
	if max <= 0 {
		max = DefaultMaxMessages
	}
	return &History{
		max:  max,
		msgs: make([]model.ChatMessage, 0, max),
	}
}

func (h *History) Append(msg model.ChatMessage) {
	if len(h.msgs) == h.max {
		copy(h.msgs, h.msgs[1:])
		h.msgs = h.msgs[:h.max-1]
	}
	h.msgs = append(h.msgs, msg)
}

// Messages returns a snapshot in arrival order, oldest first.
func (h *History) Messages() []model.ChatMessage {
	out := make([]model.ChatMessage, len(h.msgs))
	copy(out, h.msgs)
	return out
}

func (h *History) Len() int {
	return len(h.msgs)
}
