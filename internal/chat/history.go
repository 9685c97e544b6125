package chat

import (
	"log/slog"
	"sync"
)

// Sink receives every appended turn for persistence. Sink failures are
// logged, never surfaced: the in-memory log is the source of truth for the
// running session.
type Sink interface {
	AppendTurn(turn Turn) error
}

// History is the append-only conversation log. Appends are serialized so
// concurrent submissions can never interleave and corrupt ordering; insertion
// order is chronological and is the only ordering guarantee.
type History struct {
	mu    sync.Mutex
	turns []Turn
	sink  Sink
}

// NewHistory creates an empty History. sink may be nil.
func NewHistory(sink Sink) *History {
	return &History{sink: sink}
}

// Append adds a turn at the end of the log.
func (h *History) Append(turn Turn) {
	h.mu.Lock()
	h.turns = append(h.turns, turn)
	h.mu.Unlock()

	if h.sink != nil {
		if err := h.sink.AppendTurn(turn); err != nil {
			slog.Warn("persisting turn failed", "turn", turn.ID, "error", err)
		}
	}
}

// Turns returns a snapshot copy of the log.
func (h *History) Turns() []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Turn, len(h.turns))
	copy(out, h.turns)
	return out
}

// Len returns the number of turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}
