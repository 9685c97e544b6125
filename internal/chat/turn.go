package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"ragdesk/internal/backend"
)

// Kind distinguishes the two sides of a conversation.
type Kind string

const (
	KindQuery  Kind = "query"
	KindAnswer Kind = "answer"
)

// Turn is one entry in the conversation log. Turns are immutable after
// creation; only answer turns carry provenance chunks.
type Turn struct {
	ID        string          `json:"id"`
	Kind      Kind            `json:"kind"`
	Content   any             `json:"content"`
	Chunks    []backend.Chunk `json:"chunks,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func newTurn(kind Kind, content any, chunks []backend.Chunk) Turn {
	return Turn{
		ID:        uuid.New().String(),
		Kind:      kind,
		Content:   content,
		Chunks:    chunks,
		CreatedAt: time.Now().UTC(),
	}
}

// Text returns the turn content as a flat string. Non-string content is
// serialized to compact JSON so it can ride along in a chat message history.
func (t Turn) Text() string {
	switch v := t.Content.(type) {
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
