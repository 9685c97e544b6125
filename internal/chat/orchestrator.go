package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ragdesk/internal/backend"
	"ragdesk/internal/ollama"
)

// Mode selects how far a submitted query travels.
type Mode string

const (
	// ModeRetrieve runs retrieval only; the answer is a placeholder with
	// the retrieved chunks attached as provenance.
	ModeRetrieve Mode = "retrieve"
	// ModeRetrieveGenerate runs retrieval, then generation with the
	// retrieved context injected into the final user message.
	ModeRetrieveGenerate Mode = "retrieve+generate"
)

// retrievedAnswer is the fixed content of retrieve-only answer turns.
const retrievedAnswer = "Sources retrieved. Open a citation to view the document."

var (
	// ErrEmptyQuery marks a blank submission; nothing was appended and no
	// backend was called.
	ErrEmptyQuery = errors.New("query is empty")
	// ErrNoRetrieverSelected blocks submission before any backend call.
	ErrNoRetrieverSelected = errors.New("no retriever selected")
	// ErrUnknownMode rejects modes other than the two defined ones.
	ErrUnknownMode = errors.New("unknown query mode")
)

// Searcher runs a retrieval query against the active retriever.
type Searcher interface {
	Search(ctx context.Context, retriever, query string) ([]backend.Chunk, error)
}

// Generator produces a chat completion from a full message history.
type Generator interface {
	Chat(ctx context.Context, model string, messages []ollama.Message) (string, error)
}

// Selection exposes the currently selected retriever name.
type Selection interface {
	SelectedName() (string, bool)
}

// Orchestrator sequences a user query through retrieval and optional
// generation, recording both sides of the exchange in the history.
type Orchestrator struct {
	searcher  Searcher
	generator Generator
	selection Selection
	history   *History
	model     string
}

// NewOrchestrator wires an Orchestrator. model is the generation model name
// passed through to the Generator.
func NewOrchestrator(searcher Searcher, generator Generator, selection Selection, history *History, model string) *Orchestrator {
	return &Orchestrator{
		searcher:  searcher,
		generator: generator,
		selection: selection,
		history:   history,
		model:     model,
	}
}

// Submit runs one query through the selected mode and returns the answer
// turn. The query turn is appended before any backend round-trip; on failure
// it is the only new turn and the error is returned.
//
// Separate Submit calls are deliberately not serialized against each other:
// each in-flight submission appends its own turns when it resolves, and the
// visible answer order follows completion order. History.Append holds a lock,
// so concurrent appends can never corrupt the log.
func (o *Orchestrator) Submit(ctx context.Context, text string, mode Mode) (Turn, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Turn{}, ErrEmptyQuery
	}
	if mode != ModeRetrieve && mode != ModeRetrieveGenerate {
		return Turn{}, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	retriever, ok := o.selection.SelectedName()
	if !ok {
		return Turn{}, ErrNoRetrieverSelected
	}

	// Snapshot the log before appending, so the generation history does not
	// contain the query twice.
	prior := o.history.Turns()
	o.history.Append(newTurn(KindQuery, text, nil))

	chunks, err := o.searcher.Search(ctx, retriever, text)
	if err != nil {
		return Turn{}, fmt.Errorf("searching with %s: %w", retriever, err)
	}

	var answer Turn
	switch mode {
	case ModeRetrieve:
		answer = newTurn(KindAnswer, retrievedAnswer, chunks)

	case ModeRetrieveGenerate:
		messages := buildMessages(prior, contextBlock(chunks), text)
		reply, err := o.generator.Chat(ctx, o.model, messages)
		if err != nil {
			return Turn{}, fmt.Errorf("generating answer: %w", err)
		}
		answer = newTurn(KindAnswer, reply, chunks)
	}

	o.history.Append(answer)
	return answer, nil
}

// contextBlock joins chunk texts in backend order, separated by blank lines.
// Returns "" when there are no chunks.
func contextBlock(chunks []backend.Chunk) string {
	if len(chunks) == 0 {
		return ""
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	return strings.Join(texts, "\n\n")
}

// buildMessages maps prior turns onto chat roles (query→user, answer→
// assistant) and appends the final user message: the context block, when
// non-empty, followed by the original query.
func buildMessages(prior []Turn, contextStr, query string) []ollama.Message {
	messages := make([]ollama.Message, 0, len(prior)+1)
	for _, t := range prior {
		role := "user"
		if t.Kind == KindAnswer {
			role = "assistant"
		}
		messages = append(messages, ollama.Message{Role: role, Content: t.Text()})
	}

	final := query
	if contextStr != "" {
		final = contextStr + "\n\n" + query
	}
	return append(messages, ollama.Message{Role: "user", Content: final})
}
