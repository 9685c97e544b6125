// Package session tracks the active retriever and the document membership
// list that depends on it. Membership is backend-authoritative: local state
// changes only by refetching after a mutation, never optimistically.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ragdesk/internal/backend"
)

// Client is the backend surface the session depends on.
type Client interface {
	ListRetrievers(ctx context.Context) ([]backend.Retriever, error)
	RetrieverDocuments(ctx context.Context, retriever string) ([]backend.DocumentItem, error)
	AddDocument(ctx context.Context, retriever string, documentID int) error
	RemoveDocument(ctx context.Context, retriever string, documentID int) error
}

var (
	// ErrNoSelection is returned by membership mutations when no retriever
	// is selected.
	ErrNoSelection = errors.New("no retriever selected")
	// ErrUnknownRetriever is returned by Select for a name outside the
	// known retriever set.
	ErrUnknownRetriever = errors.New("unknown retriever")
)

// Session holds the retriever set, the single selection, and the selected
// retriever's document membership list.
type Session struct {
	client Client

	mu         sync.Mutex
	retrievers []backend.Retriever
	selected   *backend.Retriever
	documents  []backend.DocumentItem
	fetchToken string // identifies the most recently issued membership refetch
}

// New creates an empty Session over the given backend client.
func New(client Client) *Session {
	return &Session{client: client}
}

// Refresh refetches the retriever set and, when a retriever is selected, its
// membership list, concurrently. A selection whose retriever disappeared
// from the set is cleared.
func (s *Session) Refresh(ctx context.Context) error {
	s.mu.Lock()
	var selectedName string
	if s.selected != nil {
		selectedName = s.selected.Name
	}
	token := uuid.New().String()
	s.fetchToken = token
	s.mu.Unlock()

	var retrievers []backend.Retriever
	var documents []backend.DocumentItem

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		retrievers, err = s.client.ListRetrievers(gCtx)
		return err
	})
	if selectedName != "" {
		g.Go(func() error {
			var err error
			documents, err = s.client.RetrieverDocuments(gCtx, selectedName)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("refreshing session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.retrievers = retrievers
	if s.selected != nil {
		if found := findRetriever(retrievers, s.selected.Name); found != nil {
			s.selected = found
			if s.fetchToken == token {
				s.documents = documents
			}
		} else {
			s.selected = nil
			s.documents = nil
		}
	}
	return nil
}

// Retrievers returns a copy of the known retriever set.
func (s *Session) Retrievers() []backend.Retriever {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.Retriever, len(s.retrievers))
	copy(out, s.retrievers)
	return out
}

// Selected returns the active retriever, if any.
func (s *Session) Selected() (backend.Retriever, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.selected == nil {
		return backend.Retriever{}, false
	}
	return *s.selected, true
}

// SelectedName returns the active retriever's name, if any.
func (s *Session) SelectedName() (string, bool) {
	r, ok := s.Selected()
	return r.Name, ok
}

// Documents returns a copy of the membership list for the active retriever.
func (s *Session) Documents() []backend.DocumentItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]backend.DocumentItem, len(s.documents))
	copy(out, s.documents)
	return out
}

// Select replaces the active retriever and refetches its membership list.
// The previous list is cleared immediately, before the fetch, so no stale
// entries are visible while the new list loads.
func (s *Session) Select(ctx context.Context, name string) error {
	s.mu.Lock()
	found := findRetriever(s.retrievers, name)
	if found == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownRetriever, name)
	}
	s.selected = found
	s.documents = nil
	token := uuid.New().String()
	s.fetchToken = token
	s.mu.Unlock()

	return s.refetchDocuments(ctx, found.Name, token)
}

// ClearSelection deselects the active retriever and clears the membership
// list.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = nil
	s.documents = nil
	s.fetchToken = ""
}

// AddDocument associates a document with the active retriever. The local
// list is resynchronized by refetching from the backend afterwards, whether
// or not the mutation succeeded; a mutation error takes precedence in the
// return value.
func (s *Session) AddDocument(ctx context.Context, documentID int) error {
	name, ok := s.SelectedName()
	if !ok {
		return ErrNoSelection
	}

	mutErr := s.client.AddDocument(ctx, name, documentID)
	refetchErr := s.refetchCurrent(ctx, name)
	if mutErr != nil {
		return mutErr
	}
	return refetchErr
}

// RemoveDocument removes a document from the active retriever's membership,
// with the same refetch discipline as AddDocument.
func (s *Session) RemoveDocument(ctx context.Context, documentID int) error {
	name, ok := s.SelectedName()
	if !ok {
		return ErrNoSelection
	}

	mutErr := s.client.RemoveDocument(ctx, name, documentID)
	refetchErr := s.refetchCurrent(ctx, name)
	if mutErr != nil {
		return mutErr
	}
	return refetchErr
}

func (s *Session) refetchCurrent(ctx context.Context, name string) error {
	s.mu.Lock()
	token := uuid.New().String()
	s.fetchToken = token
	s.mu.Unlock()
	return s.refetchDocuments(ctx, name, token)
}

// refetchDocuments fetches the membership list and installs it only if this
// refetch is still the most recently issued one. A response arriving after a
// newer refetch was issued is discarded, so the list always reflects the
// last request rather than the last response.
func (s *Session) refetchDocuments(ctx context.Context, name, token string) error {
	docs, err := s.client.RetrieverDocuments(ctx, name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fetchToken != token {
		return nil
	}
	if err != nil {
		return fmt.Errorf("fetching documents for %s: %w", name, err)
	}
	if s.selected == nil || s.selected.Name != name {
		return nil
	}
	s.documents = docs
	return nil
}

func findRetriever(set []backend.Retriever, name string) *backend.Retriever {
	for i := range set {
		if set[i].Name == name {
			return &set[i]
		}
	}
	return nil
}
