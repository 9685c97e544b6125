// Package citation turns retrieved source chunks into concrete document
// locations and drives the viewer there. Resolution is best-effort: failures
// are logged, never fatal, and the citation stays clickable for retry.
package citation

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"ragdesk/internal/backend"
)

// DocumentGetter looks up a document record on the backend.
type DocumentGetter interface {
	GetDocument(ctx context.Context, id int) (backend.DocumentItem, error)
}

// Navigator is the viewer surface the resolver drives: point it at a
// document and issue a one-shot page request.
type Navigator interface {
	SetSource(url string)
	SetTargetPage(p int) bool
	Load(ctx context.Context, url string) error
}

// Citation is a resolved source reference.
type Citation struct {
	Document backend.DocumentItem `json:"document"`
	Page     int                  `json:"page"`
	Label    string               `json:"label"`
}

// Resolver resolves chunks against the document backend and navigates the
// viewer to the referenced page.
type Resolver struct {
	docs DocumentGetter
	nav  Navigator
}

// NewResolver creates a Resolver.
func NewResolver(docs DocumentGetter, nav Navigator) *Resolver {
	return &Resolver{docs: docs, nav: nav}
}

// Resolve looks up the chunk's owning document, determines the target page
// (metadata page when valid, page 1 otherwise), and issues the navigation
// request. A failed document lookup aborts without navigating.
func (r *Resolver) Resolve(ctx context.Context, chunk backend.Chunk) (Citation, error) {
	doc, err := r.docs.GetDocument(ctx, chunk.DocumentID)
	if err != nil {
		slog.Warn("resolving citation failed", "document_id", chunk.DocumentID, "error", err)
		return Citation{}, fmt.Errorf("looking up document %d: %w", chunk.DocumentID, err)
	}

	page := chunk.Page()
	if page < 1 {
		page = 1
	}

	// Issue the page request before the (slow) load; the viewer keeps the
	// pending target across a successful load of the same document.
	r.nav.SetSource(doc.URL)
	r.nav.SetTargetPage(page)
	if err := r.nav.Load(ctx, doc.URL); err != nil {
		// The load is retried the next time the citation is clicked.
		slog.Warn("loading cited document failed", "url", doc.URL, "error", err)
	}

	return Citation{
		Document: doc,
		Page:     page,
		Label:    Label(doc, page, chunk.Confidence),
	}, nil
}

// Label composes the display label for a resolved citation:
// document name, resolved page, and confidence as a percentage.
func Label(doc backend.DocumentItem, page int, confidence float64) string {
	return fmt.Sprintf("%s (page %d, %d%%)", doc.Name, page, int(math.Round(confidence*100)))
}
