package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ragdesk/internal/backend"
	"ragdesk/internal/chat"
	"ragdesk/internal/citation"
	"ragdesk/internal/session"
	"ragdesk/internal/viewer"
)

// fakeSessionClient backs a real Session with canned data.
type fakeSessionClient struct {
	retrievers []backend.Retriever
	documents  map[string][]backend.DocumentItem
	addErr     error
}

func (f *fakeSessionClient) ListRetrievers(_ context.Context) ([]backend.Retriever, error) {
	return f.retrievers, nil
}

func (f *fakeSessionClient) RetrieverDocuments(_ context.Context, retriever string) ([]backend.DocumentItem, error) {
	return f.documents[retriever], nil
}

func (f *fakeSessionClient) AddDocument(_ context.Context, retriever string, documentID int) error {
	if f.addErr != nil {
		return f.addErr
	}
	f.documents[retriever] = append(f.documents[retriever], backend.DocumentItem{ID: documentID})
	return nil
}

func (f *fakeSessionClient) RemoveDocument(_ context.Context, retriever string, documentID int) error {
	docs := f.documents[retriever]
	for i, d := range docs {
		if d.ID == documentID {
			f.documents[retriever] = append(docs[:i], docs[i+1:]...)
			break
		}
	}
	return nil
}

type fakeResolver struct {
	citation citation.Citation
	err      error
}

func (f *fakeResolver) Resolve(_ context.Context, _ backend.Chunk) (citation.Citation, error) {
	return f.citation, f.err
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	client := &fakeSessionClient{
		retrievers: []backend.Retriever{{Name: "papers", Type: "vector"}},
		documents: map[string][]backend.DocumentItem{
			"papers": {{ID: 1, Name: "attention.pdf"}},
		},
	}
	sess := session.New(client)
	if err := sess.Refresh(context.Background()); err != nil {
		t.Fatalf("refreshing session: %v", err)
	}

	return Deps{
		Orchestrator: &mockSubmitter{answer: chat.Turn{ID: "a1", Kind: chat.KindAnswer, Content: "answer"}},
		Session:      sess,
		Viewer:       viewer.New(t.TempDir()),
		Resolver:     &fakeResolver{},
		Library:      backend.New(""),
		Layout:       session.NewLayoutManager(session.NewFileLayoutStore(t.TempDir())),
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestListRetrievers(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/retrievers", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp struct {
		Retrievers []backend.Retriever `json:"retrievers"`
		Selected   string              `json:"selected"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(resp.Retrievers) != 1 || resp.Retrievers[0].Name != "papers" {
		t.Errorf("retrievers = %+v", resp.Retrievers)
	}
	if resp.Selected != "" {
		t.Errorf("selected = %q, want empty before selection", resp.Selected)
	}
}

func TestSelectRetriever(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/retrievers/select", map[string]string{"name": "papers"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if name, ok := deps.Session.SelectedName(); !ok || name != "papers" {
		t.Errorf("SelectedName = (%q, %v), want (papers, true)", name, ok)
	}

	rec = doRequest(t, h, http.MethodPost, "/retrievers/select", map[string]string{"name": "ghost"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown retriever status = %d, want 404", rec.Code)
	}
}

func TestMembershipRequiresSelection(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	rec := doRequest(t, h, http.MethodGet, "/retriever/documents", nil)
	if rec.Code != http.StatusConflict {
		t.Errorf("GET status = %d, want 409", rec.Code)
	}

	rec = doRequest(t, h, http.MethodPost, "/retriever/documents", map[string]int{"document_id": 2})
	if rec.Code != http.StatusConflict {
		t.Errorf("POST status = %d, want 409", rec.Code)
	}
}

func TestMembershipAddAndRemove(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	doRequest(t, h, http.MethodPost, "/retrievers/select", map[string]string{"name": "papers"})

	rec := doRequest(t, h, http.MethodPost, "/retriever/documents", map[string]int{"document_id": 2})
	if rec.Code != http.StatusOK {
		t.Fatalf("add status = %d: %s", rec.Code, rec.Body.String())
	}
	var docs []backend.DocumentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(docs) != 2 {
		t.Fatalf("after add: %d documents, want 2", len(docs))
	}

	rec = doRequest(t, h, http.MethodDelete, "/retriever/documents/2", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d: %s", rec.Code, rec.Body.String())
	}
	json.Unmarshal(rec.Body.Bytes(), &docs)
	if len(docs) != 1 {
		t.Errorf("after remove: %d documents, want 1", len(docs))
	}
}

func TestQuery(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/query", QueryRequest{Text: "what is attention?", Mode: "retrieve"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var turn chat.Turn
	if err := json.Unmarshal(rec.Body.Bytes(), &turn); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if turn.Kind != chat.KindAnswer {
		t.Errorf("kind = %q, want answer", turn.Kind)
	}
}

func TestQueryErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"empty query", chat.ErrEmptyQuery, http.StatusBadRequest},
		{"unknown mode", chat.ErrUnknownMode, http.StatusBadRequest},
		{"no selection", chat.ErrNoRetrieverSelected, http.StatusConflict},
		{"not configured", backend.ErrNotConfigured, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			deps := newTestDeps(t)
			deps.Orchestrator = &mockSubmitter{err: tt.err}
			h := NewHandler(deps)

			rec := doRequest(t, h, http.MethodPost, "/query", QueryRequest{Text: "q", Mode: "retrieve"})
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestHistoryDisabled(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/history", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 without transcript", rec.Code)
	}
}

func TestResolveCitation(t *testing.T) {
	deps := newTestDeps(t)
	deps.Resolver = &fakeResolver{
		citation: citation.Citation{
			Document: backend.DocumentItem{ID: 3, Name: "attention.pdf"},
			Page:     7,
		},
	}
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/citations/resolve", backend.Chunk{ID: 1, DocumentID: 3})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var cit citation.Citation
	if err := json.Unmarshal(rec.Body.Bytes(), &cit); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if cit.Page != 7 || cit.Document.ID != 3 {
		t.Errorf("citation = %+v", cit)
	}
}

func TestViewerGotoAndConsume(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/viewer/goto", map[string]int{"page": 4})
	if rec.Code != http.StatusOK {
		t.Fatalf("goto status = %d", rec.Code)
	}
	var gotoResp struct {
		Accepted bool `json:"accepted"`
	}
	json.Unmarshal(rec.Body.Bytes(), &gotoResp)
	if !gotoResp.Accepted {
		t.Fatal("goto not accepted")
	}

	rec = doRequest(t, h, http.MethodPost, "/viewer/consume", nil)
	var consumeResp struct {
		Page    int  `json:"page"`
		Pending bool `json:"pending"`
	}
	json.Unmarshal(rec.Body.Bytes(), &consumeResp)
	if !consumeResp.Pending || consumeResp.Page != 4 {
		t.Errorf("consume = %+v, want page 4", consumeResp)
	}

	// Second consume finds nothing pending.
	rec = doRequest(t, h, http.MethodPost, "/viewer/consume", nil)
	json.Unmarshal(rec.Body.Bytes(), &consumeResp)
	if consumeResp.Pending {
		t.Error("second consume still pending")
	}
}

func TestViewerZoomRoutes(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPost, "/viewer/zoom-in", nil)
	var snap viewer.Snapshot
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.Scale <= 1.0 {
		t.Errorf("scale after zoom-in = %v, want > 1.0", snap.Scale)
	}

	rec = doRequest(t, h, http.MethodPost, "/viewer/zoom-reset", nil)
	json.Unmarshal(rec.Body.Bytes(), &snap)
	if snap.Scale != 1.0 {
		t.Errorf("scale after reset = %v, want 1.0", snap.Scale)
	}
}

func TestLayoutPatch(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodPatch, "/layout", map[string]any{"left_width": 200, "right_visible": false})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	got := deps.Layout.Get()
	if got.LeftWidth != 200 || got.RightVisible {
		t.Errorf("layout = %+v", got)
	}
	if got.RightWidth != session.DefaultLayout().RightWidth {
		t.Errorf("untouched field changed: %+v", got)
	}
}

func TestListDocumentsNotConfigured(t *testing.T) {
	h := NewHandler(newTestDeps(t))
	rec := doRequest(t, h, http.MethodGet, "/documents", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 without a configured backend", rec.Code)
	}
}

func TestListDocumentsProxiesBackend(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/detailed/" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode([]backend.DocumentItem{{ID: 1, Name: "attention.pdf"}})
	}))
	defer ts.Close()

	deps := newTestDeps(t)
	deps.Library = backend.New(ts.URL)
	h := NewHandler(deps)

	rec := doRequest(t, h, http.MethodGet, "/documents", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var docs []backend.DocumentItem
	if err := json.Unmarshal(rec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("parsing response: %v", err)
	}
	if len(docs) != 1 || docs[0].Name != "attention.pdf" {
		t.Errorf("docs = %+v", docs)
	}
}
