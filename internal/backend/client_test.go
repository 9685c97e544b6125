package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNotConfigured(t *testing.T) {
	c := New("")

	if c.Configured() {
		t.Error("Configured() = true for empty base URL")
	}

	_, err := c.ListRetrievers(context.Background())
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("ListRetrievers error = %v, want ErrNotConfigured", err)
	}

	_, err = c.Search(context.Background(), "papers", "query")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Search error = %v, want ErrNotConfigured", err)
	}

	_, err = c.UploadDocument(context.Background(), "a.pdf", strings.NewReader("x"))
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("UploadDocument error = %v, want ErrNotConfigured", err)
	}
}

func TestListRetrievers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/rag/retrievers/" {
			t.Errorf("path = %q, want /api/rag/retrievers/", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"retrievers": []Retriever{
				{Name: "papers", Type: "chroma"},
				{Name: "manuals"},
			},
			"count": 2,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	retrievers, err := c.ListRetrievers(context.Background())
	if err != nil {
		t.Fatalf("ListRetrievers: %v", err)
	}
	if len(retrievers) != 2 {
		t.Fatalf("got %d retrievers, want 2", len(retrievers))
	}
	if retrievers[0].Name != "papers" {
		t.Errorf("retrievers[0].Name = %q, want papers", retrievers[0].Name)
	}
}

func TestSearchRequestShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/api/rag/papers/search/" {
			t.Errorf("path = %q, want /api/rag/papers/search/", r.URL.Path)
		}

		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decoding request: %v", err)
		}
		if body["query"] != "what is attention" {
			t.Errorf("query = %v", body["query"])
		}
		if body["nb_max_chunks"] != float64(5) {
			t.Errorf("nb_max_chunks = %v, want 5", body["nb_max_chunks"])
		}

		json.NewEncoder(w).Encode(SearchResult{
			Chunks: []Chunk{
				{ID: 1, Text: "chunk one", DocumentID: 3, Confidence: 0.91},
				{ID: 2, Text: "chunk two", DocumentID: 3, Confidence: 0.74},
			},
			TotalChunks: 2,
		})
	}))
	defer srv.Close()

	c := New(srv.URL)
	chunks, err := c.Search(context.Background(), "papers", "what is attention")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if chunks[0].Text != "chunk one" {
		t.Errorf("chunks[0].Text = %q", chunks[0].Text)
	}
}

func TestSearchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(SearchResult{Error: "retriever not found"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Search(context.Background(), "nope", "query")
	if err == nil || !strings.Contains(err.Error(), "retriever not found") {
		t.Errorf("error = %v, want retriever not found", err)
	}
}

func TestSearchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.Search(context.Background(), "papers", "query")
	if err == nil || !strings.Contains(err.Error(), "500") {
		t.Errorf("error = %v, want status 500 mention", err)
	}
}

func TestAddRemoveDocument(t *testing.T) {
	var gotPaths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPaths = append(gotPaths, r.Method+" "+r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := New(srv.URL)
	if err := c.AddDocument(context.Background(), "papers", 7); err != nil {
		t.Fatalf("AddDocument: %v", err)
	}
	if err := c.RemoveDocument(context.Background(), "papers", 7); err != nil {
		t.Fatalf("RemoveDocument: %v", err)
	}

	want := []string{
		"POST /api/rag/papers/documents/add/",
		"DELETE /api/rag/papers/documents/7/",
	}
	for i, w := range want {
		if gotPaths[i] != w {
			t.Errorf("request[%d] = %q, want %q", i, gotPaths[i], w)
		}
	}
}

func TestGetDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/documents/3/" {
			t.Errorf("path = %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(DocumentItem{ID: 3, Name: "paper.pdf", URL: "http://files/paper.pdf"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	doc, err := c.GetDocument(context.Background(), 3)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if doc.Name != "paper.pdf" {
		t.Errorf("doc.Name = %q, want paper.pdf", doc.Name)
	}
}

func TestUploadDocumentMultipart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("parsing multipart: %v", err)
		}
		f, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if header.Filename != "notes.pdf" {
			t.Errorf("filename = %q, want notes.pdf", header.Filename)
		}
		json.NewEncoder(w).Encode(map[string]string{"message": "uploaded"})
	}))
	defer srv.Close()

	c := New(srv.URL)
	msg, err := c.UploadDocument(context.Background(), "notes.pdf", strings.NewReader("%PDF-1.4"))
	if err != nil {
		t.Fatalf("UploadDocument: %v", err)
	}
	if msg != "uploaded" {
		t.Errorf("message = %q, want uploaded", msg)
	}
}

func TestChunkPage(t *testing.T) {
	tests := []struct {
		name     string
		metadata map[string]any
		want     int
	}{
		{"nil metadata", nil, 0},
		{"no page key", map[string]any{"section": "intro"}, 0},
		{"float page", map[string]any{"page": float64(7)}, 7},
		{"string page", map[string]any{"page": "12"}, 12},
		{"fractional page", map[string]any{"page": 2.5}, 0},
		{"zero page", map[string]any{"page": float64(0)}, 0},
		{"garbage string", map[string]any{"page": "intro"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Chunk{Metadata: tt.metadata}
			if got := c.Page(); got != tt.want {
				t.Errorf("Page() = %d, want %d", got, tt.want)
			}
		})
	}
}
