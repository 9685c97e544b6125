package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrNotConfigured is returned by every operation when no document server
// base URL was configured. It blocks the single operation, never the process.
var ErrNotConfigured = errors.New("document server URL is not configured")

// defaultMaxChunks is the chunk budget sent with every search request.
const defaultMaxChunks = 5

// Client talks to the document/retrieval server over HTTP+JSON. All API
// routes live under {base}/api.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the given document server base URL. An empty
// baseURL yields a client whose operations all fail with ErrNotConfigured.
func New(baseURL string) *Client {
	base := strings.TrimRight(baseURL, "/")
	if base != "" {
		base += "/api"
	}
	return &Client{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Configured reports whether a base URL was provided.
func (c *Client) Configured() bool {
	return c.baseURL != ""
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, ErrNotConfigured
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document server not reachable: %w", err)
	}
	return resp, nil
}

func decodeJSON(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("server returned %d (failed to read body: %w)", resp.StatusCode, err)
		}
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if v == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ListRetrievers returns all retrievers known to the server.
func (c *Client) ListRetrievers(ctx context.Context) ([]Retriever, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rag/retrievers/", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Retrievers []Retriever `json:"retrievers"`
		Count      int         `json:"count"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("listing retrievers: %w", err)
	}
	return result.Retrievers, nil
}

// RetrieverDocuments returns the documents currently associated with the
// named retriever.
func (c *Client) RetrieverDocuments(ctx context.Context, retriever string) ([]DocumentItem, error) {
	resp, err := c.do(ctx, http.MethodGet, "/rag/"+url.PathEscape(retriever)+"/documents/", nil)
	if err != nil {
		return nil, err
	}

	var result struct {
		Documents []DocumentItem `json:"documents"`
		Error     string         `json:"error,omitempty"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("listing documents for %s: %w", retriever, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("listing documents for %s: %s", retriever, result.Error)
	}
	return result.Documents, nil
}

// AddDocument associates a document with the named retriever.
func (c *Client) AddDocument(ctx context.Context, retriever string, documentID int) error {
	body := map[string]any{"document_id": documentID}
	resp, err := c.do(ctx, http.MethodPost, "/rag/"+url.PathEscape(retriever)+"/documents/add/", body)
	if err != nil {
		return err
	}

	var result struct {
		Success bool   `json:"success,omitempty"`
		Message string `json:"message,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return fmt.Errorf("adding document %d to %s: %w", documentID, retriever, err)
	}
	if result.Error != "" {
		return fmt.Errorf("adding document %d to %s: %s", documentID, retriever, result.Error)
	}
	return nil
}

// RemoveDocument removes a document from the named retriever's membership.
func (c *Client) RemoveDocument(ctx context.Context, retriever string, documentID int) error {
	path := fmt.Sprintf("/rag/%s/documents/%d/", url.PathEscape(retriever), documentID)
	resp, err := c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}

	var result struct {
		Success bool   `json:"success,omitempty"`
		Message string `json:"message,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return fmt.Errorf("removing document %d from %s: %w", documentID, retriever, err)
	}
	if result.Error != "" {
		return fmt.Errorf("removing document %d from %s: %s", documentID, retriever, result.Error)
	}
	return nil
}

// Search runs the query against the named retriever and returns the matching
// chunks in server order.
func (c *Client) Search(ctx context.Context, retriever, query string) ([]Chunk, error) {
	body := map[string]any{
		"query":         query,
		"nb_max_chunks": defaultMaxChunks,
	}
	resp, err := c.do(ctx, http.MethodPost, "/rag/"+url.PathEscape(retriever)+"/search/", body)
	if err != nil {
		return nil, err
	}

	var result SearchResult
	if err := decodeJSON(resp, &result); err != nil {
		return nil, fmt.Errorf("searching with %s: %w", retriever, err)
	}
	if result.Error != "" {
		return nil, fmt.Errorf("searching with %s: %s", retriever, result.Error)
	}
	return result.Chunks, nil
}

// ListDocuments returns all documents known to the server.
func (c *Client) ListDocuments(ctx context.Context) ([]DocumentItem, error) {
	resp, err := c.do(ctx, http.MethodGet, "/documents/detailed/", nil)
	if err != nil {
		return nil, err
	}

	var docs []DocumentItem
	if err := decodeJSON(resp, &docs); err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	return docs, nil
}

// GetDocument fetches a single document record by ID.
func (c *Client) GetDocument(ctx context.Context, id int) (DocumentItem, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/documents/%d/", id), nil)
	if err != nil {
		return DocumentItem{}, err
	}

	var doc DocumentItem
	if err := decodeJSON(resp, &doc); err != nil {
		return DocumentItem{}, fmt.Errorf("fetching document %d: %w", id, err)
	}
	return doc, nil
}

// UploadDocument uploads a file as a new document via multipart form data.
func (c *Client) UploadDocument(ctx context.Context, filename string, content io.Reader) (string, error) {
	if c.baseURL == "" {
		return "", ErrNotConfigured
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("writing form file: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("finalizing form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/documents/upload/", &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("document server not reachable: %w", err)
	}

	var result struct {
		Message string `json:"message,omitempty"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return "", fmt.Errorf("uploading %s: %w", filename, err)
	}
	return result.Message, nil
}

// DeleteDocument deletes a document from the server.
func (c *Client) DeleteDocument(ctx context.Context, id int) error {
	resp, err := c.do(ctx, http.MethodDelete, fmt.Sprintf("/documents/%d/delete/", id), nil)
	if err != nil {
		return err
	}
	if err := decodeJSON(resp, nil); err != nil {
		return fmt.Errorf("deleting document %d: %w", id, err)
	}
	return nil
}
