package backend

import (
	"strconv"
	"strings"
)

// Retriever is a named retrieval index on the document server. Name is the
// stable identifier used in every /rag/{name}/... path.
type Retriever struct {
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
}

// DocumentItem is a document known to the server, independent of any
// retriever. URL points at the fetchable file (typically a PDF).
type DocumentItem struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Chunk is a retrieved fragment of a document. Immutable once received.
type Chunk struct {
	ID         int            `json:"id"`
	Text       string         `json:"text"`
	DocumentID int            `json:"document_id"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Page returns the page number encoded in the chunk metadata, or 0 when the
// metadata carries no usable page. The server serializes metadata values
// loosely, so numbers may arrive as float64 or string.
func (c Chunk) Page() int {
	if c.Metadata == nil {
		return 0
	}
	switch v := c.Metadata["page"].(type) {
	case float64:
		if v >= 1 && v == float64(int(v)) {
			return int(v)
		}
	case int:
		if v >= 1 {
			return v
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n >= 1 {
			return n
		}
	}
	return 0
}

// SearchResult is the payload of POST /rag/{name}/search/.
type SearchResult struct {
	Query         string  `json:"query,omitempty"`
	Chunks        []Chunk `json:"chunks,omitempty"`
	TotalChunks   int     `json:"total_chunks"`
	RetrieverName string  `json:"retriever_name,omitempty"`
	Error         string  `json:"error,omitempty"`
}
