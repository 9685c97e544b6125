package viewer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ledongthuc/pdf"
)

// OutlineEntry is a flattened document outline item. Level is the nesting
// depth, starting at 0.
type OutlineEntry struct {
	Title string `json:"title"`
	Level int    `json:"level"`
}

// DocumentInfo describes a loaded document.
type DocumentInfo struct {
	URL      string         `json:"url"`
	NumPages int            `json:"num_pages"`
	Outline  []OutlineEntry `json:"outline,omitempty"`
}

// Loader downloads documents to a local cache directory and reads their page
// structure.
type Loader struct {
	httpClient *http.Client
	cacheDir   string
}

// NewLoader creates a Loader that caches downloads under cacheDir.
func NewLoader(cacheDir string) *Loader {
	return &Loader{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		cacheDir:   cacheDir,
	}
}

// Load fetches the document at url (or reuses the cached copy) and returns
// its page count and flattened outline.
func (l *Loader) Load(ctx context.Context, url string) (DocumentInfo, error) {
	path, err := l.fetch(ctx, url)
	if err != nil {
		return DocumentInfo{}, err
	}

	file, reader, err := pdf.Open(path)
	if err != nil {
		return DocumentInfo{}, fmt.Errorf("opening pdf: %w", err)
	}
	defer file.Close()

	info := DocumentInfo{
		URL:      url,
		NumPages: reader.NumPage(),
	}
	info.Outline = flattenOutline(reader.Outline().Child, 0, nil)
	return info, nil
}

func flattenOutline(items []pdf.Outline, level int, acc []OutlineEntry) []OutlineEntry {
	for _, item := range items {
		if item.Title != "" {
			acc = append(acc, OutlineEntry{Title: item.Title, Level: level})
		}
		acc = flattenOutline(item.Child, level+1, acc)
	}
	return acc
}

// fetch returns a local path for the document, downloading it on cache miss.
func (l *Loader) fetch(ctx context.Context, url string) (string, error) {
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("creating cache dir: %w", err)
	}

	sum := sha256.Sum256([]byte(url))
	path := filepath.Join(l.cacheDir, hex.EncodeToString(sum[:8])+".pdf")
	if _, err := os.Stat(path); err == nil {
		return path, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("creating download request: %w", err)
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("downloading document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("downloading document: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(l.cacheDir, "download-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("writing document: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("caching document: %w", err)
	}
	return path, nil
}
