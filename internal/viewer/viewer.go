package viewer

import (
	"context"
	"log/slog"
	"sync"
)

// Viewer owns the navigation state and the document loader. Open is the only
// two-way boundary: it pushes load results back into the state.
type Viewer struct {
	State *State

	loader *Loader

	mu   sync.Mutex
	info DocumentInfo
}

// New creates a Viewer caching documents under cacheDir.
func New(cacheDir string) *Viewer {
	return &Viewer{
		State:  NewState(),
		loader: NewLoader(cacheDir),
	}
}

// Open points the viewer at url and loads the document. On success the state
// gains the page count and resets to page 1; on failure the page count
// becomes unknown and the error is returned.
func (v *Viewer) Open(ctx context.Context, url string) (DocumentInfo, error) {
	v.State.SetSource(url)

	info, err := v.loader.Load(ctx, url)
	if err != nil {
		v.State.LoadFailed()
		slog.Warn("loading document failed", "url", url, "error", err)
		return DocumentInfo{}, err
	}

	v.State.DocumentLoaded(url, info.NumPages)
	v.mu.Lock()
	v.info = info
	v.mu.Unlock()
	return info, nil
}

// SetSource forwards to the navigation state.
func (v *Viewer) SetSource(url string) {
	v.State.SetSource(url)
}

// SetTargetPage forwards to the navigation state.
func (v *Viewer) SetTargetPage(p int) bool {
	return v.State.SetTargetPage(p)
}

// Load opens the document, discarding the returned info.
func (v *Viewer) Load(ctx context.Context, url string) error {
	_, err := v.Open(ctx, url)
	return err
}

// Document returns the last successfully loaded document info.
func (v *Viewer) Document() DocumentInfo {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.info
}
