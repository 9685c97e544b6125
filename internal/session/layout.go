package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Layout is the persisted UI chrome state: panel widths and visibility. It
// is deliberately decoupled from the orchestration core; nothing here feeds
// back into query or navigation logic.
type Layout struct {
	LeftWidth    int  `json:"left_width"`
	RightWidth   int  `json:"right_width"`
	LeftVisible  bool `json:"left_visible"`
	RightVisible bool `json:"right_visible"`
}

// DefaultLayout returns the layout used when nothing was persisted yet.
func DefaultLayout() Layout {
	return Layout{
		LeftWidth:    280,
		RightWidth:   380,
		LeftVisible:  true,
		RightVisible: true,
	}
}

// LayoutStore is the persistence port for layout state.
type LayoutStore interface {
	Load() (Layout, bool, error)
	Save(Layout) error
}

// FileLayoutStore persists the layout as JSON on disk.
type FileLayoutStore struct {
	path string
}

// NewFileLayoutStore creates a store writing to dataDir/layout.json.
func NewFileLayoutStore(dataDir string) *FileLayoutStore {
	return &FileLayoutStore{path: filepath.Join(dataDir, "layout.json")}
}

// Load reads the persisted layout. The second return value is false when no
// layout was saved yet.
func (f *FileLayoutStore) Load() (Layout, bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Layout{}, false, nil
		}
		return Layout{}, false, fmt.Errorf("reading layout: %w", err)
	}
	var l Layout
	if err := json.Unmarshal(data, &l); err != nil {
		return Layout{}, false, fmt.Errorf("parsing layout: %w", err)
	}
	return l, true, nil
}

// Save writes the layout to disk.
func (f *FileLayoutStore) Save(l Layout) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("creating layout dir: %w", err)
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(f.path, data, 0o644)
}

// LayoutManager holds the live layout: read from the store once at init,
// written back on every change.
type LayoutManager struct {
	mu     sync.Mutex
	layout Layout
	store  LayoutStore
}

// NewLayoutManager reads the persisted layout (falling back to defaults) and
// returns a manager around it. A read error falls back to defaults too; the
// store is only required to work for writes.
func NewLayoutManager(store LayoutStore) *LayoutManager {
	layout := DefaultLayout()
	if store != nil {
		if persisted, ok, err := store.Load(); err == nil && ok {
			layout = persisted
		}
	}
	return &LayoutManager{layout: layout, store: store}
}

// Get returns the current layout.
func (m *LayoutManager) Get() Layout {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.layout
}

// Update applies fn to the layout and persists the result.
func (m *LayoutManager) Update(fn func(*Layout)) error {
	m.mu.Lock()
	fn(&m.layout)
	layout := m.layout
	store := m.store
	m.mu.Unlock()

	if store == nil {
		return nil
	}
	return store.Save(layout)
}
