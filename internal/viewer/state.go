package viewer

import (
	"math"
	"sync"
)

// Zoom bounds and step. Zoom is independent of page navigation.
const (
	minScale  = 0.5
	maxScale  = 3.0
	zoomStep  = 1.2
	baseScale = 1.0
)

// State is the single source of truth for page navigation. Five independent
// writers (prev/next, manual page jump, outline click, thumbnail click, the
// citation resolver) funnel into SetTargetPage; the one reader consumes the
// target exactly once via ConsumeTarget.
type State struct {
	mu             sync.Mutex
	url            string
	currentPage    int
	targetPage     int // 0 = no pending request
	numPages       int // 0 = unknown
	scale          float64
	outlineVisible bool
}

// Snapshot is an immutable copy of the navigation state.
type Snapshot struct {
	URL            string  `json:"url,omitempty"`
	CurrentPage    int     `json:"current_page"`
	TargetPage     int     `json:"target_page,omitempty"`
	NumPages       int     `json:"num_pages,omitempty"`
	Scale          float64 `json:"scale"`
	OutlineVisible bool    `json:"outline_visible"`
}

// NewState creates a State at page 1, scale 1.0, with no document loaded.
func NewState() *State {
	return &State{currentPage: 1, scale: baseScale}
}

// Snapshot returns a copy of the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		URL:            s.url,
		CurrentPage:    s.currentPage,
		TargetPage:     s.targetPage,
		NumPages:       s.numPages,
		Scale:          s.scale,
		OutlineVisible: s.outlineVisible,
	}
}

// SetTargetPage requests navigation to page p. Out-of-range requests are
// rejected silently, preserving current state; the return value only reports
// acceptance so callers can log. When the page count is still unknown any
// p >= 1 is accepted, so a citation can target a page while its document
// loads. If several writers race within one cycle, the last accepted write
// wins.
func (s *State) SetTargetPage(p int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p < 1 {
		return false
	}
	if s.numPages > 0 && p > s.numPages {
		return false
	}
	s.targetPage = p
	return true
}

// ConsumeTarget atomically resolves a pending navigation request: the target
// page becomes the current page and the request slot is cleared. Returns
// (0, false) when no request is pending, so repeated calls after consumption
// never re-trigger navigation.
func (s *State) ConsumeTarget() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.targetPage == 0 {
		return 0, false
	}
	s.currentPage = s.targetPage
	s.targetPage = 0
	return s.currentPage, true
}

// Next requests the page after the current one.
func (s *State) Next() bool {
	s.mu.Lock()
	p := s.currentPage + 1
	s.mu.Unlock()
	return s.SetTargetPage(p)
}

// Prev requests the page before the current one.
func (s *State) Prev() bool {
	s.mu.Lock()
	p := s.currentPage - 1
	s.mu.Unlock()
	return s.SetTargetPage(p)
}

// SetSource points the viewer at a new document URL. The page count becomes
// unknown until the document loads.
func (s *State) SetSource(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if url == s.url {
		return
	}
	s.url = url
	s.numPages = 0
}

// DocumentLoaded records a successful load: the page count is set and the
// current page resets to 1. A pending target survives, so navigation issued
// during the load still lands.
func (s *State) DocumentLoaded(url string, numPages int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.url = url
	s.numPages = numPages
	s.currentPage = 1
	if s.targetPage > numPages {
		s.targetPage = 0
	}
}

// LoadFailed resets the page count to unknown.
func (s *State) LoadFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.numPages = 0
}

// ZoomIn multiplies the scale by the zoom step, clamped to the maximum.
func (s *State) ZoomIn() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scale = math.Min(s.scale*zoomStep, maxScale)
	return s.scale
}

// ZoomOut divides the scale by the zoom step, clamped to the minimum.
func (s *State) ZoomOut() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scale = math.Max(s.scale/zoomStep, minScale)
	return s.scale
}

// ResetZoom restores the scale to 1.0.
func (s *State) ResetZoom() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scale = baseScale
	return s.scale
}

// ToggleOutline flips outline visibility and returns the new value.
func (s *State) ToggleOutline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlineVisible = !s.outlineVisible
	return s.outlineVisible
}
