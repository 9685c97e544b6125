// Package api exposes the chat, session, and viewer state over HTTP so a UI
// process can drive them, plus an MCP server for editor integrations.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"ragdesk/internal/backend"
	"ragdesk/internal/chat"
	"ragdesk/internal/citation"
	"ragdesk/internal/session"
	"ragdesk/internal/storage"
	"ragdesk/internal/viewer"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxUploadBodySize = 50 << 20 // 50MB

// QueryRequest is the body of POST /query.
type QueryRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode"`
}

// Submitter runs one query through the orchestrator.
type Submitter interface {
	Submit(ctx context.Context, text string, mode chat.Mode) (chat.Turn, error)
}

// CitationResolver resolves a chunk into a document location.
type CitationResolver interface {
	Resolve(ctx context.Context, chunk backend.Chunk) (citation.Citation, error)
}

// TranscriptReader lists persisted conversation turns.
type TranscriptReader interface {
	ListTurns(limit int) ([]storage.TurnRecord, error)
}

// Deps holds everything the HTTP layer drives.
type Deps struct {
	Orchestrator Submitter
	Session      *session.Session
	Viewer       *viewer.Viewer
	Resolver     CitationResolver
	Library      *backend.Client
	Transcript   TranscriptReader // optional; if nil, /history returns 404
	Layout       *session.LayoutManager
}

// NewHandler returns the HTTP API router.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Get("/retrievers", handleListRetrievers(deps))
	r.Post("/retrievers/select", handleSelectRetriever(deps))
	r.Post("/retrievers/refresh", handleRefresh(deps))

	r.Get("/retriever/documents", handleMembership(deps))
	r.Post("/retriever/documents", handleAddMember(deps))
	r.Delete("/retriever/documents/{id}", handleRemoveMember(deps))

	r.Get("/documents", handleListDocuments(deps))
	r.Post("/documents", handleUploadDocument(deps))
	r.Delete("/documents/{id}", handleDeleteDocument(deps))

	r.Post("/query", handleQuery(deps))
	r.Get("/history", handleHistory(deps))

	r.Post("/citations/resolve", handleResolveCitation(deps))

	r.Get("/viewer", handleViewerState(deps))
	r.Post("/viewer/goto", handleViewerGoto(deps))
	r.Post("/viewer/next", handleViewerNav(deps, func(s *viewer.State) { s.Next() }))
	r.Post("/viewer/prev", handleViewerNav(deps, func(s *viewer.State) { s.Prev() }))
	r.Post("/viewer/zoom-in", handleViewerNav(deps, func(s *viewer.State) { s.ZoomIn() }))
	r.Post("/viewer/zoom-out", handleViewerNav(deps, func(s *viewer.State) { s.ZoomOut() }))
	r.Post("/viewer/zoom-reset", handleViewerNav(deps, func(s *viewer.State) { s.ResetZoom() }))
	r.Post("/viewer/outline", handleViewerNav(deps, func(s *viewer.State) { s.ToggleOutline() }))
	r.Post("/viewer/consume", handleViewerConsume(deps))

	r.Get("/layout", handleGetLayout(deps))
	r.Patch("/layout", handlePatchLayout(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleListRetrievers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		selected, _ := deps.Session.SelectedName()
		writeJSON(w, map[string]any{
			"retrievers": deps.Session.Retrievers(),
			"selected":   selected,
		})
	}
}

func handleSelectRetriever(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if req.Name == "" {
			deps.Session.ClearSelection()
			writeJSON(w, map[string]string{"status": "cleared"})
			return
		}
		if err := deps.Session.Select(r.Context(), req.Name); err != nil {
			if errors.Is(err, session.ErrUnknownRetriever) {
				httpError(w, http.StatusNotFound, "not_found", "unknown retriever %q", req.Name)
				return
			}
			httpError(w, http.StatusBadGateway, "api_error", "selecting retriever: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "selected", "name": req.Name})
	}
}

func handleRefresh(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Session.Refresh(r.Context()); err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "refreshing session: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "refreshed"})
	}
}

func handleMembership(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := deps.Session.SelectedName(); !ok {
			httpError(w, http.StatusConflict, "no_selection", "no retriever selected")
			return
		}
		writeJSON(w, deps.Session.Documents())
	}
}

func handleAddMember(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			DocumentID int `json:"document_id"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		if err := deps.Session.AddDocument(r.Context(), req.DocumentID); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, deps.Session.Documents())
	}
}

func handleRemoveMember(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid document id")
			return
		}
		if err := deps.Session.RemoveDocument(r.Context(), id); err != nil {
			writeSessionError(w, err)
			return
		}
		writeJSON(w, deps.Session.Documents())
	}
}

func writeSessionError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrNoSelection) {
		httpError(w, http.StatusConflict, "no_selection", "no retriever selected")
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "%v", err)
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		docs, err := deps.Library.ListDocuments(r.Context())
		if err != nil {
			writeBackendError(w, err)
			return
		}
		if docs == nil {
			docs = []backend.DocumentItem{}
		}
		writeJSON(w, docs)
	}
}

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBodySize)
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required: %v", err)
			return
		}
		defer file.Close()

		msg, err := deps.Library.UploadDocument(r.Context(), header.Filename, file)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "uploaded", "message": msg})
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid document id")
			return
		}
		if err := deps.Library.DeleteDocument(r.Context(), id); err != nil {
			writeBackendError(w, err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req QueryRequest
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		mode := chat.Mode(req.Mode)
		if req.Mode == "" {
			mode = chat.ModeRetrieve
		}

		answer, err := deps.Orchestrator.Submit(r.Context(), req.Text, mode)
		if err != nil {
			switch {
			case errors.Is(err, chat.ErrEmptyQuery),
				errors.Is(err, chat.ErrUnknownMode):
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			case errors.Is(err, chat.ErrNoRetrieverSelected):
				httpError(w, http.StatusConflict, "no_selection", "%v", err)
			default:
				writeBackendError(w, err)
			}
			return
		}
		writeJSON(w, answer)
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Transcript == nil {
			httpError(w, http.StatusNotFound, "not_found", "transcript persistence is disabled")
			return
		}
		limit := parseIntParam(r, "limit", 0, 1000)
		records, err := deps.Transcript.ListTurns(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing history: %v", err)
			return
		}
		if records == nil {
			records = []storage.TurnRecord{}
		}
		writeJSON(w, records)
	}
}

func handleResolveCitation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var chunk backend.Chunk
		if err := decodeBody(w, r, &chunk); err != nil {
			return
		}
		cit, err := deps.Resolver.Resolve(r.Context(), chunk)
		if err != nil {
			writeBackendError(w, err)
			return
		}
		writeJSON(w, cit)
	}
}

func handleViewerState(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"state":    deps.Viewer.State.Snapshot(),
			"document": deps.Viewer.Document(),
		})
	}
}

func handleViewerGoto(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Page int `json:"page"`
			// Trigger source (outline, thumbnail, manual, citation); logged only.
			Source string `json:"source,omitempty"`
		}
		if err := decodeBody(w, r, &req); err != nil {
			return
		}
		accepted := deps.Viewer.State.SetTargetPage(req.Page)
		if !accepted {
			slog.Debug("page request rejected", "page", req.Page, "source", req.Source)
		}
		writeJSON(w, map[string]any{
			"accepted": accepted,
			"state":    deps.Viewer.State.Snapshot(),
		})
	}
}

func handleViewerNav(deps Deps, apply func(*viewer.State)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		apply(deps.Viewer.State)
		writeJSON(w, deps.Viewer.State.Snapshot())
	}
}

func handleViewerConsume(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, ok := deps.Viewer.State.ConsumeTarget()
		writeJSON(w, map[string]any{"page": page, "pending": ok})
	}
}

func handleGetLayout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Layout.Get())
	}
}

func handlePatchLayout(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var fields map[string]json.RawMessage
		if err := decodeBody(w, r, &fields); err != nil {
			return
		}
		err := deps.Layout.Update(func(l *Layout) { applyLayoutFields(l, fields) })
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving layout: %v", err)
			return
		}
		writeJSON(w, deps.Layout.Get())
	}
}

// Layout aliases the session type so the patch helper reads naturally.
type Layout = session.Layout

func applyLayoutFields(l *Layout, fields map[string]json.RawMessage) {
	for key, raw := range fields {
		switch key {
		case "left_width":
			json.Unmarshal(raw, &l.LeftWidth)
		case "right_width":
			json.Unmarshal(raw, &l.RightWidth)
		case "left_visible":
			json.Unmarshal(raw, &l.LeftVisible)
		case "right_visible":
			json.Unmarshal(raw, &l.RightVisible)
		}
	}
}

func writeBackendError(w http.ResponseWriter, err error) {
	if errors.Is(err, backend.ErrNotConfigured) {
		httpError(w, http.StatusServiceUnavailable, "not_configured", "%v", err)
		return
	}
	httpError(w, http.StatusBadGateway, "api_error", "%v", err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
