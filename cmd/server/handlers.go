package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/docqa"
)

const maxUploadBytes = 200 << 20

type handler struct {
	engine docqa.Engine
}

func newHandler(e docqa.Engine) *handler {
	return &handler{engine: e}
}

func (h *handler) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /documents", h.handleUpload)
	mux.HandleFunc("GET /documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}", h.handleGetDocument)
	mux.HandleFunc("DELETE /documents/{id}", h.handleDeleteDocument)
	mux.HandleFunc("POST /documents/{id}/reindex", h.handleReindex)
	mux.HandleFunc("GET /documents/{id}/sections", h.handleSections)
	mux.HandleFunc("GET /documents/{id}/tables", h.handleTables)
	mux.HandleFunc("GET /documents/{id}/tables.xlsx", h.handleExportTables)
	mux.HandleFunc("POST /documents/{id}/search", h.handleSearch)
	mux.HandleFunc("POST /documents/{id}/context", h.handleContext)
	mux.HandleFunc("POST /documents/{id}/ask", h.handleAsk)
	mux.HandleFunc("GET /documents/{id}/chat", h.handleChatHistory)
	mux.HandleFunc("DELETE /documents/{id}/chat", h.handleClearChat)
	mux.HandleFunc("GET /settings/api-keys", h.handleAPIKeyStatus)
	mux.HandleFunc("PUT /settings/api-keys", h.handleSetAPIKey)
	mux.HandleFunc("GET /health", h.handleHealth)
	return mux
}

// POST /documents
// Multipart upload with a "file" field. With ?stream=1 (or an
// application/x-ndjson Accept header) progress events are streamed as
// newline-delimited JSON, ending with a "done" or "error" event.
func (h *handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read upload")
		slog.Error("reading upload", "error", err)
		return
	}

	// Sanitise filename to prevent path traversal.
	name := filepath.Base(header.Filename)

	var opts []docqa.IngestOption
	if force, _ := strconv.ParseBool(r.FormValue("force")); force {
		opts = append(opts, docqa.WithForceReparse())
	}
	if title := strings.TrimSpace(r.FormValue("title")); title != "" {
		opts = append(opts, docqa.WithTitle(title))
	}

	if !wantsStream(r) {
		doc, err := h.engine.Ingest(ctx, name, data, opts...)
		if err != nil {
			writeEngineError(w, "ingestion failed", err)
			return
		}
		writeJSON(w, http.StatusCreated, doc)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	stream := newEventStream(w)

	// Failures end the stream with the single error event written below.
	opts = append(opts, docqa.WithProgress(func(p docqa.Progress) {
		if p.Stage != docqa.StageError {
			stream.send(p)
		}
	}))
	doc, err := h.engine.Ingest(ctx, name, data, opts...)
	if err != nil {
		slog.Error("ingest error", "file", name, "error", err)
		stream.send(map[string]any{"stage": "error", "error": err.Error()})
		return
	}
	stream.send(map[string]any{"stage": "done", "document": doc})
}

func wantsStream(r *http.Request) bool {
	if s, _ := strconv.ParseBool(r.URL.Query().Get("stream")); s {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "application/x-ndjson")
}

// eventStream writes one JSON value per line and flushes after each.
type eventStream struct {
	mu      sync.Mutex
	enc     *json.Encoder
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	f, _ := w.(http.Flusher)
	return &eventStream{enc: json.NewEncoder(w), flusher: f}
}

func (s *eventStream) send(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		slog.Debug("progress stream write failed", "error", err)
		return
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// GET /documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	docs, err := h.engine.ListDocuments(r.Context())
	if err != nil {
		writeEngineError(w, "failed to list documents", err)
		return
	}
	if docs == nil {
		docs = []docqa.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"documents": docs,
	})
}

// GET /documents/{id}
func (h *handler) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.engine.GetDocument(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to get document", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// DELETE /documents/{id}
func (h *handler) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.engine.DeleteDocument(r.Context(), id); err != nil {
		writeEngineError(w, "delete failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// POST /documents/{id}/reindex
func (h *handler) handleReindex(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	doc, err := h.engine.Reindex(ctx, r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "reindex failed", err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// GET /documents/{id}/sections
func (h *handler) handleSections(w http.ResponseWriter, r *http.Request) {
	sections, err := h.engine.Sections(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to list sections", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

// GET /documents/{id}/tables
func (h *handler) handleTables(w http.ResponseWriter, r *http.Request) {
	tables, err := h.engine.Tables(r.Context(), r.PathValue("id"))
	if err != nil {
		writeEngineError(w, "failed to list tables", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tables": tables})
}

// GET /documents/{id}/tables.xlsx
func (h *handler) handleExportTables(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	doc, err := h.engine.GetDocument(r.Context(), id)
	if err != nil {
		writeEngineError(w, "export failed", err)
		return
	}

	// Render fully before writing headers so errors still get a JSON body.
	var buf bytes.Buffer
	if err := h.engine.ExportTables(r.Context(), id, &buf); err != nil {
		writeEngineError(w, "export failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Title+`-tables.xlsx"`)
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k,omitempty"`
}

func decodeQuery(w http.ResponseWriter, r *http.Request) (queryRequest, bool) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return req, false
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return req, false
	}
	// Bound parameters.
	if req.TopK < 0 || req.TopK > 50 {
		req.TopK = 0 // use default
	}
	return req, true
}

// POST /documents/{id}/search
func (h *handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	results, trace, err := h.engine.Search(r.Context(), r.PathValue("id"), req.Query, req.TopK)
	if err != nil {
		writeEngineError(w, "search failed", err)
		return
	}
	if results == nil {
		results = []docqa.SearchResult{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"results": results,
		"trace":   trace,
	})
}

// POST /documents/{id}/context
func (h *handler) handleContext(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuery(w, r)
	if !ok {
		return
	}
	text, err := h.engine.Context(r.Context(), r.PathValue("id"), req.Query, req.TopK)
	if err != nil {
		writeEngineError(w, "context assembly failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"context": text})
}

// POST /documents/{id}/ask
func (h *handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	var req docqa.AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "question is required")
		return
	}
	if req.TopK < 0 || req.TopK > 50 {
		req.TopK = 0
	}
	req.DocumentID = r.PathValue("id")

	answer, err := h.engine.Ask(ctx, req)
	if err != nil {
		writeEngineError(w, "question failed", err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

// GET /documents/{id}/chat?provider=
func (h *handler) handleChatHistory(w http.ResponseWriter, r *http.Request) {
	hist, err := h.engine.ChatHistory(r.Context(), r.PathValue("id"), r.URL.Query().Get("provider"))
	if err != nil {
		writeEngineError(w, "failed to load chat history", err)
		return
	}
	writeJSON(w, http.StatusOK, hist)
}

// DELETE /documents/{id}/chat?provider=
func (h *handler) handleClearChat(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ClearChatHistory(r.Context(), r.PathValue("id"), r.URL.Query().Get("provider")); err != nil {
		writeEngineError(w, "failed to clear chat history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

// GET /settings/api-keys
func (h *handler) handleAPIKeyStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.engine.APIKeyStatus(r.Context())
	if err != nil {
		writeEngineError(w, "failed to read settings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"providers": status})
}

// PUT /settings/api-keys
// Keys are write-only: responses never echo them.
func (h *handler) handleSetAPIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		APIKey   string `json:"api_key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := h.engine.SetAPIKey(r.Context(), req.Provider, req.APIKey); err != nil {
		writeEngineError(w, "failed to store api key", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"provider":   req.Provider,
		"configured": strings.TrimSpace(req.APIKey) != "",
	})
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, docqa.ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, docqa.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, docqa.ErrParsingFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, docqa.ErrIngestInProgress):
		return http.StatusConflict
	case errors.Is(err, docqa.ErrProviderNotConfigured), errors.Is(err, docqa.ErrInvalidConfig),
		errors.Is(err, docqa.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, docqa.ErrNoResults):
		return http.StatusNotFound
	case errors.Is(err, docqa.ErrLLMRequestFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeEngineError logs err and replies with a status derived from it.
// Client errors carry the error text; server errors only msg.
func writeEngineError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		slog.Error(msg, "error", err)
		writeError(w, status, msg)
		return
	}
	slog.Warn(msg, "status", status, "error", err)
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
