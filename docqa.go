// Package docqa ingests PDF documents into a per-document knowledge base of
// sections, chunks and tables, and answers questions about a document from
// retrieved chunks.
package docqa

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/brunobiangulo/docqa/chunker"
	"github.com/brunobiangulo/docqa/embedding"
	"github.com/brunobiangulo/docqa/export"
	"github.com/brunobiangulo/docqa/llm"
	"github.com/brunobiangulo/docqa/parser"
	"github.com/brunobiangulo/docqa/qa"
	"github.com/brunobiangulo/docqa/retrieval"
	"github.com/brunobiangulo/docqa/store"
	"github.com/brunobiangulo/docqa/vision"
)

// Engine is the main entry point: document ingestion, retrieval and
// question answering. Implementations are safe for concurrent use.
type Engine interface {
	// Ingest parses, classifies, chunks and indexes a PDF. Returns the
	// document. An unchanged document (same content hash) is not
	// re-ingested unless WithForceReparse is given.
	Ingest(ctx context.Context, filename string, data []byte, opts ...IngestOption) (*Document, error)

	// IngestFile reads path and ingests it, recording path on the document.
	IngestFile(ctx context.Context, path string, opts ...IngestOption) (*Document, error)

	// Update re-checks a file by hash and re-ingests it if it changed.
	Update(ctx context.Context, path string, opts ...IngestOption) (bool, error)

	// Reindex rebuilds a document from its stored copy.
	Reindex(ctx context.Context, documentID string, opts ...IngestOption) (*Document, error)

	GetDocument(ctx context.Context, documentID string) (*Document, error)
	ListDocuments(ctx context.Context) ([]Document, error)

	// DeleteDocument removes a document and everything derived from it.
	DeleteDocument(ctx context.Context, documentID string) error

	Sections(ctx context.Context, documentID string) ([]Section, error)
	Tables(ctx context.Context, documentID string) ([]Table, error)

	// ExportTables writes a document's tables as an XLSX workbook.
	ExportTables(ctx context.Context, documentID string, w io.Writer) error

	// Search ranks a document's chunks against query. k <= 0 uses Config.TopK.
	Search(ctx context.Context, documentID, query string, k int) ([]SearchResult, *retrieval.SearchTrace, error)

	// Context assembles the top k chunks into a prompt context block.
	Context(ctx context.Context, documentID, query string, k int) (string, error)

	// Ask answers a question about a document with the selected provider.
	Ask(ctx context.Context, req AskRequest) (*Answer, error)

	ChatHistory(ctx context.Context, documentID, provider string) (*ChatHistory, error)
	ClearChatHistory(ctx context.Context, documentID, provider string) error

	// SetAPIKey stores a provider credential; an empty key removes it.
	SetAPIKey(ctx context.Context, provider, key string) error

	// APIKeyStatus reports, per known provider, whether a credential is
	// available from configuration or settings.
	APIKeyStatus(ctx context.Context) (map[string]bool, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close cleanly shuts down the engine.
	Close() error
}

type (
	Document     = store.Document
	Section      = store.Section
	Table        = store.Table
	ChatHistory  = store.ChatHistory
	SearchResult = retrieval.Result
	Answer       = qa.Answer
)

// AskRequest is a question about one document. Provider and Model default
// to the configured chat provider; TopK defaults to Config.TopK.
type AskRequest struct {
	DocumentID string `json:"document_id"`
	Question   string `json:"question"`
	Provider   string `json:"provider,omitempty"`
	Model      string `json:"model,omitempty"`
	TopK       int    `json:"top_k,omitempty"`
}

// Option customizes engine collaborators.
type Option func(*engine)

// WithRenderer replaces the pdftoppm page renderer.
func WithRenderer(r parser.Renderer) Option {
	return func(e *engine) { e.renderer = r }
}

// WithDescriber uses d for image pages instead of the configured vision
// provider.
func WithDescriber(d vision.Describer) Option {
	return func(e *engine) { e.describerOverride = d }
}

// WithChatProvider registers a chat provider under name, bypassing
// configuration and credential lookup for that name.
func WithChatProvider(name string, p llm.Provider) Option {
	return func(e *engine) { e.chatOverrides[name] = p }
}

// WithEmbedder replaces the hash embedder.
func WithEmbedder(emb embedding.Embedder) Option {
	return func(e *engine) { e.embedder = emb }
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg       Config
	docsDir   string
	store     *store.Store
	chunkr    *chunker.Chunker
	embedder  embedding.Embedder
	retriever *retrieval.Engine
	resolver  *vision.Resolver
	renderer  parser.Renderer
	answerer  *qa.Answerer

	describerOverride vision.Describer
	chatOverrides     map[string]llm.Provider

	mu       sync.Mutex
	inflight map[string]bool
}

// New creates a docqa engine with the given configuration.
func New(cfg Config, opts ...Option) (Engine, error) {
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = embedding.DefaultDim
	}
	if cfg.TopK <= 0 {
		cfg.TopK = retrieval.DefaultTopK
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := store.New(cfg.resolveDBPath(), cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	docsDir := cfg.resolveDocumentsDir()
	if err := os.MkdirAll(docsDir, 0755); err != nil {
		s.Close()
		return nil, fmt.Errorf("creating documents directory: %w", err)
	}

	e := &engine{
		cfg:     cfg,
		docsDir: docsDir,
		store:   s,
		chunkr: chunker.New(chunker.Config{
			TargetSize: cfg.ChunkTargetSize,
			MaxSize:    cfg.ChunkMaxSize,
			Overlap:    cfg.ChunkOverlap,
		}),
		embedder: embedding.NewHashEmbedder(cfg.EmbeddingDim),
		resolver: vision.NewResolver(vision.Options{
			RenderScale: cfg.RenderScale,
			Concurrency: cfg.VisionConcurrency,
			Timeout:     time.Duration(cfg.VisionTimeoutSec) * time.Second,
			RatePerMin:  cfg.VisionRatePerMin,
		}),
		renderer:      parser.PopplerRenderer{Binary: cfg.PdftoppmPath},
		answerer:      qa.New(s, cfg.HistoryTurns),
		chatOverrides: make(map[string]llm.Provider),
		inflight:      make(map[string]bool),
	}
	for _, o := range opts {
		o(e)
	}
	if e.embedder.Dim() != cfg.EmbeddingDim {
		s.Close()
		return nil, fmt.Errorf("%w: embedder dimension %d does not match embedding_dim %d",
			ErrInvalidConfig, e.embedder.Dim(), cfg.EmbeddingDim)
	}
	e.retriever = retrieval.New(s, e.embedder)

	if pr, ok := e.renderer.(parser.PopplerRenderer); ok && !pr.Available() {
		slog.Warn("page renderer not found, image pages will use fallback text",
			"binary", cfg.PdftoppmPath)
	}
	return e, nil
}

func (e *engine) GetDocument(ctx context.Context, id string) (*Document, error) {
	doc, err := e.store.GetDocument(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
	}
	return doc, err
}

func (e *engine) ListDocuments(ctx context.Context) ([]Document, error) {
	return e.store.ListDocuments(ctx)
}

func (e *engine) DeleteDocument(ctx context.Context, id string) error {
	if err := e.store.DeleteDocument(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrDocumentNotFound, id)
		}
		return fmt.Errorf("deleting document: %w", err)
	}
	if err := os.Remove(e.sourcePath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("removing stored document copy", "document", id, "error", err)
	}
	slog.Info("document deleted", "document", id)
	return nil
}

func (e *engine) Sections(ctx context.Context, id string) ([]Section, error) {
	if _, err := e.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListSectionsByDocument(ctx, id)
}

func (e *engine) Tables(ctx context.Context, id string) ([]Table, error) {
	if _, err := e.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	return e.store.ListTablesByDocument(ctx, id)
}

func (e *engine) ExportTables(ctx context.Context, id string, w io.Writer) error {
	tables, err := e.Tables(ctx, id)
	if err != nil {
		return err
	}
	return export.WriteXLSX(w, tables)
}

func (e *engine) Search(ctx context.Context, id, query string, k int) ([]SearchResult, *retrieval.SearchTrace, error) {
	if _, err := e.GetDocument(ctx, id); err != nil {
		return nil, nil, err
	}
	if k <= 0 {
		k = e.cfg.TopK
	}
	return e.retriever.Search(ctx, id, query, k)
}

func (e *engine) Context(ctx context.Context, id, query string, k int) (string, error) {
	results, _, err := e.Search(ctx, id, query, k)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", ErrNoResults
	}
	return retrieval.BuildContext(results), nil
}

func (e *engine) Ask(ctx context.Context, req AskRequest) (*Answer, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, qa.ErrEmptyQuestion)
	}
	doc, err := e.GetDocument(ctx, req.DocumentID)
	if err != nil {
		return nil, err
	}
	if doc.Status != store.StatusIndexed {
		return nil, fmt.Errorf("%w: document %s is %s", ErrNoResults, doc.ID, doc.Status)
	}

	provider := req.Provider
	if provider == "" {
		provider = e.cfg.Chat.Provider
	}
	chat, model, closeFn, err := e.chatProvider(ctx, provider)
	if err != nil {
		return nil, err
	}
	defer closeFn()
	if req.Model != "" {
		model = req.Model
	}

	results, _, err := e.Search(ctx, req.DocumentID, req.Question, req.TopK)
	if err != nil {
		return nil, err
	}

	ans, err := e.answerer.Ask(ctx, chat, qa.Request{
		DocumentID: req.DocumentID,
		Provider:   provider,
		Model:      model,
		Question:   req.Question,
		Results:    results,
	})
	switch {
	case errors.Is(err, qa.ErrChatFailed):
		return nil, fmt.Errorf("%w: %w", ErrLLMRequestFailed, err)
	case errors.Is(err, qa.ErrEmptyQuestion):
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	case err != nil:
		return nil, err
	}
	return ans, nil
}

func (e *engine) ChatHistory(ctx context.Context, id, provider string) (*ChatHistory, error) {
	if _, err := e.GetDocument(ctx, id); err != nil {
		return nil, err
	}
	if provider == "" {
		provider = e.cfg.Chat.Provider
	}
	return e.store.GetChatHistory(ctx, id, provider)
}

// ClearChatHistory removes one provider's conversation, or every
// conversation of the document when provider is empty.
func (e *engine) ClearChatHistory(ctx context.Context, id, provider string) error {
	if _, err := e.GetDocument(ctx, id); err != nil {
		return err
	}
	return e.store.DeleteChatHistory(ctx, id, provider)
}

const apiKeySettingPrefix = "api_key."

func (e *engine) SetAPIKey(ctx context.Context, provider, key string) error {
	if !knownProvider(provider) {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, provider)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return e.store.DeleteSetting(ctx, apiKeySettingPrefix+provider)
	}
	return e.store.SetSetting(ctx, apiKeySettingPrefix+provider, key)
}

func (e *engine) APIKeyStatus(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	for _, name := range llm.Providers() {
		key, err := e.apiKey(ctx, name, e.providerConfig(name).APIKey)
		if err != nil {
			return nil, err
		}
		out[name] = key != "" || !llm.RequiresAPIKey(name)
	}
	return out, nil
}

func (e *engine) Store() *store.Store {
	return e.store
}

func (e *engine) Close() error {
	return e.store.Close()
}

func knownProvider(name string) bool {
	return slices.Contains(llm.Providers(), name)
}

// providerConfig returns the configured endpoint for a provider name.
func (e *engine) providerConfig(name string) LLMConfig {
	if name == e.cfg.Chat.Provider {
		return e.cfg.Chat
	}
	if c, ok := e.cfg.Providers[name]; ok {
		c.Provider = name
		return c
	}
	if name == e.cfg.Vision.Provider {
		return e.cfg.Vision
	}
	return LLMConfig{Provider: name}
}

// apiKey returns the configured key, else the stored setting.
func (e *engine) apiKey(ctx context.Context, provider, configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	key, err := e.store.GetSetting(ctx, apiKeySettingPrefix+provider)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	return key, err
}

// chatProvider builds the provider for a question. The returned func
// releases it.
func (e *engine) chatProvider(ctx context.Context, name string) (llm.Provider, string, func(), error) {
	noop := func() {}
	if p, ok := e.chatOverrides[name]; ok {
		return p, "", noop, nil
	}

	pc := e.providerConfig(name)
	key, err := e.apiKey(ctx, name, pc.APIKey)
	if err != nil {
		return nil, "", noop, err
	}
	if key == "" && llm.RequiresAPIKey(name) {
		return nil, "", noop, fmt.Errorf("%w: no API key for %s", ErrProviderNotConfigured, name)
	}

	p, err := llm.NewProvider(llm.Config{
		Provider: name,
		Model:    pc.Model,
		BaseURL:  pc.BaseURL,
		APIKey:   key,
	})
	if err != nil {
		return nil, "", noop, fmt.Errorf("%w: %v", ErrProviderNotConfigured, err)
	}
	return p, pc.Model, closer(p), nil
}

// describer returns the image describer for an ingestion run, or nil when
// no credential is available. The returned func releases it.
func (e *engine) describer(ctx context.Context) (vision.Describer, func()) {
	noop := func() {}
	if e.describerOverride != nil {
		return e.describerOverride, noop
	}
	vc := e.cfg.Vision
	if vc.Provider == "" {
		return nil, noop
	}
	key, err := e.apiKey(ctx, vc.Provider, vc.APIKey)
	if err != nil {
		slog.Warn("vision: credential lookup failed", "provider", vc.Provider, "error", err)
		return nil, noop
	}
	if key == "" && llm.RequiresAPIKey(vc.Provider) {
		return nil, noop
	}
	p, err := llm.NewProvider(llm.Config{
		Provider: vc.Provider,
		Model:    vc.Model,
		BaseURL:  vc.BaseURL,
		APIKey:   key,
	})
	if err != nil {
		slog.Warn("vision: provider unavailable", "provider", vc.Provider, "error", err)
		return nil, noop
	}
	return vision.ProviderDescriber{Provider: p, Model: vc.Model}, closer(p)
}

func closer(p any) func() {
	if c, ok := p.(io.Closer); ok {
		return func() { c.Close() }
	}
	return func() {}
}
