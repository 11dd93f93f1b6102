package docqa

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/brunobiangulo/docqa/chunker"
	"github.com/brunobiangulo/docqa/parser"
	"github.com/brunobiangulo/docqa/store"
)

// IngestOption configures ingestion behavior.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	forceReparse bool
	progress     ProgressFunc
	title        string
	path         string
	documentID   string
}

// WithForceReparse forces re-parsing even if the hash hasn't changed.
func WithForceReparse() IngestOption {
	return func(o *ingestOptions) { o.forceReparse = true }
}

// WithProgress receives stage and page progress while ingesting.
func WithProgress(fn ProgressFunc) IngestOption {
	return func(o *ingestOptions) { o.progress = fn }
}

// WithTitle sets the document title instead of deriving it from the filename.
func WithTitle(title string) IngestOption {
	return func(o *ingestOptions) { o.title = title }
}

func withPath(path string) IngestOption {
	return func(o *ingestOptions) { o.path = path }
}

func withDocumentID(id string) IngestOption {
	return func(o *ingestOptions) { o.documentID = id }
}

// Ingest runs the full pipeline for one PDF.
func (e *engine) Ingest(ctx context.Context, filename string, data []byte, opts ...IngestOption) (*Document, error) {
	o := &ingestOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if !isPDF(data) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
	hash := contentHash(data)

	existing, err := e.targetDocument(ctx, o.documentID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil && !o.forceReparse &&
		existing.Status == store.StatusIndexed && existing.ContentHash == hash {
		slog.Info("ingest: unchanged, skipping", "file", filename, "document", existing.ID)
		reporter{docID: existing.ID, fn: o.progress}.report(StageIndexed, existing.PageCount, existing.PageCount, "document unchanged")
		return existing, nil
	}

	id := uuid.NewString()
	if existing != nil {
		id = existing.ID
	}
	release, err := e.begin(id, hash)
	if err != nil {
		return nil, err
	}
	defer release()

	rep := reporter{docID: id, fn: o.progress}
	rep.report(StageUploading, 0, 0, "storing "+filename)

	if err := os.WriteFile(e.sourcePath(id), data, 0644); err != nil {
		return nil, fmt.Errorf("storing document copy: %w", err)
	}

	doc := Document{
		ID:          id,
		Filename:    filename,
		Title:       o.title,
		Path:        o.path,
		ContentHash: hash,
		Status:      store.StatusProcessing,
	}
	if doc.Title == "" {
		doc.Title = titleFromFilename(filename)
	}
	if doc.Path == "" {
		doc.Path = e.sourcePath(id)
	}
	if existing == nil {
		err = e.store.CreateDocument(ctx, doc)
	} else {
		doc.UploadedAt = existing.UploadedAt
		err = e.store.UpdateDocumentStatus(ctx, id, store.StatusProcessing, "")
	}
	if err != nil {
		return nil, fmt.Errorf("recording document: %w", err)
	}

	slog.Info("ingest: starting", "file", filename, "document", id, "bytes", len(data))
	start := time.Now()

	ing, err := e.buildIngestion(ctx, doc, data, rep)
	if err == nil {
		err = e.store.SaveIngestion(ctx, ing)
		if err != nil {
			err = fmt.Errorf("saving ingestion: %w", err)
		}
	}
	if err != nil {
		e.fail(ctx, id, err, rep)
		return nil, err
	}

	saved, err := e.store.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	slog.Info("ingest: document indexed",
		"file", filename, "document", id,
		"pages", saved.PageCount, "sections", len(ing.Sections),
		"chunks", len(ing.Chunks), "tables", len(ing.Tables),
		"image_only_pages", saved.ImageOnlyPages, "ai_analyzed_pages", saved.AIAnalyzedPages,
		"total_elapsed", time.Since(start).Round(time.Millisecond))
	rep.report(StageIndexed, saved.PageCount, saved.PageCount,
		fmt.Sprintf("indexed %d sections and %d chunks", len(ing.Sections), len(ing.Chunks)))
	return saved, nil
}

// fail moves a document to the error state with no derived data.
func (e *engine) fail(ctx context.Context, id string, cause error, rep reporter) {
	slog.Error("ingest: failed", "document", id, "error", cause)
	rep.report(StageError, 0, 0, cause.Error())
	if err := e.store.FailDocument(context.WithoutCancel(ctx), id, cause.Error()); err != nil {
		slog.Error("ingest: recording failure", "document", id, "error", err)
	}
}

// buildIngestion runs every stage up to, but not including, persistence.
func (e *engine) buildIngestion(ctx context.Context, doc Document, data []byte, rep reporter) (store.Ingestion, error) {
	rep.report(StageAnalyzing, 0, 0, "reading PDF structure")
	src, err := parser.Open(data)
	if err != nil {
		return store.Ingestion{}, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}
	total := src.NumPages()

	extractStart := time.Now()
	pages := make([]parser.Page, total)
	for i := range pages {
		if err := ctx.Err(); err != nil {
			return store.Ingestion{}, err
		}
		n := i + 1
		rep.report(StageExtracting, n, total, fmt.Sprintf("extracting page %d of %d", n, total))
		p, err := src.Page(n)
		if err != nil {
			slog.Warn("ingest: page extraction failed, treating as empty",
				"document", doc.ID, "page", n, "error", err)
		}
		pages[i] = p
	}

	parser.StripRunningLines(pages)
	var tables []parser.Table
	for i := range pages {
		p := &pages[i]
		p.Text = parser.NormalizeText(p.Text)
		p.Class = parser.Classify(p.Text, p.ImageOps)
		if p.Class == parser.ClassText || p.Class == parser.ClassMixed {
			tables = append(tables, parser.ReconstructTables(p.Number, p.Items)...)
		}
	}
	slog.Info("ingest: extraction complete",
		"document", doc.ID, "pages", total, "tables", len(tables),
		"elapsed", time.Since(extractStart).Round(time.Millisecond))

	if err := e.resolveImages(ctx, doc.ID, pages, data, rep); err != nil {
		return store.Ingestion{}, err
	}

	var stats parser.Stats
	for _, p := range pages {
		stats = stats.Add(p)
	}

	rep.report(StageNormalizing, 0, 0, "building sections")
	sections := parser.BuildSections(pages)

	rep.report(StageChunking, 0, 0, fmt.Sprintf("chunking %d sections", len(sections)))
	chunks, sectionMap := e.chunkr.ChunkWithSectionMap(sections)
	for _, w := range chunker.Validate(chunks) {
		slog.Warn("ingest: chunk validation", "document", doc.ID, "warning", w.String())
	}

	if err := ctx.Err(); err != nil {
		return store.Ingestion{}, err
	}
	rep.report(StageIndexing, 0, len(chunks), fmt.Sprintf("embedding %d chunks", len(chunks)))

	ing := store.Ingestion{
		Sections: make([]store.Section, len(sections)),
		Chunks:   chunks,
		Tables:   make([]store.Table, len(tables)),
	}
	for i, s := range sections {
		ing.Sections[i] = store.Section{
			ID:           uuid.NewString(),
			DocumentID:   doc.ID,
			Title:        s.Title,
			Content:      s.Content,
			StartPage:    s.StartPage,
			EndPage:      s.EndPage,
			Order:        s.Order,
			ImageDerived: s.ImageDerived,
			Bullets:      s.Bullets,
		}
	}
	for i := range chunks {
		c := &chunks[i]
		c.ID = uuid.NewString()
		c.DocumentID = doc.ID
		c.SectionID = ing.Sections[sectionMap[i]].ID
		c.Embedding = e.embedder.Embed(c.Content)
	}
	for i, t := range tables {
		ing.Tables[i] = store.Table{
			ID:          uuid.NewString(),
			DocumentID:  doc.ID,
			TableIndex:  i,
			PageNumber:  t.PageNumber,
			Headers:     t.Headers,
			Rows:        t.Rows,
			RowCount:    len(t.Rows),
			ColumnCount: len(t.Headers),
		}
	}

	doc.PageCount = total
	doc.WordCount = stats.Words
	doc.HasImages = stats.HasImages()
	doc.IsImageBased = stats.IsImageBased()
	doc.ImageOnlyPages = stats.ImageOnly
	doc.AIAnalyzedPages = stats.AIAnalyzed
	doc.Status = store.StatusIndexed
	doc.Error = ""
	ing.Document = doc
	return ing, nil
}

// resolveImages fills in descriptions of IMAGE_ONLY and MIXED pages.
func (e *engine) resolveImages(ctx context.Context, docID string, pages []parser.Page, data []byte, rep reporter) error {
	var n int
	for _, p := range pages {
		if p.HasImage() {
			n++
		}
	}
	if n == 0 {
		return nil
	}

	rep.report(StageAIProcessing, 0, n, fmt.Sprintf("analyzing %d image pages", n))
	start := time.Now()

	d, release := e.describer(ctx)
	defer release()
	if d == nil {
		slog.Info("ingest: no vision credential, using placeholders", "document", docID, "pages", n)
	}

	render := func(ctx context.Context, page int, scale float64) ([]byte, error) {
		return e.renderer.RenderPage(ctx, data, page, scale)
	}
	results := e.resolver.ResolveAll(ctx, d, pages, render)

	types := make(map[string]int)
	for i := range pages {
		r, ok := results[pages[i].Number]
		if !ok {
			continue
		}
		pages[i].Description = r.Description
		pages[i].ImageType = r.ImageType
		pages[i].AIAnalyzed = r.AIAnalyzed
		types[r.ImageType]++
	}
	slog.Info("ingest: image pages resolved",
		"document", docID, "pages", n, "types", types,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return ctx.Err()
}

// IngestFile reads a PDF from disk and ingests it.
func (e *engine) IngestFile(ctx context.Context, path string, opts ...IngestOption) (*Document, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	opts = append([]IngestOption{withPath(absPath)}, opts...)
	return e.Ingest(ctx, filepath.Base(absPath), data, opts...)
}

// Update checks if a file has changed and re-ingests it in place if needed.
func (e *engine) Update(ctx context.Context, path string, opts ...IngestOption) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("resolving path: %w", err)
	}

	doc, err := e.store.GetDocumentByPath(ctx, absPath)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, fmt.Errorf("%w: %s", ErrDocumentNotFound, absPath)
		}
		return false, err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return false, fmt.Errorf("reading file: %w", err)
	}
	if contentHash(data) == doc.ContentHash && doc.Status == store.StatusIndexed {
		return false, nil
	}

	opts = append([]IngestOption{withPath(absPath), withDocumentID(doc.ID), WithTitle(doc.Title)}, opts...)
	opts = append(opts, WithForceReparse())
	if _, err := e.Ingest(ctx, filepath.Base(absPath), data, opts...); err != nil {
		return false, err
	}
	return true, nil
}

// Reindex rebuilds a document from the copy kept at upload time.
func (e *engine) Reindex(ctx context.Context, id string, opts ...IngestOption) (*Document, error) {
	doc, err := e.GetDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(e.sourcePath(id))
	if errors.Is(err, os.ErrNotExist) && doc.Path != "" {
		data, err = os.ReadFile(doc.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading stored document: %w", err)
	}

	opts = append([]IngestOption{withPath(doc.Path), withDocumentID(id), WithTitle(doc.Title)}, opts...)
	opts = append(opts, WithForceReparse())
	return e.Ingest(ctx, doc.Filename, data, opts...)
}

// targetDocument finds the row an ingestion should reuse: the given ID,
// else a document with the same content.
func (e *engine) targetDocument(ctx context.Context, id, hash string) (*Document, error) {
	if id != "" {
		return e.GetDocument(ctx, id)
	}
	doc, err := e.store.GetDocumentByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// begin marks a document and its content as being ingested. Both keys are
// held so that a concurrent upload of the same bytes is rejected too.
func (e *engine) begin(id, hash string) (func(), error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	keys := []string{"doc:" + id, "hash:" + hash}
	for _, k := range keys {
		if e.inflight[k] {
			return nil, fmt.Errorf("%w: %s", ErrIngestInProgress, id)
		}
	}
	for _, k := range keys {
		e.inflight[k] = true
	}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for _, k := range keys {
			delete(e.inflight, k)
		}
	}, nil
}

func (e *engine) sourcePath(id string) string {
	return filepath.Join(e.docsDir, id+".pdf")
}

// isPDF checks for the %PDF- header, which readers accept anywhere in the
// first kilobyte.
func isPDF(data []byte) bool {
	return bytes.Contains(data[:min(len(data), 1024)], []byte("%PDF-"))
}

func contentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func titleFromFilename(name string) string {
	base := filepath.Base(name)
	title := strings.TrimSuffix(base, filepath.Ext(base))
	if title == "" {
		return base
	}
	return title
}
