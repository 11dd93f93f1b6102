//go:build cgo

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := New(dbPath, 4) // dim=4 for test vectors
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createDoc(t *testing.T, s *Store, id string) Document {
	t.Helper()
	doc := Document{
		ID:          id,
		Filename:    id + ".pdf",
		Title:       id,
		Path:        "/docs/" + id + ".pdf",
		ContentHash: "hash-" + id,
	}
	if err := s.CreateDocument(context.Background(), doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	return doc
}

func sampleIngestion(doc Document) Ingestion {
	doc.Status = StatusIndexed
	doc.PageCount = 3
	doc.WordCount = 120
	doc.HasImages = true
	doc.ImageOnlyPages = 1
	doc.AIAnalyzedPages = 1
	return Ingestion{
		Document: doc,
		Sections: []Section{
			{ID: doc.ID + "-s1", DocumentID: doc.ID, Title: "Overview", Content: "Intro text.", StartPage: 1, EndPage: 1, Order: 0, Bullets: []string{"Intro text."}},
			{ID: doc.ID + "-s2", DocumentID: doc.ID, Title: "Visual Content (Page 2)", Content: "A chart.", StartPage: 2, EndPage: 2, Order: 1, ImageDerived: true},
		},
		Chunks: []Chunk{
			{ID: doc.ID + "-c1", DocumentID: doc.ID, SectionID: doc.ID + "-s1", SectionTitle: "Overview", Content: "Intro text.", ChunkIndex: 0, StartPage: 1, EndPage: 1, Embedding: []float32{1, 0, 0, 0}, ContentHash: "h1"},
			{ID: doc.ID + "-c2", DocumentID: doc.ID, SectionID: doc.ID + "-s2", SectionTitle: "Visual Content (Page 2)", Content: "A chart.", ChunkIndex: 1, StartPage: 2, EndPage: 2, ImageDerived: true, Embedding: []float32{0, 0.5, 0.5, 0}, ContentHash: "h2"},
		},
		Tables: []Table{
			{ID: doc.ID + "-t1", DocumentID: doc.ID, TableIndex: 0, PageNumber: 3, Headers: []string{"a", "b"}, Rows: [][]string{{"1", "2"}, {"3", "-"}}, RowCount: 2, ColumnCount: 2},
		},
	}
}

func TestNew(t *testing.T) {
	s := newTestStore(t)
	if s.EmbeddingDim() != 4 {
		t.Fatalf("expected embedding dim 4, got %d", s.EmbeddingDim())
	}
	if s.DB() == nil {
		t.Fatal("expected non-nil *sql.DB")
	}
}

func TestNewCreatesParentDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sub", "dir", "test.db")
	s, err := New(dbPath, 4)
	if err != nil {
		t.Fatalf("creating store in nested dir: %v", err)
	}
	s.Close()
}

func TestMigrateIdempotent(t *testing.T) {
	s := newTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	var n int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != len(migrations) {
		t.Errorf("schema_version has %d rows, want %d", n, len(migrations))
	}
}

func TestDocumentCRUD(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "d1")

	got, err := s.GetDocument(ctx, "d1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != StatusProcessing || got.Filename != "d1.pdf" {
		t.Errorf("document = %+v", got)
	}
	if got.UploadedAt.IsZero() || time.Since(got.UploadedAt) > time.Minute {
		t.Errorf("UploadedAt = %v", got.UploadedAt)
	}

	if _, err := s.GetDocument(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing document error = %v, want ErrNotFound", err)
	}

	byHash, err := s.GetDocumentByHash(ctx, "hash-d1")
	if err != nil || byHash.ID != "d1" {
		t.Errorf("GetDocumentByHash = %v, %v", byHash, err)
	}

	byPath, err := s.GetDocumentByPath(ctx, "/docs/d1.pdf")
	if err != nil || byPath.ID != "d1" {
		t.Errorf("GetDocumentByPath = %v, %v", byPath, err)
	}
	if _, err := s.GetDocumentByPath(ctx, "/docs/none.pdf"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDocumentByPath missing = %v, want ErrNotFound", err)
	}

	if err := s.UpdateDocumentStatus(ctx, "d1", StatusError, "bad pdf"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetDocument(ctx, "d1")
	if got.Status != StatusError || got.Error != "bad pdf" {
		t.Errorf("status = %q/%q", got.Status, got.Error)
	}
	if err := s.UpdateDocumentStatus(ctx, "nope", StatusError, ""); !errors.Is(err, ErrNotFound) {
		t.Errorf("update missing = %v, want ErrNotFound", err)
	}

	createDoc(t, s, "d2")
	docs, err := s.ListDocuments(ctx)
	if err != nil || len(docs) != 2 {
		t.Fatalf("ListDocuments = %d docs, %v", len(docs), err)
	}
	if docs[0].ID != "d2" {
		t.Errorf("newest document first: got %s", docs[0].ID)
	}
}

func TestSaveIngestionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := createDoc(t, s, "d1")

	if err := s.SaveIngestion(ctx, sampleIngestion(doc)); err != nil {
		t.Fatalf("SaveIngestion: %v", err)
	}

	got, _ := s.GetDocument(ctx, "d1")
	if got.Status != StatusIndexed || got.PageCount != 3 || !got.HasImages || got.AIAnalyzedPages != 1 {
		t.Errorf("document = %+v", got)
	}

	sections, err := s.ListSectionsByDocument(ctx, "d1")
	if err != nil || len(sections) != 2 {
		t.Fatalf("sections = %d, %v", len(sections), err)
	}
	if !sections[1].ImageDerived || len(sections[0].Bullets) != 1 {
		t.Errorf("sections = %+v", sections)
	}
	if sections[1].Bullets == nil {
		t.Error("empty bullets decoded as nil")
	}

	chunks, err := s.ListChunksByDocument(ctx, "d1")
	if err != nil || len(chunks) != 2 {
		t.Fatalf("chunks = %d, %v", len(chunks), err)
	}
	if len(chunks[1].Embedding) != 4 || chunks[1].Embedding[1] != 0.5 {
		t.Errorf("embedding = %v", chunks[1].Embedding)
	}
	if chunks[0].SectionID != "d1-s1" || !chunks[1].ImageDerived {
		t.Errorf("chunks = %+v", chunks)
	}

	tables, err := s.ListTablesByDocument(ctx, "d1")
	if err != nil || len(tables) != 1 {
		t.Fatalf("tables = %d, %v", len(tables), err)
	}
	if tables[0].Rows[1][1] != "-" || tables[0].ColumnCount != 2 {
		t.Errorf("table = %+v", tables[0])
	}
	tbl, err := s.GetTable(ctx, "d1-t1")
	if err != nil || tbl.PageNumber != 3 {
		t.Errorf("GetTable = %+v, %v", tbl, err)
	}
	if _, err := s.GetTable(ctx, "none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTable missing = %v", err)
	}

	// A second run replaces the derived data.
	ing := sampleIngestion(doc)
	ing.Chunks = ing.Chunks[:1]
	if err := s.SaveIngestion(ctx, ing); err != nil {
		t.Fatalf("second SaveIngestion: %v", err)
	}
	chunks, _ = s.ListChunksByDocument(ctx, "d1")
	if len(chunks) != 1 {
		t.Errorf("after reindex: %d chunks, want 1", len(chunks))
	}
}

func TestSaveIngestionRejectsWrongDim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := createDoc(t, s, "d1")

	ing := sampleIngestion(doc)
	ing.Chunks[0].Embedding = []float32{1, 2}
	if err := s.SaveIngestion(ctx, ing); err == nil {
		t.Fatal("expected dimension error")
	}
	// Nothing from the failed transaction is visible.
	sections, _ := s.ListSectionsByDocument(ctx, "d1")
	if len(sections) != 0 {
		t.Errorf("partial write: %d sections", len(sections))
	}
	got, _ := s.GetDocument(ctx, "d1")
	if got.Status != StatusProcessing {
		t.Errorf("status = %q after rollback", got.Status)
	}
}

func TestFailDocumentClearsData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := createDoc(t, s, "d1")
	if err := s.SaveIngestion(ctx, sampleIngestion(doc)); err != nil {
		t.Fatal(err)
	}

	if err := s.FailDocument(ctx, "d1", "corrupt"); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetDocument(ctx, "d1")
	if got.Status != StatusError || got.Error != "corrupt" {
		t.Errorf("document = %+v", got)
	}
	chunks, _ := s.ListChunksByDocument(ctx, "d1")
	tables, _ := s.ListTablesByDocument(ctx, "d1")
	if len(chunks) != 0 || len(tables) != 0 {
		t.Errorf("data left behind: %d chunks, %d tables", len(chunks), len(tables))
	}
}

func TestDeleteDocumentCascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	doc := createDoc(t, s, "d1")
	other := createDoc(t, s, "d2")
	if err := s.SaveIngestion(ctx, sampleIngestion(doc)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveIngestion(ctx, sampleIngestion(other)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveChatHistory(ctx, ChatHistory{DocumentID: "d1", Provider: "openai",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}}}); err != nil {
		t.Fatal(err)
	}

	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	for table, q := range map[string]string{
		"sections":       "SELECT COUNT(*) FROM sections WHERE document_id = 'd1'",
		"chunks":         "SELECT COUNT(*) FROM chunks WHERE document_id = 'd1'",
		"tables":         "SELECT COUNT(*) FROM extracted_tables WHERE document_id = 'd1'",
		"chat_histories": "SELECT COUNT(*) FROM chat_histories WHERE document_id = 'd1'",
	} {
		var n int
		if err := s.DB().QueryRow(q).Scan(&n); err != nil {
			t.Fatal(err)
		}
		if n != 0 {
			t.Errorf("%s: %d rows left", table, n)
		}
	}
	var vecRows int
	if err := s.DB().QueryRow("SELECT COUNT(*) FROM vec_chunks").Scan(&vecRows); err != nil {
		t.Fatal(err)
	}
	if vecRows != 2 {
		t.Errorf("vec_chunks rows = %d, want 2 (other document only)", vecRows)
	}

	if _, err := s.GetDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted document still found: %v", err)
	}
	if err := s.DeleteDocument(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	chunks, _ := s.ListChunksByDocument(ctx, "d2")
	if len(chunks) != 2 {
		t.Errorf("other document lost chunks: %d", len(chunks))
	}
}

func TestChatHistory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	createDoc(t, s, "d1")

	h, err := s.GetChatHistory(ctx, "d1", "gemini")
	if err != nil || len(h.Messages) != 0 {
		t.Fatalf("empty history = %+v, %v", h, err)
	}

	h.Messages = append(h.Messages,
		ChatMessage{Role: "user", Content: "What is it?"},
		ChatMessage{Role: "assistant", Content: "A report."})
	if err := s.SaveChatHistory(ctx, *h); err != nil {
		t.Fatal(err)
	}
	got, _ := s.GetChatHistory(ctx, "d1", "gemini")
	if len(got.Messages) != 2 || got.Messages[1].Content != "A report." {
		t.Errorf("history = %+v", got)
	}
	other, _ := s.GetChatHistory(ctx, "d1", "openai")
	if len(other.Messages) != 0 {
		t.Error("histories not keyed by provider")
	}

	if err := s.DeleteChatHistory(ctx, "d1", "gemini"); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetChatHistory(ctx, "d1", "gemini")
	if len(got.Messages) != 0 {
		t.Error("history not cleared")
	}
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetSetting(ctx, "api_key.gemini"); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing setting = %v", err)
	}
	if err := s.SetSetting(ctx, "api_key.gemini", "k1"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetSetting(ctx, "api_key.gemini", "k2"); err != nil {
		t.Fatal(err)
	}
	v, err := s.GetSetting(ctx, "api_key.gemini")
	if err != nil || v != "k2" {
		t.Errorf("GetSetting = %q, %v", v, err)
	}
	list, _ := s.ListSettings(ctx)
	if len(list) != 1 {
		t.Errorf("ListSettings = %d", len(list))
	}
	if err := s.DeleteSetting(ctx, "api_key.gemini"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetSetting(ctx, "api_key.gemini"); !errors.Is(err, ErrNotFound) {
		t.Error("setting not deleted")
	}
}

func TestSerializeFloat32RoundTrip(t *testing.T) {
	in := []float32{0, -1.5, 3.25, 1e-7}
	out := deserializeFloat32(serializeFloat32(in))
	for i := range in {
		if in[i] != out[i] {
			t.Errorf("index %d: %v != %v", i, out[i], in[i])
		}
	}
}
