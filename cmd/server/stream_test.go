//go:build cgo

package main

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/brunobiangulo/docqa"
	"github.com/brunobiangulo/docqa/internal/pdftest"
)

func newRealEngine(t *testing.T) docqa.Engine {
	t.Helper()
	cfg := docqa.DefaultConfig()
	dir := t.TempDir()
	cfg.DBPath = filepath.Join(dir, "test.db")
	cfg.DocumentsDir = filepath.Join(dir, "documents")
	cfg.Chat = docqa.LLMConfig{Provider: "mock"}
	e, err := docqa.New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

// streamEvents uploads content with NDJSON progress and returns the stage
// of every event.
func streamEvents(t *testing.T, e docqa.Engine, filename string, content []byte) []string {
	t.Helper()
	req := uploadRequest(t, "/documents?stream=1", filename, content)
	rec := httptest.NewRecorder()
	newHandler(e).routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var stages []string
	sc := bufio.NewScanner(rec.Body)
	for sc.Scan() {
		var ev struct {
			Stage string `json:"stage"`
		}
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad event %q: %v", sc.Text(), err)
		}
		stages = append(stages, ev.Stage)
	}
	return stages
}

func countStage(stages []string, stage string) int {
	n := 0
	for _, s := range stages {
		if s == stage {
			n++
		}
	}
	return n
}

func TestUploadStreamSingleErrorEvent(t *testing.T) {
	stages := streamEvents(t, newRealEngine(t), "broken.pdf", []byte("%PDF-1.4\nthis is not a pdf body"))
	if len(stages) == 0 || stages[len(stages)-1] != "error" {
		t.Fatalf("stages = %v, want final error", stages)
	}
	if n := countStage(stages, "error"); n != 1 {
		t.Errorf("error events = %d, want 1 (stages %v)", n, stages)
	}
}

func TestUploadStreamSuccess(t *testing.T) {
	pdf := pdftest.Build(pdftest.Page{Texts: pdftest.Lines(
		"SUMMARY",
		"Quarterly shipments rose in every region we serve.",
	)})
	stages := streamEvents(t, newRealEngine(t), "memo.pdf", pdf)
	if len(stages) == 0 || stages[len(stages)-1] != "done" {
		t.Fatalf("stages = %v, want final done", stages)
	}
	if countStage(stages, "error") != 0 {
		t.Errorf("unexpected error event in %v", stages)
	}
}
