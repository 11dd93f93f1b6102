// Command e2e_test runs a live smoke test: it ingests a PDF with Gemini as
// both the vision and chat provider, asks one question and prints the
// sources the answer was grounded on.
//
//	GOOGLE_API_KEY=... go run ./cmd/e2e_test ./docs/sample.pdf "What is this document about?"
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/brunobiangulo/docqa"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: e2e_test <file.pdf> [question]")
		os.Exit(2)
	}
	docPath := os.Args[1]
	question := "What are the main topics covered in this document?"
	if len(os.Args) > 2 {
		question = os.Args[2]
	}

	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "GOOGLE_API_KEY not set")
		os.Exit(1)
	}

	tmpDir, _ := os.MkdirTemp("", "docqa-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := docqa.DefaultConfig()
	cfg.DBPath = filepath.Join(tmpDir, "test.db")
	cfg.Chat = docqa.LLMConfig{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: apiKey}
	cfg.Vision = docqa.LLMConfig{Provider: "gemini", Model: "gemini-2.0-flash", APIKey: apiKey}

	engine, err := docqa.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Ingest
	fmt.Fprintf(os.Stderr, "\n=== INGESTING %s ===\n", docPath)
	doc, err := engine.IngestFile(ctx, docPath, docqa.WithProgress(func(p docqa.Progress) {
		fmt.Fprintf(os.Stderr, "  %-13s %d/%d %s\n", p.Stage, p.Page, p.Total, p.Message)
	}))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Ingested %s: %d pages, %d image-only, %d analyzed\n",
		doc.ID, doc.PageCount, doc.ImageOnlyPages, doc.AIAnalyzedPages)

	// Ask
	fmt.Fprintf(os.Stderr, "\n=== ASKING: %s ===\n", question)
	answer, err := engine.Ask(ctx, docqa.AskRequest{DocumentID: doc.ID, Question: question})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "\n=== ANSWER ===\n%s\n", answer.Text)

	type sourceView struct {
		ChunkID    string  `json:"chunk_id"`
		Section    string  `json:"section"`
		StartPage  int     `json:"start_page"`
		EndPage    int     `json:"end_page"`
		Score      float64 `json:"score"`
		Snippet    string  `json:"snippet,omitempty"`
		ContentLen int     `json:"content_length"`
	}
	var sources []sourceView
	for _, s := range answer.Sources {
		sources = append(sources, sourceView{
			ChunkID:    s.ChunkID,
			Section:    s.SectionTitle,
			StartPage:  s.StartPage,
			EndPage:    s.EndPage,
			Score:      s.Score,
			Snippet:    s.Snippet,
			ContentLen: len(s.Content),
		})
	}

	out, _ := json.MarshalIndent(map[string]any{
		"citations": answer.Citations,
		"sources":   sources,
	}, "", "  ")
	fmt.Println(string(out))
}
