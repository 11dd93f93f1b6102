// Command eval scores retrieval (and optionally answers) of a docqa engine
// against a question dataset.
//
// Usage:
//
//	go run ./cmd/eval \
//	  --pdf ./docs/annual-report.pdf \
//	  --dataset ./evals/annual-report.yaml \
//	  --k 5
//
// With answers from a chat provider:
//
//	go run ./cmd/eval --pdf report.pdf --dataset q.yaml --ask --provider groq
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/brunobiangulo/docqa"
	"github.com/brunobiangulo/docqa/eval"
)

func main() {
	var (
		configPath  = flag.String("config", "", "Path to config file (YAML or JSON)")
		pdfPath     = flag.String("pdf", "", "PDF to ingest before evaluating")
		docID       = flag.String("doc", "", "Evaluate an already ingested document instead of --pdf")
		datasetPath = flag.String("dataset", "", "Path to dataset file (YAML or JSON)")
		dbPath      = flag.String("db", "", "Path to SQLite database (default: inside run directory)")
		k           = flag.Int("k", eval.DefaultK, "Retrieval depth")
		ask         = flag.Bool("ask", false, "Also ask each question and score the answer")
		provider    = flag.String("provider", "", "Chat provider for --ask (default from config)")
		model       = flag.String("model", "", "Chat model for --ask")
		force       = flag.Bool("force", false, "Re-ingest the PDF even if unchanged")
		outputFile  = flag.String("output", "", "Also write the JSON report here")
	)
	flag.Parse()

	if *datasetPath == "" {
		log.Fatal("--dataset is required")
	}
	if (*pdfPath == "") == (*docID == "") {
		log.Fatal("exactly one of --pdf or --doc is required")
	}
	if *docID != "" && *dbPath == "" && *configPath == "" {
		log.Fatal("--doc requires --db or --config pointing at an existing database")
	}

	ds, err := eval.LoadDataset(*datasetPath)
	if err != nil {
		log.Fatal(err)
	}

	// --- Run artifact directory ---
	runDir := createRunDir()
	fmt.Fprintf(os.Stderr, "Run directory: %s\n", runDir)

	// Setup log tee: write to both stderr and eval.log
	logFile := setupLogTee(runDir)
	defer logFile.Close()

	cfg := docqa.DefaultConfig()
	if *configPath != "" {
		if cfg, err = docqa.LoadConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal(err)
	}
	switch {
	case *dbPath != "":
		cfg.DBPath = *dbPath
	case *configPath == "":
		cfg.DBPath = filepath.Join(runDir, "docqa.db")
	}
	fmt.Fprintf(os.Stderr, "Using database: %s\n", cfg.DBPath)

	meta := map[string]any{
		"git_commit":  gitCommit(),
		"go_version":  runtime.Version(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"dataset":     ds.Name,
		"tests":       len(ds.Tests),
		"k":           *k,
		"ask":         *ask,
		"chunk_sizes": []int{cfg.ChunkTargetSize, cfg.ChunkMaxSize, cfg.ChunkOverlap},
	}
	if *ask {
		meta["provider"] = *provider
		meta["model"] = *model
	}
	writeJSON(filepath.Join(runDir, "metadata.json"), meta)

	engine, err := docqa.New(cfg)
	if err != nil {
		log.Fatalf("creating engine: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	totalStart := time.Now()

	id := *docID
	if *pdfPath != "" {
		fmt.Fprintf(os.Stderr, "Ingesting %s...\n", *pdfPath)
		var opts []docqa.IngestOption
		if *force {
			opts = append(opts, docqa.WithForceReparse())
		}
		start := time.Now()
		doc, err := engine.IngestFile(ctx, *pdfPath, opts...)
		if err != nil {
			log.Fatalf("ingesting %s: %v", *pdfPath, err)
		}
		id = doc.ID
		meta["pdf"] = filepath.Base(*pdfPath)
		meta["pages"] = doc.PageCount
		meta["image_only_pages"] = doc.ImageOnlyPages
		meta["ingestion_elapsed"] = time.Since(start).Round(time.Millisecond).String()
	}
	meta["document_id"] = id

	evaluator := eval.NewEvaluator(engine)
	evaluator.SetK(*k)
	if *ask {
		evaluator.SetAsk(*provider, *model)
	}

	fmt.Fprintf(os.Stderr, "\nRunning %s (%d tests)...\n", ds.Name, len(ds.Tests))
	report, err := evaluator.Run(ctx, id, ds)
	if err != nil {
		log.Fatalf("running %s: %v", ds.Name, err)
	}
	fmt.Println(eval.FormatReport(report))

	meta["total_elapsed"] = time.Since(totalStart).Round(time.Millisecond).String()
	writeJSON(filepath.Join(runDir, "metadata.json"), meta)

	reportPath := filepath.Join(runDir, "eval-report.json")
	writeJSON(reportPath, report)
	fmt.Fprintf(os.Stderr, "Eval report written to: %s\n", reportPath)
	if *outputFile != "" {
		writeJSON(*outputFile, report)
		fmt.Fprintf(os.Stderr, "JSON report also written to: %s\n", *outputFile)
	}
}

// createRunDir creates evals/runs/<timestamp>/ and returns its path.
func createRunDir() string {
	ts := time.Now().Format("2006-01-02_15-04-05")
	dir := filepath.Join("evals", "runs", ts)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Fatalf("creating run directory: %v", err)
	}
	return dir
}

// setupLogTee configures slog to write to both stderr and eval.log in the run dir.
func setupLogTee(runDir string) *os.File {
	f, err := os.Create(filepath.Join(runDir, "eval.log"))
	if err != nil {
		log.Fatalf("creating log file: %v", err)
	}
	w := io.MultiWriter(os.Stderr, f)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
	return f
}

// gitCommit returns the current git HEAD short hash, or "unknown".
func gitCommit() string {
	out, err := exec.Command("git", "rev-parse", "--short", "HEAD").Output()
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(out))
}

// writeJSON marshals v to indented JSON and writes it to path.
func writeJSON(path string, v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("marshaling JSON for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Fatalf("writing %s: %v", path, err)
	}
}
