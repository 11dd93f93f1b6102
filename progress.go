package docqa

import "log/slog"

// Stage is a step of the ingestion pipeline.
type Stage string

const (
	StageUploading    Stage = "uploading"
	StageAnalyzing    Stage = "analyzing"
	StageExtracting   Stage = "extracting"
	StageAIProcessing Stage = "ai-processing"
	StageNormalizing  Stage = "normalizing"
	StageChunking     Stage = "chunking"
	StageIndexing     Stage = "indexing"
	StageIndexed      Stage = "indexed"
	StageError        Stage = "error"
)

// Progress is one ingestion progress notification. Page and Total are zero
// for stages that do not work page by page.
type Progress struct {
	DocumentID string `json:"document_id"`
	Stage      Stage  `json:"stage"`
	Page       int    `json:"page"`
	Total      int    `json:"total"`
	Message    string `json:"message"`
}

// ProgressFunc receives progress notifications. It is called synchronously
// from the ingesting goroutine and must not block for long.
type ProgressFunc func(Progress)

type reporter struct {
	docID string
	fn    ProgressFunc
}

func (r reporter) report(stage Stage, page, total int, msg string) {
	slog.Debug("ingest: progress",
		"document", r.docID, "stage", stage, "page", page, "total", total, "message", msg)
	if r.fn != nil {
		r.fn(Progress{DocumentID: r.docID, Stage: stage, Page: page, Total: total, Message: msg})
	}
}
