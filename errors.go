package docqa

import "errors"

var (
	// ErrDocumentNotFound is returned when a document ID does not exist.
	ErrDocumentNotFound = errors.New("docqa: document not found")

	// ErrUnsupportedFormat is returned for files that are not PDFs.
	ErrUnsupportedFormat = errors.New("docqa: unsupported document format")

	// ErrParsingFailed is returned when the PDF cannot be read at all.
	ErrParsingFailed = errors.New("docqa: parsing failed")

	// ErrIngestInProgress is returned when the same document is already
	// being ingested.
	ErrIngestInProgress = errors.New("docqa: ingestion already in progress")

	// ErrProviderNotConfigured is returned when a question names a chat
	// provider that has no configuration or credential.
	ErrProviderNotConfigured = errors.New("docqa: llm provider not configured")

	// ErrLLMRequestFailed is returned when the question-answering call fails.
	ErrLLMRequestFailed = errors.New("docqa: LLM request failed")

	// ErrNoResults is returned when retrieval yields no chunks for a document.
	ErrNoResults = errors.New("docqa: no results found")

	// ErrInvalidRequest is returned for malformed requests such as a blank
	// question.
	ErrInvalidRequest = errors.New("docqa: invalid request")

	// ErrInvalidConfig is returned for invalid configuration values.
	ErrInvalidConfig = errors.New("docqa: invalid configuration")
)
