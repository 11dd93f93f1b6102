package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/docqa/embedding"
	"github.com/brunobiangulo/docqa/store"
)

const (
	DefaultTopK  = 5
	KeywordBoost = 0.1
)

// ChunkSource lists the indexed chunks of one document.
type ChunkSource interface {
	ListChunksByDocument(ctx context.Context, documentID string) ([]store.Chunk, error)
}

// Result is a ranked chunk.
type Result struct {
	Chunk      store.Chunk `json:"chunk"`
	Score      float64     `json:"score"`
	Similarity float64     `json:"similarity"`
	Boost      float64     `json:"boost"`
}

// SearchTrace records how a search was scored.
type SearchTrace struct {
	Candidates int   `json:"candidates"`
	Returned   int   `json:"returned"`
	Boosted    int   `json:"boosted"`
	TopK       int   `json:"top_k"`
	ElapsedMs  int64 `json:"elapsed_ms"`
}

// Engine ranks a document's chunks against a query.
type Engine struct {
	chunks   ChunkSource
	embedder embedding.Embedder
}

// New creates a retrieval engine.
func New(chunks ChunkSource, embedder embedding.Embedder) *Engine {
	return &Engine{chunks: chunks, embedder: embedder}
}

// Search returns the top k chunks of documentID for query. k <= 0 selects
// DefaultTopK.
func (e *Engine) Search(ctx context.Context, documentID, query string, k int) ([]Result, *SearchTrace, error) {
	start := time.Now()
	if k <= 0 {
		k = DefaultTopK
	}

	chunks, err := e.chunks.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("listing chunks: %w", err)
	}

	results := Rank(query, documentID, chunks, k, e.embedder)

	trace := &SearchTrace{
		Candidates: len(chunks),
		Returned:   len(results),
		TopK:       k,
		ElapsedMs:  time.Since(start).Milliseconds(),
	}
	for _, r := range results {
		if r.Boost > 0 {
			trace.Boosted++
		}
	}

	slog.Debug("retrieval: search complete",
		"document", documentID, "candidates", trace.Candidates,
		"returned", trace.Returned, "elapsed", time.Since(start).Round(time.Millisecond))
	return results, trace, nil
}

// Rank scores chunks by cosine similarity between the query and chunk
// embeddings plus KeywordBoost for every query word found in the chunk
// text. Chunks of other documents are skipped. Equal scores keep the
// order of chunks, which callers supply by global chunk index. Chunks
// without a stored embedding are embedded on the fly.
func Rank(query, documentID string, chunks []store.Chunk, k int, embedder embedding.Embedder) []Result {
	if k <= 0 {
		k = DefaultTopK
	}
	qvec := embedder.Embed(query)
	words := strings.Fields(strings.ToLower(query))

	results := make([]Result, 0, len(chunks))
	for _, c := range chunks {
		if c.DocumentID != documentID {
			continue
		}
		vec := c.Embedding
		if len(vec) == 0 {
			vec = embedder.Embed(c.Content)
		}
		sim := embedding.Cosine(qvec, vec)

		lower := strings.ToLower(c.Content)
		var boost float64
		for _, w := range words {
			if strings.Contains(lower, w) {
				boost += KeywordBoost
			}
		}
		results = append(results, Result{
			Chunk:      c,
			Score:      sim + boost,
			Similarity: sim,
			Boost:      boost,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// BuildContext joins results into a context block for a question
// answering prompt. Each chunk is prefixed with its section and page.
func BuildContext(results []Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Source: %q, Page %d]\n%s",
			r.Chunk.SectionTitle, r.Chunk.StartPage, r.Chunk.Content)
	}
	return strings.Join(parts, "\n\n")
}
