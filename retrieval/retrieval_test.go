package retrieval

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/brunobiangulo/docqa/embedding"
	"github.com/brunobiangulo/docqa/store"
)

// constEmbedder gives every text the same vector, isolating the keyword
// boost from similarity.
type constEmbedder struct{}

func (constEmbedder) Embed(string) []float32 { return []float32{1, 0, 0} }
func (constEmbedder) Dim() int               { return 3 }

type fakeSource struct {
	chunks []store.Chunk
	err    error
}

func (f fakeSource) ListChunksByDocument(_ context.Context, id string) ([]store.Chunk, error) {
	return f.chunks, f.err
}

func TestRank_KeywordBoost(t *testing.T) {
	chunks := []store.Chunk{
		{ID: "a", DocumentID: "d1", Content: "Costs were flat this year."},
		{ID: "b", DocumentID: "d1", Content: "Revenue rose sharply."},
	}
	results := Rank("revenue growth", "d1", chunks, 5, constEmbedder{})
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Chunk.ID != "b" {
		t.Errorf("top result = %s, want b", results[0].Chunk.ID)
	}
	if diff := results[0].Score - results[1].Score; math.Abs(diff-0.1) > 1e-9 {
		t.Errorf("score difference = %f, want 0.1", diff)
	}
}

func TestRank_RepeatedWordsStack(t *testing.T) {
	chunks := []store.Chunk{{DocumentID: "d", Content: "revenue"}}
	r := Rank("revenue Revenue", "d", chunks, 1, constEmbedder{})
	if math.Abs(r[0].Boost-0.2) > 1e-9 {
		t.Errorf("boost = %f, want 0.2", r[0].Boost)
	}
}

func TestRank_TiesKeepOrder(t *testing.T) {
	var chunks []store.Chunk
	for _, id := range []string{"c0", "c1", "c2", "c3"} {
		chunks = append(chunks, store.Chunk{ID: id, DocumentID: "d", Content: "same"})
	}
	results := Rank("other", "d", chunks, 3, constEmbedder{})
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for i, r := range results {
		if r.Chunk.ID != chunks[i].ID {
			t.Errorf("position %d = %s, want %s", i, r.Chunk.ID, chunks[i].ID)
		}
	}
}

func TestRank_OnlyTargetDocument(t *testing.T) {
	emb := embedding.NewHashEmbedder(0)
	chunks := []store.Chunk{
		{ID: "x", DocumentID: "other", Content: "revenue revenue revenue"},
		{ID: "y", DocumentID: "mine", Content: "unrelated text"},
	}
	for i := range chunks {
		chunks[i].Embedding = emb.Embed(chunks[i].Content)
	}
	results := Rank("revenue", "mine", chunks, 5, emb)
	if len(results) != 1 || results[0].Chunk.ID != "y" {
		t.Errorf("results = %+v, want only chunk y", results)
	}
}

func TestRank_SortedAndBounded(t *testing.T) {
	emb := embedding.NewHashEmbedder(0)
	texts := []string{
		"quarterly revenue growth was strong",
		"the cafeteria menu changed",
		"revenue fell in the north",
		"growth of the team",
		"weather report for monday",
		"revenue growth revenue growth",
		"unrelated appendix",
	}
	var chunks []store.Chunk
	for i, s := range texts {
		chunks = append(chunks, store.Chunk{ChunkIndex: i, DocumentID: "d", Content: s, Embedding: emb.Embed(s)})
	}

	results := Rank("revenue growth", "d", chunks, 0, emb)
	if len(results) != DefaultTopK {
		t.Fatalf("got %d results, want %d", len(results), DefaultTopK)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted at %d", i)
		}
	}
}

func TestBuildContext(t *testing.T) {
	results := []Result{
		{Chunk: store.Chunk{SectionTitle: "Introduction", StartPage: 1, Content: "First."}},
		{Chunk: store.Chunk{SectionTitle: "Results", StartPage: 4, Content: "Second."}},
	}
	want := "[Source: \"Introduction\", Page 1]\nFirst.\n\n[Source: \"Results\", Page 4]\nSecond."
	if got := BuildContext(results); got != want {
		t.Errorf("BuildContext = %q, want %q", got, want)
	}
	if got := BuildContext(nil); got != "" {
		t.Errorf("BuildContext(nil) = %q", got)
	}
}

func TestEngineSearch(t *testing.T) {
	src := fakeSource{chunks: []store.Chunk{
		{DocumentID: "d", Content: "Revenue grew."},
		{DocumentID: "d", Content: "Costs fell."},
	}}
	e := New(src, constEmbedder{})
	results, trace, err := e.Search(context.Background(), "d", "revenue", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || !strings.HasPrefix(results[0].Chunk.Content, "Revenue") {
		t.Errorf("results = %+v", results)
	}
	if trace.Candidates != 2 || trace.Returned != 1 || trace.Boosted != 1 {
		t.Errorf("trace = %+v", trace)
	}

	_, _, err = New(fakeSource{err: errors.New("boom")}, constEmbedder{}).Search(context.Background(), "d", "q", 0)
	if err == nil {
		t.Error("expected error from failing source")
	}
}
