package eval

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/brunobiangulo/docqa"
	"github.com/brunobiangulo/docqa/qa"
	"github.com/brunobiangulo/docqa/retrieval"
	"github.com/brunobiangulo/docqa/store"
)

type fakeEngine struct {
	results map[string][]docqa.SearchResult
	answer  string
	askErr  error
	cleared int
}

func (f *fakeEngine) Search(ctx context.Context, id, q string, k int) ([]docqa.SearchResult, *retrieval.SearchTrace, error) {
	r, ok := f.results[q]
	if !ok {
		return nil, nil, errors.New("search exploded")
	}
	if len(r) > k {
		r = r[:k]
	}
	return r, &retrieval.SearchTrace{Returned: len(r)}, nil
}

func (f *fakeEngine) Ask(ctx context.Context, req docqa.AskRequest) (*docqa.Answer, error) {
	if f.askErr != nil {
		return nil, f.askErr
	}
	return &docqa.Answer{
		Text:        f.answer,
		TotalTokens: 30,
		Citations:   []qa.Citation{{Page: 2, Verified: true}, {Page: 9}},
	}, nil
}

func (f *fakeEngine) ClearChatHistory(ctx context.Context, id, provider string) error {
	f.cleared++
	return nil
}

func chunk(page int, content string) docqa.SearchResult {
	return docqa.SearchResult{Chunk: store.Chunk{ID: content[:4], StartPage: page, EndPage: page, Content: content}}
}

func testEngine() *fakeEngine {
	return &fakeEngine{results: map[string][]docqa.SearchResult{
		"revenue?": {
			chunk(1, "Intro text about the company."),
			chunk(2, "Revenue grew by 12 percent."),
		},
		"ceo?": {
			chunk(5, "Unrelated maintenance schedule."),
		},
	}}
}

func TestRunRetrieval(t *testing.T) {
	ds := Dataset{Name: "report", Tests: []TestCase{
		{Question: "revenue?", ExpectedFacts: []string{"12 percent|twelve percent"}, ExpectedPages: []int{2}, Category: "fact"},
		{Question: "ceo?", ExpectedFacts: []string{"Jane Doe"}, Category: "fact"},
		{Question: "broken?"},
	}}

	r, err := NewEvaluator(testEngine()).Run(context.Background(), "doc-1", ds)
	if err != nil {
		t.Fatal(err)
	}
	if r.TotalTests != 3 || r.Passed != 1 || r.Failed != 2 {
		t.Errorf("passed/failed = %d/%d", r.Passed, r.Failed)
	}

	first := r.Results[0]
	if !first.Hit || first.ReciprocalRank != 0.5 || first.Precision != 0.5 ||
		first.ContextRecall != 1 || first.PageRecall != 1 {
		t.Errorf("first result = %+v", first)
	}
	if r.Results[1].Hit || r.Results[1].ReciprocalRank != 0 {
		t.Errorf("second result = %+v", r.Results[1])
	}
	if r.Results[2].Error == "" {
		t.Error("expected search error to be recorded")
	}

	// Errors are excluded from averages: two scored tests.
	if r.Metrics.HitRate != 0.5 || r.Metrics.MRR != 0.25 {
		t.Errorf("metrics = %+v", r.Metrics)
	}
	if _, ok := r.CategoryMetrics["fact"]; !ok {
		t.Error("missing category metrics")
	}

	out := FormatReport(r)
	if !strings.Contains(out, "Passed: 1/3") || !strings.Contains(out, "FAIL ceo?") {
		t.Errorf("report:\n%s", out)
	}
}

func TestRunWithAnswers(t *testing.T) {
	eng := testEngine()
	eng.answer = "Revenue grew twelve percent (page 2)."
	ev := NewEvaluator(eng)
	ev.SetAsk("", "")
	ev.SetK(1)

	ds := Dataset{Tests: []TestCase{{Question: "revenue?", ExpectedFacts: []string{"12 percent|twelve percent"}}}}
	r, err := ev.Run(context.Background(), "doc-1", ds)
	if err != nil {
		t.Fatal(err)
	}
	res := r.Results[0]
	// k=1 keeps only the intro chunk, so retrieval misses.
	if res.Hit || res.Passed {
		t.Errorf("k=1 result = %+v", res)
	}
	if res.Accuracy != 1 || res.CitationQuality != 0.5 || r.TokenUsage.TotalTokens != 30 {
		t.Errorf("answer metrics = %+v tokens=%d", res, r.TokenUsage.TotalTokens)
	}
	if eng.cleared != 1 {
		t.Errorf("history cleared %d times", eng.cleared)
	}

	eng.askErr = errors.New("quota")
	r, _ = ev.Run(context.Background(), "doc-1", ds)
	if r.Results[0].Error != "quota" || r.Passed != 0 {
		t.Errorf("ask error result = %+v", r.Results[0])
	}
}

func TestFactMatcher(t *testing.T) {
	m := newFactMatcher("The e\u2011mail was sent on 1\u00a0March via real time channel.")
	tests := []struct {
		fact string
		want bool
	}{
		{"e-mail", true},
		{"1 March", true},
		{"realtime", true},
		{"email", true},
		{"April|1 march", true},
		{"fax", false},
		{" | ", false},
	}
	for _, tt := range tests {
		if got := m.contains(tt.fact); got != tt.want {
			t.Errorf("contains(%q) = %v, want %v", tt.fact, got, tt.want)
		}
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "annual.yaml")
	os.WriteFile(yamlPath, []byte(`
tests:
  - question: How much did revenue grow?
    expected_facts: ["12%|twelve percent"]
    expected_pages: [2]
`), 0644)
	ds, err := LoadDataset(yamlPath)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Name != "annual" || len(ds.Tests) != 1 || ds.Tests[0].ExpectedPages[0] != 2 {
		t.Errorf("dataset = %+v", ds)
	}

	jsonPath := filepath.Join(dir, "bad.json")
	os.WriteFile(jsonPath, []byte(`{"tests":[{"question":""}]}`), 0644)
	if _, err := LoadDataset(jsonPath); err == nil {
		t.Error("expected error for empty question")
	}
}
