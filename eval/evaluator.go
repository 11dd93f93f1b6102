// Package eval measures retrieval and answer quality of a docqa engine
// against a dataset of questions with known evidence.
package eval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/brunobiangulo/docqa"
	"github.com/brunobiangulo/docqa/retrieval"
)

// Engine is the part of docqa.Engine an evaluation drives.
type Engine interface {
	Search(ctx context.Context, documentID, query string, k int) ([]docqa.SearchResult, *retrieval.SearchTrace, error)
	Ask(ctx context.Context, req docqa.AskRequest) (*docqa.Answer, error)
	ClearChatHistory(ctx context.Context, documentID, provider string) error
}

// DefaultK is the retrieval depth used when none is set.
const DefaultK = 5

// Evaluator runs evaluation datasets against an engine.
type Evaluator struct {
	engine   Engine
	k        int
	ask      bool
	provider string
	model    string
}

// NewEvaluator creates an evaluator that scores retrieval only.
func NewEvaluator(engine Engine) *Evaluator {
	return &Evaluator{engine: engine, k: DefaultK}
}

// SetK sets the retrieval depth.
func (e *Evaluator) SetK(k int) {
	if k > 0 {
		e.k = k
	}
}

// SetAsk enables answer evaluation with the given chat provider and model
// (empty values use the engine's defaults). Every question is asked with a
// cleared conversation.
func (e *Evaluator) SetAsk(provider, model string) {
	e.ask = true
	e.provider = provider
	e.model = model
}

// Report holds the results of an evaluation run.
type Report struct {
	Dataset         string                      `json:"dataset"`
	DocumentID      string                      `json:"document_id"`
	K               int                         `json:"k"`
	TotalTests      int                         `json:"total_tests"`
	Passed          int                         `json:"passed"`
	Failed          int                         `json:"failed"`
	Metrics         AggregateMetrics            `json:"metrics"`
	CategoryMetrics map[string]AggregateMetrics `json:"category_metrics,omitempty"`
	Results         []TestResult                `json:"results"`
	RunTime         time.Duration               `json:"run_time"`
	TokenUsage      TokenUsage                  `json:"token_usage"`
}

// TokenUsage aggregates LLM token consumption across an evaluation run.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AggregateMetrics holds averaged metrics across tests that ran without
// error.
type AggregateMetrics struct {
	HitRate            float64 `json:"hit_rate"`
	MRR                float64 `json:"mrr"`
	AvgPrecision       float64 `json:"avg_precision_at_k"`
	AvgContextRecall   float64 `json:"avg_context_recall"`
	AvgPageRecall      float64 `json:"avg_page_recall"`
	AvgAccuracy        float64 `json:"avg_accuracy,omitempty"`
	AvgCitationQuality float64 `json:"avg_citation_quality,omitempty"`
}

// TestResult holds the result of a single test case.
type TestResult struct {
	Question        string        `json:"question"`
	Category        string        `json:"category,omitempty"`
	ExpectedFacts   []string      `json:"expected_facts,omitempty"`
	ExpectedPages   []int         `json:"expected_pages,omitempty"`
	Hit             bool          `json:"hit"`
	ReciprocalRank  float64       `json:"reciprocal_rank"`
	Precision       float64       `json:"precision_at_k"`
	ContextRecall   float64       `json:"context_recall"`
	PageRecall      float64       `json:"page_recall"`
	Answer          string        `json:"answer,omitempty"`
	Accuracy        float64       `json:"accuracy,omitempty"`
	CitationQuality float64       `json:"citation_quality,omitempty"`
	Passed          bool          `json:"passed"`
	Error           string        `json:"error,omitempty"`
	Sources         []SourceTrace `json:"sources,omitempty"`
	TotalTokens     int           `json:"total_tokens,omitempty"`
	ElapsedMs       int64         `json:"elapsed_ms"`

	promptTokens     int
	completionTokens int
}

// SourceTrace records one retrieved chunk.
type SourceTrace struct {
	ChunkID   string  `json:"chunk_id"`
	Section   string  `json:"section"`
	StartPage int     `json:"start_page"`
	EndPage   int     `json:"end_page"`
	Score     float64 `json:"score"`
	Relevant  bool    `json:"relevant"`
}

// Run evaluates every test of ds against one document.
func (e *Evaluator) Run(ctx context.Context, documentID string, ds Dataset) (*Report, error) {
	start := time.Now()
	report := &Report{
		Dataset:    ds.Name,
		DocumentID: documentID,
		K:          e.k,
		TotalTests: len(ds.Tests),
	}

	var (
		sum      AggregateMetrics
		n        int
		catSums  = make(map[string]AggregateMetrics)
		catCount = make(map[string]int)
	)
	for i, tc := range ds.Tests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := e.runTest(ctx, documentID, tc)
		report.Results = append(report.Results, res)

		status := "PASS"
		switch {
		case res.Error != "":
			status = "ERROR"
		case !res.Passed:
			status = "FAIL"
		}
		slog.Info("eval: test complete",
			"progress", fmt.Sprintf("%d/%d", i+1, len(ds.Tests)),
			"status", status,
			"rr", fmt.Sprintf("%.2f", res.ReciprocalRank),
			"context_recall", fmt.Sprintf("%.2f", res.ContextRecall),
			"elapsed_ms", res.ElapsedMs,
			"question", truncate(tc.Question, 80))

		report.TokenUsage.PromptTokens += res.promptTokens
		report.TokenUsage.CompletionTokens += res.completionTokens
		report.TokenUsage.TotalTokens += res.TotalTokens

		if res.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		// Errors would contribute all zeros and depress the averages.
		if res.Error != "" {
			continue
		}
		n++
		sum = sum.add(res)
		if tc.Category != "" {
			catCount[tc.Category]++
			catSums[tc.Category] = catSums[tc.Category].add(res)
		}
	}

	report.Metrics = sum.div(n)
	if len(catCount) > 0 {
		report.CategoryMetrics = make(map[string]AggregateMetrics, len(catCount))
		for cat, c := range catCount {
			report.CategoryMetrics[cat] = catSums[cat].div(c)
		}
	}
	report.RunTime = time.Since(start)
	return report, nil
}

func (e *Evaluator) runTest(ctx context.Context, documentID string, tc TestCase) TestResult {
	start := time.Now()
	res := TestResult{
		Question:      tc.Question,
		Category:      tc.Category,
		ExpectedFacts: tc.ExpectedFacts,
		ExpectedPages: tc.ExpectedPages,
	}

	results, _, err := e.engine.Search(ctx, documentID, tc.Question, e.k)
	if err != nil {
		res.Error = err.Error()
		res.ElapsedMs = time.Since(start).Milliseconds()
		return res
	}

	var text strings.Builder
	for _, r := range results {
		rel := relevant(r, tc)
		res.Hit = res.Hit || rel
		res.Sources = append(res.Sources, SourceTrace{
			ChunkID:   r.Chunk.ID,
			Section:   r.Chunk.SectionTitle,
			StartPage: r.Chunk.StartPage,
			EndPage:   r.Chunk.EndPage,
			Score:     r.Score,
			Relevant:  rel,
		})
		text.WriteString(r.Chunk.SectionTitle)
		text.WriteByte(' ')
		text.WriteString(r.Chunk.Content)
		text.WriteByte(' ')
	}
	res.ReciprocalRank = reciprocalRank(results, tc)
	res.Precision = precisionAtK(results, tc, e.k)
	res.ContextRecall = factRecall(text.String(), tc.ExpectedFacts)
	res.PageRecall = pageRecall(results, tc.ExpectedPages)
	res.Passed = res.Hit

	if e.ask {
		if err := e.engine.ClearChatHistory(ctx, documentID, e.provider); err != nil {
			res.Error = err.Error()
			res.Passed = false
			res.ElapsedMs = time.Since(start).Milliseconds()
			return res
		}
		ans, err := e.engine.Ask(ctx, docqa.AskRequest{
			DocumentID: documentID,
			Question:   tc.Question,
			Provider:   e.provider,
			Model:      e.model,
			TopK:       e.k,
		})
		if err != nil {
			res.Error = err.Error()
			res.Passed = false
			res.ElapsedMs = time.Since(start).Milliseconds()
			return res
		}
		res.Answer = ans.Text
		res.Accuracy = factRecall(ans.Text, tc.ExpectedFacts)
		res.CitationQuality = citationQuality(ans.Citations)
		res.TotalTokens = ans.TotalTokens
		res.promptTokens = ans.PromptTokens
		res.completionTokens = ans.CompletionTokens
		res.Passed = res.Hit && (len(tc.ExpectedFacts) == 0 || res.Accuracy >= 0.5)
	}
	res.ElapsedMs = time.Since(start).Milliseconds()
	return res
}

func (m AggregateMetrics) add(r TestResult) AggregateMetrics {
	if r.Hit {
		m.HitRate++
	}
	m.MRR += r.ReciprocalRank
	m.AvgPrecision += r.Precision
	m.AvgContextRecall += r.ContextRecall
	m.AvgPageRecall += r.PageRecall
	m.AvgAccuracy += r.Accuracy
	m.AvgCitationQuality += r.CitationQuality
	return m
}

func (m AggregateMetrics) div(n int) AggregateMetrics {
	if n == 0 {
		return AggregateMetrics{}
	}
	f := float64(n)
	return AggregateMetrics{
		HitRate:            m.HitRate / f,
		MRR:                m.MRR / f,
		AvgPrecision:       m.AvgPrecision / f,
		AvgContextRecall:   m.AvgContextRecall / f,
		AvgPageRecall:      m.AvgPageRecall / f,
		AvgAccuracy:        m.AvgAccuracy / f,
		AvgCitationQuality: m.AvgCitationQuality / f,
	}
}

// FormatReport renders a report as a plain-text summary.
func FormatReport(r *Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "=== %s (document %s, k=%d) ===\n", r.Dataset, r.DocumentID, r.K)
	rate := 0.0
	if r.TotalTests > 0 {
		rate = float64(r.Passed) / float64(r.TotalTests) * 100
	}
	fmt.Fprintf(&b, "Passed: %d/%d (%.1f%%)  run time %s\n", r.Passed, r.TotalTests, rate, r.RunTime.Round(time.Millisecond))
	writeMetrics(&b, "", r.Metrics)

	if len(r.CategoryMetrics) > 0 {
		cats := make([]string, 0, len(r.CategoryMetrics))
		for c := range r.CategoryMetrics {
			cats = append(cats, c)
		}
		sort.Strings(cats)
		for _, c := range cats {
			fmt.Fprintf(&b, "  [%s]\n", c)
			writeMetrics(&b, "  ", r.CategoryMetrics[c])
		}
	}
	if r.TokenUsage.TotalTokens > 0 {
		fmt.Fprintf(&b, "Tokens: %d (prompt %d, completion %d)\n",
			r.TokenUsage.TotalTokens, r.TokenUsage.PromptTokens, r.TokenUsage.CompletionTokens)
	}

	for _, res := range r.Results {
		if res.Passed {
			continue
		}
		reason := "no relevant chunk retrieved"
		switch {
		case res.Error != "":
			reason = res.Error
		case res.Hit:
			reason = fmt.Sprintf("answer accuracy %.2f", res.Accuracy)
		}
		fmt.Fprintf(&b, "  FAIL %s: %s\n", truncate(res.Question, 70), reason)
	}
	return b.String()
}

func writeMetrics(b *strings.Builder, indent string, m AggregateMetrics) {
	fmt.Fprintf(b, "%sHit rate: %.3f  MRR: %.3f  P@k: %.3f  Context recall: %.3f  Page recall: %.3f\n",
		indent, m.HitRate, m.MRR, m.AvgPrecision, m.AvgContextRecall, m.AvgPageRecall)
	if m.AvgAccuracy > 0 || m.AvgCitationQuality > 0 {
		fmt.Fprintf(b, "%sAccuracy: %.3f  Citation quality: %.3f\n", indent, m.AvgAccuracy, m.AvgCitationQuality)
	}
}
