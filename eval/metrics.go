package eval

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/docqa"
	"github.com/brunobiangulo/docqa/qa"
)

// normalizeLLMText normalizes Unicode characters commonly inserted by LLMs
// so that substring matching works reliably: Unicode spaces become ASCII
// spaces, Unicode hyphens become '-', zero-width characters are dropped.
func normalizeLLMText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case r == '\u2010' || r == '\u2011' || r == '\u2012' || r == '\u2013' || r == '\u2014':
			b.WriteByte('-')
		case r == '\u200B' || r == '\u200C' || r == '\u200D' || r == '\uFEFF':
			// strip zero-width characters
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// factMatcher finds expected facts in a body of text, tolerating case,
// spacing and hyphenation differences.
type factMatcher struct {
	normalized string
	spaceless  string
	hyphenless string
}

func newFactMatcher(text string) factMatcher {
	n := normalizeLLMText(strings.ToLower(text))
	return factMatcher{
		normalized: n,
		spaceless:  strings.ReplaceAll(n, " ", ""),
		hyphenless: strings.ReplaceAll(strings.ReplaceAll(n, "-", ""), " ", ""),
	}
}

// contains reports whether any "|"-separated alternative of fact occurs.
func (m factMatcher) contains(fact string) bool {
	for _, alt := range strings.Split(fact, "|") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			continue
		}
		n := normalizeLLMText(strings.ToLower(alt))
		if strings.Contains(m.normalized, n) ||
			strings.Contains(m.spaceless, strings.ReplaceAll(n, " ", "")) ||
			strings.Contains(m.hyphenless, strings.ReplaceAll(strings.ReplaceAll(n, "-", ""), " ", "")) {
			return true
		}
	}
	return false
}

// factRecall is the fraction of facts found in text.
func factRecall(text string, facts []string) float64 {
	if len(facts) == 0 {
		return 0
	}
	m := newFactMatcher(text)
	found := 0
	for _, f := range facts {
		if m.contains(f) {
			found++
		}
	}
	return float64(found) / float64(len(facts))
}

// relevant reports whether a retrieved chunk holds evidence for the test:
// it overlaps an expected page, or contains an expected fact.
func relevant(r docqa.SearchResult, tc TestCase) bool {
	for _, p := range tc.ExpectedPages {
		if p >= r.Chunk.StartPage && p <= r.Chunk.EndPage {
			return true
		}
	}
	if len(tc.ExpectedFacts) == 0 {
		return false
	}
	m := newFactMatcher(r.Chunk.Content)
	for _, f := range tc.ExpectedFacts {
		if m.contains(f) {
			return true
		}
	}
	return false
}

// precisionAtK is the fraction of the top k results that are relevant.
func precisionAtK(results []docqa.SearchResult, tc TestCase, k int) float64 {
	top := results[:min(k, len(results))]
	if len(top) == 0 {
		return 0
	}
	n := 0
	for _, r := range top {
		if relevant(r, tc) {
			n++
		}
	}
	return float64(n) / float64(len(top))
}

// reciprocalRank is 1/rank of the first relevant result, or 0.
func reciprocalRank(results []docqa.SearchResult, tc TestCase) float64 {
	for i, r := range results {
		if relevant(r, tc) {
			return 1 / float64(i+1)
		}
	}
	return 0
}

// pageRecall is the fraction of expected pages covered by some result.
func pageRecall(results []docqa.SearchResult, pages []int) float64 {
	if len(pages) == 0 {
		return 0
	}
	found := 0
	for _, p := range pages {
		for _, r := range results {
			if p >= r.Chunk.StartPage && p <= r.Chunk.EndPage {
				found++
				break
			}
		}
	}
	return float64(found) / float64(len(pages))
}

// citationQuality is the fraction of page citations that point at a page
// the model was actually shown. Answers without citations score 0.
func citationQuality(citations []qa.Citation) float64 {
	if len(citations) == 0 {
		return 0
	}
	ok := 0
	for _, c := range citations {
		if c.Verified {
			ok++
		}
	}
	return float64(ok) / float64(len(citations))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
