package qa

import (
	"strings"
	"unicode"

	"github.com/brunobiangulo/docqa/parser"
)

// snippetMaxLen is the approximate maximum character length for a snippet.
const snippetMaxLen = 300

// Snippet returns the one or two sentences of content that share the most
// significant words with answer, or "" when nothing overlaps.
func Snippet(content, answer string) string {
	answerWords := significantWords(answer)
	if len(answerWords) == 0 || content == "" {
		return ""
	}

	sentences := parser.SplitSentences(content)
	if len(sentences) == 0 {
		return ""
	}

	scores := make([]int, len(sentences))
	best := 0
	for i, s := range sentences {
		for w := range significantWords(s.Text) {
			if answerWords[w] {
				scores[i]++
			}
		}
		if scores[i] > scores[best] {
			best = i
		}
	}
	if scores[best] == 0 {
		return ""
	}

	result := sentences[best].Text

	// Add the better-scoring neighbour if it still fits.
	adj := -1
	for _, d := range []int{1, -1} {
		i := best + d
		if i >= 0 && i < len(sentences) && scores[i] > 0 && (adj < 0 || scores[i] > scores[adj]) {
			adj = i
		}
	}
	if adj >= 0 {
		combined := result + " " + sentences[adj].Text
		if adj < best {
			combined = sentences[adj].Text + " " + result
		}
		if len([]rune(combined)) <= snippetMaxLen {
			result = combined
		}
	}
	return result
}

// significantWords returns the set of lowercased words of at least four
// characters, excluding common stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"your": true, "more": true, "some": true, "such": true,
	"only": true, "also": true, "very": true, "just": true,
	"into": true, "over": true, "each": true, "does": true,
	"most": true, "after": true, "before": true, "other": true,
	"being": true, "same": true, "both": true, "between": true,
	"page": true, "pages": true,
}
