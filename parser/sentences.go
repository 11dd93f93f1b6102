package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Sentence is a span of text ending in terminal punctuation, or the
// trailing fragment of its input. Start and End are byte offsets into the
// source text; Text has its internal whitespace collapsed.
type Sentence struct {
	Text  string
	Start int
	End   int
}

func isTerminator(r rune) bool { return r == '.' || r == '!' || r == '?' }

// SplitSentences splits text at runs of '.', '!' or '?' that are followed
// by whitespace or the end of the text. Terminators inside a token such
// as "3.5" or "e.g.x" do not split. Text with no boundary yields a single
// sentence.
func SplitSentences(text string) []Sentence {
	var out []Sentence
	start := -1

	emit := func(end int) {
		if start < 0 {
			return
		}
		raw := strings.TrimRightFunc(text[start:end], unicode.IsSpace)
		end = start + len(raw)
		if s := strings.Join(strings.Fields(raw), " "); s != "" {
			out = append(out, Sentence{Text: s, Start: start, End: end})
		}
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if start < 0 {
			if unicode.IsSpace(r) {
				i += size
				continue
			}
			start = i
		}
		if !isTerminator(r) {
			i += size
			continue
		}

		j := i + size
		for j < len(text) {
			r2, s2 := utf8.DecodeRuneInString(text[j:])
			if !isTerminator(r2) {
				break
			}
			j += s2
		}
		if j == len(text) {
			emit(j)
			break
		}
		next, _ := utf8.DecodeRuneInString(text[j:])
		if unicode.IsSpace(next) {
			emit(j)
		}
		i = j
	}
	emit(len(text))
	return out
}
