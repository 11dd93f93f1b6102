package parser

import (
	"regexp"
	"strings"
)

var (
	hyphenBreak = regexp.MustCompile(`(\p{L})-\n\s*(\p{Ll})`)
	inlineSpace = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
)

// NormalizeText joins words hyphenated across line ends, collapses runs of
// inline whitespace and drops blank lines. Line structure is kept because
// heading detection works line by line.
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = hyphenBreak.ReplaceAllString(s, "$1$2")

	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		l = strings.TrimSpace(inlineSpace.ReplaceAllString(l, " "))
		if l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

// WordCount counts whitespace-separated words.
func WordCount(s string) int {
	return len(strings.Fields(s))
}

// StripRunningLines removes running headers and footers: a line that sits
// within the first or last two lines of at least 60% of the pages (and at
// least three pages).
func StripRunningLines(pages []Page) {
	const edge = 2
	if len(pages) < 3 {
		return
	}

	seen := make(map[string]int)
	for _, p := range pages {
		lines := strings.Split(p.Text, "\n")
		uniq := make(map[string]bool)
		for i, l := range lines {
			if i >= edge && i < len(lines)-edge {
				continue
			}
			if l = strings.TrimSpace(l); l != "" && !uniq[l] {
				uniq[l] = true
				seen[l]++
			}
		}
	}

	threshold := max(3, (len(pages)*6+9)/10)
	running := make(map[string]bool)
	for l, n := range seen {
		if n >= threshold {
			running[l] = true
		}
	}
	if len(running) == 0 {
		return
	}

	for i := range pages {
		lines := strings.Split(pages[i].Text, "\n")
		kept := lines[:0]
		for j, l := range lines {
			edgeLine := j < edge || j >= len(lines)-edge
			if edgeLine && running[strings.TrimSpace(l)] {
				continue
			}
			kept = append(kept, l)
		}
		pages[i].Text = strings.Join(kept, "\n")
	}
}
