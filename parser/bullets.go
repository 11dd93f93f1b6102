package parser

import (
	"strings"
	"unicode/utf8"
)

const (
	maxBullets      = 5
	leadBullets     = 3
	minBulletLength = 20
	maxBulletLength = 200
)

var bulletKeywords = []string{
	"important", "key", "main", "conclusion", "result", "finding",
	"must", "should", "shows", "displays", "illustrates",
}

// ExtractBullets picks up to five key sentences from content: the first
// three sentences longer than 20 characters, then any later ones that
// contain a keyword.
func ExtractBullets(content string) []string {
	var out []string
	for _, s := range SplitSentences(content) {
		if len(out) == maxBullets {
			break
		}
		if utf8.RuneCountInString(s.Text) <= minBulletLength {
			continue
		}
		if len(out) < leadBullets || hasKeyword(s.Text) {
			out = append(out, truncateRunes(s.Text, maxBulletLength))
		}
	}
	return out
}

func hasKeyword(s string) bool {
	lower := strings.ToLower(s)
	for _, k := range bulletKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
