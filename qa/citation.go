package qa

import (
	"regexp"
	"strconv"
	"strings"
)

// Citation is a page or section reference found in an answer.
type Citation struct {
	Text     string `json:"text"`
	Page     int    `json:"page,omitempty"`
	ChunkID  string `json:"chunk_id,omitempty"` // first source covering the reference
	Verified bool   `json:"verified"`
}

var (
	pageRef    = regexp.MustCompile(`(?i)\b(?:pages?|p\.)\s*(\d+)`)
	sectionRef = regexp.MustCompile(`\[Source:\s*"([^"]+)"`)
)

// ExtractCitations finds page and source references in an answer and
// checks each against the sources the answer was given.
func ExtractCitations(answer string, sources []Source) []Citation {
	var out []Citation
	seen := make(map[string]bool)

	for _, m := range pageRef.FindAllStringSubmatch(answer, -1) {
		ref := strings.TrimSpace(m[0])
		if seen[ref] {
			continue
		}
		seen[ref] = true
		page, _ := strconv.Atoi(m[1])
		c := Citation{Text: ref, Page: page}
		for _, s := range sources {
			if page >= s.StartPage && page <= s.EndPage {
				c.ChunkID, c.Verified = s.ChunkID, true
				break
			}
		}
		out = append(out, c)
	}

	for _, m := range sectionRef.FindAllStringSubmatch(answer, -1) {
		title := m[1]
		if seen[title] {
			continue
		}
		seen[title] = true
		c := Citation{Text: title}
		for _, s := range sources {
			if strings.EqualFold(s.SectionTitle, title) {
				c.ChunkID, c.Verified = s.ChunkID, true
				break
			}
		}
		out = append(out, c)
	}
	return out
}
