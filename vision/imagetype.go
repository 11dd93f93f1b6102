package vision

import "strings"

// UnknownType tags pages without an AI description.
const UnknownType = "unknown"

var imageTypes = []struct {
	tag      string
	keywords []string
}{
	{"chart", []string{"chart", "graph", "plot", "histogram"}},
	{"diagram", []string{"diagram", "flowchart", "schematic", "architecture"}},
	{"table", []string{"table", "spreadsheet"}},
	{"photo", []string{"photo", "photograph"}},
	{"screenshot", []string{"screenshot", "screen capture", "user interface"}},
	{"map", []string{"map"}},
}

// DetectImageType tags a description by the first keyword group found in
// its opening sentence, falling back to the whole text and then "image".
func DetectImageType(desc string) string {
	lower := strings.ToLower(desc)
	first, _, _ := strings.Cut(lower, ".")
	for _, text := range []string{first, lower} {
		for _, it := range imageTypes {
			for _, kw := range it.keywords {
				if containsWord(text, kw) {
					return it.tag
				}
			}
		}
	}
	if strings.TrimSpace(desc) == "" {
		return UnknownType
	}
	return "image"
}

// containsWord reports whether kw occurs in s starting at a word boundary.
func containsWord(s, kw string) bool {
	for i := 0; ; {
		j := strings.Index(s[i:], kw)
		if j < 0 {
			return false
		}
		j += i
		if j == 0 || !isLetter(s[j-1]) {
			return true
		}
		i = j + 1
	}
}

func isLetter(b byte) bool {
	return b >= 'a' && b <= 'z'
}
