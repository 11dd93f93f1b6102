package parser

import (
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	long := strings.Repeat("word ", 20)
	tests := []struct {
		name   string
		text   string
		images int
		want   PageClass
	}{
		{"long text no images", long, 0, ClassText},
		{"short text with images", "Fig. 1", 2, ClassImageOnly},
		{"ten chars two images", "0123456789", 2, ClassImageOnly},
		{"long text with images", long, 1, ClassMixed},
		{"nothing at all", "", 0, ClassEmpty},
		{"thirty chars no images", strings.Repeat("a", 30), 0, ClassEmpty},
		{"thirty chars with images", strings.Repeat("a", 30), 3, ClassEmpty},
		{"exactly fifty chars", strings.Repeat("a", 50), 0, ClassEmpty},
		{"fifty one chars", strings.Repeat("a", 51), 0, ClassText},
		{"exactly twenty with images", strings.Repeat("a", 20), 1, ClassEmpty},
		{"whitespace is trimmed", "   " + strings.Repeat("a", 10) + "   \n\n", 1, ClassImageOnly},
		{"multibyte counted as runes", strings.Repeat("é", 40), 0, ClassEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.text, tt.images)
			if got != tt.want {
				t.Errorf("Classify(%d chars, %d) = %q, want %q", len(tt.text), tt.images, got, tt.want)
			}
			if again := Classify(tt.text, tt.images); again != got {
				t.Errorf("Classify not deterministic: %q then %q", got, again)
			}
		})
	}
}
