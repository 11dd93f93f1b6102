package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/docqa/store"
)

const (
	minChunkLength = 50
	maxChunkLength = 1500
)

// Warning is an advisory finding about a chunk. Warnings never fail an
// ingestion.
type Warning struct {
	ChunkIndex int
	Message    string
}

func (w Warning) String() string {
	return fmt.Sprintf("chunk %d: %s", w.ChunkIndex, w.Message)
}

// Validate checks chunk length bounds and endings.
func Validate(chunks []store.Chunk) []Warning {
	var out []Warning
	for _, c := range chunks {
		text := strings.TrimSpace(c.Content)
		n := utf8.RuneCountInString(text)
		if n < minChunkLength || n > maxChunkLength {
			out = append(out, Warning{c.ChunkIndex, fmt.Sprintf("length %d outside [%d, %d]", n, minChunkLength, maxChunkLength)})
		}
		if text == "" {
			continue
		}
		last, _ := utf8.DecodeLastRuneInString(text)
		switch {
		case last == '-':
			out = append(out, Warning{c.ChunkIndex, "ends with a hyphen, word may be severed"})
		case !strings.ContainsRune(".!?:;", last):
			out = append(out, Warning{c.ChunkIndex, fmt.Sprintf("ends with %q instead of terminal punctuation", last)})
		}
	}
	return out
}
