package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"github.com/brunobiangulo/docqa/parser"
	"github.com/brunobiangulo/docqa/store"
)

const (
	DefaultTargetSize = 800
	DefaultMaxSize    = 1200

	// Buffers at or below these sizes keep absorbing sentences instead of
	// being emitted.
	minFlushOnMax    = 100
	minFlushOnTarget = 300
	minFinalChunk    = 50
)

// Config controls chunk sizes, in characters.
type Config struct {
	TargetSize int // A chunk is emitted once it reaches this size.
	MaxSize    int // A chunk is emitted before a sentence would push it past this.
	Overlap    int // Trailing sentences up to this size are repeated in the next chunk. 0 disables overlap.
}

// Chunker splits section content into sentence-aligned chunks.
type Chunker struct {
	cfg Config
}

// New returns a Chunker. Zero sizes fall back to the defaults.
func New(cfg Config) *Chunker {
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = DefaultTargetSize
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxSize < cfg.TargetSize {
		cfg.MaxSize = cfg.TargetSize
	}
	if cfg.Overlap < 0 {
		cfg.Overlap = 0
	}
	return &Chunker{cfg: cfg}
}

// Chunk converts sections into store chunks. ChunkIndex runs across the
// whole document and SectionIndex restarts at zero for each section.
func (c *Chunker) Chunk(sections []parser.Section) []store.Chunk {
	chunks, _ := c.ChunkWithSectionMap(sections)
	return chunks
}

// ChunkWithSectionMap is Chunk plus a parallel slice giving the index of
// the section each chunk came from, so callers can attach section IDs
// after the sections are stored.
func (c *Chunker) ChunkWithSectionMap(sections []parser.Section) ([]store.Chunk, []int) {
	var (
		chunks     []store.Chunk
		sectionMap []int
	)
	for i, sec := range sections {
		for j, sp := range c.Split(sec.Content) {
			chunks = append(chunks, store.Chunk{
				SectionTitle: sec.Title,
				Content:      sp.Text,
				StartOffset:  sp.Start,
				EndOffset:    sp.End,
				SectionIndex: j,
				ChunkIndex:   len(chunks),
				StartPage:    sec.PageAt(sp.Start),
				EndPage:      sec.PageAt(max(sp.Start, sp.End-1)),
				ImageDerived: sec.ImageDerived,
				ContentHash:  contentHash(sp.Text),
			})
			sectionMap = append(sectionMap, i)
		}
	}
	return chunks, sectionMap
}

// Span is a chunk of text with its byte offsets in the source content.
type Span struct {
	Text  string
	Start int
	End   int
}

// Split chunks a block of text at sentence boundaries. Every span ends on
// a sentence terminator unless it holds the trailing fragment of text.
func (c *Chunker) Split(text string) []Span {
	sentences := parser.SplitSentences(text)

	var (
		out   []Span
		buf   []parser.Sentence
		fresh int // sentences in buf not carried over as overlap
	)
	emit := func(ss []parser.Sentence) {
		out = append(out, span(ss))
	}

	for _, s := range sentences {
		bufLen := joinedLen(buf)
		candLen := bufLen + utf8.RuneCountInString(s.Text)
		if len(buf) > 0 {
			candLen++
		}

		switch {
		case candLen > c.cfg.MaxSize && bufLen > minFlushOnMax:
			if fresh > 0 {
				emit(buf)
				buf = append(c.overlap(buf), s)
			} else {
				// Pure overlap is dropped, never emitted alone.
				buf = []parser.Sentence{s}
			}
			fresh = 1
		case candLen >= c.cfg.TargetSize && bufLen > minFlushOnTarget:
			buf = append(buf, s)
			emit(buf)
			buf = c.overlap(buf)
			fresh = 0
		default:
			buf = append(buf, s)
			fresh++
		}
	}

	if fresh > 0 && joinedLen(buf) > minFinalChunk {
		emit(buf)
	}
	return out
}

// overlap returns the trailing whole sentences of ss whose joined length
// fits in the configured overlap. The result does not alias ss.
func (c *Chunker) overlap(ss []parser.Sentence) []parser.Sentence {
	if c.cfg.Overlap == 0 {
		return nil
	}
	n, size := 0, 0
	for i := len(ss) - 1; i >= 0; i-- {
		l := utf8.RuneCountInString(ss[i].Text)
		if n > 0 {
			l++
		}
		if size+l > c.cfg.Overlap {
			break
		}
		size += l
		n++
	}
	// Never carry the whole chunk forward.
	if n == len(ss) {
		n--
	}
	if n <= 0 {
		return nil
	}
	return append([]parser.Sentence(nil), ss[len(ss)-n:]...)
}

func span(ss []parser.Sentence) Span {
	parts := make([]string, len(ss))
	for i, s := range ss {
		parts[i] = s.Text
	}
	return Span{
		Text:  strings.Join(parts, " "),
		Start: ss[0].Start,
		End:   ss[len(ss)-1].End,
	}
}

func joinedLen(ss []parser.Sentence) int {
	if len(ss) == 0 {
		return 0
	}
	n := len(ss) - 1
	for _, s := range ss {
		n += utf8.RuneCountInString(s.Text)
	}
	return n
}

// contentHash returns the SHA-256 hex digest of text.
func contentHash(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
