package parser

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Source is an opened PDF. It yields positioned text items and the number
// of image paint operations per page.
type Source struct {
	data   []byte
	reader *pdf.Reader
}

// Open parses the PDF header and cross-reference table. A malformed file
// fails here.
func Open(data []byte) (src *Source, err error) {
	defer func() {
		if r := recover(); r != nil {
			src, err = nil, fmt.Errorf("opening PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	if reader.NumPage() == 0 {
		return nil, fmt.Errorf("opening PDF: no pages")
	}
	return &Source{data: data, reader: reader}, nil
}

// NumPages returns the page count.
func (s *Source) NumPages() int { return s.reader.NumPage() }

// Data returns the raw PDF bytes, used by renderers.
func (s *Source) Data() []byte { return s.data }

// Page extracts page n (1-based). The returned page is unclassified.
// A page whose content stream cannot be decoded returns the error along
// with an empty page so callers can keep going.
func (s *Source) Page(n int) (Page, error) {
	out := Page{Number: n}
	p := s.reader.Page(n)
	if p.V.IsNull() {
		return out, fmt.Errorf("page %d: missing page object", n)
	}

	items, lines, err := textItems(p)
	if err != nil {
		return out, fmt.Errorf("page %d: %w", n, err)
	}
	out.Items = items
	out.Text = strings.Join(lines, "\n")
	out.ImageOps = countImageOps(p)
	return out, nil
}

const (
	// Fractions of the font size.
	lineTolerance = 0.3
	wordGap       = 0.2
	runGap        = 1.0
)

// run is a stretch of glyphs drawn left to right on one baseline with no
// gap wider than runGap.
type run struct {
	text     strings.Builder
	x, y     float64
	end      float64
	fontSize float64
}

func textItems(p pdf.Page) (items []TextItem, lines []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading text: %v", r)
		}
	}()

	runs := glyphRuns(p.Content().Text)
	for _, line := range groupLines(runs) {
		parts := make([]string, 0, len(line))
		for _, r := range line {
			s := strings.TrimSpace(r.text.String())
			items = append(items, TextItem{Text: s, X: r.x, Y: r.y, Height: r.fontSize})
			parts = append(parts, s)
		}
		lines = append(lines, strings.Join(parts, " "))
	}
	return items, lines, nil
}

// glyphRuns merges glyphs, in content stream order, into runs. Glyphs
// closer than runGap join the current run; a gap wider than wordGap
// without a space glyph inserts one. Kerning adjustments inside TJ arrays
// stay well under wordGap, so kerned words are not split.
func glyphRuns(glyphs []pdf.Text) []*run {
	var (
		runs []*run
		cur  *run
	)
	for _, g := range glyphs {
		if g.S == "\n" || g.S == "\r" || g.S == "" {
			continue
		}
		fs := g.FontSize
		if fs <= 0 {
			fs = 1
		}
		space := strings.TrimSpace(g.S) == ""

		if cur != nil {
			gap := g.X - cur.end
			sameLine := math.Abs(g.Y-cur.y) <= lineTolerance*fs
			if sameLine && gap >= -runGap*fs && gap <= runGap*fs {
				if gap > wordGap*fs && !space && !strings.HasSuffix(cur.text.String(), " ") {
					cur.text.WriteByte(' ')
				}
				cur.text.WriteString(g.S)
				cur.end = g.X + g.W
				continue
			}
			cur = nil
		}
		if space {
			continue
		}
		cur = &run{x: g.X, y: g.Y, end: g.X + g.W, fontSize: fs}
		cur.text.WriteString(g.S)
		runs = append(runs, cur)
	}
	return runs
}

// groupLines orders runs top to bottom, clustering baselines within
// lineTolerance, and each line left to right.
func groupLines(runs []*run) [][]*run {
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].y > runs[j].y })

	var (
		out  [][]*run
		line []*run
		top  float64
	)
	for _, r := range runs {
		if strings.TrimSpace(r.text.String()) == "" {
			continue
		}
		if len(line) > 0 && top-r.y > lineTolerance*r.fontSize {
			out = append(out, line)
			line = nil
		}
		if len(line) == 0 {
			top = r.y
		}
		line = append(line, r)
	}
	if len(line) > 0 {
		out = append(out, line)
	}
	for _, l := range out {
		sort.SliceStable(l, func(i, j int) bool { return l[i].x < l[j].x })
	}
	return out
}

// countImageOps counts image paint operations in the page content: Do
// operators that reference an image XObject, plus inline images.
func countImageOps(p pdf.Page) int {
	xobjects := p.Resources().Key("XObject")
	isImage := func(name string) bool {
		if xobjects.IsNull() {
			return true
		}
		xo := xobjects.Key(name)
		if xo.IsNull() {
			return false
		}
		return xo.Key("Subtype").Name() == "Image"
	}

	contents := p.V.Key("Contents")
	var streams []pdf.Value
	if contents.Kind() == pdf.Array {
		for i := 0; i < contents.Len(); i++ {
			streams = append(streams, contents.Index(i))
		}
	} else if !contents.IsNull() {
		streams = append(streams, contents)
	}

	count := 0
	for _, strm := range streams {
		count += interpretImageOps(strm, isImage)
	}
	return count
}

func interpretImageOps(strm pdf.Value, isImage func(string) bool) (count int) {
	defer func() {
		// Malformed streams keep whatever was counted before the fault.
		_ = recover()
	}()

	pdf.Interpret(strm, func(stk *pdf.Stack, op string) {
		switch op {
		case "Do":
			if stk.Len() == 0 {
				return
			}
			if isImage(stk.Pop().Name()) {
				count++
			}
		case "BI":
			count++
		}
		for stk.Len() > 0 {
			stk.Pop()
		}
	})
	return count
}
