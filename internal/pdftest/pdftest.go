// Package pdftest builds small uncompressed PDFs for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Text is a string drawn at an absolute position, in points from the
// bottom-left corner.
type Text struct {
	X, Y float64
	S    string
}

// Page describes one page. Images is the number of image XObjects painted.
// Raw is appended to the content stream as is, for text laid out with
// relative operators (see Flow).
type Page struct {
	Texts  []Text
	Images int
	Raw    string
}

// Lines places each line at x=72, top to bottom, 14pt apart.
func Lines(lines ...string) []Text {
	out := make([]Text, len(lines))
	for i, l := range lines {
		out[i] = Text{X: 72, Y: 740 - float64(i)*14, S: l}
	}
	return out
}

// GlyphWidth is the advance of every glyph at 11pt, in points.
const GlyphWidth = 5.5

// Flow writes lines as one text object the way most producers do: the
// first line placed with Td, the rest with T* at the given leading.
func Flow(x, y, leading float64, lines ...string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "BT /F1 11 Tf %g TL %g %g Td", leading, x, y)
	for i, l := range lines {
		if i > 0 {
			b.WriteString(" T*")
		}
		fmt.Fprintf(&b, " (%s) Tj", escape(l))
	}
	b.WriteString(" ET\n")
	return b.String()
}

// Build returns a PDF 1.4 file with one page per entry.
func Build(pages ...Page) []byte {
	// Fixed objects: 1 catalog, 2 page tree, 3 font, 4 image.
	// Each page adds a page object and a content stream.
	var objs []string
	kids := make([]string, len(pages))
	for i := range pages {
		kids[i] = fmt.Sprintf("%d 0 R", 5+2*i)
	}
	objs = append(objs,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding "+
			"/FirstChar 32 /LastChar 126 /Widths ["+strings.TrimSpace(strings.Repeat("500 ", 95))+"] >>",
		stream("<< /Type /XObject /Subtype /Image /Width 1 /Height 1 /ColorSpace /DeviceGray /BitsPerComponent 8", "\x80"),
	)
	for i, p := range pages {
		objs = append(objs,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] "+
				"/Resources << /Font << /F1 3 0 R >> /XObject << /Im1 4 0 R >> >> /Contents %d 0 R >>", 6+2*i),
			stream("<<", content(p)),
		)
	}

	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = b.Len()
		fmt.Fprintf(&b, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := b.Len()
	fmt.Fprintf(&b, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&b, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&b, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return b.Bytes()
}

// stream closes an open dictionary header with /Length and appends data.
func stream(header, data string) string {
	return fmt.Sprintf("%s /Length %d >>\nstream\n%s\nendstream", header, len(data), data)
}

func content(p Page) string {
	var b strings.Builder
	for _, t := range p.Texts {
		fmt.Fprintf(&b, "BT /F1 11 Tf 1 0 0 1 %.0f %.0f Tm (%s) Tj ET\n", t.X, t.Y, escape(t.S))
	}
	b.WriteString(p.Raw)
	for i := 0; i < p.Images; i++ {
		fmt.Fprintf(&b, "q 200 0 0 150 %d 100 cm /Im1 Do Q\n", 100+i*10)
	}
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `(`, `\(`, `)`, `\)`)
	return r.Replace(s)
}
