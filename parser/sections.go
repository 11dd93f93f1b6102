package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

const (
	overviewTitle    = "Overview"
	placeholderTitle = "Document Content"
	placeholderText  = "No extractable text content was found in this document."

	fallbackGroups   = 5
	minFallbackChars = 50
)

var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(chapter|section|part)\s+\d+[:.]`),
	regexp.MustCompile(`^\d+\.\d*\s+[A-Z]`),
	regexp.MustCompile(`^\p{Lu}[\p{Lu}\s]{4,}$`),
	regexp.MustCompile(`(?i)^(introduction|conclusion|summary|abstract)$`),
}

// IsHeading reports whether a trimmed line looks like a section heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

type pageLine struct {
	text string
	page int
}

// BuildSections groups classified pages into titled sections. Pages must be
// in page order. The result always holds at least one section and is
// sorted by start page.
func BuildSections(pages []Page) []Section {
	var (
		lines  []pageLine
		visual []Section
		run    []Page
	)
	flushRun := func() {
		if len(run) > 0 {
			visual = append(visual, visualSection(run))
			run = nil
		}
	}

	for _, p := range pages {
		if p.Class == ClassImageOnly {
			if len(run) > 0 && run[len(run)-1].Number+1 != p.Number {
				flushRun()
			}
			run = append(run, p)
			continue
		}
		flushRun()

		for _, l := range strings.Split(p.Text, "\n") {
			if l = strings.TrimSpace(l); l != "" {
				lines = append(lines, pageLine{text: l, page: p.Number})
			}
		}
		if p.Class == ClassMixed && p.Description != "" {
			lines = append(lines, pageLine{
				text: "[Visual content: " + p.Description + "]",
				page: p.Number,
			})
		}
	}
	flushRun()

	sections := textSections(lines)
	sections = append(sections, visual...)

	if len(sections) == 0 {
		last := 1
		if len(pages) > 0 {
			last = pages[len(pages)-1].Number
		}
		sections = append(sections, Section{
			Title:     placeholderTitle,
			Content:   placeholderText,
			StartPage: 1,
			EndPage:   last,
			Breaks:    []PageBreak{{Offset: 0, Page: 1}},
		})
	}

	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].StartPage < sections[j].StartPage
	})
	for i := range sections {
		sections[i].Order = i
		sections[i].Bullets = ExtractBullets(sections[i].Content)
	}
	return sections
}

// textSections splits lines at headings. Lines ahead of the first heading
// form an overview section. Without any heading, content longer than
// minFallbackChars is cut into equal line groups instead.
func textSections(lines []pageLine) []Section {
	var (
		out      []Section
		cur      *sectionBuilder
		headings int
	)
	closeCur := func() {
		if cur != nil && cur.content.Len() > 0 {
			out = append(out, cur.section())
		}
		cur = nil
	}

	for _, l := range lines {
		if IsHeading(l.text) {
			headings++
			closeCur()
			cur = newSectionBuilder(l.text, l.page)
			continue
		}
		if cur == nil {
			cur = newSectionBuilder(overviewTitle, l.page)
		}
		cur.add(l)
	}
	closeCur()

	if headings > 0 {
		return out
	}

	total := 0
	for _, l := range lines {
		total += utf8.RuneCountInString(l.text)
	}
	if total <= minFallbackChars {
		return out
	}
	return groupSections(lines)
}

func groupSections(lines []pageLine) []Section {
	size := (len(lines) + fallbackGroups - 1) / fallbackGroups
	var out []Section
	for i := 0; i < len(lines); i += size {
		end := min(i+size, len(lines))
		b := newSectionBuilder(fmt.Sprintf("Section %d", len(out)+1), lines[i].page)
		for _, l := range lines[i:end] {
			b.add(l)
		}
		out = append(out, b.section())
	}
	return out
}

func visualSection(run []Page) Section {
	first, last := run[0].Number, run[len(run)-1].Number
	title := fmt.Sprintf("Visual Content (Page %d)", first)
	if last != first {
		title = fmt.Sprintf("Visual Content (Pages %d–%d)", first, last)
	}

	var b strings.Builder
	breaks := make([]PageBreak, 0, len(run))
	for i, p := range run {
		if i > 0 {
			b.WriteString("\n\n")
		}
		breaks = append(breaks, PageBreak{Offset: b.Len(), Page: p.Number})
		b.WriteString(p.Description)
	}
	return Section{
		Title:        title,
		Content:      b.String(),
		StartPage:    first,
		EndPage:      last,
		ImageDerived: true,
		Breaks:       breaks,
	}
}

type sectionBuilder struct {
	title     string
	startPage int
	endPage   int
	content   strings.Builder
	breaks    []PageBreak
}

func newSectionBuilder(title string, page int) *sectionBuilder {
	return &sectionBuilder{title: title, startPage: page, endPage: page}
}

func (b *sectionBuilder) add(l pageLine) {
	if b.content.Len() > 0 {
		b.content.WriteByte('\n')
	}
	if len(b.breaks) == 0 || b.breaks[len(b.breaks)-1].Page != l.page {
		b.breaks = append(b.breaks, PageBreak{Offset: b.content.Len(), Page: l.page})
	}
	b.content.WriteString(l.text)
	if l.page > b.endPage {
		b.endPage = l.page
	}
}

func (b *sectionBuilder) section() Section {
	return Section{
		Title:     b.title,
		Content:   b.content.String(),
		StartPage: b.startPage,
		EndPage:   b.endPage,
		Breaks:    b.breaks,
	}
}
