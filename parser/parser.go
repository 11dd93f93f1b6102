package parser

// PageClass labels a page by how its content was obtained.
type PageClass string

const (
	ClassText      PageClass = "text"
	ClassImageOnly PageClass = "image_only"
	ClassMixed     PageClass = "mixed"
	ClassEmpty     PageClass = "empty"
)

// TextItem is a run of text positioned on the page. Y grows upwards
// (bottom-left origin), as in the PDF coordinate space.
type TextItem struct {
	Text   string
	X      float64
	Y      float64
	Height float64
}

// Page is one extracted page. It is filled once during ingestion and not
// modified afterwards.
type Page struct {
	Number   int // 1-based
	Text     string
	Items    []TextItem
	ImageOps int
	Class    PageClass

	// Set for image_only and mixed pages by the vision resolver.
	Description string
	ImageType   string
	AIAnalyzed  bool
}

// HasImage reports whether the page needs an image description.
func (p Page) HasImage() bool {
	return p.Class == ClassImageOnly || p.Class == ClassMixed
}

// PageBreak marks the content offset at which a page's text starts
// inside a section.
type PageBreak struct {
	Offset int
	Page   int
}

// Section is a titled, page-ranged grouping of document content.
type Section struct {
	Title        string
	Content      string
	StartPage    int
	EndPage      int
	Order        int
	ImageDerived bool
	Bullets      []string
	Breaks       []PageBreak
}

// PageAt returns the page that the content byte offset falls on.
func (s Section) PageAt(offset int) int {
	page := s.StartPage
	for _, b := range s.Breaks {
		if b.Offset > offset {
			break
		}
		page = b.Page
	}
	return page
}

// Table is a row-run promoted to a rectangular table. Rows exclude the
// header row.
type Table struct {
	PageNumber int
	Headers    []string
	Rows       [][]string
}
