package parser

// Stats folds per-page counters during sequential extraction.
type Stats struct {
	Pages      int
	Words      int
	ImageOnly  int
	Mixed      int
	Empty      int
	AIAnalyzed int
}

// Add folds a classified page into the counters.
func (s Stats) Add(p Page) Stats {
	s.Pages++
	s.Words += WordCount(p.Text)
	switch p.Class {
	case ClassImageOnly:
		s.ImageOnly++
	case ClassMixed:
		s.Mixed++
	case ClassEmpty:
		s.Empty++
	}
	if p.AIAnalyzed {
		s.AIAnalyzed++
	}
	return s
}

// HasImages reports whether any page needed an image description.
func (s Stats) HasImages() bool { return s.ImageOnly+s.Mixed > 0 }

// IsImageBased reports whether image-only pages make up more than half
// of the document.
func (s Stats) IsImageBased() bool { return s.Pages > 0 && s.ImageOnly*2 > s.Pages }
