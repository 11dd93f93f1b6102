package parser

import "testing"

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses spaces", "a   b\t\tc", "a b c"},
		{"joins hyphenated words", "infor-\nmation flows", "information flows"},
		{"keeps capitalized hyphen", "North-\nSouth", "North-\nSouth"},
		{"drops blank lines", "one\n\n\n two \r\nthree", "one\ntwo\nthree"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripRunningLines(t *testing.T) {
	pages := []Page{
		{Number: 1, Text: "ACME REPORT\nFirst page body.\nPage footer"},
		{Number: 2, Text: "ACME REPORT\nSecond page body.\nPage footer"},
		{Number: 3, Text: "ACME REPORT\nThird page body mentions ACME REPORT inline.\nOther footer"},
	}
	StripRunningLines(pages)

	want := []string{
		"First page body.\nPage footer",
		"Second page body.\nPage footer",
		"Third page body mentions ACME REPORT inline.\nOther footer",
	}
	for i, p := range pages {
		if p.Text != want[i] {
			t.Errorf("page %d = %q, want %q", p.Number, p.Text, want[i])
		}
	}
}

func TestStripRunningLines_FewPages(t *testing.T) {
	pages := []Page{{Text: "HEADER\nbody"}, {Text: "HEADER\nbody"}}
	StripRunningLines(pages)
	if pages[0].Text != "HEADER\nbody" {
		t.Errorf("stripped with fewer than 3 pages: %q", pages[0].Text)
	}
}

func TestStats(t *testing.T) {
	var s Stats
	for _, p := range []Page{
		{Class: ClassImageOnly, AIAnalyzed: true},
		{Class: ClassImageOnly},
		{Class: ClassText, Text: "four words right here"},
	} {
		s = s.Add(p)
	}
	if s.Pages != 3 || s.ImageOnly != 2 || s.Words != 4 || s.AIAnalyzed != 1 {
		t.Errorf("stats = %+v", s)
	}
	if !s.IsImageBased() || !s.HasImages() {
		t.Errorf("IsImageBased=%v HasImages=%v, want true", s.IsImageBased(), s.HasImages())
	}
}

func TestOpen_Malformed(t *testing.T) {
	if _, err := Open([]byte("not a pdf")); err == nil {
		t.Error("expected error for malformed PDF")
	}
}
