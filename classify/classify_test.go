package classify

import (
	"net/url"
	"strings"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		url  string
		kind Kind
	}{
		{"https://example.com/files/report.pdf", PDF},
		{"https://example.com/files/REPORT.PDF", PDF},
		{"https://example.com/a/deck.ppt", Slides},
		{"https://example.com/a/deck.PpTx", Slides},
		{"https://example.com/a/letter.doc", Markup},
		{"https://example.com/a/letter.docx", Markup},
		{"https://example.com/a/budget.xls", Tabular},
		{"https://example.com/a/budget.XLSX", Tabular},
		{"https://example.com/a/notes.txt", Text},
		{"https://example.com/a/notes.Txt?x=1#frag", Text},
		{"file:///home/u/notes.txt", Text},
	}
	for _, tt := range tests {
		if got := Classify(tt.url); got != tt.kind {
			t.Errorf("Classify(%q) = %v, want %v", tt.url, got, tt.kind)
		}
		if !IsSupported(tt.url) {
			t.Errorf("IsSupported(%q) = false, want true", tt.url)
		}
	}
}

func TestClassify_Unsupported(t *testing.T) {
	urls := []string{
		"https://example.com/",
		"https://example.com/index.html",
		"https://example.com/view.php?file=report.pdf",
		"https://example.com/report.pdf.zip",
		"https://example.com/report.pdfx",
		"https://example.com/pdf",
		"/files/report.pdf",
		"report.pdf",
		"",
		"http://[::1",
		"%zz://bad/report.pdf",
	}
	for _, u := range urls {
		if IsSupported(u) {
			t.Errorf("IsSupported(%q) = true, want false", u)
		}
		if k := Classify(u); k != None {
			t.Errorf("Classify(%q) = %v, want None", u, k)
		}
	}
}

func TestCanonicalize_RemovesOnlyForceDownload(t *testing.T) {
	got, err := Canonicalize("https://x/doc.pdf?forcedownload=1&a=2")
	if err != nil {
		t.Fatal(err)
	}
	u, err := url.Parse(got)
	if err != nil {
		t.Fatal(err)
	}
	if u.Query().Has("forcedownload") {
		t.Fatalf("forcedownload still present in %q", got)
	}
	if u.Query().Get("a") != "2" {
		t.Fatalf("a=2 missing from %q", got)
	}
}

func TestCanonicalize_PreservesOrder(t *testing.T) {
	got, err := Canonicalize("https://x/f.docx?z=1&forcedownload=1&b=%20two&a=3&forcedownload=0")
	if err != nil {
		t.Fatal(err)
	}
	want := "https://x/f.docx?z=1&b=%20two&a=3"
	if got != want {
		t.Fatalf("Canonicalize = %q, want %q", got, want)
	}
}

func TestCanonicalize_DropsEmptyQuery(t *testing.T) {
	got, err := Canonicalize("https://x/files/report.pdf?forcedownload=1")
	if err != nil {
		t.Fatal(err)
	}
	if got != "https://x/files/report.pdf" {
		t.Fatalf("got %q", got)
	}
}

func TestCanonicalize_Idempotent(t *testing.T) {
	inputs := []string{
		"https://x/doc.pdf?forcedownload=1&a=2",
		"https://x/doc.pdf",
		"https://x/doc.pdf?",
		"https://x/a%20b.txt?q=a+b&forcedownload",
		"https://x/doc.xlsx?forceDownload=1",
		"https://user@x:8443/p/doc.pptx?x=1#page=2",
	}
	for _, in := range inputs {
		once, err := Canonicalize(in)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", in, err)
		}
		twice, err := Canonicalize(once)
		if err != nil {
			t.Fatalf("Canonicalize(%q): %v", once, err)
		}
		if once != twice {
			t.Errorf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestCanonicalize_KeysAreCaseSensitive(t *testing.T) {
	got, err := Canonicalize("https://x/doc.pdf?forceDownload=1")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(got, "forceDownload=1") {
		t.Fatalf("only the exact key is removed, got %q", got)
	}
}

func TestCanonicalize_Malformed(t *testing.T) {
	if _, err := Canonicalize("not a url"); err == nil {
		t.Fatal("expected error for relative URL")
	}
}

func TestNewRequest(t *testing.T) {
	req, err := NewRequest("https://x/files/Report%20Q3.pdf?forcedownload=1")
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != PDF {
		t.Fatalf("kind = %v", req.Kind)
	}
	if req.URL != "https://x/files/Report%20Q3.pdf" {
		t.Fatalf("url = %q", req.URL)
	}
	if req.Name != "Report Q3.pdf" {
		t.Fatalf("name = %q", req.Name)
	}

	if _, err := NewRequest("https://x/page.html"); err == nil {
		t.Fatal("expected error for unsupported URL")
	}
}

func TestKindTable(t *testing.T) {
	kinds := Kinds()
	if len(kinds) != NumKinds-1 {
		t.Fatalf("Kinds() = %v, want %d entries", kinds, NumKinds-1)
	}
	for _, k := range kinds {
		if ParseKind(k.String()) != k {
			t.Errorf("ParseKind(%q) != %v", k.String(), k)
		}
	}
	if !PDF.Paginated() || !Slides.Paginated() {
		t.Error("pdf and slides are paginated")
	}
	if Markup.Paginated() || Tabular.Paginated() || Text.Paginated() {
		t.Error("single-view kinds are not paginated")
	}
	if len(Patterns()) != len(kinds) {
		t.Error("one pattern per kind")
	}
}
