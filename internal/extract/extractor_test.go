package extract

import (
	"strings"
	"testing"
)

const fixturePage = `<!DOCTYPE html>
<html>
<head>
<title>Acme Widgets</title>
<meta name="description" content="Widgets for everyone.">
<script type="application/ld+json">
{"@context":"https://schema.org","@type":"Organization","name":"Acme"}
</script>
<script type="application/ld+json">
{"@graph":[{"@type":"Product","name":"Widget"},{"@type":["FAQPage","WebPage"]}]}
</script>
</head>
<body>
<nav><a href="/pricing">Pricing</a><a href="/about">About</a><a href="/faq">FAQ</a></nav>
<article>
<h1>Acme Widgets</h1>
<p>We make widgets that answer engines can actually cite. Our widgets ship worldwide
and come with a lifetime guarantee covering all moving parts and finishes.</p>
<h2>Features</h2>
<ul>
<li>Rust-proof casing</li>
<li>Modular gears</li>
</ul>
<h2>Pricing</h2>
<table>
<tr><th>Plan</th><th>Price</th></tr>
<tr><td>Basic</td><td>$49/mo</td></tr>
</table>
<p>All plans include support.</p>
</article>
<footer><a href="https://twitter.com/acme">Twitter</a></footer>
</body>
</html>`

func testExtractor() *Extractor {
	return New(10, nil)
}

func TestExtractPreservesHeadingPaths(t *testing.T) {
	doc, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var pricingSeg *Segment
	for i := range doc.Segments {
		if doc.Segments[i].Type == TypeTable {
			pricingSeg = &doc.Segments[i]
		}
	}
	if pricingSeg == nil {
		t.Fatal("table segment missing")
	}
	path := strings.Join(pricingSeg.HeadingPath, " > ")
	if !strings.Contains(path, "Pricing") {
		t.Errorf("table heading path = %q, want it to contain Pricing", path)
	}
	if !strings.Contains(pricingSeg.Text, "Basic | $49/mo") {
		t.Errorf("table text = %q", pricingSeg.Text)
	}
}

func TestExtractKeepsListsWhole(t *testing.T) {
	doc, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	var lists []Segment
	for _, seg := range doc.Segments {
		if seg.Type == TypeList {
			lists = append(lists, seg)
		}
	}
	if len(lists) != 1 {
		t.Fatalf("expected 1 list segment, got %d", len(lists))
	}
	if !strings.Contains(lists[0].Text, "Rust-proof casing") || !strings.Contains(lists[0].Text, "Modular gears") {
		t.Errorf("list items split across segments: %q", lists[0].Text)
	}
}

func TestExtractMetadata(t *testing.T) {
	doc, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}

	if doc.Title != "Acme Widgets" {
		t.Errorf("title = %q", doc.Title)
	}
	if doc.MetaDescription != "Widgets for everyone." {
		t.Errorf("meta description = %q", doc.MetaDescription)
	}
	wantTypes := []string{"FAQPage", "Organization", "Product", "WebPage"}
	if len(doc.StructuredTypes) != len(wantTypes) {
		t.Fatalf("structured types = %v, want %v", doc.StructuredTypes, wantTypes)
	}
	for i, want := range wantTypes {
		if doc.StructuredTypes[i] != want {
			t.Errorf("structured type %d = %q, want %q", i, doc.StructuredTypes[i], want)
		}
	}
}

func TestExtractNavLabels(t *testing.T) {
	doc, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := map[string]bool{"Pricing": true, "About": true, "FAQ": true}
	for _, label := range doc.NavLabels {
		delete(want, label)
	}
	if len(want) > 0 {
		t.Errorf("nav labels missing: %v (got %v)", want, doc.NavLabels)
	}
}

func TestExtractLinkCounts(t *testing.T) {
	doc, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if doc.InternalLinks != 3 {
		t.Errorf("internal links = %d, want 3", doc.InternalLinks)
	}
	if doc.ExternalLinks != 1 {
		t.Errorf("external links = %d, want 1", doc.ExternalLinks)
	}
}

func TestExtractLowContentFlag(t *testing.T) {
	thin := `<html><head><title>Thin</title></head><body><p>barely anything here</p></body></html>`
	doc, err := New(30, nil).Extract("https://acme.test/thin", []byte(thin), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if !doc.LowContent {
		t.Errorf("expected low-content flag for %d words", doc.WordCount)
	}
}

func TestExtractDeterministic(t *testing.T) {
	first, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	second, err := testExtractor().Extract("https://acme.test/", []byte(fixturePage), "text/html")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(first.Segments) != len(second.Segments) {
		t.Fatalf("segment counts differ: %d vs %d", len(first.Segments), len(second.Segments))
	}
	for i := range first.Segments {
		if first.Segments[i].Text != second.Segments[i].Text || first.Segments[i].Type != second.Segments[i].Type {
			t.Errorf("segment %d differs between identical extractions", i)
		}
	}
}
