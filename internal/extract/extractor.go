package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Segment types mirror the structural chunk types downstream.
const (
	TypeText    = "text"
	TypeList    = "list"
	TypeTable   = "table"
	TypeHeading = "heading"
	TypeCode    = "code"
)

// Segment is one structural unit of cleaned text with its heading ancestry.
type Segment struct {
	HeadingPath []string
	Type        string
	Text        string
}

// Document is the extractor's output for one page. Both render modes produce
// this same shape.
type Document struct {
	URL             string
	Title           string
	MetaDescription string
	StructuredTypes []string // JSON-LD @type values found on the page
	NavLabels       []string // navigation link labels, signal for question generation
	Segments        []Segment
	WordCount       int
	InternalLinks   int
	ExternalLinks   int
	LowContent      bool
}

// Extractor strips boilerplate and preserves structural metadata.
type Extractor struct {
	minWords int
	logger   *slog.Logger
}

func New(minWords int, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{minWords: minWords, logger: logger}
}

// Extract cleans one page. Pages below the word floor are flagged LowContent
// and excluded from chunking by the caller, but never dropped from coverage.
func (e *Extractor) Extract(pageURL string, body []byte, contentType string) (Document, error) {
	if strings.Contains(contentType, "application/pdf") {
		return e.extractPDF(pageURL, body)
	}
	return e.extractHTML(pageURL, body)
}

func (e *Extractor) extractHTML(pageURL string, body []byte) (Document, error) {
	parsedURL, err := url.Parse(pageURL)
	if err != nil {
		return Document{}, fmt.Errorf("parsing page url: %w", err)
	}

	raw, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return Document{}, fmt.Errorf("parsing markup for %s: %w", pageURL, err)
	}

	doc := Document{
		URL:             pageURL,
		Title:           strings.TrimSpace(raw.Find("title").First().Text()),
		MetaDescription: metaDescription(raw),
		StructuredTypes: structuredTypes(raw),
		NavLabels:       navLabels(raw),
	}
	doc.InternalLinks, doc.ExternalLinks = countLinks(raw, parsedURL)

	// Readability pass isolates the main content; fall back to the raw
	// document when it cannot find an article node.
	content := raw
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err == nil && strings.TrimSpace(article.Content) != "" {
		if cleaned, perr := goquery.NewDocumentFromReader(strings.NewReader(article.Content)); perr == nil {
			content = cleaned
		}
		if doc.Title == "" {
			doc.Title = article.Title
		}
	} else if err != nil {
		e.logger.Debug("readability fallback to raw markup", "url", pageURL, "error", err)
	}

	doc.Segments = walkSegments(content)
	for _, seg := range doc.Segments {
		doc.WordCount += len(strings.Fields(seg.Text))
	}
	doc.LowContent = doc.WordCount < e.minWords
	return doc, nil
}

// walkSegments traverses block elements in document order, maintaining the
// heading stack so every segment carries its ancestor heading path. List and
// table blocks are emitted whole.
func walkSegments(doc *goquery.Document) []Segment {
	var segments []Segment
	var headingStack []string

	doc.Find("h1,h2,h3,h4,h5,h6,p,ul,ol,table,pre").Each(func(_ int, sel *goquery.Selection) {
		// Nested blocks are covered by their outermost list/table ancestor.
		if sel.ParentsFiltered("ul,ol,table").Length() > 0 {
			return
		}

		tag := goquery.NodeName(sel)
		switch tag {
		case "h1", "h2", "h3", "h4", "h5", "h6":
			level := int(tag[1] - '0')
			text := squash(sel.Text())
			if text == "" {
				return
			}
			if level-1 < len(headingStack) {
				headingStack = headingStack[:level-1]
			}
			headingStack = append(headingStack, text)
			segments = append(segments, Segment{
				HeadingPath: pathCopy(headingStack[:len(headingStack)-1]),
				Type:        TypeHeading,
				Text:        text,
			})
		case "p":
			text := squash(sel.Text())
			if text == "" {
				return
			}
			segments = append(segments, Segment{
				HeadingPath: pathCopy(headingStack),
				Type:        TypeText,
				Text:        text,
			})
		case "ul", "ol":
			var items []string
			sel.Find("li").Each(func(_ int, li *goquery.Selection) {
				if t := squash(li.Text()); t != "" {
					items = append(items, "- "+t)
				}
			})
			if len(items) == 0 {
				return
			}
			segments = append(segments, Segment{
				HeadingPath: pathCopy(headingStack),
				Type:        TypeList,
				Text:        strings.Join(items, "\n"),
			})
		case "table":
			text := tableText(sel)
			if text == "" {
				return
			}
			segments = append(segments, Segment{
				HeadingPath: pathCopy(headingStack),
				Type:        TypeTable,
				Text:        text,
			})
		case "pre":
			text := strings.TrimSpace(sel.Text())
			if text == "" {
				return
			}
			segments = append(segments, Segment{
				HeadingPath: pathCopy(headingStack),
				Type:        TypeCode,
				Text:        text,
			})
		}
	})
	return segments
}

// tableText flattens a table into pipe-separated rows.
func tableText(sel *goquery.Selection) string {
	var rows []string
	sel.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var cells []string
		tr.Find("th,td").Each(func(_ int, cell *goquery.Selection) {
			cells = append(cells, squash(cell.Text()))
		})
		if len(cells) > 0 {
			rows = append(rows, strings.Join(cells, " | "))
		}
	})
	return strings.Join(rows, "\n")
}

func metaDescription(doc *goquery.Document) string {
	desc, _ := doc.Find(`meta[name="description"]`).First().Attr("content")
	return strings.TrimSpace(desc)
}

// structuredTypes collects JSON-LD @type values, including @graph members.
func structuredTypes(doc *goquery.Document) []string {
	seen := map[string]bool{}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var payload any
		if err := json.Unmarshal([]byte(sel.Text()), &payload); err != nil {
			return
		}
		collectTypes(payload, seen)
	})
	if len(seen) == 0 {
		return nil
	}
	types := make([]string, 0, len(seen))
	for t := range seen {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func collectTypes(payload any, seen map[string]bool) {
	switch v := payload.(type) {
	case map[string]any:
		switch t := v["@type"].(type) {
		case string:
			seen[t] = true
		case []any:
			for _, item := range t {
				if s, ok := item.(string); ok {
					seen[s] = true
				}
			}
		}
		if graph, ok := v["@graph"].([]any); ok {
			for _, item := range graph {
				collectTypes(item, seen)
			}
		}
	case []any:
		for _, item := range v {
			collectTypes(item, seen)
		}
	}
}

// navLabels gathers link text from nav and header regions of the raw markup.
// Readability strips these, but question generation needs them.
func navLabels(doc *goquery.Document) []string {
	seen := map[string]bool{}
	var labels []string
	doc.Find("nav a, header a, [role=navigation] a").Each(func(_ int, sel *goquery.Selection) {
		label := squash(sel.Text())
		if label == "" || len(label) > 40 || seen[strings.ToLower(label)] {
			return
		}
		seen[strings.ToLower(label)] = true
		labels = append(labels, label)
	})
	return labels
}

func countLinks(doc *goquery.Document, pageURL *url.URL) (internal, external int) {
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		u, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := pageURL.ResolveReference(u)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		if strings.EqualFold(resolved.Host, pageURL.Host) {
			internal++
		} else {
			external++
		}
	})
	return internal, external
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func pathCopy(path []string) []string {
	if len(path) == 0 {
		return nil
	}
	out := make([]string, len(path))
	copy(out, path)
	return out
}
