package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// extractPDF pulls plain text from PDF responses discovered during the
// crawl. PDFs have no heading markup, so the whole body lands in text
// segments split per page.
func (e *Extractor) extractPDF(pageURL string, body []byte) (Document, error) {
	reader, err := pdf.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return Document{}, fmt.Errorf("opening pdf %s: %w", pageURL, err)
	}

	doc := Document{URL: pageURL}
	for i := 1; i <= reader.NumPage(); i++ {
		p := reader.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			e.logger.Debug("pdf page text failed", "url", pageURL, "page", i, "error", err)
			continue
		}
		text = squash(text)
		if text == "" {
			continue
		}
		doc.Segments = append(doc.Segments, Segment{Type: TypeText, Text: text})
		doc.WordCount += len(strings.Fields(text))
	}
	doc.LowContent = doc.WordCount < e.minWords
	return doc, nil
}
