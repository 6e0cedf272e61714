package chunk

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/siteproof/siteproof/internal/extract"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("word%d", i)
	}
	return strings.Join(parts, " ")
}

func sentences(n, wordsEach int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = words(wordsEach) + "."
	}
	return strings.Join(parts, " ")
}

func TestSplitKeepsSmallSectionWhole(t *testing.T) {
	c := New(Config{MaxTokens: 512, MinTokens: 100, OverlapTokens: 50})
	doc := extract.Document{
		Segments: []extract.Segment{
			{Type: extract.TypeHeading, Text: "Pricing", HeadingPath: []string{"Pricing"}},
			{Type: extract.TypeText, Text: words(60), HeadingPath: []string{"Pricing"}},
			{Type: extract.TypeText, Text: words(60), HeadingPath: []string{"Pricing"}},
		},
	}

	chunks := c.Split(doc)
	if len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %d", len(chunks))
	}
	if !strings.HasPrefix(chunks[0].Text, "Pricing") {
		t.Errorf("heading text not folded into chunk: %q", chunks[0].Text[:30])
	}
	if got := chunks[0].HeadingPath; !reflect.DeepEqual(got, []string{"Pricing"}) {
		t.Errorf("heading path = %v", got)
	}
}

func TestSplitDescendsOnlyWhenOversized(t *testing.T) {
	c := New(Config{MaxTokens: 100, MinTokens: 20, OverlapTokens: 0})
	doc := extract.Document{
		Segments: []extract.Segment{
			{Type: extract.TypeText, Text: sentences(10, 20), HeadingPath: []string{"Docs"}},
		},
	}

	chunks := c.Split(doc)
	if len(chunks) < 2 {
		t.Fatalf("oversized paragraph should split, got %d chunks", len(chunks))
	}
	for i, ch := range chunks {
		if ch.TokenCount > 100 {
			t.Errorf("chunk %d over budget: %d tokens", i, ch.TokenCount)
		}
		// Sentence-level descent: no sentence is cut mid-way.
		for _, s := range strings.Split(ch.Text, ". ") {
			if s == "" {
				continue
			}
			if !strings.HasSuffix(strings.TrimSpace(ch.Text), ".") {
				t.Errorf("chunk %d does not end on a sentence boundary: %q", i, ch.Text)
			}
			break
		}
	}
}

func TestAtomicBlocksNeverSplit(t *testing.T) {
	c := New(Config{MaxTokens: 50, MinTokens: 10, OverlapTokens: 0})
	table := sentences(8, 20) // far over MaxTokens
	doc := extract.Document{
		Segments: []extract.Segment{
			{Type: extract.TypeTable, Text: table, HeadingPath: []string{"Plans"}},
			{Type: extract.TypeList, Text: words(120), HeadingPath: []string{"Plans"}},
		},
	}

	chunks := c.Split(doc)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 atomic chunks, got %d", len(chunks))
	}
	if chunks[0].StructType != extract.TypeTable || chunks[0].Text != table {
		t.Errorf("table block was altered or split")
	}
	if chunks[1].StructType != extract.TypeList {
		t.Errorf("list block type = %q", chunks[1].StructType)
	}
	if chunks[0].TokenCount <= 50 {
		t.Errorf("test fixture not oversized: %d tokens", chunks[0].TokenCount)
	}
}

func TestAdjacentSmallChunksMerge(t *testing.T) {
	c := New(Config{MaxTokens: 512, MinTokens: 100, OverlapTokens: 0})
	doc := extract.Document{
		Segments: []extract.Segment{
			{Type: extract.TypeText, Text: words(20), HeadingPath: []string{"About"}},
			{Type: extract.TypeText, Text: words(20), HeadingPath: []string{"Team"}},
			{Type: extract.TypeText, Text: words(20), HeadingPath: []string{"Contact"}},
		},
	}

	chunks := c.Split(doc)
	if len(chunks) != 1 {
		t.Fatalf("small adjacent chunks should merge, got %d", len(chunks))
	}
}

func TestOverlapCarriesTailWords(t *testing.T) {
	c := New(Config{MaxTokens: 130, MinTokens: 10, OverlapTokens: 13})
	doc := extract.Document{
		Segments: []extract.Segment{
			{Type: extract.TypeText, Text: words(90), HeadingPath: []string{"Guide"}},
			{Type: extract.TypeText, Text: words(90), HeadingPath: []string{"Guide"}},
		},
	}

	chunks := c.Split(doc)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	first := strings.Fields(chunks[0].Text)
	second := strings.Fields(chunks[1].Text)
	tail := first[len(first)-10:]
	if !reflect.DeepEqual(second[:10], tail) {
		t.Errorf("second chunk does not start with previous tail: %v vs %v", second[:10], tail)
	}
}

func TestSplitDeterministic(t *testing.T) {
	c := New(Config{MaxTokens: 100, MinTokens: 20, OverlapTokens: 10})
	doc := extract.Document{
		Segments: []extract.Segment{
			{Type: extract.TypeHeading, Text: "Features", HeadingPath: []string{"Features"}},
			{Type: extract.TypeText, Text: sentences(12, 15), HeadingPath: []string{"Features"}},
			{Type: extract.TypeList, Text: words(40), HeadingPath: []string{"Features"}},
		},
	}

	a := c.Split(doc)
	b := c.Split(doc)
	if !reflect.DeepEqual(a, b) {
		t.Fatal("repeated split of identical input diverged")
	}
	for i, ch := range a {
		if ch.Ordinal != i {
			t.Errorf("chunk %d ordinal = %d", i, ch.Ordinal)
		}
		if ch.ContentHash == "" {
			t.Errorf("chunk %d missing content hash", i)
		}
	}
	if a[len(a)-1].PositionRatio != 1.0 {
		t.Errorf("last chunk position ratio = %f", a[len(a)-1].PositionRatio)
	}
}

func TestHashTextNormalizes(t *testing.T) {
	if HashText("Free  Shipping on ALL orders") != HashText("free shipping\non all orders") {
		t.Error("hash should ignore case and whitespace")
	}
	if HashText("alpha") == HashText("beta") {
		t.Error("distinct texts must not collide")
	}
}
