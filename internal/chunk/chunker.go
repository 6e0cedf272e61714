package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"

	"github.com/siteproof/siteproof/internal/extract"
)

// Chunk is one retrieval unit produced from an extracted document.
type Chunk struct {
	Ordinal       int
	Text          string
	TokenCount    int
	HeadingPath   []string
	StructType    string
	ContentHash   string
	PositionRatio float64
}

// Config bounds chunk sizes in token-equivalents.
type Config struct {
	MaxTokens     int // default 512
	MinTokens     int // default 100
	OverlapTokens int // default 50
}

// Chunker splits documents hierarchically: section, paragraph, sentence,
// word — descending a level only when the parent unit exceeds MaxTokens.
// List, table and code blocks are atomic even when oversized.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 512
	}
	if cfg.MinTokens <= 0 {
		cfg.MinTokens = 100
	}
	if cfg.OverlapTokens < 0 {
		cfg.OverlapTokens = 0
	}
	return &Chunker{cfg: cfg}
}

// tokensPerWord is the token-equivalent estimate used throughout scoring.
const tokensPerWord = 1.3

// EstimateTokens converts a word count to token-equivalents.
func EstimateTokens(words int) int {
	return int(math.Ceil(float64(words) * tokensPerWord))
}

// TokenCount estimates token-equivalents for a text.
func TokenCount(text string) int {
	return EstimateTokens(len(strings.Fields(text)))
}

// Split chunks one document. Identical input yields byte-identical chunks.
func (c *Chunker) Split(doc extract.Document) []Chunk {
	var builder chunkBuilder
	builder.cfg = c.cfg

	var pendingHeading *extract.Segment
	for i := range doc.Segments {
		seg := doc.Segments[i]
		switch seg.Type {
		case extract.TypeHeading:
			// Headings attach to the text that follows them; a heading with
			// no body stands alone.
			builder.flush()
			if pendingHeading != nil {
				builder.emitStandaloneHeading(*pendingHeading)
			}
			pendingHeading = &doc.Segments[i]
		case extract.TypeList, extract.TypeTable, extract.TypeCode:
			builder.flush()
			text := seg.Text
			if pendingHeading != nil {
				text = pendingHeading.Text + "\n" + text
				pendingHeading = nil
			}
			// Atomic: never split inside a list or table, oversize allowed.
			builder.emit(text, seg.Type, seg.HeadingPath)
		default:
			text := seg.Text
			path := seg.HeadingPath
			if pendingHeading != nil {
				text = pendingHeading.Text + "\n" + text
				pendingHeading = nil
			}
			builder.addText(text, path)
		}
	}
	builder.flush()
	if pendingHeading != nil {
		builder.emitStandaloneHeading(*pendingHeading)
	}

	chunks := builder.chunks
	chunks = c.mergeSmall(chunks)
	finalize(chunks)
	return chunks
}

type chunkBuilder struct {
	cfg     Config
	chunks  []Chunk
	current []string // accumulated words of the open text chunk
	path    []string
	overlap []string // tail words of the previous chunk in this section
}

// addText accumulates paragraph text, closing the open chunk whenever the
// next paragraph would push it past MaxTokens. Oversized paragraphs descend
// to sentence and then word splits.
func (b *chunkBuilder) addText(text string, path []string) {
	if !samePath(b.path, path) {
		b.flush()
		b.overlap = nil
		b.path = path
	}

	words := strings.Fields(text)
	if EstimateTokens(len(b.current)+len(words)) > b.cfg.MaxTokens && len(b.current) > 0 {
		b.flush()
	}
	if EstimateTokens(len(words)) <= b.cfg.MaxTokens {
		b.current = append(b.current, words...)
		return
	}

	// Paragraph alone exceeds the limit: split by sentence.
	for _, sentence := range splitSentences(text) {
		sw := strings.Fields(sentence)
		if EstimateTokens(len(b.current)+len(sw)) > b.cfg.MaxTokens && len(b.current) > 0 {
			b.flush()
		}
		if EstimateTokens(len(sw)) <= b.cfg.MaxTokens {
			b.current = append(b.current, sw...)
			continue
		}
		// Sentence alone exceeds the limit: split by word.
		maxWords := int(float64(b.cfg.MaxTokens) / tokensPerWord)
		for start := 0; start < len(sw); start += maxWords {
			end := min(start+maxWords, len(sw))
			b.current = append(b.current, sw[start:end]...)
			if end < len(sw) {
				b.flush()
			}
		}
	}
}

// flush closes the open text chunk, seeding the overlap window for the next
// chunk in the same section.
func (b *chunkBuilder) flush() {
	if len(b.current) == 0 {
		return
	}
	words := b.current
	if len(b.overlap) > 0 {
		words = append(append([]string{}, b.overlap...), words...)
	}
	b.emit(strings.Join(words, " "), extract.TypeText, b.path)

	overlapWords := int(math.Round(float64(b.cfg.OverlapTokens) / tokensPerWord))
	if overlapWords > len(b.current) {
		overlapWords = len(b.current)
	}
	b.overlap = append([]string{}, b.current[len(b.current)-overlapWords:]...)
	b.current = nil
}

func (b *chunkBuilder) emit(text, structType string, path []string) {
	b.chunks = append(b.chunks, Chunk{
		Text:        text,
		TokenCount:  TokenCount(text),
		HeadingPath: path,
		StructType:  structType,
	})
}

func (b *chunkBuilder) emitStandaloneHeading(seg extract.Segment) {
	b.emit(seg.Text, extract.TypeHeading, seg.HeadingPath)
}

// mergeSmall folds adjacent below-minimum text chunks together. Atomic block
// chunks keep their structural identity; the final chunk of a page may stay
// short.
func (c *Chunker) mergeSmall(chunks []Chunk) []Chunk {
	if len(chunks) < 2 {
		return chunks
	}
	var out []Chunk
	for _, ch := range chunks {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			mergeable := prev.TokenCount < c.cfg.MinTokens &&
				isTextual(prev.StructType) && isTextual(ch.StructType) &&
				prev.TokenCount+ch.TokenCount <= c.cfg.MaxTokens
			if mergeable {
				prev.Text = prev.Text + "\n" + ch.Text
				prev.TokenCount = TokenCount(prev.Text)
				if prev.StructType == extract.TypeHeading {
					prev.StructType = extract.TypeText
				}
				continue
			}
		}
		out = append(out, ch)
	}
	return out
}

func isTextual(structType string) bool {
	return structType == extract.TypeText || structType == extract.TypeHeading
}

// finalize assigns ordinals, content hashes and position ratios.
func finalize(chunks []Chunk) {
	for i := range chunks {
		chunks[i].Ordinal = i
		chunks[i].ContentHash = HashText(chunks[i].Text)
		if len(chunks) > 1 {
			chunks[i].PositionRatio = float64(i) / float64(len(chunks)-1)
		}
	}
}

// HashText hashes normalized chunk text for exact-duplicate detection across
// pages; repeated boilerplate produces identical hashes that redundancy
// scoring consumes.
func HashText(text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

var sentenceEnders = ".!?"

// splitSentences is a light heuristic splitter; it only runs on paragraphs
// already past MaxTokens.
func splitSentences(text string) []string {
	var sentences []string
	var start int
	for i, r := range text {
		if strings.ContainsRune(sentenceEnders, r) {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
