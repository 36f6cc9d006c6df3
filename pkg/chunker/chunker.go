// Package chunker splits raw text into ordered chunks for the processing
// pipeline.
//
// Two strategies are provided, selected at construction time:
//
//   - [Fixed] slices the text into deterministic token windows with a
//     configurable trailing overlap.
//   - [Hierarchical] splits recursively at decreasing granularity
//     (paragraph → sentence → word → character) producing variable-length
//     but semantically bounded chunks.
//
// Both strategies degrade to naive fixed-width character slicing when the
// text cannot be tokenized, so ingestion never blocks on chunking.
package chunker

import "strings"

const (
	// DefaultChunkSize is the default window size in tokens.
	DefaultChunkSize = 512

	// DefaultChunkOverlap is the default number of trailing tokens
	// duplicated into the next window.
	DefaultChunkOverlap = 50

	// DefaultMinChunkChars is the floor below which a trailing fragment is
	// merged into the previous chunk instead of being emitted on its own.
	DefaultMinChunkChars = 24

	// approxCharsPerToken sizes the character-slicing fallback when the
	// text has no token boundaries.
	approxCharsPerToken = 4
)

// Strategy splits text into an ordered sequence of chunks.
type Strategy interface {
	Chunk(text string) []string
}

// Config holds chunking parameters shared by both strategies.
type Config struct {
	// ChunkSize is the maximum chunk length in tokens.
	ChunkSize int

	// ChunkOverlap is the number of trailing tokens carried into the next
	// window. Only used by the fixed strategy.
	ChunkOverlap int

	// MinChunkChars prevents pathologically small trailing fragments.
	// Only used by the hierarchical strategy.
	MinChunkChars int
}

func (c *Config) applyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = DefaultChunkOverlap
		if c.ChunkOverlap >= c.ChunkSize {
			c.ChunkOverlap = c.ChunkSize / 4
		}
	}
	if c.MinChunkChars <= 0 {
		c.MinChunkChars = DefaultMinChunkChars
	}
}

// Fixed splits text into windows of ChunkSize tokens with ChunkOverlap
// trailing tokens duplicated into the next window. Deterministic; every
// chunk holds at most ChunkSize tokens.
type Fixed struct {
	config Config
}

// NewFixed creates a fixed-size chunking strategy.
func NewFixed(config Config) *Fixed {
	config.applyDefaults()
	return &Fixed{config: config}
}

// Chunk implements Strategy.
func (f *Fixed) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	tokens := strings.Fields(text)
	if len(tokens) <= 1 && len(text) > f.config.ChunkSize*approxCharsPerToken {
		return sliceChars(text, f.config.ChunkSize*approxCharsPerToken)
	}
	if len(tokens) <= f.config.ChunkSize {
		return []string{text}
	}

	step := f.config.ChunkSize - f.config.ChunkOverlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + f.config.ChunkSize
		if end > len(tokens) {
			end = len(tokens)
		}
		chunks = append(chunks, strings.Join(tokens[start:end], " "))
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

// Hierarchical splits text recursively at decreasing granularity, stopping
// once a unit fits within ChunkSize tokens. Fragments shorter than
// MinChunkChars are merged into the previous chunk.
type Hierarchical struct {
	config Config
}

// NewHierarchical creates a hierarchical chunking strategy.
func NewHierarchical(config Config) *Hierarchical {
	config.applyDefaults()
	return &Hierarchical{config: config}
}

// Chunk implements Strategy.
func (h *Hierarchical) Chunk(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	chunks := h.split(text, 0)

	// Merge undersized trailing fragments into their predecessor.
	merged := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		if len(merged) > 0 && len(chunk) < h.config.MinChunkChars {
			merged[len(merged)-1] = merged[len(merged)-1] + " " + chunk
			continue
		}
		merged = append(merged, chunk)
	}
	return merged
}

// Granularity levels for the recursive split.
const (
	levelParagraph = iota
	levelSentence
	levelWord
	levelChar
)

func (h *Hierarchical) split(text string, level int) []string {
	if tokenCount(text) <= h.config.ChunkSize {
		if text = strings.TrimSpace(text); text != "" {
			return []string{text}
		}
		return nil
	}

	var units []string
	switch level {
	case levelParagraph:
		units = splitParagraphs(text)
	case levelSentence:
		units = splitSentences(text)
	case levelWord:
		units = strings.Fields(text)
	default:
		return sliceChars(text, h.config.ChunkSize*approxCharsPerToken)
	}

	// The level produced no subdivision; descend to finer granularity.
	if len(units) <= 1 {
		return h.split(text, level+1)
	}

	var chunks []string
	var accum []string
	accumTokens := 0
	flush := func() {
		if len(accum) == 0 {
			return
		}
		chunks = append(chunks, strings.TrimSpace(strings.Join(accum, " ")))
		accum, accumTokens = nil, 0
	}

	for _, unit := range units {
		n := tokenCount(unit)
		if n > h.config.ChunkSize {
			flush()
			chunks = append(chunks, h.split(unit, level+1)...)
			continue
		}
		if accumTokens+n > h.config.ChunkSize {
			flush()
		}
		accum = append(accum, unit)
		accumTokens += n
	}
	flush()
	return chunks
}

func tokenCount(text string) int {
	return len(strings.Fields(text))
}

func splitParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// splitSentences breaks text after terminal punctuation. Good enough for
// chunk sizing; linguistic precision is not required here.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// sliceChars is the tokenizer-free fallback: fixed-width character windows.
func sliceChars(text string, width int) []string {
	if width <= 0 {
		width = DefaultChunkSize * approxCharsPerToken
	}
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); start += width {
		end := start + width
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
