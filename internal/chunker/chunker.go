// Package chunker splits parsed document text into token-bounded chunks
// ready for embedding.
//
// The effective chunk cap is min(chunk_size, max_model_tokens - safety_margin):
// no chunk may exceed what the embedding model accepts, regardless of the
// collection's configured chunk size. A piece of exactly the cap passes
// whole; one token over splits.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrNoContent is returned when the input contains no chunkable text.
var ErrNoContent = errors.New("chunker: no content")

// Config bounds chunk sizes in tokens.
type Config struct {
	// ChunkSize is the collection's target chunk size.
	ChunkSize int
	// Overlap is the token budget carried from the tail of one chunk
	// into the head of the next.
	Overlap int
	// MaxModelTokens is the embedding model's input limit.
	MaxModelTokens int
	// SafetyMargin is subtracted from MaxModelTokens to absorb
	// tokenizer variance between us and the provider. Minimum 1.
	SafetyMargin int
}

// Validate rejects configurations that cannot make progress.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.ChunkSize)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkSize {
		return fmt.Errorf("overlap %d must be in [0, chunk size)", c.Overlap)
	}
	if c.SafetyMargin < 1 {
		return fmt.Errorf("safety margin must be at least 1, got %d", c.SafetyMargin)
	}
	if c.MaxModelTokens <= c.SafetyMargin {
		return fmt.Errorf("max model tokens %d must exceed safety margin %d",
			c.MaxModelTokens, c.SafetyMargin)
	}
	return nil
}

// cap returns the effective chunk cap in tokens.
func (c Config) cap() int {
	hard := c.MaxModelTokens - c.SafetyMargin
	if hard < c.ChunkSize {
		return hard
	}
	return c.ChunkSize
}

// Passage is one parsed unit of input, typically a page or section.
type Passage struct {
	Text  string
	Page  int
	Title string
}

// Chunk is one output piece. Ordinals are assigned contiguously from 0
// across all passages of a document.
type Chunk struct {
	Ordinal    int
	Text       string
	Page       int
	Title      string
	TokenCount int
}

// Chunker splits passages against a token counter.
type Chunker struct {
	config  Config
	counter *Counter
}

// New returns a chunker or an error if the config cannot make progress.
func New(config Config, counter *Counter) (*Chunker, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if counter == nil {
		return nil, errors.New("chunker: counter is required")
	}
	return &Chunker{config: config, counter: counter}, nil
}

// sentence is an internal packing unit.
type sentence struct {
	text   string
	tokens int
	page   int
	title  string
}

// Split chunks the passages. Sentences are packed greedily up to the cap;
// a sentence longer than the cap is hard-split at token boundaries.
// Consecutive chunks overlap by up to Overlap tokens of trailing sentences.
func (c *Chunker) Split(passages []Passage) ([]Chunk, error) {
	var sentences []sentence
	for _, p := range passages {
		for _, s := range splitSentences(p.Text) {
			sentences = append(sentences, c.boundSentence(sentence{
				text:  s,
				page:  p.Page,
				title: p.Title,
			})...)
		}
	}
	if len(sentences) == 0 {
		return nil, ErrNoContent
	}

	chunkCap := c.config.cap()
	var chunks []Chunk
	var current []sentence
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		texts := make([]string, len(current))
		for i, s := range current {
			texts[i] = s.text
		}
		text := strings.Join(texts, " ")
		// Tokenizing the joined text can merge across sentence joins, so the
		// recount may disagree with the per-sentence sum the packing used.
		// Re-bound the joined text so the cap holds on what is stored.
		for _, s := range c.boundSentence(sentence{
			text:  text,
			page:  current[0].page,
			title: current[0].title,
		}) {
			chunks = append(chunks, Chunk{
				Ordinal:    len(chunks),
				Text:       s.text,
				Page:       s.page,
				Title:      s.title,
				TokenCount: s.tokens,
			})
		}
	}

	for _, s := range sentences {
		if currentTokens+s.tokens > chunkCap && len(current) > 0 {
			flush()
			current, currentTokens = c.overlapTail(current)
		}
		current = append(current, s)
		currentTokens += s.tokens
	}
	flush()

	return chunks, nil
}

// boundSentence hard-splits a sentence exceeding the cap into token
// slices of at most cap tokens. A sentence at exactly the cap passes.
func (c *Chunker) boundSentence(s sentence) []sentence {
	chunkCap := c.config.cap()
	s.tokens = c.counter.Count(s.text)
	if s.tokens <= chunkCap {
		return []sentence{s}
	}

	ids := c.counter.Encode(s.text)
	var out []sentence
	for start := 0; start < len(ids); start += chunkCap {
		end := start + chunkCap
		if end > len(ids) {
			end = len(ids)
		}
		piece := c.counter.Decode(ids[start:end])
		out = append(out, sentence{
			text:   piece,
			tokens: end - start,
			page:   s.page,
			title:  s.title,
		})
	}
	return out
}

// overlapTail returns the trailing sentences of the flushed chunk whose
// combined tokens fit the overlap budget, seeding the next chunk.
func (c *Chunker) overlapTail(flushed []sentence) ([]sentence, int) {
	if c.config.Overlap == 0 {
		return nil, 0
	}
	var tail []sentence
	tokens := 0
	for i := len(flushed) - 1; i >= 0; i-- {
		if tokens+flushed[i].tokens > c.config.Overlap {
			break
		}
		tail = append([]sentence{flushed[i]}, tail...)
		tokens += flushed[i].tokens
	}
	return tail, tokens
}

// splitSentences breaks text into sentences. Paragraph breaks always
// terminate a sentence; within a paragraph, terminal punctuation followed
// by whitespace does.
func splitSentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		start := 0
		runes := []rune(para)
		for i := 0; i < len(runes); i++ {
			if !isTerminal(runes[i]) {
				continue
			}
			// Consume trailing closers like quotes and parens.
			j := i + 1
			for j < len(runes) && (runes[j] == '"' || runes[j] == '\'' || runes[j] == ')') {
				j++
			}
			if j >= len(runes) || unicode.IsSpace(runes[j]) {
				s := strings.TrimSpace(string(runes[start:j]))
				if s != "" {
					out = append(out, s)
				}
				start = j
				i = j
			}
		}
		if rest := strings.TrimSpace(string(runes[start:])); rest != "" {
			out = append(out, rest)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
