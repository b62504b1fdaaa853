package search

import (
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// minAttributionOverlap is the fraction of a sentence's content words
// that must appear in a chunk before the chunk counts as a source.
const minAttributionOverlap = 0.2

// attribute maps each answer sentence to the chunk that best supports it
// by content-word overlap, producing the deduplicated sources list.
func attribute(sc *SearchContext) {
	start := time.Now()
	m := &AttributionMetrics{}
	sc.Metrics.Attribution = m
	defer func() { m.DurationMS = time.Since(start).Milliseconds() }()

	evidence := sc.Evidence()
	if sc.Answer == "" || sc.Answer == insufficientContextAnswer || len(evidence) == 0 {
		if sc.Sources == nil {
			sc.Sources = []Source{}
		}
		return
	}

	chunkWords := make([]map[string]struct{}, len(evidence))
	for i, c := range evidence {
		chunkWords[i] = contentWords(c.Text)
	}

	type best struct {
		score float64
		chunk Chunk
	}
	byChunk := make(map[string]*best)

	sentences := splitSentences(sc.Answer)
	m.Sentences = len(sentences)
	for _, sentence := range sentences {
		words := contentWords(sentence)
		if len(words) == 0 {
			continue
		}
		bestIdx, bestScore := -1, 0.0
		for i := range evidence {
			score := float64(overlapCount(words, chunkWords[i])) / float64(len(words))
			if score > bestScore {
				bestIdx, bestScore = i, score
			}
		}
		if bestIdx < 0 || bestScore < minAttributionOverlap {
			continue
		}
		m.Attributed++
		c := evidence[bestIdx]
		key := c.DocumentID + "#" + strconv.Itoa(c.Ordinal)
		if b, ok := byChunk[key]; !ok || bestScore > b.score {
			byChunk[key] = &best{score: bestScore, chunk: c}
		}
	}

	sources := make([]Source, 0, len(byChunk))
	for _, b := range byChunk {
		sources = append(sources, Source{
			DocumentID: b.chunk.DocumentID,
			Ordinal:    b.chunk.Ordinal,
			Page:       b.chunk.Page,
			Score:      b.score,
		})
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].Score != sources[j].Score {
			return sources[i].Score > sources[j].Score
		}
		if sources[i].DocumentID != sources[j].DocumentID {
			return sources[i].DocumentID < sources[j].DocumentID
		}
		return sources[i].Ordinal < sources[j].Ordinal
	})
	sc.Sources = sources
	m.Sources = len(sources)
}

// stopwords excluded from overlap scoring; function words match any text.
var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {},
	"by": {}, "for": {}, "from": {}, "has": {}, "have": {}, "in": {},
	"is": {}, "it": {}, "its": {}, "of": {}, "on": {}, "or": {}, "that": {},
	"the": {}, "this": {}, "to": {}, "was": {}, "were": {}, "what": {},
	"which": {}, "will": {}, "with": {},
}

// contentWords returns the lowercased non-stopword tokens of s.
func contentWords(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, field := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if _, stop := stopwords[field]; stop {
			continue
		}
		out[field] = struct{}{}
	}
	return out
}

func overlapCount(a, b map[string]struct{}) int {
	if len(b) < len(a) {
		a, b = b, a
	}
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}

// splitSentences splits on terminal punctuation. Good enough for
// attribution; it does not need linguistic precision.
func splitSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
