// Package suggestion generates follow-up questions a user might ask
// next: from the recent conversation, from a sample of a collection's
// documents, or from the last assistant answer alone.
package suggestion

import (
	"context"
	"strings"
	"text/template"
	"unicode"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/config"
	"github.com/manavgup/rag-modulo-sub005/internal/core"
	"github.com/manavgup/rag-modulo-sub005/internal/embeddings"
	"github.com/manavgup/rag-modulo-sub005/internal/llm"
	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
	"github.com/manavgup/rag-modulo-sub005/internal/vectorstore"
)

// recentMessageWindow bounds how many trailing messages feed the
// conversation-context generator.
const recentMessageWindow = 10

// Service generates question suggestions.
type Service struct {
	meta      *metastore.Store
	vectors   vectorstore.Store
	embedder  embeddings.Embedder
	generator llm.Generator
	logger    *zap.Logger
	config    config.SuggestionConfig
}

// NewService wires the suggestion service.
func NewService(meta *metastore.Store, vectors vectorstore.Store, embedder embeddings.Embedder,
	generator llm.Generator, cfg config.SuggestionConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxSuggestions <= 0 {
		cfg.MaxSuggestions = 5
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 200
	}
	if cfg.SampleChunks <= 0 {
		cfg.SampleChunks = 8
	}
	if cfg.DedupeSimilarity <= 0 {
		cfg.DedupeSimilarity = 0.85
	}
	return &Service{
		meta:      meta,
		vectors:   vectors,
		embedder:  embedder,
		generator: generator,
		logger:    logger,
		config:    cfg,
	}
}

// FromSession proposes questions grounded in the session's recent
// exchange. The session must belong to the requester.
func (s *Service) FromSession(ctx context.Context, requesterID, sessionID string) ([]string, error) {
	sess, err := s.ownedSession(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.meta.ListMessages(ctx, sess.ID, 0)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing messages", err)
	}
	if len(msgs) == 0 {
		return nil, core.NewError(core.CodeInvalidInput, "session has no messages yet")
	}
	if len(msgs) > recentMessageWindow {
		msgs = msgs[len(msgs)-recentMessageWindow:]
	}

	var b strings.Builder
	for _, msg := range msgs {
		switch msg.Role {
		case metastore.RoleUser:
			b.WriteString("User: ")
		case metastore.RoleAssistant:
			b.WriteString("Assistant: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return s.generate(ctx, sess.OwnerID, b.String())
}

// FromLastMessage proposes questions grounded only in the most recent
// assistant answer, ignoring earlier turns.
func (s *Service) FromLastMessage(ctx context.Context, requesterID, sessionID string) ([]string, error) {
	sess, err := s.ownedSession(ctx, requesterID, sessionID)
	if err != nil {
		return nil, err
	}

	msgs, err := s.meta.ListMessages(ctx, sess.ID, 0)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "listing messages", err)
	}
	var last string
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == metastore.RoleAssistant {
			last = msgs[i].Content
			break
		}
	}
	if last == "" {
		return nil, core.NewError(core.CodeInvalidInput, "session has no assistant answer yet")
	}
	return s.generate(ctx, sess.OwnerID, last)
}

// FromDocuments proposes questions a collection can answer, based on a
// sample of its indexed chunks. Useful for empty sessions where no
// conversation context exists yet.
func (s *Service) FromDocuments(ctx context.Context, requesterID, collectionID string) ([]string, error) {
	col, err := s.meta.GetCollection(ctx, collectionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "collection not found", err)
	}
	if col.Status == metastore.CollectionDeleted {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}
	if col.Privacy != metastore.PrivacyPublic && col.OwnerID != requesterID {
		return nil, core.NewError(core.CodeNotFound, "collection not found")
	}

	// The sample is a nearest-neighbor query around the collection name:
	// no backend supports random sampling, and the name-probe at least
	// biases toward on-topic chunks.
	probe, err := s.embedder.EmbedQuery(ctx, col.Name)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "embedding sample probe", err)
	}
	matches, err := s.vectors.Query(ctx, vectorstore.Namespace(col.ID), probe, s.config.SampleChunks, nil)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "sampling collection", err)
	}
	if len(matches) == 0 {
		return nil, core.NewError(core.CodeInvalidInput, "collection has no indexed content")
	}

	var b strings.Builder
	for _, m := range matches {
		b.WriteString(m.Text)
		b.WriteString("\n\n")
	}
	return s.generate(ctx, requesterID, b.String())
}

func (s *Service) ownedSession(ctx context.Context, requesterID, sessionID string) (*metastore.Session, error) {
	sess, err := s.meta.GetSession(ctx, sessionID)
	if err != nil {
		return nil, core.WrapError(core.CodeNotFound, "session not found", err)
	}
	if sess.OwnerID != requesterID || sess.Status == metastore.SessionDeleted {
		return nil, core.NewError(core.CodeNotFound, "session not found")
	}
	return sess, nil
}

// generate renders the user's question-generation template over the
// material, calls the model, and postprocesses the lines.
func (s *Service) generate(ctx context.Context, userID, material string) ([]string, error) {
	user, err := s.meta.ResolveUserConfig(ctx, userID)
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "resolving user config", err)
	}

	// Ask for more than the cap so dedupe and length filters still leave
	// a full set.
	tmpl, err := template.New(metastore.TemplateQuestionGeneration).
		Parse(user.Template(metastore.TemplateQuestionGeneration))
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "parsing question template", err)
	}
	var prompt strings.Builder
	err = tmpl.Execute(&prompt, struct {
		Count   int
		Context string
	}{Count: s.config.MaxSuggestions * 2, Context: material})
	if err != nil {
		return nil, core.WrapError(core.CodeInternal, "rendering question template", err)
	}

	raw, err := s.generator.Generate(ctx, prompt.String(), user.Parameters)
	if err != nil {
		return nil, core.WrapError(core.CodeDependencyUnavailable, "generating suggestions", err)
	}

	out := s.postprocess(raw, material)
	if len(out) == 0 {
		return nil, core.NewError(core.CodeDependencyUnavailable, "model produced no usable suggestions")
	}
	s.logger.Debug("suggestions generated",
		zap.String("user_id", userID),
		zap.Int("count", len(out)),
	)
	return out, nil
}

// postprocess parses one question per line, drops empties and overlong
// lines, dedupes near-identical questions, ranks by lexical overlap
// with the source material, and caps the result.
func (s *Service) postprocess(raw, material string) []string {
	materialWords := wordSet(material)

	type scored struct {
		text  string
		score float64
	}
	var kept []scored
	for _, line := range strings.Split(raw, "\n") {
		q := cleanLine(line)
		if q == "" || len([]rune(q)) > s.config.MaxLength {
			continue
		}
		dup := false
		for _, k := range kept {
			if similarity(k.text, q) >= s.config.DedupeSimilarity {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		kept = append(kept, scored{text: q, score: overlapRatio(q, materialWords)})
	}

	// Stable sort by relevance: ties keep model order.
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j].score > kept[j-1].score; j-- {
			kept[j], kept[j-1] = kept[j-1], kept[j]
		}
	}

	n := len(kept)
	if n > s.config.MaxSuggestions {
		n = s.config.MaxSuggestions
	}
	out := make([]string, 0, n)
	for _, k := range kept[:n] {
		out = append(out, k.text)
	}
	return out
}

// cleanLine strips list markers ("1.", "-", "*") and surrounding quotes
// from a model output line.
func cleanLine(line string) string {
	q := strings.TrimSpace(line)
	q = strings.TrimLeft(q, "-*• \t")
	for len(q) > 0 && unicode.IsDigit(rune(q[0])) {
		q = q[1:]
	}
	q = strings.TrimLeft(q, ".)] \t")
	return strings.Trim(strings.TrimSpace(q), `"'`)
}

// normalize lowercases and collapses everything that is not a letter or
// digit, so dedupe ignores punctuation and casing.
func normalize(q string) string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.Join(fields, " ")
}

// similarity is 1 - normalized Levenshtein distance over normalized
// text: 1.0 for identical questions, 0.0 for entirely different ones.
func similarity(a, b string) float64 {
	na, nb := normalize(a), normalize(b)
	if na == nb {
		return 1
	}
	longest := len(na)
	if len(nb) > longest {
		longest = len(nb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(editDistance(na, nb))/float64(longest)
}

func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	cur := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		cur[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			min := prev[j] + 1
			if cur[j-1]+1 < min {
				min = cur[j-1] + 1
			}
			if prev[j-1]+cost < min {
				min = prev[j-1] + cost
			}
			cur[j] = min
		}
		prev, cur = cur, prev
	}
	return prev[len(rb)]
}

func wordSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(normalize(text)) {
		set[w] = true
	}
	return set
}

// overlapRatio is the share of a question's words that appear in the
// source material.
func overlapRatio(q string, material map[string]bool) float64 {
	words := strings.Fields(normalize(q))
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if material[w] {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}
