package contextmgr

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/manavgup/rag-modulo-sub005/internal/metastore"
)

// Entity is a tracked noun phrase with the ordinals of its first and
// last mention in the session.
type Entity struct {
	Text         string
	FirstOrdinal int
	LastOrdinal  int
	Mentions     int
}

// tracker holds the entity set of one session.
type tracker struct {
	entities map[string]*Entity // keyed by lowercased text
	// singles are capitalized single words seen so far; they promote to
	// entities once repeated.
	singles map[string]*Entity
}

func newTracker() *tracker {
	return &tracker{
		entities: make(map[string]*Entity),
		singles:  make(map[string]*Entity),
	}
}

func (t *tracker) observe(ordinal int, text string) {
	for _, phrase := range extractPhrases(text) {
		key := strings.ToLower(phrase.text)
		var set map[string]*Entity
		if phrase.single {
			set = t.singles
		} else {
			set = t.entities
		}
		e, ok := set[key]
		if !ok {
			set[key] = &Entity{Text: phrase.text, FirstOrdinal: ordinal, LastOrdinal: ordinal, Mentions: 1}
			continue
		}
		e.LastOrdinal = ordinal
		e.Mentions++
	}
}

// list returns entities most recently mentioned first. Single proper
// nouns only count once repeated.
func (t *tracker) list() []Entity {
	out := make([]Entity, 0, len(t.entities)+len(t.singles))
	for _, e := range t.entities {
		out = append(out, *e)
	}
	for _, e := range t.singles {
		if e.Mentions >= 2 {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastOrdinal != out[j].LastOrdinal {
			return out[i].LastOrdinal > out[j].LastOrdinal
		}
		return out[i].Text < out[j].Text
	})
	return out
}

// ObserveMessage feeds a message into the session's entity tracker.
func (m *Manager) ObserveMessage(sessionID string, ordinal int, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[sessionID]
	if !ok {
		t = newTracker()
		m.trackers[sessionID] = t
	}
	t.observe(ordinal, text)
}

// RebuildEntities rebuilds a session's tracker from its full message
// history. Run after a restart or by the rebuild_entities job.
func (m *Manager) RebuildEntities(ctx context.Context, sessionID string) error {
	msgs, err := m.meta.ListMessages(ctx, sessionID, 0)
	if err != nil {
		return err
	}
	t := newTracker()
	for _, msg := range msgs {
		if msg.Role == metastore.RoleSystem {
			continue
		}
		t.observe(msg.Ordinal, msg.Content)
	}
	m.mu.Lock()
	m.trackers[sessionID] = t
	m.mu.Unlock()
	return nil
}

// Entities returns the tracked entities of a session, most recently
// mentioned first.
func (m *Manager) Entities(sessionID string) []Entity {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trackers[sessionID]
	if !ok {
		return nil
	}
	return t.list()
}

// entitiesFor returns the tracker's view, lazily rebuilding it from the
// already-loaded messages when the session is not cached.
func (m *Manager) entitiesFor(ctx context.Context, sessionID string, msgs []metastore.Message) []Entity {
	m.mu.Lock()
	_, ok := m.trackers[sessionID]
	m.mu.Unlock()
	if !ok && len(msgs) > 0 {
		t := newTracker()
		for _, msg := range msgs {
			if msg.Role == metastore.RoleSystem {
				continue
			}
			t.observe(msg.Ordinal, msg.Content)
		}
		m.mu.Lock()
		m.trackers[sessionID] = t
		m.mu.Unlock()
		m.logger.Debug("entity tracker rebuilt", zap.String("session_id", sessionID))
	}
	return m.Entities(sessionID)
}

type phrase struct {
	text   string
	single bool
}

// phraseLeadIns introduce a trailing noun phrase worth tracking even
// when lowercase ("tell me about convolutional neural networks").
var phraseLeadIns = map[string]bool{
	"about": true, "regarding": true, "concerning": true, "of": true,
}

var phraseStopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "how": true,
	"i": true, "in": true, "is": true, "it": true, "its": true, "me": true,
	"my": true, "of": true, "on": true, "or": true, "tell": true,
	"that": true, "the": true, "their": true, "them": true, "these": true,
	"they": true, "this": true, "those": true, "to": true, "was": true,
	"we": true, "were": true, "what": true, "which": true, "will": true,
	"with": true, "you": true, "your": true,
}

// extractPhrases pulls candidate entities from text: runs of capitalized
// words, repeated single capitalized words, and lowercase noun phrases
// after a lead-in preposition.
func extractPhrases(text string) []phrase {
	var out []phrase
	for _, sentence := range splitOnSentences(text) {
		words := strings.Fields(sentence)
		var run []string
		flush := func() {
			switch {
			case len(run) >= 2:
				out = append(out, phrase{text: strings.Join(run, " ")})
			case len(run) == 1:
				out = append(out, phrase{text: run[0], single: true})
			}
			run = nil
		}
		for i, raw := range words {
			word := strings.TrimFunc(raw, func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if word == "" {
				flush()
				continue
			}
			if isCapitalized(word) && (i > 0 || len(run) > 0) {
				run = append(run, word)
				continue
			}
			flush()

			if phraseLeadIns[strings.ToLower(word)] {
				if np := trailingNounPhrase(words[i+1:]); np != "" {
					out = append(out, phrase{text: np})
				}
			}
		}
		flush()
	}
	return out
}

// trailingNounPhrase collects up to four consecutive non-stopword words.
func trailingNounPhrase(words []string) string {
	var parts []string
	for _, raw := range words {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if word == "" || phraseStopwords[strings.ToLower(word)] {
			break
		}
		parts = append(parts, word)
		if len(parts) == 4 {
			break
		}
	}
	if len(parts) < 2 {
		return ""
	}
	return strings.Join(parts, " ")
}

func isCapitalized(word string) bool {
	r := []rune(word)
	return unicode.IsUpper(r[0])
}

// pronouns that signal an unresolved reference when entities exist.
var referencePronouns = map[string]bool{
	"it": true, "its": true, "they": true, "them": true, "their": true,
	"this": true, "that": true, "these": true, "those": true, "he": true,
	"she": true, "him": true, "her": true,
}

func hasUnresolvedPronoun(question string) bool {
	for _, raw := range strings.Fields(strings.ToLower(question)) {
		word := strings.TrimFunc(raw, func(r rune) bool {
			return !unicode.IsLetter(r)
		})
		if referencePronouns[word] {
			return true
		}
	}
	return false
}

func splitOnSentences(text string) []string {
	var out []string
	var b strings.Builder
	for _, r := range text {
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(b.String()); s != "" {
				out = append(out, s)
			}
			b.Reset()
			continue
		}
		b.WriteRune(r)
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		out = append(out, s)
	}
	return out
}
