// Package secrets detects and redacts credential material in text.
//
// Conversation exports and logged message content pass through the
// scrubber so stored transcripts never carry live keys.
package secrets

import (
	"regexp"
	"sort"
	"strings"
)

// RedactionString replaces each detected secret.
const RedactionString = "[REDACTED]"

// Rule is one detection pattern.
type Rule struct {
	ID          string
	Description string
	pattern     *regexp.Regexp
}

// Finding is one detected secret.
type Finding struct {
	RuleID      string
	Description string
	Line        int
}

// Result carries the scrubbed text and what was found.
type Result struct {
	Scrubbed string
	Findings []Finding
}

// Clean reports whether nothing was detected.
func (r *Result) Clean() bool {
	return len(r.Findings) == 0
}

// Scrubber applies the rule set to text.
type Scrubber struct {
	rules []Rule
}

// NewScrubber returns a scrubber with the default rule set.
func NewScrubber() *Scrubber {
	return &Scrubber{rules: defaultRules()}
}

func defaultRules() []Rule {
	compile := func(id, desc, pattern string) Rule {
		return Rule{ID: id, Description: desc, pattern: regexp.MustCompile(pattern)}
	}
	return []Rule{
		compile("aws-access-key-id", "AWS Access Key ID",
			`(?i)(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}`),
		compile("private-key", "Private key block",
			`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`),
		compile("github-token", "GitHub token",
			`(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}`),
		compile("gitlab-token", "GitLab personal access token",
			`glpat-[A-Za-z0-9\-]{20,}`),
		compile("slack-token", "Slack token",
			`xox[baprs]-[A-Za-z0-9\-]{10,}`),
		compile("stripe-key", "Stripe API key",
			`(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}`),
		compile("openai-api-key", "OpenAI API key",
			`sk-[A-Za-z0-9]{48,}`),
		compile("anthropic-api-key", "Anthropic API key",
			`sk-ant-[A-Za-z0-9_\-]{90,}`),
		compile("jwt", "JSON Web Token",
			`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
		compile("database-url", "Database URL with credentials",
			`(?i)(?:postgres|mysql|mongodb|redis|amqp)://[^:\s]+:[^@\s]+@[^\s]+`),
		compile("generic-api-key", "Generic API key assignment",
			`(?i)(?:api[_-]?key|apikey)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`),
		compile("generic-secret", "Generic secret assignment",
			`(?i)(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
		compile("bearer-token", "Bearer token",
			`(?i)bearer\s+[A-Za-z0-9_\-\.]{20,}`),
	}
}

type span struct{ start, end int }

// Scrub redacts every detected secret, merging overlapping matches.
func (s *Scrubber) Scrub(content string) *Result {
	result := &Result{Scrubbed: content}

	var spans []span
	for _, rule := range s.rules {
		for _, m := range rule.pattern.FindAllStringIndex(content, -1) {
			result.Findings = append(result.Findings, Finding{
				RuleID:      rule.ID,
				Description: rule.Description,
				Line:        strings.Count(content[:m[0]], "\n") + 1,
			})
			spans = append(spans, span{start: m[0], end: m[1]})
		}
	}
	if len(spans) == 0 {
		return result
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, sp := range spans[1:] {
		last := &merged[len(merged)-1]
		if sp.start <= last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		merged = append(merged, sp)
	}

	var b strings.Builder
	prev := 0
	for _, sp := range merged {
		b.WriteString(content[prev:sp.start])
		b.WriteString(RedactionString)
		prev = sp.end
	}
	b.WriteString(content[prev:])
	result.Scrubbed = b.String()
	return result
}

// Check detects without redacting.
func (s *Scrubber) Check(content string) *Result {
	r := s.Scrub(content)
	r.Scrubbed = content
	return r
}
