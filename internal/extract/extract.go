// Package extract pulls profile attributes and durable facts out of
// conversation turns. The default extractor is rule based; richer
// extractors can plug in behind the same interface.
package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/KazKozDev/anorix/internal/model"
)

// Candidate is an extracted fact before it is merged into the store.
type Candidate struct {
	Category   string
	Content    string
	Confidence float64
}

// Extraction is everything one turn yielded.
type Extraction struct {
	Profile map[string]string
	Facts   []Candidate
}

// Extractor inspects a turn against the current profile snapshot.
// Implementations must not mutate the snapshot.
type Extractor interface {
	Extract(ctx context.Context, turn model.Turn, profile map[string]string) (Extraction, error)
}

// RuleExtractor matches a small set of first-person statement patterns
// in user turns. Agent and system turns are ignored.
type RuleExtractor struct{}

var _ Extractor = (*RuleExtractor)(nil)

func NewRuleExtractor() *RuleExtractor { return &RuleExtractor{} }

var (
	nameRe       = regexp.MustCompile(`(?i)\b(?:my name is|call me)\s+([A-Za-z][\w'-]*(?:\s+[A-Z][\w'-]*)?)`)
	identityRe   = regexp.MustCompile(`(?i)\bi(?:'m| am)\s+(?:a|an)\s+([a-z][\w -]{2,60})`)
	preferenceRe = regexp.MustCompile(`(?i)\bi\s+(like|love|hate|prefer|enjoy)\s+([\w][\w ,'-]{1,80})`)
	locationRe   = regexp.MustCompile(`(?i)\bi\s+live\s+in\s+([A-Za-z][\w ,'-]{1,60})`)
)

func (e *RuleExtractor) Extract(_ context.Context, turn model.Turn, _ map[string]string) (Extraction, error) {
	var ext Extraction
	if turn.Role != model.RoleUser {
		return ext, nil
	}
	text := turn.Content

	if m := nameRe.FindStringSubmatch(text); m != nil {
		name := cleanCapture(m[1])
		if name != "" {
			ext.Profile = map[string]string{"name": name}
		}
	}

	if m := locationRe.FindStringSubmatch(text); m != nil {
		if loc := cleanCapture(m[1]); loc != "" {
			if ext.Profile == nil {
				ext.Profile = map[string]string{}
			}
			ext.Profile["location"] = loc
			ext.Facts = append(ext.Facts, Candidate{
				Category:   "personal",
				Content:    "lives in " + loc,
				Confidence: 0.8,
			})
		}
	}

	if m := identityRe.FindStringSubmatch(text); m != nil {
		if what := cleanCapture(m[1]); what != "" {
			ext.Facts = append(ext.Facts, Candidate{
				Category:   "personal",
				Content:    "is " + articleFor(what) + " " + what,
				Confidence: 0.7,
			})
		}
	}

	for _, m := range preferenceRe.FindAllStringSubmatch(text, -1) {
		verb := strings.ToLower(m[1])
		obj := cleanCapture(m[2])
		if obj == "" {
			continue
		}
		ext.Facts = append(ext.Facts, Candidate{
			Category:   "preference",
			Content:    verb + "s " + obj,
			Confidence: 0.8,
		})
	}

	return ext, nil
}

// cleanCapture trims trailing punctuation and filler from a regex
// capture and drops degenerate matches.
func cleanCapture(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, ".!?,;: ")
	// Cut at sentence connectives so "coffee and I also..." keeps
	// only the object.
	for _, stop := range []string{" and i ", " but ", " because ", " so "} {
		if i := strings.Index(strings.ToLower(s), stop); i > 0 {
			s = strings.TrimSpace(s[:i])
		}
	}
	if len(s) < 2 {
		return ""
	}
	return s
}

func articleFor(s string) string {
	if s == "" {
		return "a"
	}
	switch s[0] {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return "an"
	default:
		return "a"
	}
}
