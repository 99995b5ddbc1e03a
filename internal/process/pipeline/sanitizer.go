package pipeline

import (
	"strings"

	"github.com/signalworks/intelgraph/internal/platform/config"
)

// Sanitizer filters raw candidate terms coming back from the analyzer
// before they reach entity resolution. The model occasionally emits generic
// fillers, unparseable fragments or outright noise; none of that may become
// a registry entity.
type Sanitizer struct {
	minLength int
	maxLength int
	denylist  map[string]struct{}
}

func NewSanitizer(cfg *config.Config) *Sanitizer {
	denylist := make(map[string]struct{}, len(cfg.TermDenylist))
	for _, term := range cfg.TermDenylist {
		denylist[strings.ToLower(strings.TrimSpace(term))] = struct{}{}
	}

	return &Sanitizer{
		minLength: cfg.TermMinLength,
		maxLength: cfg.TermMaxLength,
		denylist:  denylist,
	}
}

// SanitizeTerms returns the candidate terms that survive filtering, with
// whitespace collapsed and order preserved. Case-insensitive duplicates keep
// their first spelling.
func (s *Sanitizer) SanitizeTerms(terms []string) []string {
	var out []string

	seen := make(map[string]struct{}, len(terms))

	for _, term := range terms {
		cleaned := strings.Join(strings.Fields(term), " ")
		if !s.valid(cleaned) {
			continue
		}

		key := strings.ToLower(cleaned)
		if _, dup := seen[key]; dup {
			continue
		}

		seen[key] = struct{}{}

		out = append(out, cleaned)
	}

	return out
}

func (s *Sanitizer) valid(term string) bool {
	runeLen := len([]rune(term))
	if runeLen < s.minLength || runeLen > s.maxLength {
		return false
	}

	if _, denied := s.denylist[strings.ToLower(term)]; denied {
		return false
	}

	// A term with no letter or digit at all is punctuation debris.
	if !strings.ContainsFunc(term, isAlphanumeric) {
		return false
	}

	if isNumeric(term) || isURLLike(term) {
		return false
	}

	return true
}

func isNumeric(term string) bool {
	for _, r := range term {
		if r >= '0' && r <= '9' || r == '.' || r == ',' || r == '-' || r == '%' || r == ' ' {
			continue
		}

		return false
	}

	return true
}

func isURLLike(term string) bool {
	lower := strings.ToLower(term)

	return strings.HasPrefix(lower, "http://") ||
		strings.HasPrefix(lower, "https://") ||
		strings.HasPrefix(lower, "www.") ||
		(strings.Contains(lower, "/") && strings.Contains(lower, "."))
}

func isAlphanumeric(r rune) bool {
	return r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r > 127
}
