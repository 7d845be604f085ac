// Package router matches recognized utterances against the phrase templates
// of registered skills and dispatches each utterance to exactly one skill.
package router

import (
	"github.com/normanking/okpi/pkg/skill"
)

// FallbackPrefix starts the reply given when no template matches.
const FallbackPrefix = "Sorry, I did not understand "

// Fallback returns the reply for an utterance nothing matched.
func Fallback(text string) string {
	return FallbackPrefix + text
}

// Candidate is one successful template match considered during routing.
type Candidate struct {
	// Skill is the skill that declared the matching template.
	Skill skill.Skill

	// Intent carries the captured placeholder values.
	Intent skill.Intent

	// Score is the number of characters captured across all placeholders.
	// Lower is more specific.
	Score int

	// Order is the registration position of the skill's entry; higher is
	// more recent.
	Order int

	// TemplateIndex is the position of the template within the skill's list.
	TemplateIndex int
}

// beats reports whether c wins over other under the disambiguation policy:
// fewest captured characters, then most recently registered entry, then the
// later-declared template of that entry.
func (c Candidate) beats(other Candidate) bool {
	if c.Score != other.Score {
		return c.Score < other.Score
	}
	if c.Order != other.Order {
		return c.Order > other.Order
	}
	return c.TemplateIndex > other.TemplateIndex
}

// Stats tracks routing outcomes for monitoring.
type Stats struct {
	Processed int64 `json:"processed"`
	Matched   int64 `json:"matched"`
	Fallbacks int64 `json:"fallbacks"`
	Ambiguous int64 `json:"ambiguous"` // matched with more than one candidate
}
