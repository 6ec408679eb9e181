package cache

import (
	"strings"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

// Relevance weights. The match tiers are exclusive: a document is credited
// for the strongest field its text matched, so exact name > name substring >
// description > searchable text.
const (
	scoreExactName    = 100
	scoreNameContains = 50
	scoreDescription  = 25
	scoreSearchable   = 10
	scoreEndorsed     = 5
	scoreDeprecated   = -10
	scoreTermBonus    = 5
	minTermLength     = 3
)

// RelevanceScore computes the lexical relevance of a document for a query.
// Pure function of (document, query); the query is lower-cased and trimmed
// before matching. Scores never go below zero.
func RelevanceScore(doc model.CachedDocument, query string) int {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return 0
	}

	name := strings.ToLower(doc.Name)
	desc := strings.ToLower(doc.Description)

	score := 0
	switch {
	case name == q:
		score += scoreExactName
	case strings.Contains(name, q):
		score += scoreNameContains
	case desc != "" && strings.Contains(desc, q):
		score += scoreDescription
	case strings.Contains(doc.SearchableText, q):
		score += scoreSearchable
	}

	switch doc.BadgeStatus {
	case model.BadgeEndorsed:
		score += scoreEndorsed
	case model.BadgeDeprecated:
		score += scoreDeprecated
	}

	// Per-term bonus for multi-word queries: each sufficiently long term
	// found in the searchable text adds recall beyond the whole-phrase tiers.
	terms := strings.Fields(q)
	if len(terms) > 1 {
		for _, term := range terms {
			if len(term) >= minTermLength && strings.Contains(doc.SearchableText, term) {
				score += scoreTermBonus
			}
		}
	}

	if score < 0 {
		score = 0
	}
	return score
}
