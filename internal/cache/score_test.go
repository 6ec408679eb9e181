package cache

import (
	"testing"
	"time"

	"github.com/vantagebi/vantage-mcp/internal/model"
)

func doc(name, description string, badge model.BadgeStatus, tags ...string) model.CachedDocument {
	return model.NewCachedDocument(model.Document{
		ID:          "doc-1",
		Type:        model.TypeWorkbook,
		Name:        name,
		Description: description,
		CreatedBy:   "owner@example.com",
		BadgeStatus: badge,
		Tags:        tags,
	}, time.Now())
}

func TestRelevanceScore_ExactMatch(t *testing.T) {
	d := doc("Sales", "", "")

	score := RelevanceScore(d, "Sales")
	if score != 100 {
		t.Errorf("Expected exact-match score 100, got %d", score)
	}
}

func TestRelevanceScore_Ordering(t *testing.T) {
	d := doc("Sales Dashboard", "Quarterly revenue", "")

	exact := RelevanceScore(d, "sales dashboard")
	substring := RelevanceScore(d, "sales")
	none := RelevanceScore(d, "unrelated")

	if exact <= substring {
		t.Errorf("Expected exact (%d) > substring (%d)", exact, substring)
	}
	if substring <= none {
		t.Errorf("Expected substring (%d) > no match (%d)", substring, none)
	}
	if none != 0 {
		t.Errorf("Expected 0 for no match, got %d", none)
	}
}

func TestRelevanceScore_BadgeAdjustments(t *testing.T) {
	endorsed := doc("Sales Dashboard", "", model.BadgeEndorsed)
	plain := doc("Sales Dashboard", "", "")

	if got := RelevanceScore(endorsed, "sales"); got != 55 {
		t.Errorf("Expected endorsed substring score 55, got %d", got)
	}
	if got := RelevanceScore(plain, "sales"); got != 50 {
		t.Errorf("Expected plain substring score 50, got %d", got)
	}
}

func TestRelevanceScore_DeprecatedNeverNegative(t *testing.T) {
	// Matches only through searchable text; deprecation cancels the credit.
	d := doc("Ops Report", "", model.BadgeDeprecated, "sales")

	if got := RelevanceScore(d, "sales"); got != 0 {
		t.Errorf("Expected deprecated searchable-only match to score 0, got %d", got)
	}
}

func TestRelevanceScore_DescriptionMatch(t *testing.T) {
	d := doc("Ops Report", "Regional sales trends", "")

	if got := RelevanceScore(d, "sales trends"); got < 25 {
		t.Errorf("Expected description match to score at least 25, got %d", got)
	}
}

func TestRelevanceScore_MultiWordTermBonus(t *testing.T) {
	d := doc("Ops Report", "", "", "sales", "revenue")

	// Neither name nor description matches the phrase, but both terms appear
	// in the searchable text.
	got := RelevanceScore(d, "sales revenue")
	if got != 10+5+5 {
		t.Errorf("Expected searchable phrase plus two term bonuses = 20, got %d", got)
	}
}

func TestRelevanceScore_EmptyQuery(t *testing.T) {
	d := doc("Sales Dashboard", "", model.BadgeEndorsed)

	if got := RelevanceScore(d, ""); got != 0 {
		t.Errorf("Expected 0 for empty query, got %d", got)
	}
	if got := RelevanceScore(d, "   "); got != 0 {
		t.Errorf("Expected 0 for blank query, got %d", got)
	}
}
