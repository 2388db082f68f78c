package events

import (
	"testing"
)

func TestNormalizeCollection(t *testing.T) {
	tests := []struct {
		input    string
		expected Collection
		valid    bool
	}{
		// Global
		{"team", CollectionTeams, true},
		{"Teams", CollectionTeams, true},
		{"player", CollectionPlayers, true},
		{"championships", CollectionChampionships, true},

		// Match scoped
		{"MATCH", CollectionMatches, true},
		{"set", CollectionSets, true},
		{"point", CollectionScorePoints, true},
		{"score_points", CollectionScorePoints, true},
		{"stat", CollectionPlayerStats, true},
		{"sub", CollectionSubstitutions, true},
		{"event", CollectionMatchEvents, true},

		// Invalid
		{"", "", false},
		{"issues", "", false},
		{"rally", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := NormalizeCollection(tt.input)
			if ok != tt.valid {
				t.Fatalf("NormalizeCollection(%q) valid = %v, want %v", tt.input, ok, tt.valid)
			}
			if got != tt.expected {
				t.Errorf("NormalizeCollection(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestNormalizeActionType(t *testing.T) {
	tests := map[string]ActionType{
		"delete":      ActionDelete,
		"REMOVE":      ActionDelete,
		"soft_delete": ActionDelete,
		"upsert":      ActionUpsert,
		"insert":      ActionUpsert,
		"update":      ActionUpsert,
		"":            ActionUpsert,
	}
	for in, want := range tests {
		if got := NormalizeActionType(in); got != want {
			t.Errorf("NormalizeActionType(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestScopeField(t *testing.T) {
	if got := ScopeField(CollectionMatches); got != "id" {
		t.Errorf("matches scope field = %q, want id", got)
	}
	for _, c := range MatchCollections() {
		if c == CollectionMatches {
			continue
		}
		if got := ScopeField(c); got != "match_id" {
			t.Errorf("%s scope field = %q, want match_id", c, got)
		}
	}
	for _, c := range GlobalCollections() {
		if got := ScopeField(c); got != "" {
			t.Errorf("%s scope field = %q, want empty", c, got)
		}
		if IsMatchScoped(c) {
			t.Errorf("%s should not be match scoped", c)
		}
	}
}

func TestAllCollectionsDisjoint(t *testing.T) {
	all := AllCollections()
	if len(all) != len(GlobalCollections())+len(MatchCollections()) {
		t.Fatalf("collections overlap: %d unique of %d", len(all), len(GlobalCollections())+len(MatchCollections()))
	}
	if !IsValidCollection("sets") || IsValidCollection("boards") {
		t.Error("IsValidCollection mismatch")
	}
}
