package events

import "strings"

// Collection names a synced document collection (one local table, one remote table).
type Collection string

// ActionType is the kind of mutation carried by a change or outbox entry.
type ActionType string

// Global collections are owned by the user and synced on login.
const (
	CollectionTeams         Collection = "teams"
	CollectionPlayers       Collection = "players"
	CollectionChampionships Collection = "championships"
)

// Match-scoped collections are synced per match on demand.
const (
	CollectionMatches       Collection = "matches"
	CollectionSets          Collection = "sets"
	CollectionScorePoints   Collection = "score_points"
	CollectionPlayerStats   Collection = "player_stats"
	CollectionSubstitutions Collection = "substitutions"
	CollectionMatchEvents   Collection = "match_events"
)

// Canonical action types
const (
	ActionUpsert ActionType = "upsert"
	ActionDelete ActionType = "delete"
)

// GlobalCollections returns the user-scoped collections in sync order.
func GlobalCollections() []Collection {
	return []Collection{CollectionTeams, CollectionPlayers, CollectionChampionships}
}

// MatchCollections returns the collections chunked by match id.
func MatchCollections() []Collection {
	return []Collection{
		CollectionMatches,
		CollectionSets,
		CollectionScorePoints,
		CollectionPlayerStats,
		CollectionSubstitutions,
		CollectionMatchEvents,
	}
}

// AllCollections returns every valid collection.
func AllCollections() map[Collection]bool {
	all := make(map[Collection]bool)
	for _, c := range GlobalCollections() {
		all[c] = true
	}
	for _, c := range MatchCollections() {
		all[c] = true
	}
	return all
}

// IsValidCollection checks if the given collection string is valid.
func IsValidCollection(c string) bool {
	return AllCollections()[Collection(c)]
}

// IsMatchScoped reports whether c is chunked per match.
func IsMatchScoped(c Collection) bool {
	for _, m := range MatchCollections() {
		if m == c {
			return true
		}
	}
	return false
}

// ScopeField returns the row field that holds a collection's scope id.
// Global collections have no scope field.
func ScopeField(c Collection) string {
	switch {
	case c == CollectionMatches:
		return "id"
	case IsMatchScoped(c):
		return "match_id"
	default:
		return ""
	}
}

// NormalizeCollection normalizes a collection string to its canonical form.
// Handles both singular and plural forms.
func NormalizeCollection(name string) (Collection, bool) {
	switch strings.ToLower(name) {
	case "team", "teams":
		return CollectionTeams, true
	case "player", "players":
		return CollectionPlayers, true
	case "championship", "championships":
		return CollectionChampionships, true
	case "match", "matches":
		return CollectionMatches, true
	case "set", "sets":
		return CollectionSets, true
	case "score_point", "score_points", "point", "points":
		return CollectionScorePoints, true
	case "player_stat", "player_stats", "stat", "stats":
		return CollectionPlayerStats, true
	case "substitution", "substitutions", "sub", "subs":
		return CollectionSubstitutions, true
	case "match_event", "match_events", "event", "events":
		return CollectionMatchEvents, true
	default:
		return "", false
	}
}

// NormalizeActionType maps store and wire verbs to canonical action types.
func NormalizeActionType(action string) ActionType {
	switch strings.ToLower(action) {
	case "delete", "remove", "soft_delete":
		return ActionDelete
	default:
		return ActionUpsert
	}
}
