package db

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/marcus/rally/internal/events"
	"github.com/marcus/rally/internal/models"
)

// ErrUnknownCollection is returned for a collection with no registered schema.
var ErrUnknownCollection = errors.New("unknown collection")

// ValidationError reports a document that does not satisfy its collection schema.
type ValidationError struct {
	Collection events.Collection
	ID         string
	Field      string
	Reason     string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s document %q: %s", e.Collection, e.ID, e.Reason)
	}
	return fmt.Sprintf("invalid %s document %q: %s %s", e.Collection, e.ID, e.Field, e.Reason)
}

// CollectionSchema describes how a collection is stored and checked.
type CollectionSchema struct {
	Name events.Collection
	// ScopeField is the body field holding the scope id; empty for global collections.
	ScopeField string
	// check validates a decoded, non-deleted body.
	check func(doc models.Document) (field, reason string)
}

var validColumnName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var schemas = map[events.Collection]CollectionSchema{
	events.CollectionTeams: {
		Name: events.CollectionTeams,
		check: decodeCheck(func(t *models.Team) (string, string) {
			return required("name", t.Name)
		}),
	},
	events.CollectionPlayers: {
		Name: events.CollectionPlayers,
		check: decodeCheck(func(p *models.Player) (string, string) {
			if f, r := required("team_id", p.TeamID); f != "" {
				return f, r
			}
			if p.Number < 0 {
				return "number", "must not be negative"
			}
			return required("name", p.Name)
		}),
	},
	events.CollectionChampionships: {
		Name: events.CollectionChampionships,
		check: decodeCheck(func(c *models.Championship) (string, string) {
			return required("name", c.Name)
		}),
	},
	events.CollectionMatches: {
		Name:       events.CollectionMatches,
		ScopeField: events.ScopeField(events.CollectionMatches),
		check: decodeCheck(func(m *models.Match) (string, string) {
			if f, r := required("home_team_id", m.HomeTeamID); f != "" {
				return f, r
			}
			if f, r := required("away_team_id", m.AwayTeamID); f != "" {
				return f, r
			}
			switch m.Status {
			case models.MatchUpcoming, models.MatchLive, models.MatchCompleted:
			default:
				return "status", fmt.Sprintf("unknown value %q", m.Status)
			}
			if m.HomeScore < 0 || m.AwayScore < 0 || m.HomeScore > 3 || m.AwayScore > 3 {
				return "score", "sets won must be between 0 and 3"
			}
			return "", ""
		}),
	},
	events.CollectionSets: {
		Name:       events.CollectionSets,
		ScopeField: events.ScopeField(events.CollectionSets),
		check: decodeCheck(func(s *models.Set) (string, string) {
			if f, r := required("match_id", s.MatchID); f != "" {
				return f, r
			}
			if s.SetNumber < 1 || s.SetNumber > 5 {
				return "set_number", "must be between 1 and 5"
			}
			switch s.Status {
			case models.SetUpcoming, models.SetLive, models.SetCompleted:
			default:
				return "status", fmt.Sprintf("unknown value %q", s.Status)
			}
			if s.HomeScore < 0 || s.AwayScore < 0 {
				return "score", "must not be negative"
			}
			return "", ""
		}),
	},
	events.CollectionScorePoints: {
		Name:       events.CollectionScorePoints,
		ScopeField: events.ScopeField(events.CollectionScorePoints),
		check: decodeCheck(func(p *models.ScorePoint) (string, string) {
			if f, r := required("match_id", p.MatchID); f != "" {
				return f, r
			}
			if f, r := required("set_id", p.SetID); f != "" {
				return f, r
			}
			if p.PointNumber < 1 {
				return "point_number", "must be positive"
			}
			return required("scoring_team_id", p.ScoringTeamID)
		}),
	},
	events.CollectionPlayerStats: {
		Name:       events.CollectionPlayerStats,
		ScopeField: events.ScopeField(events.CollectionPlayerStats),
		check: decodeCheck(func(p *models.PlayerStat) (string, string) {
			if f, r := required("match_id", p.MatchID); f != "" {
				return f, r
			}
			if f, r := required("player_id", p.PlayerID); f != "" {
				return f, r
			}
			switch p.StatType {
			case models.StatServe, models.StatAttack, models.StatBlock, models.StatReception,
				models.StatDig, models.StatSetting, models.StatFault:
			default:
				return "stat_type", fmt.Sprintf("unknown value %q", p.StatType)
			}
			switch p.Result {
			case models.ResultSuccess, models.ResultError, models.ResultNeutral:
			default:
				return "result", fmt.Sprintf("unknown value %q", p.Result)
			}
			return "", ""
		}),
	},
	events.CollectionSubstitutions: {
		Name:       events.CollectionSubstitutions,
		ScopeField: events.ScopeField(events.CollectionSubstitutions),
		check: decodeCheck(func(s *models.Substitution) (string, string) {
			if f, r := required("match_id", s.MatchID); f != "" {
				return f, r
			}
			if f, r := required("player_out_id", s.PlayerOutID); f != "" {
				return f, r
			}
			if f, r := required("player_in_id", s.PlayerInID); f != "" {
				return f, r
			}
			if s.Position < 1 || s.Position > models.CourtPositions {
				return "position", "must be between 1 and 6"
			}
			return "", ""
		}),
	},
	events.CollectionMatchEvents: {
		Name:       events.CollectionMatchEvents,
		ScopeField: events.ScopeField(events.CollectionMatchEvents),
		check: decodeCheck(func(e *models.MatchEvent) (string, string) {
			if f, r := required("match_id", e.MatchID); f != "" {
				return f, r
			}
			if e.Details == nil {
				return "details", "is required"
			}
			if err := e.Details.Validate(); err != nil {
				return "details", err.Error()
			}
			return "", ""
		}),
	},
}

// decodeCheck adapts a typed check into a document check. Decode failures
// (including unknown match event kinds) are reported against the body.
func decodeCheck[T any](fn func(*T) (string, string)) func(models.Document) (string, string) {
	return func(doc models.Document) (string, string) {
		v := new(T)
		if err := doc.Decode(v); err != nil {
			return "body", err.Error()
		}
		return fn(v)
	}
}

func required(field, value string) (string, string) {
	if value == "" {
		return field, "is required"
	}
	return "", ""
}

// Schema returns the registered schema for collection.
func Schema(collection events.Collection) (CollectionSchema, error) {
	s, ok := schemas[collection]
	if !ok {
		return CollectionSchema{}, fmt.Errorf("%w: %q", ErrUnknownCollection, collection)
	}
	return s, nil
}

// Validate checks doc against the schema of collection. Tombstones only need an id.
func Validate(collection events.Collection, doc models.Document) error {
	s, err := Schema(collection)
	if err != nil {
		return err
	}
	if doc.ID == "" {
		return &ValidationError{Collection: collection, Field: "id", Reason: "is required"}
	}
	if doc.UpdatedAt.IsZero() {
		return &ValidationError{Collection: collection, ID: doc.ID, Field: "updated_at", Reason: "is required"}
	}
	if doc.Deleted {
		return nil
	}
	if field, reason := s.check(doc); reason != "" {
		return &ValidationError{Collection: collection, ID: doc.ID, Field: field, Reason: reason}
	}
	return nil
}

// ScopeOf returns the scope id carried by doc, or "" for global collections.
func (s CollectionSchema) ScopeOf(doc models.Document) string {
	if s.ScopeField == "" || doc.Deleted {
		return ""
	}
	return doc.StringField(s.ScopeField)
}
