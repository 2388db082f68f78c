package models

import (
	"maps"
	"time"
)

// MatchStatus represents the lifecycle of a match
type MatchStatus string

const (
	MatchUpcoming  MatchStatus = "upcoming"
	MatchLive      MatchStatus = "live"
	MatchCompleted MatchStatus = "completed"
)

// SetStatus represents the lifecycle of a single set
type SetStatus string

const (
	SetUpcoming  SetStatus = "upcoming"
	SetLive      SetStatus = "live"
	SetCompleted SetStatus = "completed"
)

// StatResult is the outcome recorded for a player action
type StatResult string

const (
	ResultSuccess StatResult = "success"
	ResultError   StatResult = "error"
	ResultNeutral StatResult = "neutral"
)

// StatType identifies the player action a stat records
type StatType string

const (
	StatServe     StatType = "serve"
	StatAttack    StatType = "attack"
	StatBlock     StatType = "block"
	StatReception StatType = "reception"
	StatDig       StatType = "dig"
	StatSetting   StatType = "setting"
	StatFault     StatType = "fault"
)

// Role is a player's on-court role
type Role string

const (
	RoleSetter       Role = "setter"
	RoleOutside      Role = "outside_hitter"
	RoleOpposite     Role = "opposite"
	RoleMiddle       Role = "middle_blocker"
	RoleLibero       Role = "libero"
	RoleDefensiveSub Role = "defensive_specialist"
)

// CourtPositions is the number of rotation slots on one side of the net.
const CourtPositions = 6

// Lineup maps court positions 1..6 (index 0..5) to player IDs.
type Lineup [CourtPositions]string

// Position returns the 1-based court position of playerID, or 0 if absent.
func (l Lineup) Position(playerID string) int {
	for i, p := range l {
		if p == playerID {
			return i + 1
		}
	}
	return 0
}

// Row is implemented by every synced entity.
type Row interface {
	RowID() string
	RowUpdatedAt() time.Time
	SetUpdatedAt(time.Time)
}

// Match is a scheduled or played fixture between two teams.
// HomeScore and AwayScore count sets won.
type Match struct {
	ID             string      `json:"id"`
	HomeTeamID     string      `json:"home_team_id"`
	AwayTeamID     string      `json:"away_team_id"`
	HomeScore      int         `json:"home_score"`
	AwayScore      int         `json:"away_score"`
	Status         MatchStatus `json:"status"`
	ChampionshipID string      `json:"championship_id,omitempty"`
	ScheduledAt    *time.Time  `json:"scheduled_at,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func (m *Match) RowID() string            { return m.ID }
func (m *Match) RowUpdatedAt() time.Time  { return m.UpdatedAt }
func (m *Match) SetUpdatedAt(t time.Time) { m.UpdatedAt = t }

// Set is one set of a match. Scores count points.
// LineupTeamID names the team whose rotation CurrentLineup tracks.
type Set struct {
	ID            string          `json:"id"`
	MatchID       string          `json:"match_id"`
	SetNumber     int             `json:"set_number"`
	HomeScore     int             `json:"home_score"`
	AwayScore     int             `json:"away_score"`
	Status        SetStatus       `json:"status"`
	ServerTeamID  string          `json:"server_team_id"`
	LineupTeamID  string          `json:"lineup_team_id"`
	CurrentLineup Lineup          `json:"current_lineup"`
	PlayerRoles   map[string]Role `json:"player_roles,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (s *Set) RowID() string            { return s.ID }
func (s *Set) RowUpdatedAt() time.Time  { return s.UpdatedAt }
func (s *Set) SetUpdatedAt(t time.Time) { s.UpdatedAt = t }

// Clone returns a deep copy; PlayerRoles is not shared.
func (s Set) Clone() Set {
	if s.PlayerRoles != nil {
		s.PlayerRoles = maps.Clone(s.PlayerRoles)
	}
	return s
}

// ScorePoint is an append-only record of one rally won.
type ScorePoint struct {
	ID              string    `json:"id"`
	MatchID         string    `json:"match_id"`
	SetID           string    `json:"set_id"`
	PointNumber     int       `json:"point_number"`
	ScoringTeamID   string    `json:"scoring_team_id"`
	HomeScore       int       `json:"home_score"`
	AwayScore       int       `json:"away_score"`
	CurrentRotation Lineup    `json:"current_rotation"`
	PlayerStatID    string    `json:"player_stat_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (p *ScorePoint) RowID() string            { return p.ID }
func (p *ScorePoint) RowUpdatedAt() time.Time  { return p.UpdatedAt }
func (p *ScorePoint) SetUpdatedAt(t time.Time) { p.UpdatedAt = t }

// PlayerStat is an append-only record of a single player action.
type PlayerStat struct {
	ID           string     `json:"id"`
	MatchID      string     `json:"match_id"`
	SetID        string     `json:"set_id"`
	PlayerID     string     `json:"player_id"`
	TeamID       string     `json:"team_id"`
	StatType     StatType   `json:"stat_type"`
	Result       StatResult `json:"result"`
	ScorePointID string     `json:"score_point_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (p *PlayerStat) RowID() string            { return p.ID }
func (p *PlayerStat) RowUpdatedAt() time.Time  { return p.UpdatedAt }
func (p *PlayerStat) SetUpdatedAt(t time.Time) { p.UpdatedAt = t }

// Substitution is an append-only record of a player swap.
type Substitution struct {
	ID          string    `json:"id"`
	MatchID     string    `json:"match_id"`
	SetID       string    `json:"set_id"`
	TeamID      string    `json:"team_id"`
	PlayerOutID string    `json:"player_out_id"`
	PlayerInID  string    `json:"player_in_id"`
	Position    int       `json:"position"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (s *Substitution) RowID() string            { return s.ID }
func (s *Substitution) RowUpdatedAt() time.Time  { return s.UpdatedAt }
func (s *Substitution) SetUpdatedAt(t time.Time) { s.UpdatedAt = t }

// Team is user-owned reference data.
type Team struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Team) RowID() string             { return t.ID }
func (t *Team) RowUpdatedAt() time.Time   { return t.UpdatedAt }
func (t *Team) SetUpdatedAt(ts time.Time) { t.UpdatedAt = ts }

// Player belongs to a team roster.
type Player struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	Name      string    `json:"name"`
	Number    int       `json:"number"`
	Role      Role      `json:"role,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (p *Player) RowID() string            { return p.ID }
func (p *Player) RowUpdatedAt() time.Time  { return p.UpdatedAt }
func (p *Player) SetUpdatedAt(t time.Time) { p.UpdatedAt = t }

// Championship groups matches into a competition.
type Championship struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Season    string    `json:"season,omitempty"`
	OwnerID   string    `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *Championship) RowID() string            { return c.ID }
func (c *Championship) RowUpdatedAt() time.Time  { return c.UpdatedAt }
func (c *Championship) SetUpdatedAt(t time.Time) { c.UpdatedAt = t }

// User is the authenticated account the client syncs on behalf of.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}
