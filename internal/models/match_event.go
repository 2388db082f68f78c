package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind tags the details payload of a MatchEvent.
type EventKind string

const (
	EventTimeout EventKind = "timeout"
	EventCard    EventKind = "card"
	EventInjury  EventKind = "injury"
	EventNote    EventKind = "note"
)

// CardColor is the sanction level of a card.
type CardColor string

const (
	CardYellow CardColor = "yellow"
	CardRed    CardColor = "red"
)

// EventDetails is the kind-specific payload of a MatchEvent. The set of
// implementations is closed; consumers switch on the concrete type.
type EventDetails interface {
	Kind() EventKind
	Validate() error
	isEventDetails()
}

// TimeoutDetails records a team timeout.
type TimeoutDetails struct {
	TeamID string `json:"team_id"`
}

// CardDetails records a sanction.
type CardDetails struct {
	TeamID   string    `json:"team_id"`
	PlayerID string    `json:"player_id,omitempty"`
	Color    CardColor `json:"color"`
}

// InjuryDetails records a stoppage for an injured player.
type InjuryDetails struct {
	PlayerID    string `json:"player_id"`
	Description string `json:"description,omitempty"`
}

// NoteDetails is a free-form scorer note.
type NoteDetails struct {
	Text string `json:"text"`
}

func (TimeoutDetails) Kind() EventKind { return EventTimeout }
func (CardDetails) Kind() EventKind    { return EventCard }
func (InjuryDetails) Kind() EventKind  { return EventInjury }
func (NoteDetails) Kind() EventKind    { return EventNote }

func (TimeoutDetails) isEventDetails() {}
func (CardDetails) isEventDetails()    {}
func (InjuryDetails) isEventDetails()  {}
func (NoteDetails) isEventDetails()    {}

func (d TimeoutDetails) Validate() error {
	if d.TeamID == "" {
		return errors.New("timeout: team_id is required")
	}
	return nil
}

func (d CardDetails) Validate() error {
	if d.TeamID == "" {
		return errors.New("card: team_id is required")
	}
	if d.Color != CardYellow && d.Color != CardRed {
		return fmt.Errorf("card: invalid color %q", d.Color)
	}
	return nil
}

func (d InjuryDetails) Validate() error {
	if d.PlayerID == "" {
		return errors.New("injury: player_id is required")
	}
	return nil
}

func (d NoteDetails) Validate() error {
	if d.Text == "" {
		return errors.New("note: text is required")
	}
	return nil
}

// MatchEvent is an append-only, non-scoring occurrence during a match.
type MatchEvent struct {
	ID        string
	MatchID   string
	SetID     string
	Details   EventDetails
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (e *MatchEvent) RowID() string            { return e.ID }
func (e *MatchEvent) RowUpdatedAt() time.Time  { return e.UpdatedAt }
func (e *MatchEvent) SetUpdatedAt(t time.Time) { e.UpdatedAt = t }

// matchEventJSON is the wire envelope: the kind tag selects the details shape.
type matchEventJSON struct {
	ID        string          `json:"id"`
	MatchID   string          `json:"match_id"`
	SetID     string          `json:"set_id,omitempty"`
	Kind      EventKind       `json:"kind"`
	Details   json.RawMessage `json:"details"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (e MatchEvent) MarshalJSON() ([]byte, error) {
	if e.Details == nil {
		return nil, fmt.Errorf("match event %s: missing details", e.ID)
	}
	details, err := json.Marshal(e.Details)
	if err != nil {
		return nil, err
	}
	return json.Marshal(matchEventJSON{
		ID:        e.ID,
		MatchID:   e.MatchID,
		SetID:     e.SetID,
		Kind:      e.Details.Kind(),
		Details:   details,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	})
}

func (e *MatchEvent) UnmarshalJSON(data []byte) error {
	var env matchEventJSON
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	details, err := decodeEventDetails(env.Kind, env.Details)
	if err != nil {
		return fmt.Errorf("match event %s: %w", env.ID, err)
	}
	*e = MatchEvent{
		ID:        env.ID,
		MatchID:   env.MatchID,
		SetID:     env.SetID,
		Details:   details,
		CreatedAt: env.CreatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	return nil
}

func decodeEventDetails(kind EventKind, raw json.RawMessage) (EventDetails, error) {
	var details EventDetails
	switch kind {
	case EventTimeout:
		var d TimeoutDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		details = d
	case EventCard:
		var d CardDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		details = d
	case EventInjury:
		var d InjuryDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		details = d
	case EventNote:
		var d NoteDetails
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, err
		}
		details = d
	default:
		return nil, fmt.Errorf("unknown event kind %q", kind)
	}
	return details, nil
}
