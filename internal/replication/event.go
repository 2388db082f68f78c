package replication

import (
	"time"

	"github.com/marcus/rally/internal/events"
)

// EventType classifies channel notifications.
type EventType string

const (
	// EventCaughtUp fires once per session after the first complete pull.
	EventCaughtUp EventType = "caught_up"
	// EventCheckpoint fires when a pull round completes, even with zero rows.
	EventCheckpoint EventType = "checkpoint"
	// EventPushed fires when the remote acknowledged a local mutation.
	EventPushed EventType = "pushed"
	// EventRowRejected fires when an inbound row failed schema validation and was dropped.
	EventRowRejected EventType = "row_rejected"
	// EventError fires when retries are exhausted. The channel keeps running.
	EventError EventType = "error"
)

// Event is delivered to the EventSink of a channel.
type Event struct {
	Type       EventType
	ChannelID  string
	Collection events.Collection
	ScopeID    string
	Checkpoint time.Time
	RowID      string
	Err        error
}

// EventSink receives channel events. It is called from channel goroutines
// and must not block.
type EventSink func(Event)
