// Package events defines the event types flowing through the rendezvous
// service's pub/sub bus: game lifecycle transitions observed by the lobby
// and process-level notifications.
package events

// EventType identifies an event on the bus.
type EventType string

const (
	// Lobby lifecycle events
	EventGameHosted    EventType = "game_hosted"
	EventGameUpdated   EventType = "game_updated"
	EventGameStarted   EventType = "game_started"
	EventGameCancelled EventType = "game_cancelled"
	EventGameDropped   EventType = "game_dropped"

	// Periodic counters snapshot
	EventCountersTick EventType = "counters_tick"

	// System events
	EventShutdown EventType = "shutdown"
)

// DropReason says why the timer driver removed a registry entry.
type DropReason string

const (
	// DropNoInitialReply: the host never answered the first details query.
	DropNoInitialReply DropReason = "no_initial_reply"
	// DropLostContact: a previously advertised host stopped answering refreshes.
	DropLostContact DropReason = "lost_contact"
)

// Event is a single bus message.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// GamePayload describes a lobby lifecycle transition. Endpoint is the
// host's observed address; Creator and MaxPlayers are only set once game
// details have been received.
type GamePayload struct {
	Endpoint   string     `json:"endpoint"`
	SessionID  string     `json:"session_id,omitempty"`
	Creator    string     `json:"creator,omitempty"`
	MaxPlayers uint8      `json:"max_players,omitempty"`
	Reason     DropReason `json:"reason,omitempty"`
}

// CountersPayload carries a full counters snapshot for telemetry.
type CountersPayload struct {
	Counters map[string]uint64 `json:"counters"`
	Games    int               `json:"games"`
}
