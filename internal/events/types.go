// Package events defines the bridge's internal publish-subscribe bus and
// the event types flowing across it: chat session lifecycle, match
// transitions and account-linking activity.
package events

// EventType identifies a kind of event on the bus.
type EventType string

const (
	// Chat session lifecycle
	EventSessionConnected EventType = "session_connected"
	EventSessionLost      EventType = "session_lost"

	// Match state machine transitions
	EventMatchCreated EventType = "match_created"
	EventMatchUpdated EventType = "match_updated"
	EventMatchEnded   EventType = "match_ended"

	// Roster / linking
	EventFriendRequest EventType = "friend_request"
	EventLinkRedeemed  EventType = "link_redeemed"

	// System
	EventShutdown EventType = "shutdown"
)

// Event is one message on the bus.
type Event struct {
	Type    EventType
	Source  string
	Payload any
}

// SessionPayload describes a chat session state change.
type SessionPayload struct {
	Account string
	Region  string
	Error   string
}

// MatchPayload describes a match transition.
type MatchPayload struct {
	Account    string
	PlayerID   string
	GameName   string
	TagLine    string
	MapName    string
	QueueID    string
	AllyScore  int
	EnemyScore int
}

// FriendRequestPayload describes an accepted inbound friend request.
type FriendRequestPayload struct {
	Account  string
	RemoteID string
	Name     string
	Tagline  string
}

// LinkPayload describes a redeemed account link.
type LinkPayload struct {
	UserID   string
	RemoteID string
}
