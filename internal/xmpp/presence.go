package xmpp

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// SessionStateInGame is the sessionLoopState value for an active match.
const SessionStateInGame = "INGAME"

// GamePresence is the decoded game-state payload embedded in a presence
// stanza. Only the fields the match tracker branches on are mapped.
type GamePresence struct {
	SessionLoopState string `json:"sessionLoopState"`
	AllyScore        int    `json:"partyOwnerMatchScoreAllyTeam"`
	EnemyScore       int    `json:"partyOwnerMatchScoreEnemyTeam"`
	MatchMap         string `json:"matchMap"`
	CompetitiveTier  int    `json:"competitiveTier"`
	AccountLevel     int    `json:"accountLevel"`
	PlayerCardID     string `json:"playerCardId"`
	QueueID          string `json:"queueId"`
}

// InGame reports whether the payload describes an active match session.
func (p *GamePresence) InGame() bool {
	return p.SessionLoopState == SessionStateInGame
}

// DecodeGamePresence extracts the game payload from a presence stanza.
// Returns (nil, nil) when the stanza has no embedded game state; that is
// the normal shape for menu/away presence and must not be treated as an
// error. The payload arrives base64-encoded with unreliable padding, so
// padding is normalized before decoding.
func DecodeGamePresence(stanza *Node) (*GamePresence, error) {
	games := stanza.Child("games")
	if games == nil {
		return nil, nil
	}
	game := games.Child("valorant")
	if game == nil {
		return nil, nil
	}
	payload := game.Child("p")
	if payload == nil || strings.TrimSpace(payload.Text) == "" {
		return nil, nil
	}

	raw, err := base64.RawStdEncoding.DecodeString(strings.TrimRight(strings.TrimSpace(payload.Text), "="))
	if err != nil {
		return nil, fmt.Errorf("presence payload is not valid base64: %w", err)
	}

	var gp GamePresence
	if err := json.Unmarshal(raw, &gp); err != nil {
		return nil, fmt.Errorf("presence payload is not valid json: %w", err)
	}
	return &gp, nil
}

// PlayerIDFromJID derives the stable player id from a stanza sender
// address of the form "<uuid>@<host>/<resource>".
func PlayerIDFromJID(jid string) string {
	id, _, _ := strings.Cut(jid, "@")
	return id
}

// BareJID strips the resource part from a full JID.
func BareJID(jid string) string {
	bare, _, _ := strings.Cut(jid, "/")
	return bare
}
