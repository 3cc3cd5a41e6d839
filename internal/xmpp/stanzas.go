package xmpp

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

// Stanza namespaces. The roster namespace is Riot's private extension of
// jabber:iq:roster.
const (
	nsSASL    = "urn:ietf:params:xml:ns:xmpp-sasl"
	nsBind    = "urn:ietf:params:xml:ns:xmpp-bind"
	nsSession = "urn:ietf:params:xml:ns:xmpp-session"
	nsEntitle = "urn:riotgames:entitlements"

	// NSRoster is Riot's roster namespace, exported for the iq handler.
	NSRoster = "jabber:iq:riotgames:roster"
)

// escape XML-escapes a value for safe embedding in stanza text or attributes.
func escape(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

// ---- Stanza constructors ----

// BuildStreamOpen creates the stream-open header for the given chat
// affinity. Sent twice during login: the SASL exchange resets the stream and
// the server renegotiates features on a fresh open.
func BuildStreamOpen(affinity string) []byte {
	return []byte(fmt.Sprintf(
		`<?xml version="1.0" encoding="UTF-8"?><stream:stream to="%s.pvp.net" xml:lang="en" version="1.0" xmlns="jabber:client" xmlns:stream="http://etherx.jabber.org/streams">`,
		escape(affinity),
	))
}

// BuildSASLAuth creates the X-Riot-RSO-PAS auth stanza carrying the access
// token and the PAS chat token as embedded sub-elements.
func BuildSASLAuth(rsoToken, pasToken string) []byte {
	return []byte(fmt.Sprintf(
		`<auth mechanism="X-Riot-RSO-PAS" xmlns="%s"><rso_token>%s</rso_token><pas_token>%s</pas_token></auth>`,
		nsSASL, escape(rsoToken), escape(pasToken),
	))
}

// BuildResourceBind creates the resource-bind iq with puuid addressing
// enabled, so roster and presence peers are keyed by player uuid.
func BuildResourceBind() []byte {
	return []byte(fmt.Sprintf(
		`<iq id="_xmpp_bind1" type="set"><bind xmlns="%s"><puuid-mode enabled="true"/></bind></iq>`,
		nsBind,
	))
}

// BuildEntitlementBind creates the entitlement-bind iq carrying the
// entitlement token as element text.
func BuildEntitlementBind(entitlementToken string) []byte {
	return []byte(fmt.Sprintf(
		`<iq id="xmpp_entitlements_0" type="set"><entitlements xmlns="%s"><token>%s</token></entitlements></iq>`,
		nsEntitle, escape(entitlementToken),
	))
}

// BuildSessionEstablish creates the session-establish iq.
func BuildSessionEstablish() []byte {
	return []byte(fmt.Sprintf(
		`<iq id="_xmpp_session1" type="set"><session xmlns="%s"><platform>riot</platform></session></iq>`,
		nsSession,
	))
}

// BuildPresenceAnnounce creates the initial empty presence broadcast that
// tells the server to start delivering peer presence.
func BuildPresenceAnnounce() []byte {
	return []byte(`<presence/>`)
}

// BuildChatMessage creates a direct chat message stanza.
func BuildChatMessage(id, toJID, body string) []byte {
	return []byte(fmt.Sprintf(
		`<message id="%s" to="%s" type="chat"><body>%s</body></message>`,
		escape(id), escape(toJID), escape(body),
	))
}

// BuildRosterQuery creates the roster get iq. The response lists pending
// inbound friend requests among the subscription states.
func BuildRosterQuery() []byte {
	return []byte(fmt.Sprintf(`<iq type="get"><query xmlns="%s" /></iq>`, NSRoster))
}

// BuildRosterAccept creates the outbound roster-accept for a pending
// friend request, addressed by display name and tagline.
func BuildRosterAccept(name, tagline string) []byte {
	return []byte(fmt.Sprintf(
		`<iq id="roster_add_10" type="set"><query xmlns="%s"><item subscription="pending_out"><id name="%s" tagline="%s"/></item></query></iq>`,
		NSRoster, escape(name), escape(tagline),
	))
}

// BuildKeepAlive returns a whitespace ping. Servers ignore inter-stanza
// whitespace, which makes it the cheapest liveness signal on an XMPP stream.
func BuildKeepAlive() []byte {
	return []byte(" ")
}
