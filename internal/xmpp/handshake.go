package xmpp

import (
	"fmt"
	"time"
)

// Terminating markers for the login steps. There is no framing on the wire;
// each step is complete only once its closing tag has been observed.
var (
	markerStreamFeatures = []byte("</stream:features>")
	markerSASLSuccess    = []byte("</success>")
	markerBind           = []byte("</bind></iq>")
	markerEntitlement    = []byte("></iq>")
	markerSession        = []byte("</session></iq>")
	markerPresence       = []byte("</presence>")
)

// handshakeStepTimeout bounds each step; a server that never produces the
// terminating marker fails the whole login rather than hanging the session.
const handshakeStepTimeout = 30 * time.Second

// HandshakeError reports which login step failed. Any handshake failure is
// fatal to the session: the stream state on the server side is undefined
// mid-login, so the only recovery is a full reconnect.
type HandshakeError struct {
	Step string
	Err  error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("handshake failed at %s: %v", e.Step, e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// HandshakeCredentials carries the token material the login stanzas embed.
type HandshakeCredentials struct {
	Affinity         string
	AccessToken      string
	PASToken         string
	EntitlementToken string
}

type handshakeStep struct {
	name   string
	stanza []byte
	marker []byte
}

// Handshake drives the ordered login sequence over the transport. Each step
// sends one stanza and blocks until its terminating marker arrives; steps
// are never retried or reordered. The second stream-open is mandatory: SASL
// success resets the stream and features must be renegotiated before bind.
func Handshake(t *Transport, creds HandshakeCredentials) error {
	steps := []handshakeStep{
		{"stream-open", BuildStreamOpen(creds.Affinity), markerStreamFeatures},
		{"sasl-auth", BuildSASLAuth(creds.AccessToken, creds.PASToken), markerSASLSuccess},
		{"stream-reopen", BuildStreamOpen(creds.Affinity), markerStreamFeatures},
		{"resource-bind", BuildResourceBind(), markerBind},
		{"entitlement-bind", BuildEntitlementBind(creds.EntitlementToken), markerEntitlement},
		{"session-establish", BuildSessionEstablish(), markerSession},
		{"presence-announce", BuildPresenceAnnounce(), markerPresence},
	}

	for _, step := range steps {
		if err := t.Send(step.stanza); err != nil {
			return &HandshakeError{Step: step.name, Err: err}
		}
		if _, err := t.ReadUntil(step.marker, handshakeStepTimeout); err != nil {
			return &HandshakeError{Step: step.name, Err: err}
		}
	}

	return nil
}
