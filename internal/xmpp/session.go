package xmpp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/valobridge-project/valobridge/internal/events"
	"github.com/valobridge-project/valobridge/internal/riot"
	"github.com/valobridge-project/valobridge/internal/util"
)

const (
	keepAliveInterval = 30 * time.Second
	reconnectDelay    = 10 * time.Second
	readIdleTimeout   = 60 * time.Second
)

// OTPIssuer is the slice of the link store the roster handler needs to hand
// out onboarding codes.
type OTPIssuer interface {
	GetOrCreateOTP(remoteID string) (int, error)
}

// PresenceSink consumes decoded game presence for one account. The match
// tracker satisfies it; a non-empty reply is sent back to the player over
// chat. DropAll is called when the stream closes, since tracked state does
// not survive a reconnect.
type PresenceSink interface {
	HandlePresence(ctx context.Context, fromJID string, gp *GamePresence) (reply string, err error)
	DropAll()
}

// Session is one presence relay for one game account: it authenticates the
// account, logs in to the chat server, and runs the single read/dispatch
// loop feeding presence into the match tracker. Sessions for different
// accounts are fully independent; only the link store is shared.
type Session struct {
	mu sync.Mutex

	account string
	client  *riot.Client
	tracker PresenceSink
	otp     OTPIssuer
	bus     *events.Bus
	router  *Router
	logger  zerolog.Logger

	inviteNote string
	mfaCh      chan string

	pingInterval time.Duration

	// Optional endpoint override, for proxies and test servers.
	chatHost string
	chatPort int

	transport *Transport
	connected bool
}

// NewSession wires a session for one account. inviteNote is appended to the
// onboarding chat message sent with each OTP code.
func NewSession(account string, client *riot.Client, tr PresenceSink, otp OTPIssuer, bus *events.Bus, inviteNote string) *Session {
	s := &Session{
		account:      account,
		client:       client,
		tracker:      tr,
		otp:          otp,
		bus:          bus,
		inviteNote:   inviteNote,
		mfaCh:        make(chan string),
		pingInterval: keepAliveInterval,
		logger:       util.ComponentLogger("xmpp_session").With().Str("account", account).Logger(),
	}
	s.router = NewRouter(Handlers{
		Presence: s.handlePresence,
		Message:  s.handleMessage,
		RosterIQ: s.handleRosterIQ,
	})
	return s
}

// SetChatEndpoint overrides the chat server endpoint. An empty host keeps
// affinity-based host selection; a zero port keeps the default chat port.
func (s *Session) SetChatEndpoint(host string, port int) {
	s.chatHost = host
	s.chatPort = port
}

// Run maintains the session until the context is cancelled: authenticate,
// connect, handshake, then the read loop; on any failure tear down, discard
// tokens and match state, and reconnect after a delay.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info().Msg("starting chat session manager")

	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return nil
		default:
		}

		if err := s.connect(ctx); err != nil {
			s.logger.Error().Err(err).Msg("chat session setup failed")
			s.emitSessionLost(ctx, err)
			if errors.Is(err, riot.ErrInvalidCredentials) {
				// Reconnecting cannot fix a credential problem.
				return err
			}
			if riot.IsMultiFactor(err) {
				s.awaitMFACode(ctx, err)
				continue
			}
			s.sleep(ctx, reconnectDelay)
			continue
		}

		s.readLoop(ctx)

		// Whatever ended the loop, the session is gone: drop ephemeral
		// state and the token chain before dialing again.
		s.disconnect()
		s.tracker.DropAll()
		s.client.Reset()

		select {
		case <-ctx.Done():
			return nil
		default:
		}
		s.logger.Warn().Msg("disconnected from chat server, reconnecting...")
		s.emitSessionLost(ctx, io.EOF)
		s.sleep(ctx, reconnectDelay)
	}
}

// connect runs the full setup chain: token exchanges, region resolution,
// TLS connect and the ordered login handshake.
func (s *Session) connect(ctx context.Context) error {
	if err := s.client.Authenticate(ctx); err != nil {
		return fmt.Errorf("riot authentication: %w", err)
	}

	region, err := s.client.ResolveRegion(ctx)
	if err != nil {
		return err
	}
	access, err := s.client.AccessToken(ctx)
	if err != nil {
		return err
	}
	pas, err := s.client.PASToken(ctx)
	if err != nil {
		return err
	}
	entitlement, err := s.client.EntitlementToken(ctx)
	if err != nil {
		return err
	}

	host := region.ChatHost()
	if s.chatHost != "" {
		host = s.chatHost
	}
	port := ChatPort
	if s.chatPort != 0 {
		port = s.chatPort
	}
	s.logger.Info().Str("host", host).Int("port", port).Msg("connecting to chat server")

	transport, err := Connect(ctx, host, port)
	if err != nil {
		return err
	}

	if err := Handshake(transport, HandshakeCredentials{
		Affinity:         region.ChatAffinity(),
		AccessToken:      access,
		PASToken:         pas,
		EntitlementToken: entitlement,
	}); err != nil {
		transport.Close()
		return err
	}

	s.mu.Lock()
	s.transport = transport
	s.connected = true
	s.mu.Unlock()

	// Ask for the roster so pending friend requests surface immediately.
	if err := transport.Send(BuildRosterQuery()); err != nil {
		s.disconnect()
		return fmt.Errorf("roster query: %w", err)
	}

	s.logger.Info().Str("region", region.Region).Msg("chat session established")
	s.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionConnected,
		Source:  "session:" + s.account,
		Payload: events.SessionPayload{Account: s.account, Region: region.Region},
	})

	go s.keepAlive(ctx, transport)
	return nil
}

// awaitMFACode parks the session on a multi-factor challenge until an
// operator submits a code via SubmitMFACode. A rejected code keeps
// waiting; an accepted one lets the reconnect loop resume with the
// tokens the resubmission produced.
func (s *Session) awaitMFACode(ctx context.Context, challenge error) {
	var mfa *riot.MultiFactorError
	email := ""
	if errors.As(challenge, &mfa) {
		email = mfa.Email
	}
	s.logger.Warn().Str("email", email).
		Msg("multi-factor code required, submit it with the 'mfa' CLI command")

	for {
		select {
		case <-ctx.Done():
			return
		case code := <-s.mfaCh:
			if err := s.client.SubmitMFACode(ctx, code); err != nil {
				s.logger.Error().Err(err).Msg("multi-factor code rejected")
				continue
			}
			s.logger.Info().Msg("multi-factor code accepted")
			return
		}
	}
}

// SubmitMFACode hands a one-time code to a session parked on a
// multi-factor challenge. Fails when no challenge is pending.
func (s *Session) SubmitMFACode(code string) error {
	select {
	case s.mfaCh <- code:
		return nil
	default:
		return fmt.Errorf("session %s is not waiting for a multi-factor code", s.account)
	}
}

// readLoop is the single cooperative dispatch loop: block on the socket,
// feed the router, repeat. All parsing and state transitions run to
// completion between reads.
func (s *Session) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		s.mu.Lock()
		transport := s.transport
		connected := s.connected
		s.mu.Unlock()
		if !connected || transport == nil {
			return
		}

		chunk, err := transport.Read(time.Now().Add(readIdleTimeout))
		if len(chunk) > 0 {
			// A closing server can deliver the final stanza and the
			// error in the same read; parse before tearing down.
			s.router.Feed(ctx, chunk)
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				// Idle stream; the keepalive ticker covers liveness.
				continue
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("chat server closed connection")
			} else {
				s.logger.Error().Err(err).Msg("error reading from chat server")
			}
			return
		}
	}
}

// keepAlive sends whitespace pings so NATs and the server keep the idle
// stream open. A failed ping closes the connection to unblock the read
// loop. The goroutine is bound to the transport it was spawned for and
// exits once a reconnect installs a new one.
func (s *Session) keepAlive(ctx context.Context, transport *Transport) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			current := s.transport
			s.mu.Unlock()
			if current != transport {
				return
			}
			if err := transport.Send(BuildKeepAlive()); err != nil {
				s.logger.Warn().Err(err).Msg("keepalive failed")
				s.disconnect()
				return
			}
		}
	}
}

// SendChat sends a direct chat message to a player.
func (s *Session) SendChat(toJID, body string) error {
	s.mu.Lock()
	transport := s.transport
	connected := s.connected
	s.mu.Unlock()
	if !connected || transport == nil {
		return fmt.Errorf("not connected to chat server")
	}
	return transport.Send(BuildChatMessage(xid.New().String(), toJID, body))
}

func (s *Session) handlePresence(ctx context.Context, stanza Node) {
	from := stanza.Attr("from")
	gp, err := DecodeGamePresence(&stanza)
	if err != nil {
		s.logger.Warn().Err(err).Str("from", from).Msg("undecodable presence payload")
		return
	}
	if gp == nil {
		return
	}

	reply, err := s.tracker.HandlePresence(ctx, from, gp)
	if err != nil {
		s.logger.Error().Err(err).Str("from", from).Msg("presence transition failed")
		return
	}
	if reply != "" {
		if err := s.SendChat(BareJID(from), reply); err != nil {
			s.logger.Warn().Err(err).Str("to", from).Msg("failed to send onboarding reply")
		}
	}
}

func (s *Session) handleMessage(ctx context.Context, stanza Node) {
	from := stanza.Attr("from")
	if from == "" {
		return
	}
	if err := s.SendChat(BareJID(from), "Hey! Manage your live match reports with /link and /link_channel."); err != nil {
		s.logger.Warn().Err(err).Str("to", from).Msg("failed to send chat greeting")
	}
}

// handleRosterIQ accepts inbound friend requests and sends each requester a
// one-time onboarding code. Fire-and-forget per item; one bad item must not
// stop the rest.
func (s *Session) handleRosterIQ(ctx context.Context, stanza Node) {
	query := stanza.Child("query")
	if query == nil || query.XMLName.Space != NSRoster {
		return
	}

	for _, item := range query.Children("item") {
		if item.Attr("subscription") != "pending_in" {
			continue
		}

		id := item.Child("id")
		if id == nil {
			continue
		}
		name, tagline := id.Attr("name"), id.Attr("tagline")
		jid := item.Attr("jid")
		remoteID := PlayerIDFromJID(jid)
		if remoteID == "" {
			continue
		}

		if err := s.acceptFriend(ctx, remoteID, name, tagline, jid); err != nil {
			s.logger.Warn().Err(err).Str("remote", remoteID).Msg("failed to process friend request")
		}
	}
}

func (s *Session) acceptFriend(ctx context.Context, remoteID, name, tagline, jid string) error {
	s.mu.Lock()
	transport := s.transport
	s.mu.Unlock()
	if transport == nil {
		return fmt.Errorf("not connected to chat server")
	}

	if err := transport.Send(BuildRosterAccept(name, tagline)); err != nil {
		return fmt.Errorf("roster accept: %w", err)
	}

	code, err := s.otp.GetOrCreateOTP(remoteID)
	if err != nil {
		return fmt.Errorf("otp issuance: %w", err)
	}

	msg := fmt.Sprintf("Hey there, your OTP code is %06d. Use the /link command to connect your account.", code)
	if s.inviteNote != "" {
		msg += " " + s.inviteNote
	}
	if err := s.SendChat(jid, msg); err != nil {
		return fmt.Errorf("onboarding message: %w", err)
	}

	s.logger.Info().Str("remote", remoteID).Str("name", name).Msg("friend request accepted")
	s.bus.Emit(ctx, events.Event{
		Type:    events.EventFriendRequest,
		Source:  "session:" + s.account,
		Payload: events.FriendRequestPayload{Account: s.account, RemoteID: remoteID, Name: name, Tagline: tagline},
	})
	return nil
}

func (s *Session) emitSessionLost(ctx context.Context, err error) {
	payload := events.SessionPayload{Account: s.account}
	if err != nil {
		payload.Error = err.Error()
	}
	s.bus.Emit(ctx, events.Event{
		Type:    events.EventSessionLost,
		Source:  "session:" + s.account,
		Payload: payload,
	})
}

func (s *Session) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.transport != nil {
		s.transport.Close()
		s.transport = nil
	}
	s.connected = false
}

// Connected reports whether the session currently holds a live stream.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Account returns the account name the session serves.
func (s *Session) Account() string {
	return s.account
}

func (s *Session) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
