package xmpp

import (
	"bytes"
	"errors"
	"net"
	"strings"
	"testing"
	"time"
)

// scriptedServer answers each expected client stanza with a canned reply.
type scriptedStep struct {
	expect string // substring the client stanza must contain
	reply  string
}

func runScriptedServer(t *testing.T, conn net.Conn, script []scriptedStep) <-chan error {
	t.Helper()
	done := make(chan error, 1)

	go func() {
		defer close(done)
		buf := make([]byte, 4096)
		for _, step := range script {
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			n, err := conn.Read(buf)
			if err != nil {
				done <- err
				return
			}
			got := string(buf[:n])
			if !strings.Contains(got, step.expect) {
				t.Errorf("server expected stanza containing %q, got %q", step.expect, got)
			}
			if step.reply != "" {
				if _, err := conn.Write([]byte(step.reply)); err != nil {
					done <- err
					return
				}
			}
		}
	}()
	return done
}

func loginScript() []scriptedStep {
	features := `<stream:stream><stream:features><mechanisms/></stream:features>`
	return []scriptedStep{
		{`<stream:stream to="ru1.pvp.net"`, features},
		{`mechanism="X-Riot-RSO-PAS"`, `<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/></success>`},
		{`<stream:stream to="ru1.pvp.net"`, features},
		{`<puuid-mode enabled="true"/>`, `<iq id="_xmpp_bind1" type="result"><bind><jid>p@ru1.pvp.net/RC</jid></bind></iq>`},
		{`<entitlements`, `<iq id="xmpp_entitlements_0" type="result"></iq>`},
		{`<session xmlns=`, `<iq id="_xmpp_session1" type="result"><session></session></iq>`},
		{`<presence/>`, `<presence from="self@ru1.pvp.net"></presence>`},
	}
}

func testCreds() HandshakeCredentials {
	return HandshakeCredentials{
		Affinity:         "ru1",
		AccessToken:      "ACCESS",
		PASToken:         "PAS",
		EntitlementToken: "ENT",
	}
}

func TestHandshake(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	done := runScriptedServer(t, server, loginScript())

	tr := NewTransport(client)
	if err := Handshake(tr, testCreds()); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("scripted server error: %v", err)
	}
}

func TestHandshake_CoalescedReplies(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	// The SASL success arrives in the same read as the front of the next
	// features block; the reopen step must consume the buffered remainder.
	script := loginScript()
	script[1].reply = `<success xmlns="urn:ietf:params:xml:ns:xmpp-sasl"/></success><stream:stream>`
	script[2] = scriptedStep{`<stream:stream to="ru1.pvp.net"`, `<stream:features><bind/></stream:features>`}

	done := runScriptedServer(t, server, script)

	tr := NewTransport(client)
	if err := Handshake(tr, testCreds()); err != nil {
		t.Fatalf("Handshake() error = %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("scripted server error: %v", err)
	}
}

func TestHandshake_FailureNamesStep(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()

	// Server closes the connection right after the stream open.
	go func() {
		buf := make([]byte, 4096)
		server.Read(buf)
		server.Close()
	}()

	tr := NewTransport(client)
	err := Handshake(tr, testCreds())
	if err == nil {
		t.Fatal("Handshake() should fail when the server hangs up")
	}

	var hsErr *HandshakeError
	if !errors.As(err, &hsErr) {
		t.Fatalf("error type = %T, want *HandshakeError", err)
	}
	if hsErr.Step != "stream-open" {
		t.Errorf("failed step = %q, want stream-open", hsErr.Step)
	}
}

func TestStanzaConstructors(t *testing.T) {
	if !bytes.Contains(BuildSASLAuth("RSO", "PAS"), []byte("<rso_token>RSO</rso_token><pas_token>PAS</pas_token>")) {
		t.Error("BuildSASLAuth missing token elements")
	}
	if !bytes.Contains(BuildEntitlementBind("a&b"), []byte("<token>a&amp;b</token>")) {
		t.Error("BuildEntitlementBind must escape token text")
	}
	if !bytes.Contains(BuildChatMessage("id1", "p@host", `<script>`), []byte("&lt;script&gt;")) {
		t.Error("BuildChatMessage must escape the body")
	}
	if !bytes.Contains(BuildRosterAccept("Name", "TAG"), []byte(`subscription="pending_out"`)) {
		t.Error("BuildRosterAccept must request pending_out subscription")
	}
	if string(BuildKeepAlive()) != " " {
		t.Error("BuildKeepAlive must be a single whitespace byte")
	}
}
