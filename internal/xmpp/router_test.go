package xmpp

import (
	"context"
	"testing"
)

func TestStanzaReader_CompleteStanzas(t *testing.T) {
	var r StanzaReader

	stanzas := r.Feed([]byte(`<presence from="a@b"/><message from="c@d"><body>hi</body></message>`))
	if len(stanzas) != 2 {
		t.Fatalf("Feed() returned %d stanzas, want 2", len(stanzas))
	}
	if stanzas[0].XMLName.Local != "presence" || stanzas[1].XMLName.Local != "message" {
		t.Errorf("unexpected stanza tags: %s, %s", stanzas[0].XMLName.Local, stanzas[1].XMLName.Local)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after complete parse, want 0", r.Buffered())
	}
}

func TestStanzaReader_RetainsTruncatedTail(t *testing.T) {
	var r StanzaReader

	// One complete stanza plus the torn front of the next.
	stanzas := r.Feed([]byte(`<presence from="a@b"/><message from="c@d"><bo`))
	if len(stanzas) != 1 {
		t.Fatalf("Feed() returned %d stanzas, want 1", len(stanzas))
	}
	if r.Buffered() == 0 {
		t.Fatal("truncated tail was discarded instead of buffered")
	}

	// The rest arrives; the reassembled stanza decodes cleanly.
	stanzas = r.Feed([]byte(`dy>hi</body></message>`))
	if len(stanzas) != 1 {
		t.Fatalf("second Feed() returned %d stanzas, want 1", len(stanzas))
	}
	if stanzas[0].XMLName.Local != "message" {
		t.Errorf("stanza tag = %s, want message", stanzas[0].XMLName.Local)
	}
	body := stanzas[0].Child("body")
	if body == nil || body.Text != "hi" {
		t.Errorf("reassembled message body = %+v, want hi", body)
	}
	if r.Buffered() != 0 {
		t.Errorf("Buffered() = %d after reassembly, want 0", r.Buffered())
	}
}

func TestStanzaReader_ByteAtATime(t *testing.T) {
	var r StanzaReader

	raw := []byte(`<iq type="result"><query xmlns="jabber:iq:riotgames:roster"><item subscription="pending_in"/></query></iq>`)
	var got []Node
	for _, b := range raw {
		got = append(got, r.Feed([]byte{b})...)
	}

	if len(got) != 1 {
		t.Fatalf("got %d stanzas, want 1", len(got))
	}
	query := got[0].Child("query")
	if query == nil || query.Child("item") == nil {
		t.Fatal("stanza tree lost nested children")
	}
	if query.Child("item").Attr("subscription") != "pending_in" {
		t.Errorf("subscription attr = %q, want pending_in", query.Child("item").Attr("subscription"))
	}
}

func TestRouter_Dispatch(t *testing.T) {
	var presences, messages, iqs int
	router := NewRouter(Handlers{
		Presence: func(ctx context.Context, stanza Node) { presences++ },
		Message:  func(ctx context.Context, stanza Node) { messages++ },
		RosterIQ: func(ctx context.Context, stanza Node) { iqs++ },
	})

	router.Feed(context.Background(), []byte(
		`<presence from="a@b"/><message from="c@d"/><iq type="result"/><unknown-tag/>`,
	))

	if presences != 1 || messages != 1 || iqs != 1 {
		t.Errorf("dispatch counts = %d/%d/%d, want 1/1/1", presences, messages, iqs)
	}
}

func TestRouter_HandlerPanicDoesNotStopDispatch(t *testing.T) {
	var messages int
	router := NewRouter(Handlers{
		Presence: func(ctx context.Context, stanza Node) { panic("bad handler") },
		Message:  func(ctx context.Context, stanza Node) { messages++ },
	})

	router.Feed(context.Background(), []byte(`<presence from="a@b"/><message from="c@d"/>`))

	if messages != 1 {
		t.Errorf("message handler did not run after presence handler panic")
	}
}
