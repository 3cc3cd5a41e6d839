package xmpp

import (
	"bytes"
	"context"
	"encoding/xml"
	"strings"

	"github.com/rs/zerolog"

	"github.com/valobridge-project/valobridge/internal/util"
)

// Node is a generic decoded stanza element. The wire protocol is a closed
// set of top-level tags but their payloads are open-ended, so children are
// kept as a tree rather than mapped to per-stanza structs.
type Node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []Node     `xml:",any"`
}

// Attr returns the value of the named attribute, or "".
func (n *Node) Attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

// Child returns the first direct child with the given local name, ignoring
// namespace, or nil.
func (n *Node) Child(local string) *Node {
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			return &n.Nodes[i]
		}
	}
	return nil
}

// Children returns all direct children with the given local name.
func (n *Node) Children(local string) []*Node {
	var out []*Node
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == local {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// StanzaReader reassembles complete top-level stanzas from raw reads whose
// boundaries do not line up with stanza boundaries. Bytes belonging to a
// still-incomplete trailing stanza are kept in the buffer for the next feed
// instead of being discarded with the parsed prefix.
type StanzaReader struct {
	buf []byte
}

// Feed appends newly read bytes and returns every complete stanza now
// available. Truncated trailing input is not an error; it stays buffered
// until the rest arrives.
func (r *StanzaReader) Feed(data []byte) []Node {
	r.buf = append(r.buf, data...)

	var stanzas []Node
	dec := xml.NewDecoder(bytes.NewReader(r.buf))
	var consumed int64

	for {
		var n Node
		if err := dec.Decode(&n); err != nil {
			// Either clean EOF or a truncated element; in both cases the
			// unconsumed tail waits for more input.
			break
		}
		consumed = dec.InputOffset()
		stanzas = append(stanzas, n)
	}

	if consumed > 0 {
		remainder := r.buf[consumed:]
		r.buf = append(r.buf[:0:0], remainder...)
	}
	return stanzas
}

// Buffered returns how many bytes are waiting for completion. Test hook.
func (r *StanzaReader) Buffered() int {
	return len(r.buf)
}

// Handlers receives dispatched stanzas. Nil entries drop their kind.
type Handlers struct {
	Presence func(ctx context.Context, stanza Node)
	Message  func(ctx context.Context, stanza Node)
	RosterIQ func(ctx context.Context, stanza Node)
}

// Router feeds raw reads through a StanzaReader and dispatches each decoded
// stanza by tag. The tag set is closed: presence, message and iq; anything
// else is logged and skipped. A handler failure must never take down the
// read loop, so each dispatch is isolated behind a recover.
type Router struct {
	reader   StanzaReader
	handlers Handlers
	logger   zerolog.Logger
}

// NewRouter creates a router with the given handler set.
func NewRouter(handlers Handlers) *Router {
	return &Router{
		handlers: handlers,
		logger:   util.ComponentLogger("xmpp_router"),
	}
}

// Feed processes one chunk of raw bytes from the transport.
func (r *Router) Feed(ctx context.Context, data []byte) {
	for _, stanza := range r.reader.Feed(data) {
		r.dispatch(ctx, stanza)
	}
}

func (r *Router) dispatch(ctx context.Context, stanza Node) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().
				Str("tag", stanza.XMLName.Local).
				Interface("panic", rec).
				Msg("stanza handler panicked")
		}
	}()

	switch strings.ToLower(stanza.XMLName.Local) {
	case "presence":
		if r.handlers.Presence != nil {
			r.handlers.Presence(ctx, stanza)
		}
	case "message":
		if r.handlers.Message != nil {
			r.handlers.Message(ctx, stanza)
		}
	case "iq":
		if r.handlers.RosterIQ != nil {
			r.handlers.RosterIQ(ctx, stanza)
		}
	default:
		r.logger.Debug().
			Str("tag", stanza.XMLName.Local).
			Msg("no handler for stanza tag, skipping")
	}
}
