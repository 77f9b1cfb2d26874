package gossip

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/gorilla/websocket"
)

// State is a peer's position in the connection lifecycle.
type State string

const (
	StateNew        State = "new"
	StateConnecting State = "connecting"
	StateConnected  State = "connected"
	StateQuerying   State = "querying"
	StateQueried    State = "queried"
	StateFailed     State = "failed"
	StateIgnored    State = "ignored"
)

// Peer tracks one remote node's handshake identity and connection state.
// Passive peers are the ones that dialed us; we never dial them back.
type Peer struct {
	UUID    string
	Addr    string
	Port    int
	Version int
	Passive bool

	State  State
	Reason string // set when State is Failed or Ignored

	Conn *websocket.Conn

	nextSeq uint64 // even for an initiator, odd for an acceptor
}

// NewPeer returns a peer in state new, with the seq parity required of its
// role: even starting at 0 if we are the initiator (passive == false),
// odd starting at 1 if the peer dialed us (passive == true).
func NewPeer(addr string, passive bool) *Peer {
	p := &Peer{Addr: addr, Passive: passive, State: StateNew}
	if passive {
		p.nextSeq = 1
	}
	return p
}

// NextSeq returns the next sequence number this side should use when
// initiating a request, then advances it by two (preserving parity).
func (p *Peer) NextSeq() uint64 {
	seq := p.nextSeq
	p.nextSeq += 2
	return seq
}

// transition moves the peer to state s, recording reason for terminal
// states.
func (p *Peer) transition(s State, reason string) {
	p.State = s
	p.Reason = reason
}

// Fail transitions the peer to failed with reason.
func (p *Peer) Fail(reason string) { p.transition(StateFailed, reason) }

// Ignore transitions the peer to ignored with reason.
func (p *Peer) Ignore(reason string) { p.transition(StateIgnored, reason) }

// Handshake is what the initiator presents (and the acceptor validates) on
// the opening HTTP request: X-UUID, X-Port, X-Version.
type Handshake struct {
	UUID    string
	Port    int
	Version int
}

// ValidateHandshake applies the rejection rules from the handshake spec:
// reject if the remote UUID equals our own, the version doesn't match, or
// the port is outside (0, 65536).
func ValidateHandshake(ownUUID string, hs Handshake) error {
	if hs.UUID == "" || hs.UUID == ownUUID {
		return fmt.Errorf("%w: uuid collides with local node", ErrHandshakeRejected)
	}
	if hs.Version != Version {
		return fmt.Errorf("%w: version %d, want %d", ErrHandshakeRejected, hs.Version, Version)
	}
	if hs.Port <= 0 || hs.Port >= 65536 {
		return fmt.Errorf("%w: port %d out of range", ErrHandshakeRejected, hs.Port)
	}
	return nil
}

// ParsePort extracts and validates the X-Port header value.
func ParsePort(raw string) (int, error) {
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid X-Port %q", ErrFormatError, raw)
	}
	return port, nil
}

// ParsePeerURL validates a join URL (e.g. from -j/--join) well-formedness,
// per the FormatError taxonomy entry for malformed peer URLs.
func ParsePeerURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("%w: invalid peer URL %q", ErrFormatError, raw)
	}
	return u, nil
}
