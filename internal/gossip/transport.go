package gossip

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// originAllowed reports whether r's Origin header clears allowedOrigins.
// An absent Origin header (the ordinary case for a node dialing another
// node rather than a browser) always clears, matching gorilla/websocket's
// own default same-origin check. An empty allowedOrigins list — the
// default, when --allow-domain is never set — clears everything, same as
// the package-level upgrader above.
func originAllowed(r *http.Request, allowedOrigins []string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(allowedOrigins) == 0 {
		return true
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Dial opens the initiator side of a gossip connection to addr, presenting
// our handshake headers, and returns the negotiated peer plus the
// underlying socket.
func Dial(addr, ownUUID string, ownPort int) (*Peer, *websocket.Conn, error) {
	header := http.Header{}
	header.Set("X-UUID", ownUUID)
	header.Set("X-Port", strconv.Itoa(ownPort))
	header.Set("X-Version", strconv.Itoa(Version))

	conn, resp, err := websocket.DefaultDialer.Dial(addr, header)
	if err != nil {
		return nil, nil, fmt.Errorf("gossip: dial %s: %w", addr, err)
	}
	if resp != nil {
		defer resp.Body.Close()
	}
	p := NewPeer(addr, false)
	p.transition(StateConnected, "")
	p.Conn = conn
	return p, conn, nil
}

// Accept upgrades an inbound HTTP request to the acceptor side of a gossip
// connection, validating the initiator's handshake headers. allowedOrigins,
// when non-empty, restricts the upgrade to requests whose Origin header
// matches one of them (--allow-domain); pass none to allow any origin.
func Accept(w http.ResponseWriter, r *http.Request, ownUUID string, allowedOrigins ...string) (*Peer, *websocket.Conn, error) {
	hs := Handshake{UUID: r.Header.Get("X-UUID")}
	hs.Port, _ = strconv.Atoi(r.Header.Get("X-Port"))
	hs.Version, _ = strconv.Atoi(r.Header.Get("X-Version"))

	if err := ValidateHandshake(ownUUID, hs); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return nil, nil, err
	}

	u := upgrader
	u.CheckOrigin = func(r *http.Request) bool { return originAllowed(r, allowedOrigins) }

	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("gossip: upgrade: %w", err)
	}
	p := &Peer{UUID: hs.UUID, Port: hs.Port, Version: hs.Version, Passive: true, State: StateConnected, Conn: conn, nextSeq: 1}
	return p, conn, nil
}

// SendFrame writes one [seq, {"t":type,...}] frame to conn.
func SendFrame(conn *websocket.Conn, seq uint64, t Type, body any) error {
	data, err := Encode(seq, t, body)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ReadFrame reads and decodes one frame from conn, honoring deadline.
func ReadFrame(conn *websocket.Conn, deadline time.Duration) (Frame, error) {
	if deadline > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return Frame{}, err
		}
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return Decode(data)
}
