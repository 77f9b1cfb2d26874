package gossip

import "errors"

var (
	// ErrFormatError is returned for malformed JSON/payload/peer URLs.
	ErrFormatError = errors.New("gossip: malformed message")
	// ErrHandshakeRejected is returned when a peer's opening headers fail
	// the handshake rules (self-connect, version mismatch, bad port).
	ErrHandshakeRejected = errors.New("gossip: handshake rejected")
	// ErrConnectionClosed is returned when a peer's connection drops.
	ErrConnectionClosed = errors.New("gossip: connection closed")
	// ErrTimeout is returned when an outstanding request's deadline expires.
	ErrTimeout = errors.New("gossip: request timed out")
)
