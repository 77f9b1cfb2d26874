// Package catenaversion holds the node's version strings. The version() SQL
// macro resolves to ProtocolVersion; the gossip handshake sends the integer
// gossip.Version in its X-Version header instead.
package catenaversion

// Version is the node's software version.
const Version = "0.1.0"

// ProtocolVersion is the string the version() SQL macro resolves to.
const ProtocolVersion = "catena-gossip/1"
