// Package gossip implements the peer-to-peer wire protocol: a bidirectional,
// numbered, framed WebSocket exchange of query/fetch/block/tx/index/error
// messages, the per-peer state machine that drives it, and the candidate
// queue that turns "a peer claims a taller chain" into fetch requests.
package gossip

import (
	"encoding/json"
	"fmt"
)

// Version is the only gossip protocol version this implementation speaks.
const Version = 1

// Type tags the second element of a frame.
type Type string

const (
	TypeQuery Type = "query"
	TypeFetch Type = "fetch"
	TypeBlock Type = "block"
	TypeTx    Type = "tx"
	TypeIndex Type = "index"
	TypeError Type = "error"
)

// Frame is the wire envelope `[seq, {"t": type, ...}]`.
type Frame struct {
	Seq  uint64
	Type Type
	Body json.RawMessage
}

// BlockPayload is the wire shape of a block gossip/fetch-reply message.
// Payload is either a quoted UTF-8 seed string (genesis only) or a JSON
// array of wire transactions, mirroring the block's own payload rule.
//
// Version, Miner and Timestamp travel alongside the core previous/hash/
// nonce/index/payload fields: a receiving node must recompute
// bytes-for-signing to verify the block, which needs all of them.
type BlockPayload struct {
	Version   uint32          `json:"version"`
	Previous  string          `json:"previous"`
	Hash      string          `json:"hash"`
	Miner     string          `json:"miner"`
	Timestamp uint64          `json:"timestamp"`
	Nonce     uint64          `json:"nonce"`
	Index     uint64          `json:"index"`
	Payload   json.RawMessage `json:"payload"`
}

// FetchPayload requests the block with the given hash.
type FetchPayload struct {
	Hash string `json:"hash"`
}

// TxPayload gossips a signed transaction.
type TxPayload struct {
	Tx        json.RawMessage `json:"tx"`
	Signature string          `json:"signature"`
}

// IndexPayload answers a query with the sender's view of the chain.
type IndexPayload struct {
	Highest string   `json:"highest"`
	Height  uint64   `json:"height"`
	Genesis string   `json:"genesis"`
	Peers   []string `json:"peers"`
}

// ErrorPayload carries a rejection reason.
type ErrorPayload struct {
	Message string `json:"message"`
}

type wireFrame struct {
	Type Type `json:"t"`
}

// Encode renders frame as `[seq, {"t": type, ...fields}]`.
func Encode(seq uint64, t Type, body any) ([]byte, error) {
	fields, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("gossip: encode %s body: %w", t, err)
	}
	merged, err := mergeTypeTag(t, fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal([2]json.RawMessage{seqJSON(seq), merged})
}

func seqJSON(seq uint64) json.RawMessage {
	b, _ := json.Marshal(seq)
	return b
}

// mergeTypeTag flattens body's fields alongside "t": type into one object.
func mergeTypeTag(t Type, body json.RawMessage) (json.RawMessage, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("gossip: body must be a JSON object: %w", err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage)
	}
	tagged, _ := json.Marshal(t)
	fields["t"] = tagged
	return json.Marshal(fields)
}

// Decode parses a raw `[seq, {"t": type, ...}]` frame.
func Decode(raw []byte) (Frame, error) {
	var parts [2]json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return Frame{}, fmt.Errorf("gossip: %w: malformed frame: %v", ErrFormatError, err)
	}
	var seq uint64
	if err := json.Unmarshal(parts[0], &seq); err != nil {
		return Frame{}, fmt.Errorf("gossip: %w: malformed seq: %v", ErrFormatError, err)
	}
	var tagged wireFrame
	if err := json.Unmarshal(parts[1], &tagged); err != nil {
		return Frame{}, fmt.Errorf("gossip: %w: malformed body: %v", ErrFormatError, err)
	}
	return Frame{Seq: seq, Type: tagged.Type, Body: parts[1]}, nil
}
