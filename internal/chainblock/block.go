// Package chainblock defines the Block type — a signed header plus a payload
// of transactions — and its proof-of-work mining loop. The block's
// "signature" field IS its proof-of-work output: there is no separate
// miner signature, so `bytesForSigning` hashed to at least `difficulty`
// leading zero bits is the whole authentication story for a block.
package chainblock

import (
	"encoding/binary"
	"math/big"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/txn"
)

// Version is the only wire version this implementation produces or accepts.
const Version = 1

// InitialDifficulty is the number of leading zero bits a block's hash must
// have when the chain starts.
const InitialDifficulty = 10

// MaxTransactionsPerBlock bounds a block's payload.
const MaxTransactionsPerBlock = 100

// MaxPayloadBytes bounds a block's serialized payload size.
const MaxPayloadBytes = 1 << 20 // 1 MiB

// Header is the fixed-width portion of a block hashed for proof-of-work.
type Header struct {
	Version   uint32
	Index     uint64
	Previous  catenacrypto.Hash // zero hash for the genesis block
	Miner     catenacrypto.Hash // SHA-256 identity of the miner's public key
	Timestamp uint64            // seconds since epoch
	Nonce     uint64
}

// Block is one unit of the chain: a header, a payload, and the
// proof-of-work signature over bytesForSigning.
//
// For the genesis block GenesisSeed is set and Transactions is empty; for
// every other block Transactions holds the batch and GenesisSeed is empty.
type Block struct {
	Header       Header
	GenesisSeed  string
	Transactions []*txn.Transaction
	Signature    catenacrypto.Hash
}

// Genesis builds the unmined genesis block for seed.
func Genesis(seed string) *Block {
	return &Block{
		Header: Header{
			Version:  Version,
			Index:    0,
			Previous: catenacrypto.ZeroHash,
		},
		GenesisSeed: seed,
	}
}

// payloadForSigning is the genesis seed (UTF-8) for the genesis block,
// otherwise the concatenation of the constituent transactions' raw
// signatures, in block order.
func (b *Block) payloadForSigning() []byte {
	if b.Header.Index == 0 {
		return []byte(b.GenesisSeed)
	}
	var out []byte
	for _, t := range b.Transactions {
		out = append(out, t.Signature...)
	}
	return out
}

// bytesForSigning is `version ‖ index ‖ previous ‖ miner ‖ timestamp ‖ nonce
// ‖ payload-for-signing`, all integers big-endian fixed-width.
func (b *Block) bytesForSigning() []byte {
	payload := b.payloadForSigning()
	buf := make([]byte, 4+8+32+32+8+8+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], b.Header.Version)
	binary.BigEndian.PutUint64(buf[4:12], b.Header.Index)
	copy(buf[12:44], b.Header.Previous[:])
	copy(buf[44:76], b.Header.Miner[:])
	binary.BigEndian.PutUint64(buf[76:84], b.Header.Timestamp)
	binary.BigEndian.PutUint64(buf[84:92], b.Header.Nonce)
	copy(buf[92:], payload)
	return buf
}

// Hash is SHA-256 of bytesForSigning — the value proof-of-work targets, and,
// once mined, the block's Signature.
func (b *Block) Hash() catenacrypto.Hash {
	return catenacrypto.SHA256(b.bytesForSigning())
}

// LeadingZeroBits returns the number of leading zero bits of h.
func LeadingZeroBits(h catenacrypto.Hash) int {
	n := new(big.Int).SetBytes(h[:])
	total := len(h) * 8
	return total - n.BitLen()
}

// MeetsDifficulty reports whether h has at least difficulty leading zero
// bits.
func MeetsDifficulty(h catenacrypto.Hash, difficulty int) bool {
	return LeadingZeroBits(h) >= difficulty
}

// Mine increments Header.Nonce until Hash() meets difficulty, stopping early
// if abort is closed. Header.Miner and Header.Timestamp must already be set.
func (b *Block) Mine(difficulty int, abort <-chan struct{}) error {
	if err := b.checkLimits(); err != nil {
		return err
	}
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-abort:
			return ErrAborted
		default:
		}
		b.Header.Nonce = nonce
		hash := b.Hash()
		if MeetsDifficulty(hash, difficulty) {
			b.Signature = hash
			return nil
		}
	}
}

// Verify reports whether Signature is Hash() and Hash() meets difficulty.
// It does not check chain linkage (internal/ledger's job).
func (b *Block) Verify(difficulty int) bool {
	if err := b.checkLimits(); err != nil {
		return false
	}
	return b.Hash() == b.Signature && MeetsDifficulty(b.Signature, difficulty)
}

func (b *Block) checkLimits() error {
	if len(b.Transactions) > MaxTransactionsPerBlock {
		return ErrTooManyTransactions
	}
	if len(b.payloadForSigning()) > MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	return nil
}
