// Package catenacrypto provides the Ed25519 identity and hashing primitives
// shared by transactions, blocks and the gossip handshake.
package catenacrypto

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PublicKeySize and PrivateKeySize mirror the Ed25519 key sizes so callers
// never need to import crypto/ed25519 directly.
const (
	PublicKeySize  = ed25519.PublicKeySize
	PrivateKeySize = ed25519.PrivateKeySize
	SignatureSize  = ed25519.SignatureSize
)

// Hash is 32 raw bytes, displayed as hex. The all-zero hash denotes "no
// previous block".
type Hash [sha256.Size]byte

// ZeroHash is the sentinel "no previous block" hash.
var ZeroHash Hash

// IsZero reports whether h is the all-zero sentinel.
func (h Hash) IsZero() bool { return h == ZeroHash }

func (h Hash) String() string { return hex.EncodeToString(h[:]) }

// Base58 returns a base58-encoded rendering, used for human-facing identity
// display (--show-identity).
func (h Hash) Base58() string { return base58.Encode(h[:]) }

// HashFromHex parses a hex-encoded hash.
func HashFromHex(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("catenacrypto: invalid hash hex: %w", err)
	}
	if len(b) != len(h) {
		return h, fmt.Errorf("catenacrypto: hash must be %d bytes, got %d", len(h), len(b))
	}
	copy(h[:], b)
	return h, nil
}

// SHA256 hashes arbitrary bytes.
func SHA256(b []byte) Hash {
	return sha256.Sum256(b)
}

// PublicKey is a raw 32-byte Ed25519 public key.
type PublicKey []byte

func (p PublicKey) String() string { return hex.EncodeToString(p) }

// Identity returns SHA256(pubkey) — used as the miner identity and the
// invoker hash referenced throughout the grants table.
func (p PublicKey) Identity() Hash {
	return SHA256(p)
}

// KeyPair holds an Ed25519 private/public key pair.
type KeyPair struct {
	Private ed25519.PrivateKey
	Public  PublicKey
}

// GenerateKeyPair creates a fresh Ed25519 identity.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	if err != nil {
		return nil, fmt.Errorf("catenacrypto: generate key: %w", err)
	}
	return &KeyPair{Private: priv, Public: PublicKey(pub)}, nil
}

// KeyPairFromHex parses a hex-encoded private key (the "password" of
// a query endpoint).
func KeyPairFromHex(privHex string) (*KeyPair, error) {
	b, err := hex.DecodeString(privHex)
	if err != nil {
		return nil, fmt.Errorf("catenacrypto: invalid private key hex: %w", err)
	}
	if len(b) != PrivateKeySize {
		return nil, fmt.Errorf("catenacrypto: private key must be %d bytes, got %d", PrivateKeySize, len(b))
	}
	priv := ed25519.PrivateKey(b)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("catenacrypto: unable to derive public key")
	}
	return &KeyPair{Private: priv, Public: PublicKey(pub)}, nil
}

// Sign produces an Ed25519 signature over msg.
func (k *KeyPair) Sign(msg []byte) []byte {
	return ed25519.Sign(k.Private, msg)
}

// Verify checks sig over msg against pub.
func Verify(pub PublicKey, msg, sig []byte) bool {
	if len(pub) != PublicKeySize || len(sig) != SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), msg, sig)
}
