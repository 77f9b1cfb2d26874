// Package txn implements the signed SQL transaction: a statement bound to
// an invoker key, a target database, and a monotonic per-invoker counter.
package txn

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqldialect"
	"github.com/Alalun/catena/internal/sqlparse"
)

// Transaction is a signed SQL statement bound to an invoker, a target
// database, and a replay-protection counter.
type Transaction struct {
	Invoker   catenacrypto.PublicKey
	Database  string
	Counter   uint64
	Statement sqlast.Statement
	Signature []byte
}

// New builds and signs a transaction with kp.
func New(kp *catenacrypto.KeyPair, database string, counter uint64, stmt sqlast.Statement) *Transaction {
	t := &Transaction{
		Invoker:   kp.Public,
		Database:  database,
		Counter:   counter,
		Statement: stmt,
	}
	t.Signature = kp.Sign(t.SigningBytes())
	return t
}

// InvokerHash is the SHA-256 identity of the invoker's public key, the value
// stored in the grants/users metadata tables.
func (t *Transaction) InvokerHash() catenacrypto.Hash {
	return t.Invoker.Identity()
}

// SigningBytes is the canonical stable-JSON serialization of the four
// signed fields. Go's encoding/json sorts map keys, which is what makes this
// serialization deterministic without a custom encoder.
func (t *Transaction) SigningBytes() []byte {
	m := map[string]any{
		"invoker":   hex.EncodeToString(t.Invoker),
		"database":  t.Database,
		"counter":   t.Counter,
		"statement": sqldialect.Render(t.Statement, sqldialect.Standard),
	}
	b, err := json.Marshal(m)
	if err != nil {
		panic("txn: canonical signing map must always marshal: " + err.Error())
	}
	return b
}

// Verify reports whether Signature is a valid Ed25519 signature over
// SigningBytes() by Invoker.
func (t *Transaction) Verify() bool {
	if len(t.Invoker) != ed25519.PublicKeySize {
		return false
	}
	return catenacrypto.Verify(t.Invoker, t.SigningBytes(), t.Signature)
}

type wireTransaction struct {
	Invoker   string `json:"invoker"`
	Database  string `json:"database"`
	Counter   uint64 `json:"counter"`
	Statement string `json:"statement"`
	Signature string `json:"signature"`
}

// MarshalJSON renders Statement to its canonical standard-dialect text so
// transactions can travel over gossip and be archived in the blocks table.
func (t Transaction) MarshalJSON() ([]byte, error) {
	w := wireTransaction{
		Invoker:   hex.EncodeToString(t.Invoker),
		Database:  t.Database,
		Counter:   t.Counter,
		Statement: sqldialect.Render(t.Statement, sqldialect.Standard),
		Signature: hex.EncodeToString(t.Signature),
	}
	return json.Marshal(w)
}

// UnmarshalJSON re-parses the statement text, so a received transaction's
// Statement field is always a fresh AST, never aliased to anything.
func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("txn: decode: %w", err)
	}
	invoker, err := hex.DecodeString(w.Invoker)
	if err != nil {
		return fmt.Errorf("txn: invalid invoker hex: %w", err)
	}
	sig, err := hex.DecodeString(w.Signature)
	if err != nil {
		return fmt.Errorf("txn: invalid signature hex: %w", err)
	}
	stmt, err := sqlparse.Parse(w.Statement)
	if err != nil {
		return fmt.Errorf("txn: invalid statement: %w", err)
	}
	t.Invoker = invoker
	t.Database = w.Database
	t.Counter = w.Counter
	t.Statement = stmt
	t.Signature = sig
	return nil
}
