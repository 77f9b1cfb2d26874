// Package ledger implements the canonical block-application reducer, the
// chain set with fork choice, and the orphan pool that feeds it.
package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/executive"
	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/storage"
	"github.com/Alalun/catena/internal/txn"
)

// reservedTables names the metadata tables a user statement must never be
// able to address directly; a transaction whose required privileges touch
// one of these is dropped by the filter rather than rejected per-statement,
// since metadata tables live outside any per-database table namespace.
var reservedTables = map[string]bool{
	"grants": true, "users": true, "databases": true, "blocks": true, "info": true,
}

// Applier runs the payload-application reducer against one backend.
type Applier struct {
	db  *storage.DB
	exe *executive.Engine
}

// NewApplier returns an Applier over db, with its own executive engine.
func NewApplier(db *storage.DB) *Applier {
	return &Applier{db: db, exe: executive.New(db)}
}

// TransactionOutcome records what happened to one transaction inside a
// block, for logging/observability.
type TransactionOutcome struct {
	Signature []byte
	Dropped   bool // filtered out before execution (reserved table or bad counter)
	Err       error
}

// Apply runs the payload-application reducer over block against db/metadata.
// If replay is false, surviving transactions are still ordered, filtered,
// and counted, but not actually executed — used when fast-forwarding state
// that is already known to be valid (e.g. re-deriving counters without
// redoing the relational work). Index 0 (genesis) contributes no
// transactions and advances no counter.
func (a *Applier) Apply(ctx context.Context, block *chainblock.Block, difficulty int, replay bool) ([]TransactionOutcome, error) {
	headIndex, headHash, hasHead, err := a.head(ctx)
	if err != nil {
		return nil, err
	}
	if !hasHead {
		if block.Header.Index != 0 {
			return nil, ErrMetadataError
		}
	} else {
		if block.Header.Index != headIndex+1 || hex.EncodeToString(block.Header.Previous[:]) != headHash {
			return nil, ErrInconsecutive
		}
	}

	if !block.Verify(difficulty) {
		return nil, ErrSignatureError
	}
	for _, t := range block.Transactions {
		if !t.Verify() {
			return nil, ErrPayloadSignatureError
		}
	}

	sig := hex.EncodeToString(block.Signature[:])
	savepoint := "block_" + sig
	if err := a.db.Savepoint(ctx, savepoint); err != nil {
		return nil, err
	}
	outcomes, err := a.applyTransactions(ctx, block, replay)
	if err != nil {
		_ = a.db.RollbackTo(ctx, savepoint)
		_ = a.db.Release(ctx, savepoint)
		return nil, err
	}

	if block.Header.Index == 0 {
		if err := a.db.InfoSet(ctx, "genesisSeed", block.GenesisSeed); err != nil {
			_ = a.db.RollbackTo(ctx, savepoint)
			_ = a.db.Release(ctx, savepoint)
			return nil, err
		}
	}
	payload, err := blockPayloadBytes(block)
	if err != nil {
		_ = a.db.RollbackTo(ctx, savepoint)
		_ = a.db.Release(ctx, savepoint)
		return nil, err
	}
	if err := a.db.InsertBlockRecord(ctx, storage.BlockRecord{
		Signature: append([]byte(nil), block.Signature[:]...),
		Index:     block.Header.Index,
		Previous:  append([]byte(nil), block.Header.Previous[:]...),
		Payload:   payload,
		Version:   block.Header.Version,
		Miner:     append([]byte(nil), block.Header.Miner[:]...),
		Timestamp: block.Header.Timestamp,
		Nonce:     block.Header.Nonce,
	}); err != nil {
		_ = a.db.RollbackTo(ctx, savepoint)
		_ = a.db.Release(ctx, savepoint)
		return nil, err
	}
	if err := a.db.InfoSet(ctx, "head", sig); err != nil {
		_ = a.db.RollbackTo(ctx, savepoint)
		_ = a.db.Release(ctx, savepoint)
		return nil, err
	}
	if err := a.db.InfoSet(ctx, "index", fmt.Sprintf("%d", block.Header.Index)); err != nil {
		_ = a.db.RollbackTo(ctx, savepoint)
		_ = a.db.Release(ctx, savepoint)
		return nil, err
	}
	if err := a.db.Release(ctx, savepoint); err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"index":        block.Header.Index,
		"signature":    sig,
		"transactions": len(block.Transactions),
	}).Info("ledger: block applied")
	return outcomes, nil
}

func (a *Applier) head(ctx context.Context) (index uint64, hash string, ok bool, err error) {
	hashVal, hasHash, err := a.db.InfoGet(ctx, "head")
	if err != nil {
		return 0, "", false, err
	}
	if !hasHash {
		return 0, "", false, nil
	}
	indexVal, hasIndex, err := a.db.InfoGet(ctx, "index")
	if err != nil {
		return 0, "", false, err
	}
	if !hasIndex {
		return 0, "", false, ErrMetadataError
	}
	var idx uint64
	if _, err := fmt.Sscanf(indexVal, "%d", &idx); err != nil {
		return 0, "", false, fmt.Errorf("%w: %v", ErrMetadataError, err)
	}
	return idx, hashVal, true, nil
}

// applyTransactions sorts, filters, and (if replay) executes every
// transaction in block, advancing invoker counters for every survivor
// regardless of whether its own execution succeeded.
func (a *Applier) applyTransactions(ctx context.Context, block *chainblock.Block, replay bool) ([]TransactionOutcome, error) {
	txs := make([]int, len(block.Transactions))
	for i := range txs {
		txs[i] = i
	}
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := block.Transactions[txs[i]], block.Transactions[txs[j]]
		if a.Counter != b.Counter {
			return a.Counter < b.Counter
		}
		return string(a.Signature) < string(b.Signature)
	})

	expected := make(map[catenacrypto.Hash]uint64)
	var outcomes []TransactionOutcome
	for _, i := range txs {
		t := block.Transactions[i]
		invoker := t.InvokerHash()

		if touchesReservedTable(t.Statement) {
			logrus.Warnf("ledger: dropping transaction %x: touches a reserved metadata table", t.Signature)
			outcomes = append(outcomes, TransactionOutcome{Signature: t.Signature, Dropped: true})
			continue
		}

		next, ok := expected[invoker]
		if !ok {
			stored, err := a.db.UserCounter(ctx, invoker[:])
			if err != nil {
				return nil, err
			}
			if stored < 0 {
				next = 0
			} else {
				next = uint64(stored) + 1
			}
		}
		if t.Counter != next {
			logrus.Warnf("ledger: dropping transaction %x: counter %d does not match expected %d", t.Signature, t.Counter, next)
			outcomes = append(outcomes, TransactionOutcome{Signature: t.Signature, Dropped: true})
			continue
		}
		expected[invoker] = next + 1

		sp := "tr_" + hex.EncodeToString(t.Signature)
		if err := a.db.Savepoint(ctx, sp); err != nil {
			return nil, err
		}
		var execErr error
		if replay {
			execCtx := executive.Context{
				Database: t.Database,
				Invoker:  invoker,
				Block: executive.BlockContext{
					Height:            block.Header.Index,
					Signature:         block.Signature[:],
					PreviousSignature: block.Header.Previous[:],
					Miner:             block.Header.Miner,
					Timestamp:         int64(block.Header.Timestamp),
				},
			}
			_, execErr = a.exe.Execute(ctx, execCtx, t.Statement, false)
		}
		if execErr != nil {
			if err := a.db.RollbackTo(ctx, sp); err != nil {
				return nil, err
			}
		}
		if err := a.db.Release(ctx, sp); err != nil {
			return nil, err
		}

		if err := a.db.SetUserCounter(ctx, invoker[:], t.Counter); err != nil {
			return nil, err
		}
		outcomes = append(outcomes, TransactionOutcome{Signature: t.Signature, Err: execErr})
	}
	return outcomes, nil
}

func touchesReservedTable(s sqlast.Statement) bool {
	for _, p := range sqlast.RequiredPrivileges(s) {
		if reservedTables[p.Table] {
			return true
		}
	}
	return false
}

func blockPayloadBytes(b *chainblock.Block) ([]byte, error) {
	if b.Header.Index == 0 {
		return []byte(b.GenesisSeed), nil
	}
	var out []byte
	for _, t := range b.Transactions {
		data, err := t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		out = append(out, data...)
		out = append(out, '\n')
	}
	return out, nil
}

// RecordToBlock reconstructs a fully-formed block from its archived form —
// the inverse of Apply's InsertBlockRecord call — so a fresh process can
// feed its persisted history back through Ledger.Receive on startup.
func RecordToBlock(rec storage.BlockRecord) (*chainblock.Block, error) {
	var previous, miner catenacrypto.Hash
	copy(previous[:], rec.Previous)
	copy(miner[:], rec.Miner)

	b := &chainblock.Block{
		Header: chainblock.Header{
			Version:   rec.Version,
			Index:     rec.Index,
			Previous:  previous,
			Miner:     miner,
			Timestamp: rec.Timestamp,
			Nonce:     rec.Nonce,
		},
	}
	copy(b.Signature[:], rec.Signature)

	if rec.Index == 0 {
		b.GenesisSeed = string(rec.Payload)
		return b, nil
	}

	for _, line := range bytes.Split(rec.Payload, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var t txn.Transaction
		if err := json.Unmarshal(line, &t); err != nil {
			return nil, fmt.Errorf("ledger: decode archived transaction: %w", err)
		}
		b.Transactions = append(b.Transactions, &t)
	}
	return b, nil
}
