package ledger

import (
	"testing"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
)

func mine(t *testing.T, b *chainblock.Block) *chainblock.Block {
	t.Helper()
	if err := b.Mine(testDifficulty, nil); err != nil {
		t.Fatalf("Mine: %v", err)
	}
	return b
}

func child(previous *chainblock.Block, nonceSeed uint64) *chainblock.Block {
	return &chainblock.Block{
		Header: chainblock.Header{
			Version:   chainblock.Version,
			Index:     previous.Header.Index + 1,
			Previous:  previous.Signature,
			Timestamp: previous.Header.Timestamp + 1 + nonceSeed,
		},
	}
}

func TestReceiveExtendsChainAndUpdatesLongest(t *testing.T) {
	l := NewLedger(testDifficulty)
	g := mine(t, chainblock.Genesis("seed"))
	if err := l.Receive(g); err != nil {
		t.Fatalf("Receive genesis: %v", err)
	}
	b1 := mine(t, child(g, 0))
	if err := l.Receive(b1); err != nil {
		t.Fatalf("Receive b1: %v", err)
	}
	if l.Longest().Head().Signature != b1.Signature {
		t.Fatalf("expected longest head to be b1")
	}
}

func TestReceiveQueuesOrphanUntilPredecessorArrives(t *testing.T) {
	l := NewLedger(testDifficulty)
	g := mine(t, chainblock.Genesis("seed"))
	b1 := mine(t, child(g, 0))
	b2 := mine(t, child(b1, 0))

	if err := l.Receive(g); err != nil {
		t.Fatalf("Receive genesis: %v", err)
	}
	if err := l.Receive(b2); err != nil {
		t.Fatalf("Receive b2 (orphan): %v", err)
	}
	if l.Longest().Head().Signature != g.Signature {
		t.Fatalf("expected orphan b2 to not yet extend the chain")
	}
	if _, ok := l.Get(b2.Signature); ok {
		t.Fatalf("expected b2 to not be known yet")
	}

	if err := l.Receive(b1); err != nil {
		t.Fatalf("Receive b1: %v", err)
	}
	if l.Longest().Head().Signature != b2.Signature {
		t.Fatalf("expected orphan b2 to be drained and adopted once b1 arrived")
	}
}

func TestReceiveBranchesMidChainAndSwitchesOnLongerFork(t *testing.T) {
	l := NewLedger(testDifficulty)
	var appended []catenacrypto.Hash
	var unwoundFrom, unwoundTo catenacrypto.Hash
	l.OnAppend = func(b *chainblock.Block) { appended = append(appended, b.Signature) }
	l.OnUnwind = func(from, to catenacrypto.Hash) { unwoundFrom, unwoundTo = from, to }

	g := mine(t, chainblock.Genesis("seed"))
	a1 := mine(t, child(g, 0))
	must(t, l.Receive(g))
	must(t, l.Receive(a1))

	if len(appended) != 2 {
		t.Fatalf("expected 2 appends after genesis+a1, got %d", len(appended))
	}

	// Branch at genesis: b1 is a sibling of a1.
	b1 := mine(t, child(g, 1000))
	must(t, l.Receive(b1))
	if l.Longest().Head().Signature != a1.Signature {
		t.Fatalf("expected a1 to remain longest on a height tie")
	}

	// Extend the b-branch past a1's height: fork choice must switch.
	b2 := mine(t, child(b1, 0))
	must(t, l.Receive(b2))
	if l.Longest().Head().Signature != b2.Signature {
		t.Fatalf("expected b-branch to become longest after b2")
	}
	if unwoundFrom != a1.Signature || unwoundTo != g.Signature {
		t.Fatalf("expected unwind from a1 to genesis, got from=%x to=%x", unwoundFrom, unwoundTo)
	}
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
