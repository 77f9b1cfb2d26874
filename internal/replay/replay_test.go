package replay

import (
	"context"
	"testing"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
)

const testDifficulty = 4

type fakeHistory struct {
	byHash map[catenacrypto.Hash]*chainblock.Block
	order  []*chainblock.Block // genesis-first
}

func newFakeHistory() *fakeHistory {
	return &fakeHistory{byHash: make(map[catenacrypto.Hash]*chainblock.Block)}
}

func (h *fakeHistory) add(b *chainblock.Block) {
	h.byHash[b.Signature] = b
	h.order = append(h.order, b)
}

func (h *fakeHistory) Ancestry(to catenacrypto.Hash) ([]*chainblock.Block, bool) {
	target, ok := h.byHash[to]
	if !ok {
		return nil, false
	}
	out := make([]*chainblock.Block, 0, target.Header.Index+1)
	for _, b := range h.order {
		out = append(out, b)
		if b.Signature == target.Signature {
			break
		}
	}
	return out, true
}

func mineBlock(t *testing.T, index uint64, previous catenacrypto.Hash, timestamp uint64) *chainblock.Block {
	t.Helper()
	b := &chainblock.Block{Header: chainblock.Header{
		Version:   chainblock.Version,
		Index:     index,
		Previous:  previous,
		Timestamp: timestamp,
	}}
	if index == 0 {
		b.GenesisSeed = "seed"
	}
	if err := b.Mine(testDifficulty, nil); err != nil {
		t.Fatalf("Mine: %v", err)
	}
	return b
}

func TestQueuePromotesOldestOnOverflow(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir+"/perm.db", testDifficulty)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	history := newFakeHistory()
	q := NewQueue(store, history)
	ctx := context.Background()

	var previous catenacrypto.Hash
	for i := uint64(0); i <= MaxQueueSize; i++ {
		b := mineBlock(t, i, previous, i+1)
		history.add(b)
		if err := q.DidAppend(ctx, b); err != nil {
			t.Fatalf("DidAppend(%d): %v", i, err)
		}
		previous = b.Signature
	}

	if len(q.Blocks()) != MaxQueueSize {
		t.Fatalf("expected queue length %d, got %d", MaxQueueSize, len(q.Blocks()))
	}
	if store.HeadIndex() != 0 {
		t.Fatalf("expected exactly the genesis block promoted (index 0), got head %d", store.HeadIndex())
	}
}

func TestUnwindWithinPermanentHeadTruncatesQueue(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir+"/perm.db", testDifficulty)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	history := newFakeHistory()
	q := NewQueue(store, history)
	ctx := context.Background()

	var previous catenacrypto.Hash
	var blocks []*chainblock.Block
	for i := uint64(0); i < 3; i++ {
		b := mineBlock(t, i, previous, i+1)
		history.add(b)
		blocks = append(blocks, b)
		if err := q.DidAppend(ctx, b); err != nil {
			t.Fatalf("DidAppend(%d): %v", i, err)
		}
		previous = b.Signature
	}

	// Permanent store's head is still -1 (queue never overflowed), so an
	// unwind back to block 1 should just drop block 2 from the queue.
	if err := q.DidUnwind(ctx, blocks[1].Signature, 1); err != nil {
		t.Fatalf("DidUnwind: %v", err)
	}
	if len(q.Blocks()) != 2 {
		t.Fatalf("expected 2 queued blocks after unwind, got %d", len(q.Blocks()))
	}
	for _, b := range q.Blocks() {
		if b.Header.Index > 1 {
			t.Fatalf("unexpected block index %d survived unwind", b.Header.Index)
		}
	}
}

func TestDeepUnwindReplaysPermanentStorageFromGenesis(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenStore(dir+"/perm.db", testDifficulty)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	history := newFakeHistory()
	q := NewQueue(store, history)
	ctx := context.Background()

	var previous catenacrypto.Hash
	var blocks []*chainblock.Block
	// Overflow the queue so the permanent store's head advances past 0.
	for i := uint64(0); i <= MaxQueueSize+1; i++ {
		b := mineBlock(t, i, previous, i+1)
		history.add(b)
		blocks = append(blocks, b)
		if err := q.DidAppend(ctx, b); err != nil {
			t.Fatalf("DidAppend(%d): %v", i, err)
		}
		previous = b.Signature
	}
	if store.HeadIndex() < 1 {
		t.Fatalf("expected permanent store to have advanced past genesis, got %d", store.HeadIndex())
	}

	// Unwind behind the permanent head: this must trigger a full rebuild.
	if err := q.DidUnwind(ctx, blocks[0].Signature, 0); err != nil {
		t.Fatalf("DidUnwind (deep): %v", err)
	}
	if store.HeadIndex() != 0 {
		t.Fatalf("expected permanent store rebuilt through genesis only, got head %d", store.HeadIndex())
	}
}
