package ledger

import (
	"sync"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
)

// Chain is one linear sequence of blocks rooted at a genesis block, kept
// entirely in memory. Index 0 of Blocks is always the chain's genesis
// block, and Blocks[i].Header.Index == i for every i. Two chains that fork
// from a common ancestor share that ancestor's ancestry by genesis hash,
// but are distinct Chain values — the chain set is keyed by chain identity,
// not by genesis hash, since siblings share a genesis.
type Chain struct {
	Blocks []*chainblock.Block
}

// GenesisHash is the signature of Blocks[0].
func (c *Chain) GenesisHash() catenacrypto.Hash { return c.Blocks[0].Signature }

// Head is the chain's most recent block.
func (c *Chain) Head() *chainblock.Block { return c.Blocks[len(c.Blocks)-1] }

type location struct {
	chain *Chain
	index int
}

// UnwindFunc is called once, with the head of the chain being abandoned and
// the common ancestor the new longest chain still shares with it.
type UnwindFunc func(from, to catenacrypto.Hash)

// AppendFunc is called once per block, in order, as the new longest chain is
// adopted from the common ancestor forward.
type AppendFunc func(block *chainblock.Block)

// Ledger holds the chain set, the orphan pool, and the longest-chain
// pointer, all guarded by a single mutex per the concurrency model: the
// ledger mutex protects exactly these three things, and Receive/Get/fork
// choice all hold it for their duration.
type Ledger struct {
	mu         sync.Mutex
	difficulty int

	chains  []*Chain
	known   map[catenacrypto.Hash]location
	orphans map[catenacrypto.Hash]*chainblock.Block // keyed by the orphan's own signature

	longest     *Chain
	notifiedLen int // number of longest's blocks already delivered via OnAppend

	OnUnwind UnwindFunc
	OnAppend AppendFunc
}

// NewLedger returns an empty ledger targeting difficulty.
func NewLedger(difficulty int) *Ledger {
	return &Ledger{
		difficulty: difficulty,
		known:      make(map[catenacrypto.Hash]location),
		orphans:    make(map[catenacrypto.Hash]*chainblock.Block),
	}
}

// Longest returns the current longest chain, or nil if none has been
// received yet.
func (l *Ledger) Longest() *Chain {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.longest
}

// Get returns the block with the given signature, if known to any chain.
func (l *Ledger) Get(signature catenacrypto.Hash) (*chainblock.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loc, ok := l.known[signature]
	if !ok {
		return nil, false
	}
	return loc.chain.Blocks[loc.index], true
}

// HasOrphan reports whether signature is currently sitting in the orphan
// pool, awaiting its predecessor.
func (l *Ledger) HasOrphan(signature catenacrypto.Hash) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.orphans[signature]
	return ok
}

// Ancestry returns the blocks from genesis up to and including to, in
// order, satisfying replay.ChainHistory.
func (l *Ledger) Ancestry(to catenacrypto.Hash) ([]*chainblock.Block, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	loc, ok := l.known[to]
	if !ok {
		return nil, false
	}
	out := make([]*chainblock.Block, loc.index+1)
	copy(out, loc.chain.Blocks[:loc.index+1])
	return out, true
}

// Receive validates and inserts block per the receive(block) algorithm:
// extend a chain's head, branch mid-chain, or queue as an orphan; then
// drain the orphan pool and re-evaluate the longest chain.
func (l *Ledger) Receive(block *chainblock.Block) error {
	if !block.Verify(l.difficulty) {
		return ErrSignatureError
	}
	for _, t := range block.Transactions {
		if !t.Verify() {
			return ErrPayloadSignatureError
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.insert(block)
	l.drainOrphans()
	l.reevaluateLongest()
	return nil
}

// insert places a validated block into the chain set or the orphan pool. It
// does not drain orphans or re-evaluate longest — callers do that once,
// after a batch of inserts.
func (l *Ledger) insert(block *chainblock.Block) {
	sig := block.Signature
	if _, ok := l.known[sig]; ok {
		return // already present
	}

	if block.Header.Index == 0 {
		c := &Chain{Blocks: []*chainblock.Block{block}}
		l.chains = append(l.chains, c)
		l.known[sig] = location{chain: c, index: 0}
		return
	}

	prevLoc, known := l.known[block.Header.Previous]
	if !known {
		l.orphans[sig] = block
		return
	}

	if prevLoc.index == len(prevLoc.chain.Blocks)-1 {
		// Extends the head of an existing chain.
		prevLoc.chain.Blocks = append(prevLoc.chain.Blocks, block)
		l.known[sig] = location{chain: prevLoc.chain, index: len(prevLoc.chain.Blocks) - 1}
		return
	}

	// Branches mid-chain: a new chain sharing the prefix up to and
	// including the previous block.
	prefix := make([]*chainblock.Block, prevLoc.index+1)
	copy(prefix, prevLoc.chain.Blocks[:prevLoc.index+1])
	branch := &Chain{Blocks: append(prefix, block)}
	l.chains = append(l.chains, branch)
	l.known[sig] = location{chain: branch, index: len(branch.Blocks) - 1}
}

// drainOrphans repeatedly re-attempts every orphan whose previous block has
// since become known, until a full pass makes no progress.
func (l *Ledger) drainOrphans() {
	for {
		progressed := false
		for sig, orphan := range l.orphans {
			if _, ok := l.known[orphan.Header.Previous]; ok {
				delete(l.orphans, sig)
				l.insert(orphan)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

// reevaluateLongest picks the chain with the greatest head index, ties
// keeping the incumbent, and emits splice notifications for whatever
// changed: new blocks appended to the incumbent chain itself, or a full
// unwind-then-append when a different chain overtakes it.
func (l *Ledger) reevaluateLongest() {
	best := l.longest
	for _, c := range l.chains {
		if best == nil || c.Head().Header.Index > best.Head().Header.Index {
			best = c
		}
	}
	if best == nil {
		return
	}

	if best == l.longest {
		if len(best.Blocks) > l.notifiedLen {
			l.emitAppend(best.Blocks[l.notifiedLen:])
			l.notifiedLen = len(best.Blocks)
		}
		return
	}

	if l.longest == nil {
		l.longest = best
		l.notifiedLen = len(best.Blocks)
		l.emitAppend(best.Blocks)
		return
	}

	from := l.longest
	ancestorIdx := commonAncestorIndex(from, best)
	l.longest = best
	l.notifiedLen = len(best.Blocks)

	if l.OnUnwind != nil {
		toHash := best.Blocks[ancestorIdx].Signature
		l.OnUnwind(from.Head().Signature, toHash)
	}
	l.emitAppend(best.Blocks[ancestorIdx+1:])
}

func (l *Ledger) emitAppend(blocks []*chainblock.Block) {
	if l.OnAppend == nil {
		return
	}
	for _, b := range blocks {
		l.OnAppend(b)
	}
}

// commonAncestorIndex returns the index (within both a and b) of the
// deepest block shared by chains a and b.
func commonAncestorIndex(a, b *Chain) int {
	limit := len(a.Blocks)
	if len(b.Blocks) < limit {
		limit = len(b.Blocks)
	}
	shared := 0
	for i := 0; i < limit; i++ {
		if a.Blocks[i].Signature != b.Blocks[i].Signature {
			break
		}
		shared = i
	}
	return shared
}
