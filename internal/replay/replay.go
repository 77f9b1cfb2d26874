// Package replay implements the bounded replay queue and permanent-store
// promotion/rewind described by the ledger's splice notifications: recent
// blocks stay in an in-memory queue so a shallow reorg is O(1), while a
// reorg deeper than the queue window falls back to a full replay of the
// permanent store from genesis.
package replay

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/ledger"
	"github.com/Alalun/catena/internal/storage"
)

// MaxQueueSize is the number of most-recent blocks kept in the queue before
// the oldest is promoted to the permanent store.
const MaxQueueSize = 7

// ChainHistory resolves a block's signature into its ancestry, so a deep
// rewind can reconstruct the path from genesis to the target without
// the replay package needing to know about the chain set's internals.
type ChainHistory interface {
	// Ancestry returns the blocks from genesis up to and including to, in
	// order, or false if to is not known.
	Ancestry(to catenacrypto.Hash) ([]*chainblock.Block, bool)
}

// Store is the durable backend that survives process restarts: a database
// file path plus the difficulty the applier should verify blocks against.
type Store struct {
	path       string
	difficulty int
	db         *storage.DB
	applier    *ledger.Applier
	headIndex  int64 // -1 before any block has been applied
}

// OpenStore opens (or creates) the permanent store at path.
func OpenStore(path string, difficulty int) (*Store, error) {
	db, err := storage.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open permanent store: %w", err)
	}
	s := &Store{path: path, difficulty: difficulty, db: db, headIndex: -1}
	if idx, ok, err := s.readHeadIndex(context.Background()); err != nil {
		db.Close()
		return nil, err
	} else if ok {
		s.headIndex = idx
	}
	s.applier = ledger.NewApplier(db)
	return s, nil
}

func (s *Store) readHeadIndex(ctx context.Context) (int64, bool, error) {
	v, ok, err := s.db.InfoGet(ctx, "index")
	if err != nil || !ok {
		return 0, false, err
	}
	var idx int64
	if _, err := fmt.Sscanf(v, "%d", &idx); err != nil {
		return 0, false, fmt.Errorf("replay: corrupt index metadata: %w", err)
	}
	return idx, true, nil
}

// HeadIndex is the index of the last block applied to the permanent store,
// or -1 if none has been applied yet.
func (s *Store) HeadIndex() int64 { return s.headIndex }

// DB returns the backend database holding the permanent store's applied
// state, for read-only statements to execute against.
func (s *Store) DB() *storage.DB { return s.db }

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Queue holds up to MaxQueueSize recently appended blocks that have not yet
// been promoted to the permanent store.
type Queue struct {
	store   *Store
	history ChainHistory
	blocks  []*chainblock.Block
}

// NewQueue returns a Queue backed by store, using history to resolve deep
// rewinds.
func NewQueue(store *Store, history ChainHistory) *Queue {
	return &Queue{store: store, history: history}
}

// Blocks returns the queue's current contents, oldest first.
func (q *Queue) Blocks() []*chainblock.Block {
	out := make([]*chainblock.Block, len(q.blocks))
	copy(out, q.blocks)
	return out
}

// DidAppend handles the ledger's OnAppend notification: push block onto the
// queue, and if it overflows, promote the oldest entry to the permanent
// store.
func (q *Queue) DidAppend(ctx context.Context, block *chainblock.Block) error {
	q.blocks = append(q.blocks, block)
	if len(q.blocks) <= MaxQueueSize {
		return nil
	}
	promoted := q.blocks[0]
	q.blocks = q.blocks[1:]

	if promoted.Header.Index == uint64(q.store.headIndex+1) {
		if _, err := q.store.applier.Apply(ctx, promoted, q.store.difficulty, true); err != nil {
			return fmt.Errorf("replay: promote block %d: %w", promoted.Header.Index, err)
		}
		q.store.headIndex = int64(promoted.Header.Index)
		logrus.Infof("replay: promoted block %d to permanent store", promoted.Header.Index)
		return nil
	}

	// The queue's front no longer follows the permanent head: a rewind
	// happened while the queue was full. Replay from genesis up to the
	// block just before the one we were trying to promote.
	return q.replayPermanentStorage(ctx, promoted.Header.Previous)
}

// DidUnwind handles the ledger's OnUnwind notification: drop now-stale
// queue entries, or fall back to a full permanent-store replay if the
// rewind reaches behind what the permanent store has already committed.
func (q *Queue) DidUnwind(ctx context.Context, to catenacrypto.Hash, toIndex uint64) error {
	if q.store.headIndex <= int64(toIndex) {
		kept := q.blocks[:0]
		for _, b := range q.blocks {
			if b.Header.Index <= toIndex {
				kept = append(kept, b)
			}
		}
		q.blocks = kept
		return nil
	}
	return q.replayPermanentStorage(ctx, to)
}

// replayPermanentStorage discards the permanent store and rebuilds it from
// genesis through to, then truncates the queue to whatever of its own
// blocks still follow it.
func (q *Queue) replayPermanentStorage(ctx context.Context, to catenacrypto.Hash) error {
	history, ok := q.history.Ancestry(to)
	if !ok {
		return fmt.Errorf("replay: ancestry for %x not known", to)
	}

	path := q.store.path
	if err := q.store.db.Close(); err != nil {
		return fmt.Errorf("replay: close stale permanent store: %w", err)
	}
	if path != ":memory:" {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("replay: remove stale permanent store: %w", err)
		}
	}
	db, err := storage.Open(path)
	if err != nil {
		return fmt.Errorf("replay: recreate permanent store: %w", err)
	}
	q.store.db = db
	q.store.applier = ledger.NewApplier(db)
	q.store.headIndex = -1

	for _, b := range history {
		if _, err := q.store.applier.Apply(ctx, b, q.store.difficulty, true); err != nil {
			return fmt.Errorf("replay: reapply block %d: %w", b.Header.Index, err)
		}
		q.store.headIndex = int64(b.Header.Index)
	}
	logrus.Warnf("replay: rebuilt permanent store from genesis through block %d", q.store.headIndex)

	var toIndex uint64
	if len(history) > 0 {
		toIndex = history[len(history)-1].Header.Index
	}
	kept := q.blocks[:0]
	for _, b := range q.blocks {
		if b.Header.Index > toIndex {
			kept = append(kept, b)
		}
	}
	q.blocks = kept
	return nil
}
