package ledger

import (
	"context"
	"fmt"

	"github.com/Alalun/catena/internal/storage"
)

// Rebuild replays every archived block from db, in index order, back
// through l.Receive — reconstructing the in-memory chain set and longest
// chain a fresh process needs after a restart. Call this before wiring
// OnAppend/OnUnwind: those notify a replay queue that a block still needs
// applying to permanent storage, which for every block Rebuild loads is
// already done.
func Rebuild(ctx context.Context, l *Ledger, db *storage.DB) error {
	records, err := db.ListBlockRecords(ctx)
	if err != nil {
		return fmt.Errorf("ledger: rebuild: %w", err)
	}
	for _, rec := range records {
		block, err := RecordToBlock(rec)
		if err != nil {
			return fmt.Errorf("ledger: rebuild: %w", err)
		}
		if err := l.Receive(block); err != nil {
			return fmt.Errorf("ledger: rebuild: replay block %d: %w", block.Header.Index, err)
		}
	}
	return nil
}
