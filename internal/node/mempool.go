package node

import (
	"sync"

	"github.com/Alalun/catena/internal/txn"
)

// Mempool is the miner's pending-transaction buffer: SQL transactions,
// signed and counter-stamped, accepted from the query endpoint and drained
// by the miner into the next block. Held behind a mutex since it's written
// by request-handling goroutines and read by the mining loop concurrently.
type Mempool struct {
	mu  sync.Mutex
	txs []*txn.Transaction
}

// Add appends tx to the pool.
func (m *Mempool) Add(tx *txn.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs = append(m.txs, tx)
}

// Drain removes and returns up to max pending transactions, oldest first.
// If max <= 0, every pending transaction is drained.
func (m *Mempool) Drain(max int) []*txn.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	if max <= 0 || max > len(m.txs) {
		max = len(m.txs)
	}
	out := m.txs[:max]
	m.txs = m.txs[max:]
	return out
}

// Len reports how many transactions are pending.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.txs)
}
