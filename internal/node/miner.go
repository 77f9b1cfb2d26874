package node

import (
	"time"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/txn"
)

// Miner builds and proof-of-work mines the next block on top of a known
// previous block, batching whatever transactions the mempool has pending at
// the moment mining starts.
type Miner struct {
	Identity   *catenacrypto.KeyPair
	Difficulty int
}

// NewMiner returns a miner that signs blocks as identity and targets
// difficulty leading zero bits.
func NewMiner(identity *catenacrypto.KeyPair, difficulty int) *Miner {
	return &Miner{Identity: identity, Difficulty: difficulty}
}

// Mine builds the block extending previous with txs as its payload, and
// runs proof-of-work until it meets the miner's difficulty or abort closes.
// previous may be nil only when building the genesis block, in which case
// genesisSeed is used as the payload and txs is ignored.
func (m *Miner) Mine(previous *chainblock.Block, txs []*txn.Transaction, genesisSeed string, abort <-chan struct{}) (*chainblock.Block, error) {
	var b *chainblock.Block
	if previous == nil {
		b = chainblock.Genesis(genesisSeed)
	} else {
		b = &chainblock.Block{
			Header: chainblock.Header{
				Version:  chainblock.Version,
				Index:    previous.Header.Index + 1,
				Previous: previous.Signature,
			},
			Transactions: txs,
		}
	}
	b.Header.Miner = m.Identity.Public.Identity()
	b.Header.Timestamp = uint64(time.Now().Unix())

	if err := b.Mine(m.Difficulty, abort); err != nil {
		return nil, err
	}
	return b, nil
}
