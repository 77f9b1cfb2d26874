package node

import (
	"encoding/json"
	"fmt"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/gossip"
	"github.com/Alalun/catena/internal/txn"
)

// blockToPayload renders block as the wire shape gossiped between peers.
func blockToPayload(b *chainblock.Block) (gossip.BlockPayload, error) {
	var payload json.RawMessage
	if b.Header.Index == 0 {
		raw, err := json.Marshal(b.GenesisSeed)
		if err != nil {
			return gossip.BlockPayload{}, fmt.Errorf("node: encode genesis seed: %w", err)
		}
		payload = raw
	} else {
		raw, err := json.Marshal(b.Transactions)
		if err != nil {
			return gossip.BlockPayload{}, fmt.Errorf("node: encode transactions: %w", err)
		}
		payload = raw
	}
	return gossip.BlockPayload{
		Version:   b.Header.Version,
		Previous:  b.Header.Previous.String(),
		Hash:      b.Signature.String(),
		Miner:     b.Header.Miner.String(),
		Timestamp: b.Header.Timestamp,
		Nonce:     b.Header.Nonce,
		Index:     b.Header.Index,
		Payload:   payload,
	}, nil
}

// payloadToBlock reconstructs a block from its wire shape. The result's
// Signature is whatever the wire claimed; callers must still call Verify
// before trusting it.
func payloadToBlock(p gossip.BlockPayload) (*chainblock.Block, error) {
	previous, err := catenacrypto.HashFromHex(p.Previous)
	if err != nil {
		return nil, fmt.Errorf("node: block previous: %w", err)
	}
	signature, err := catenacrypto.HashFromHex(p.Hash)
	if err != nil {
		return nil, fmt.Errorf("node: block hash: %w", err)
	}
	var miner catenacrypto.Hash
	if p.Miner != "" {
		miner, err = catenacrypto.HashFromHex(p.Miner)
		if err != nil {
			return nil, fmt.Errorf("node: block miner: %w", err)
		}
	}

	b := &chainblock.Block{
		Header: chainblock.Header{
			Version:   p.Version,
			Index:     p.Index,
			Previous:  previous,
			Miner:     miner,
			Timestamp: p.Timestamp,
			Nonce:     p.Nonce,
		},
		Signature: signature,
	}

	if p.Index == 0 {
		var seed string
		if err := json.Unmarshal(p.Payload, &seed); err != nil {
			return nil, fmt.Errorf("node: genesis seed: %w", err)
		}
		b.GenesisSeed = seed
		return b, nil
	}

	var txs []*txn.Transaction
	if err := json.Unmarshal(p.Payload, &txs); err != nil {
		return nil, fmt.Errorf("node: transactions: %w", err)
	}
	b.Transactions = txs
	return b, nil
}
