// Package node wires the ledger, the replay queue, the gossip manager, the
// mempool and the miner into one orchestrator: the 2-second scheduler tick
// that dispatches fetches and queries (§4.11), the splice notifications
// that keep the permanent store in sync with fork choice, and the
// broadcast of freshly mined blocks.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/gossip"
	"github.com/Alalun/catena/internal/ledger"
	"github.com/Alalun/catena/internal/replay"
)

// frameSender abstracts gossip.SendFrame so tests can substitute a fake
// without opening a real socket.
type frameSender func(conn *websocket.Conn, seq uint64, t gossip.Type, body any) error

// Node is the per-process orchestrator: one ledger, one replay queue backed
// by a permanent store, one gossip manager, one mempool, one miner.
type Node struct {
	UUID       string
	Difficulty int

	Ledger      *ledger.Ledger
	ReplayQueue *replay.Queue
	Gossip      *gossip.Manager
	Mempool     *Mempool
	Miner       *Miner

	send frameSender
}

// New wires ledger splice notifications into the replay queue and returns
// a ready Node. The caller still owns starting the scheduler (Start) and
// feeding inbound frames to HandleBlock/HandleIndex as they arrive.
func New(uuid string, difficulty int, ledg *ledger.Ledger, rq *replay.Queue, gm *gossip.Manager, mempool *Mempool, miner *Miner) *Node {
	n := &Node{
		UUID:        uuid,
		Difficulty:  difficulty,
		Ledger:      ledg,
		ReplayQueue: rq,
		Gossip:      gm,
		Mempool:     mempool,
		Miner:       miner,
		send:        gossip.SendFrame,
	}

	ledg.OnAppend = func(b *chainblock.Block) {
		if err := rq.DidAppend(context.Background(), b); err != nil {
			logrus.WithError(err).WithField("index", b.Header.Index).Error("node: replay queue append failed")
		}
	}
	ledg.OnUnwind = func(from, to catenacrypto.Hash) {
		toBlock, ok := ledg.Get(to)
		if !ok {
			logrus.WithField("to", to.String()).Error("node: unwind target not found in ledger")
			return
		}
		if err := rq.DidUnwind(context.Background(), to, toBlock.Header.Index); err != nil {
			logrus.WithError(err).Error("node: replay queue unwind failed")
		}
	}

	return n
}

// Start launches the 2-second scheduler loop (§4.11): each tick pops one
// candidate to fetch and advances the query queue by one peer, refilling it
// with every known peer once it runs dry. It returns immediately; the loop
// stops when ctx is done.
func (n *Node) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n.tick()
			}
		}
	}()
}

func (n *Node) tick() {
	candidate, hasCandidate, queryPeer, hasQueryPeer := n.Gossip.Tick()
	if hasCandidate {
		if err := n.dispatchFetch(candidate); err != nil {
			logrus.WithError(err).WithField("peer", candidate.PeerID).Warn("node: dispatch fetch failed")
		}
	}
	if hasQueryPeer {
		if err := n.dispatchQuery(queryPeer); err != nil {
			logrus.WithError(err).WithField("peer", queryPeer).Warn("node: dispatch query failed")
		}
	}
}

func (n *Node) dispatchFetch(c gossip.Candidate) error {
	peer, conn, err := n.peerConn(c.PeerID)
	if err != nil {
		return err
	}
	return n.send(conn, peer.NextSeq(), gossip.TypeFetch, gossip.FetchPayload{Hash: c.Hash})
}

func (n *Node) dispatchQuery(peerID string) error {
	peer, conn, err := n.peerConn(peerID)
	if err != nil {
		return err
	}
	return n.send(conn, peer.NextSeq(), gossip.TypeQuery, struct{}{})
}

func (n *Node) peerConn(peerID string) (*gossip.Peer, *websocket.Conn, error) {
	peer, ok := n.Gossip.Peer(peerID)
	if !ok {
		return nil, nil, fmt.Errorf("node: unknown peer %s", peerID)
	}
	conn, ok := n.Gossip.ConnFor(peerID)
	if !ok {
		return nil, nil, fmt.Errorf("node: no live connection to %s", peerID)
	}
	return peer, conn, nil
}

// HandleBlock processes a block gossiped or fetched from peerID: decode,
// hand it to the ledger, and — per §4.10 — if its previous is itself
// unknown and not already queued as an orphan, enqueue a candidate for it
// so the chain behind it gets fetched too.
func (n *Node) HandleBlock(peerID string, payload gossip.BlockPayload) error {
	block, err := payloadToBlock(payload)
	if err != nil {
		return err
	}
	if err := n.Ledger.Receive(block); err != nil {
		return err
	}
	if block.Header.Index == 0 {
		return nil
	}
	if _, known := n.Ledger.Get(block.Header.Previous); !known && !n.Ledger.HasOrphan(block.Header.Previous) {
		n.Gossip.EnqueueCandidate(gossip.Candidate{
			Hash:   block.Header.Previous.String(),
			Height: block.Header.Index - 1,
			PeerID: peerID,
		})
	}
	return nil
}

// HandleIndex processes an index message from peerID, enqueueing a fetch
// candidate if the peer claims a taller chain than ours.
func (n *Node) HandleIndex(peerID string, idx gossip.IndexPayload) {
	var localHeight uint64
	if longest := n.Ledger.Longest(); longest != nil {
		localHeight = longest.Head().Header.Index
	}
	n.Gossip.HandleIndex(peerID, idx, localHeight)
}

// MineGenesis mines and adopts the genesis block for seed. It must be
// called before MineNext, and only once per chain.
func (n *Node) MineGenesis(seed string, abort <-chan struct{}) (*chainblock.Block, error) {
	block, err := n.Miner.Mine(nil, nil, seed, abort)
	if err != nil {
		return nil, err
	}
	if err := n.Ledger.Receive(block); err != nil {
		return nil, err
	}
	n.broadcastMined(block)
	return block, nil
}

// MineNext drains the mempool, mines the next block atop the current
// longest chain, submits it to the ledger, and broadcasts it to every
// connected or queried peer, best-effort.
func (n *Node) MineNext(abort <-chan struct{}) (*chainblock.Block, error) {
	longest := n.Ledger.Longest()
	if longest == nil {
		return nil, ErrNoGenesis
	}
	txs := n.Mempool.Drain(chainblock.MaxTransactionsPerBlock)
	block, err := n.Miner.Mine(longest.Head(), txs, "", abort)
	if err != nil {
		return nil, err
	}
	if err := n.Ledger.Receive(block); err != nil {
		return nil, err
	}
	n.broadcastMined(block)
	return block, nil
}

func (n *Node) broadcastMined(block *chainblock.Block) {
	payload, err := blockToPayload(block)
	if err != nil {
		logrus.WithError(err).Error("node: encode mined block for broadcast")
		return
	}
	for _, id := range n.Gossip.BroadcastTargets() {
		peer, conn, err := n.peerConn(id)
		if err != nil {
			continue
		}
		if err := n.send(conn, peer.NextSeq(), gossip.TypeBlock, payload); err != nil {
			logrus.WithError(err).WithField("peer", id).Warn("node: broadcast mined block failed")
		}
	}
}
