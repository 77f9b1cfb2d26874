package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/gossip"
	"github.com/Alalun/catena/internal/txn"
)

// ServeConn reads frames off conn — registered under peerID — until it
// closes or ctx is done, dispatching each to its handler. Callers spawn one
// goroutine per accepted or dialed connection; ServeConn owns closing conn
// and deregistering the peer on return.
func (n *Node) ServeConn(ctx context.Context, peerID string, conn *websocket.Conn) {
	defer func() {
		n.Gossip.RemovePeer(peerID)
		conn.Close()
	}()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		frame, err := gossip.ReadFrame(conn, 0)
		if err != nil {
			return
		}
		if err := n.handleFrame(peerID, conn, frame); err != nil {
			logrus.WithError(err).WithField("peer", peerID).Warn("node: frame handling failed")
		}
	}
}

func (n *Node) handleFrame(peerID string, conn *websocket.Conn, frame gossip.Frame) error {
	switch frame.Type {
	case gossip.TypeQuery:
		return n.replyIndex(peerID, conn)
	case gossip.TypeFetch:
		return n.replyFetch(peerID, conn, frame)
	case gossip.TypeBlock:
		var payload gossip.BlockPayload
		if err := json.Unmarshal(frame.Body, &payload); err != nil {
			return fmt.Errorf("node: decode block: %w", err)
		}
		return n.HandleBlock(peerID, payload)
	case gossip.TypeTx:
		return n.handleTx(frame)
	case gossip.TypeIndex:
		var idx gossip.IndexPayload
		if err := json.Unmarshal(frame.Body, &idx); err != nil {
			return fmt.Errorf("node: decode index: %w", err)
		}
		n.HandleIndex(peerID, idx)
		return nil
	case gossip.TypeError:
		var errPayload gossip.ErrorPayload
		_ = json.Unmarshal(frame.Body, &errPayload)
		logrus.WithField("peer", peerID).Warnf("node: peer reported error: %s", errPayload.Message)
		return nil
	default:
		return fmt.Errorf("node: unknown frame type %q", frame.Type)
	}
}

// replyIndex answers a query with our current view of the chain: the
// longest chain's head hash/height, its genesis hash, and the peers we
// currently know about.
func (n *Node) replyIndex(peerID string, conn *websocket.Conn) error {
	idx := gossip.IndexPayload{Peers: n.Gossip.Peers()}
	if longest := n.Ledger.Longest(); longest != nil {
		idx.Highest = longest.Head().Signature.String()
		idx.Height = longest.Head().Header.Index
		idx.Genesis = longest.GenesisHash().String()
	}
	return n.reply(peerID, conn, gossip.TypeIndex, idx)
}

// replyFetch answers a fetch request with the requested block, or an error
// frame if we don't have it.
func (n *Node) replyFetch(peerID string, conn *websocket.Conn, frame gossip.Frame) error {
	var req gossip.FetchPayload
	if err := json.Unmarshal(frame.Body, &req); err != nil {
		return fmt.Errorf("node: decode fetch: %w", err)
	}
	hash, err := catenacrypto.HashFromHex(req.Hash)
	if err != nil {
		return n.reply(peerID, conn, gossip.TypeError, gossip.ErrorPayload{Message: err.Error()})
	}
	block, ok := n.Ledger.Get(hash)
	if !ok {
		return n.reply(peerID, conn, gossip.TypeError, gossip.ErrorPayload{Message: "unknown block " + req.Hash})
	}
	payload, err := blockToPayload(block)
	if err != nil {
		return err
	}
	return n.reply(peerID, conn, gossip.TypeBlock, payload)
}

// handleTx verifies a gossiped transaction and, if well-formed, adds it to
// the mempool for our own miner to pick up.
func (n *Node) handleTx(frame gossip.Frame) error {
	var payload gossip.TxPayload
	if err := json.Unmarshal(frame.Body, &payload); err != nil {
		return fmt.Errorf("node: decode tx: %w", err)
	}
	var tx txn.Transaction
	if err := json.Unmarshal(payload.Tx, &tx); err != nil {
		return fmt.Errorf("node: decode tx body: %w", err)
	}
	if !tx.Verify() {
		return fmt.Errorf("node: gossiped transaction failed signature verification")
	}
	n.Mempool.Add(&tx)
	return nil
}

func (n *Node) reply(peerID string, conn *websocket.Conn, t gossip.Type, body any) error {
	peer, ok := n.Gossip.Peer(peerID)
	if !ok {
		return fmt.Errorf("node: unknown peer %s", peerID)
	}
	return n.send(conn, peer.NextSeq(), t, body)
}
