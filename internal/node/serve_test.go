package node

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/Alalun/catena/internal/gossip"
)

func TestServeConnAnswersQueryWithIndex(t *testing.T) {
	n, _, _ := newTestNode(t)
	if _, err := n.MineGenesis("seed", nil); err != nil {
		t.Fatalf("MineGenesis: %v", err)
	}

	accepted := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, conn, err := gossip.Accept(w, r, "local-uuid")
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		n.Gossip.AddPeer("client-uuid", peer)
		accepted <- conn
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	clientPeer, clientConn, err := gossip.Dial(wsURL, "client-uuid", 9001)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	serverSide := <-accepted

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.ServeConn(ctx, "client-uuid", serverSide)

	if err := gossip.SendFrame(clientConn, clientPeer.NextSeq(), gossip.TypeQuery, struct{}{}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	reply, err := gossip.ReadFrame(clientConn, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if reply.Type != gossip.TypeIndex {
		t.Fatalf("expected index reply, got %s", reply.Type)
	}
}

func TestServeConnAnswersUnknownFetchWithError(t *testing.T) {
	n, _, _ := newTestNode(t)

	accepted := make(chan *websocket.Conn, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peer, conn, err := gossip.Accept(w, r, "local-uuid")
		if err != nil {
			t.Errorf("Accept: %v", err)
			return
		}
		n.Gossip.AddPeer("client-uuid", peer)
		accepted <- conn
	}))
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http")
	clientPeer, clientConn, err := gossip.Dial(wsURL, "client-uuid", 9002)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	serverSide := <-accepted

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go n.ServeConn(ctx, "client-uuid", serverSide)

	req := gossip.FetchPayload{Hash: "deadbeef"}
	if err := gossip.SendFrame(clientConn, clientPeer.NextSeq(), gossip.TypeFetch, req); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}

	reply, err := gossip.ReadFrame(clientConn, 0)
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if reply.Type != gossip.TypeError {
		t.Fatalf("expected error reply for unknown hash, got %s", reply.Type)
	}
}
