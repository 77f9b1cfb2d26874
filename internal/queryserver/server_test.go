package queryserver

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"net"
	"testing"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/gossip"
	"github.com/Alalun/catena/internal/ledger"
	"github.com/Alalun/catena/internal/node"
	"github.com/Alalun/catena/internal/replay"
	"github.com/Alalun/catena/internal/sqlparse"
	"github.com/Alalun/catena/internal/txn"
)

const testDifficulty = 4

func mustKeyPair(t *testing.T) *catenacrypto.KeyPair {
	t.Helper()
	kp, err := catenacrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return kp
}

// seedStoreWithShopWidgets applies a genesis block plus a block that
// creates database "shop", table "widgets" and inserts one row, directly
// against store's backend — independent of any node's replay queue, so the
// test can populate state synchronously instead of mining past the queue
// window to force a promotion.
func seedStoreWithShopWidgets(t *testing.T, store *replay.Store, owner *catenacrypto.KeyPair) *chainblock.Block {
	t.Helper()
	ctx := context.Background()
	a := ledger.NewApplier(store.DB())

	g := chainblock.Genesis("seed")
	g.Header.Timestamp = 1
	if err := g.Mine(testDifficulty, nil); err != nil {
		t.Fatalf("mine genesis: %v", err)
	}
	if _, err := a.Apply(ctx, g, testDifficulty, true); err != nil {
		t.Fatalf("apply genesis: %v", err)
	}

	createDB, err := sqlparse.Parse("CREATE DATABASE shop;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	grantCreate, err := sqlparse.Parse("GRANT create ON widgets TO NULL;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	createTable, err := sqlparse.Parse("CREATE TABLE widgets(x INT);")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	grantInsert, err := sqlparse.Parse("GRANT insert ON widgets TO NULL;")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	insert, err := sqlparse.Parse("INSERT INTO widgets(x) VALUES (1);")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	ownerHash := owner.Public.Identity()
	txs := []*txn.Transaction{
		txn.New(owner, "shop", 0, createDB),
		txn.New(owner, "shop", 1, grantCreate),
		txn.New(owner, "shop", 2, createTable),
		txn.New(owner, "shop", 3, grantInsert),
		txn.New(owner, "shop", 4, insert),
	}
	var miner catenacrypto.Hash
	copy(miner[:], ownerHash[:])
	b1 := &chainblock.Block{
		Header: chainblock.Header{
			Version:   chainblock.Version,
			Index:     1,
			Previous:  g.Signature,
			Miner:     miner,
			Timestamp: 2,
		},
		Transactions: txs,
	}
	if err := b1.Mine(testDifficulty, nil); err != nil {
		t.Fatalf("mine b1: %v", err)
	}
	if outcomes, err := a.Apply(ctx, b1, testDifficulty, true); err != nil {
		t.Fatalf("apply b1: %v", err)
	} else {
		for _, o := range outcomes {
			if o.Dropped || o.Err != nil {
				t.Fatalf("unexpected dropped/failed outcome: %+v", o)
			}
		}
	}
	return b1
}

func newTestServer(t *testing.T) (*Server, *node.Node, *catenacrypto.KeyPair) {
	t.Helper()
	store, err := replay.OpenStore(":memory:", testDifficulty)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	owner := mustKeyPair(t)
	seedStoreWithShopWidgets(t, store, owner)

	ledg := ledger.NewLedger(testDifficulty)
	nodeStore, err := replay.OpenStore(":memory:", testDifficulty)
	if err != nil {
		t.Fatalf("OpenStore (node plumbing): %v", err)
	}
	t.Cleanup(func() { nodeStore.Close() })
	rq := replay.NewQueue(nodeStore, ledg)
	gm := gossip.NewManager("server-uuid")
	minerKP := mustKeyPair(t)
	n := node.New("server-uuid", testDifficulty, ledg, rq, gm, &node.Mempool{}, node.NewMiner(minerKP, testDifficulty))

	return New(store, n), n, owner
}

func dialAndRequest(t *testing.T, ln net.Listener, req request) []string {
	t.Helper()
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	line, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	var out []string
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out
}

func TestQueryServerReadStatementReturnsColumnsRowsAndCompletion(t *testing.T) {
	s, _, owner := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ServeListener(ctx, ln)

	req := request{
		Username:  hex.EncodeToString(owner.Public),
		Password:  hex.EncodeToString(owner.Private),
		Database:  "shop",
		Statement: "SELECT x FROM widgets;",
	}
	lines := dialAndRequest(t, ln, req)
	if len(lines) != 3 {
		t.Fatalf("expected columns + 1 row + completion, got %d lines: %v", len(lines), lines)
	}

	var cols columnsMessage
	if err := json.Unmarshal([]byte(lines[0]), &cols); err != nil {
		t.Fatalf("unmarshal columns: %v", err)
	}
	if len(cols.Columns) != 1 || cols.Columns[0] != "x" {
		t.Fatalf("unexpected columns: %+v", cols)
	}

	var completion completionMessage
	if err := json.Unmarshal([]byte(lines[2]), &completion); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if !completion.OK {
		t.Fatalf("expected ok completion, got %+v", completion)
	}
}

func TestQueryServerMutatingStatementLandsInMempool(t *testing.T) {
	s, n, owner := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ServeListener(ctx, ln)

	req := request{
		Username:  hex.EncodeToString(owner.Public),
		Password:  hex.EncodeToString(owner.Private),
		Database:  "shop",
		Statement: "INSERT INTO widgets(x) VALUES (2);",
	}
	lines := dialAndRequest(t, ln, req)
	if len(lines) != 1 {
		t.Fatalf("expected a single completion line for a mutating statement, got %v", lines)
	}
	var completion completionMessage
	if err := json.Unmarshal([]byte(lines[0]), &completion); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if !completion.OK || completion.Accepted == "" {
		t.Fatalf("expected accepted transaction, got %+v", completion)
	}
	if n.Mempool.Len() != 1 {
		t.Fatalf("expected 1 pending transaction in mempool, got %d", n.Mempool.Len())
	}
}

func TestQueryServerRandomIdentityIgnoresPassword(t *testing.T) {
	s, n, _ := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.ServeListener(ctx, ln)

	req := request{Username: "random", Database: "shop", Statement: "CREATE DATABASE anon;"}
	lines := dialAndRequest(t, ln, req)
	if len(lines) != 1 {
		t.Fatalf("expected a single completion line, got %v", lines)
	}
	var completion completionMessage
	if err := json.Unmarshal([]byte(lines[0]), &completion); err != nil {
		t.Fatalf("unmarshal completion: %v", err)
	}
	if !completion.OK {
		t.Fatalf("expected ephemeral identity to be accepted, got %+v", completion)
	}
	if n.Mempool.Len() != 1 {
		t.Fatalf("expected mempool to hold the submitted transaction")
	}
}
