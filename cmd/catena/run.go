package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/Alalun/catena/internal/chainblock"
	"github.com/Alalun/catena/internal/gossip"
	"github.com/Alalun/catena/internal/ledger"
	"github.com/Alalun/catena/internal/node"
	"github.com/Alalun/catena/internal/nodedb"
	"github.com/Alalun/catena/internal/queryserver"
	"github.com/Alalun/catena/internal/replay"
)

// difficulty is the proof-of-work target this binary mines and verifies
// against. The CLI surface has no flag for it (§6 doesn't name one); every
// node in a network must agree on it out of band.
const difficulty = chainblock.InitialDifficulty

func run(ctx context.Context, cfg *Config) error {
	_ = godotenv.Load()
	logrus.SetLevel(cfg.LogLevel)

	nodeDatabasePath := cfg.NodeDatabasePath
	if nodeDatabasePath == "" {
		nodeDatabasePath = "catena-node.sqlite"
	}

	if cfg.Initialize {
		if cfg.DatabasePath != ":memory:" {
			if err := os.Remove(cfg.DatabasePath); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("catena: initialize: remove chain database: %w", err)
			}
		}
	}

	ndb, err := nodedb.Open(nodeDatabasePath)
	if err != nil {
		return fmt.Errorf("catena: open node database: %w", err)
	}
	defer ndb.Close()

	if cfg.Initialize {
		if err := ndb.TruncatePeers(ctx); err != nil {
			return fmt.Errorf("catena: initialize: truncate peers: %w", err)
		}
	}

	identity, err := ndb.LoadOrCreateIdentity(ctx, cfg.NodeUUID, cfg.Seed)
	if err != nil {
		return fmt.Errorf("catena: load identity: %w", err)
	}

	if cfg.ShowIdentity {
		fmt.Println(identity.KeyPair.Public.Identity().Base58())
		return nil
	}

	store, err := replay.OpenStore(cfg.DatabasePath, difficulty)
	if err != nil {
		return fmt.Errorf("catena: open chain database: %w", err)
	}
	defer store.Close()

	ledg := ledger.NewLedger(difficulty)
	if !cfg.NoReplay {
		if err := ledger.Rebuild(ctx, ledg, store.DB()); err != nil {
			return fmt.Errorf("catena: rebuild ledger from permanent store: %w", err)
		}
	}

	rq := replay.NewQueue(store, ledg)
	gm := gossip.NewManager(identity.UUID)
	mempool := &node.Mempool{}
	miner := node.NewMiner(identity.KeyPair, difficulty)
	n := node.New(identity.UUID, difficulty, ledg, rq, gm, mempool, miner)

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if ledg.Longest() == nil && cfg.Mine {
		if cfg.Seed == "" {
			return fmt.Errorf("%w: -s/--seed is required to mine a genesis block for a new chain", errUsage)
		}
		if _, err := n.MineGenesis(cfg.Seed, runCtx.Done()); err != nil {
			return fmt.Errorf("catena: mine genesis: %w", err)
		}
	}

	gossipAddr := fmt.Sprintf(":%d", cfg.GossipPort)
	gossipServer := &http.Server{Addr: gossipAddr, Handler: gossipHandler(runCtx, n, identity.UUID, cfg.AllowDomains)}
	go func() {
		if err := gossipServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("catena: gossip server stopped")
		}
	}()

	if err := joinPeers(runCtx, n, ndb, cfg.JoinURLs, identity.UUID, cfg.GossipPort); err != nil {
		logrus.WithError(err).Warn("catena: one or more --join peers failed")
	}

	n.Start(runCtx)

	if cfg.Mine {
		go mineLoop(runCtx, n)
	}

	qs := queryserver.New(store, n)
	go func() {
		if err := qs.Serve(runCtx, fmt.Sprintf(":%d", cfg.QueryPort)); err != nil {
			logrus.WithError(err).Error("catena: query server stopped")
		}
	}()

	<-runCtx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = gossipServer.Shutdown(shutdownCtx)
	return nil
}

// gossipHandler accepts the inbound gossip websocket handshake and serves
// the accepted connection for the rest of its life. It takes ctx rather than
// r.Context(), since the request context is canceled the moment ServeHTTP
// returns — which happens immediately after the upgrade, well before the
// spawned ServeConn goroutine is done with the connection. allowedOrigins
// is --allow-domain, forwarded to gossip.Accept's CheckOrigin enforcement.
func gossipHandler(ctx context.Context, n *node.Node, ownUUID string, allowedOrigins []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		peer, conn, err := gossip.Accept(w, r, ownUUID, allowedOrigins...)
		if err != nil {
			logrus.WithError(err).Warn("catena: rejected inbound peer")
			return
		}
		n.Gossip.AddPeer(peer.UUID, peer)
		go n.ServeConn(ctx, peer.UUID, conn)
	}
}

// joinPeers dials every explicit -j/--join URL plus whatever peers the
// node database remembers from a previous run, registering each with n's
// gossip manager and serving its connection.
func joinPeers(ctx context.Context, n *node.Node, ndb *nodedb.DB, joinURLs []string, ownUUID string, ownPort int) error {
	remembered, err := ndb.Peers(ctx)
	if err != nil {
		return fmt.Errorf("list remembered peers: %w", err)
	}
	seen := make(map[string]bool, len(joinURLs))
	addrs := append([]string(nil), joinURLs...)
	for _, p := range remembered {
		addr := fmt.Sprintf("ws://%s:%d", p.Addr, p.Port)
		if !seen[addr] {
			addrs = append(addrs, addr)
		}
	}

	var firstErr error
	for _, addr := range addrs {
		if seen[addr] {
			continue
		}
		seen[addr] = true
		peer, conn, err := gossip.Dial(addr, ownUUID, ownPort)
		if err != nil {
			logrus.WithError(err).WithField("addr", addr).Warn("catena: failed to join peer")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		n.Gossip.AddPeer(peer.UUID, peer)
		if host, port, err := splitHostPort(addr); err == nil {
			_ = ndb.RememberPeer(ctx, nodedb.PeerRecord{UUID: peer.UUID, Addr: host, Port: port})
		}
		go n.ServeConn(ctx, peer.UUID, conn)
	}
	return firstErr
}

func splitHostPort(rawURL string) (string, int, error) {
	u, err := gossip.ParsePeerURL(rawURL)
	if err != nil {
		return "", 0, err
	}
	host := u.Hostname()
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		return "", 0, fmt.Errorf("catena: peer URL missing port: %w", err)
	}
	return host, port, nil
}

// mineLoop mines one block after another atop the current longest chain
// until ctx is done.
func mineLoop(ctx context.Context, n *node.Node) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if _, err := n.MineNext(ctx.Done()); err != nil {
			if err == node.ErrNoGenesis {
				time.Sleep(time.Second)
				continue
			}
			logrus.WithError(err).Warn("catena: mining failed")
			time.Sleep(time.Second)
		}
	}
}
