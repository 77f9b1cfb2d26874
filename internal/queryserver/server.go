// Package queryserver implements the line-oriented query endpoint (§6): a
// TCP listener that accepts one JSON request per connection — an identity,
// a target database, and a SQL statement — and answers with field
// metadata, rows, and a completion tag. Mutating statements are signed and
// handed to the miner's mempool; read-only statements execute directly
// against the permanent store's current applied state.
package queryserver

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/executive"
	"github.com/Alalun/catena/internal/node"
	"github.com/Alalun/catena/internal/replay"
	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqlparse"
	"github.com/Alalun/catena/internal/txn"
)

// request is the single JSON line a connection sends. Username is a hex
// public key, or "random" for an ephemeral identity generated per request
// (valid only for statements that don't need to be resubmitted under the
// same counter later).
type request struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Database  string `json:"database"`
	Statement string `json:"statement"`
}

type columnsMessage struct {
	Columns []string `json:"columns"`
}

type rowMessage struct {
	Row executive.Row `json:"row"`
}

type completionMessage struct {
	OK           bool   `json:"ok"`
	Error        string `json:"error,omitempty"`
	RowsAffected int64  `json:"rowsAffected,omitempty"`
	Accepted     string `json:"accepted,omitempty"`
}

// Server is the query endpoint. One Engine executes read-only statements
// against the permanent store; mutating statements go through the node's
// mempool like any other transaction.
type Server struct {
	store  *replay.Store
	engine *executive.Engine
	node   *node.Node
}

// New returns a query server reading/writing store's backend and
// submitting mutating statements to n's mempool.
func New(store *replay.Store, n *node.Node) *Server {
	return &Server{store: store, engine: executive.New(store.DB()), node: n}
}

// Serve accepts connections on addr until ctx is done.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("queryserver: listen %s: %w", addr, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts connections on ln until ctx is done, closing ln on
// the way out. Exposed separately from Serve so callers (and tests) that
// need the bound address — e.g. a ":0" listener — can open it themselves.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	defer ln.Close()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("queryserver: accept: %w", err)
		}
		go s.handle(ctx, conn)
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	if !scanner.Scan() {
		return
	}
	var req request
	if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
		s.fail(conn, fmt.Errorf("malformed request: %w", err))
		return
	}
	if err := s.process(ctx, conn, req); err != nil {
		s.fail(conn, err)
	}
}

func (s *Server) process(ctx context.Context, conn net.Conn, req request) error {
	kp, err := resolveIdentity(req.Username, req.Password)
	if err != nil {
		return err
	}
	stmt, err := sqlparse.Parse(req.Statement)
	if err != nil {
		return err
	}
	if sqlast.IsMutating(stmt) {
		return s.submitTransaction(ctx, conn, kp, req.Database, stmt)
	}
	return s.runRead(ctx, conn, kp, req.Database, stmt)
}

func resolveIdentity(username, password string) (*catenacrypto.KeyPair, error) {
	if username == "random" {
		return catenacrypto.GenerateKeyPair()
	}
	kp, err := catenacrypto.KeyPairFromHex(password)
	if err != nil {
		return nil, fmt.Errorf("invalid password: %w", err)
	}
	if hex.EncodeToString(kp.Public) != username {
		return nil, fmt.Errorf("username does not match password-derived public key")
	}
	return kp, nil
}

func (s *Server) submitTransaction(ctx context.Context, conn net.Conn, kp *catenacrypto.KeyPair, database string, stmt sqlast.Statement) error {
	invoker := kp.Public.Identity()
	counter, err := s.store.DB().UserCounter(ctx, invoker[:])
	if err != nil {
		return err
	}
	tx := txn.New(kp, database, uint64(counter+1), stmt)
	s.node.Mempool.Add(tx)
	return s.writeJSON(conn, completionMessage{OK: true, Accepted: hex.EncodeToString(tx.Signature)})
}

func (s *Server) runRead(ctx context.Context, conn net.Conn, kp *catenacrypto.KeyPair, database string, stmt sqlast.Statement) error {
	execCtx := executive.Context{Database: database, Invoker: kp.Public.Identity()}
	if longest := s.node.Ledger.Longest(); longest != nil {
		head := longest.Head()
		execCtx.Block = executive.BlockContext{
			Height:            head.Header.Index,
			Signature:         head.Signature[:],
			PreviousSignature: head.Header.Previous[:],
			Miner:             head.Header.Miner,
			Timestamp:         int64(head.Header.Timestamp),
		}
	}

	result, err := s.engine.Execute(ctx, execCtx, stmt, false)
	if err != nil {
		return err
	}
	if err := s.writeJSON(conn, columnsMessage{Columns: result.Columns}); err != nil {
		return err
	}
	for _, row := range result.Rows {
		if err := s.writeJSON(conn, rowMessage{Row: row}); err != nil {
			return err
		}
	}
	return s.writeJSON(conn, completionMessage{OK: true, RowsAffected: result.RowsAffected})
}

func (s *Server) fail(conn net.Conn, err error) {
	logrus.WithError(err).Warn("queryserver: request failed")
	_ = s.writeJSON(conn, completionMessage{OK: false, Error: err.Error()})
}

func (s *Server) writeJSON(conn net.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = conn.Write(append(b, '\n'))
	return err
}
