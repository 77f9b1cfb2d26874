package node

import (
	"testing"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlparse"
	"github.com/Alalun/catena/internal/txn"
)

func mustTx(t *testing.T, counter uint64) *txn.Transaction {
	t.Helper()
	kp, err := catenacrypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	stmt, err := sqlparse.Parse("CREATE DATABASE shop;")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return txn.New(kp, "", counter, stmt)
}

func TestMempoolDrainRespectsMax(t *testing.T) {
	m := &Mempool{}
	for i := uint64(0); i < 3; i++ {
		m.Add(mustTx(t, i))
	}
	if m.Len() != 3 {
		t.Fatalf("expected 3 pending, got %d", m.Len())
	}
	first := m.Drain(2)
	if len(first) != 2 {
		t.Fatalf("expected 2 drained, got %d", len(first))
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", m.Len())
	}
	rest := m.Drain(0)
	if len(rest) != 1 {
		t.Fatalf("expected 1 drained with max<=0, got %d", len(rest))
	}
	if m.Len() != 0 {
		t.Fatalf("expected mempool empty after full drain")
	}
}
