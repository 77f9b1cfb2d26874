package grants

import (
	"context"
	"fmt"
	"testing"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqldialect"
	"github.com/Alalun/catena/internal/sqlparse"
	"github.com/Alalun/catena/internal/storage"
)

func openEngine(t *testing.T) (*Engine, *storage.DB) {
	t.Helper()
	db, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func TestGrantThenCheckSucceeds(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var user catenacrypto.Hash
	copy(user[:], "user-hash-bytes-padded-to-32-by")

	if err := e.Grant(ctx, "shop", sqlast.Grant{
		Privilege: sqlast.PrivilegeRef{Kind: sqlast.PrivInsert, Table: "orders"},
		User:      user[:],
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	ok, err := e.Check(ctx, user, []sqlast.PrivilegeRef{{Kind: sqlast.PrivInsert, Table: "orders"}}, "shop")
	if err != nil || !ok {
		t.Fatalf("expected grant to satisfy check, ok=%v err=%v", ok, err)
	}

	var other catenacrypto.Hash
	copy(other[:], "a-totally-different-user-hash!!")
	ok, err = e.Check(ctx, other, []sqlast.PrivilegeRef{{Kind: sqlast.PrivInsert, Table: "orders"}}, "shop")
	if err != nil || ok {
		t.Fatalf("expected unrelated user to not have the grant, ok=%v err=%v", ok, err)
	}
}

func TestPublicGrantCoversAnyUser(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()

	if err := e.Grant(ctx, "shop", sqlast.Grant{
		Privilege: sqlast.PrivilegeRef{Kind: sqlast.PrivCreate},
		Public:    true,
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	var anyone catenacrypto.Hash
	copy(anyone[:], "yet-another-user-hash-goes-here!")
	ok, err := e.Check(ctx, anyone, []sqlast.PrivilegeRef{{Kind: sqlast.PrivCreate}}, "shop")
	if err != nil || !ok {
		t.Fatalf("expected public grant to cover anyone, ok=%v err=%v", ok, err)
	}
}

func TestNeverPrivilegeIsNeverSatisfied(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var anyone catenacrypto.Hash

	ok, err := e.Check(ctx, anyone, []sqlast.PrivilegeRef{{Kind: sqlast.PrivNever}}, "shop")
	if err != nil || ok {
		t.Fatalf("expected never-kind to never be satisfied, ok=%v err=%v", ok, err)
	}
}

func TestTemplateGrantedMatchesExactTemplateShape(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var user catenacrypto.Hash
	copy(user[:], "user-hash-bytes-padded-to-32-by")

	stmt, err := sqlparse.Parse("INSERT INTO orders(x) VALUES (?amount);")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	granted, err := e.TemplateGranted(ctx, user, stmt, "shop")
	if err != nil || granted {
		t.Fatalf("expected no template grant yet, granted=%v err=%v", granted, err)
	}

	hash := fmt.Sprintf("%x", sqldialect.TemplateHash(stmt))
	if err := e.Grant(ctx, "shop", sqlast.Grant{
		Privilege: sqlast.PrivilegeRef{Kind: sqlast.PrivTemplate, Table: hash},
		User:      user[:],
	}); err != nil {
		t.Fatalf("Grant: %v", err)
	}

	granted, err = e.TemplateGranted(ctx, user, stmt, "shop")
	if err != nil || !granted {
		t.Fatalf("expected template grant to match, granted=%v err=%v", granted, err)
	}

	// A statement with a differently-bound literal but the same shape still
	// matches: the template hash is computed over the unbound form.
	stmt2, err := sqlparse.Parse("INSERT INTO orders(x) VALUES (?amount:99);")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	granted, err = e.TemplateGranted(ctx, user, stmt2, "shop")
	if err != nil || !granted {
		t.Fatalf("expected same-shape statement to match template grant, granted=%v err=%v", granted, err)
	}
}

func TestRevokeRemovesGrant(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var user catenacrypto.Hash
	copy(user[:], "user-hash-bytes-padded-to-32-by")

	g := sqlast.Grant{Privilege: sqlast.PrivilegeRef{Kind: sqlast.PrivDrop, Table: "orders"}, User: user[:]}
	if err := e.Grant(ctx, "shop", g); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	if err := e.Revoke(ctx, "shop", sqlast.Revoke{Privilege: g.Privilege, User: user[:]}); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	ok, err := e.Check(ctx, user, []sqlast.PrivilegeRef{g.Privilege}, "shop")
	if err != nil || ok {
		t.Fatalf("expected grant to be revoked, ok=%v err=%v", ok, err)
	}
}
