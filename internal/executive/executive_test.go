package executive

import (
	"context"
	"errors"
	"testing"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlast"
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

func parseOne(t *testing.T, src string) sqlast.Statement {
	t.Helper()
	s, err := sqlparse.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return s
}

func TestCreateTableRequiresGrantEvenForDatabaseOwner(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")

	dbCtx := Context{Invoker: root}
	if _, err := e.Execute(ctx, dbCtx, parseOne(t, "CREATE DATABASE shop;"), false); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}

	shopCtx := Context{Database: "shop", Invoker: root}
	if _, err := e.Execute(ctx, shopCtx, parseOne(t, "CREATE TABLE test(x INT);"), false); err == nil {
		t.Fatalf("expected CREATE TABLE to require a privilege, since the owner is special-cased only for database and grant statements")
	} else if !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("expected ErrPrivilegeRequired, got %v", err)
	}

	if _, err := e.Execute(ctx, shopCtx, parseOne(t, "GRANT create ON test TO NULL;"), false); err != nil {
		t.Fatalf("GRANT create: %v", err)
	}
	if _, err := e.Execute(ctx, shopCtx, parseOne(t, "CREATE TABLE test(x INT);"), false); err != nil {
		t.Fatalf("CREATE TABLE after grant: %v", err)
	}
}

func TestGrantInsertThenInsertAndSelect(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root, user catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")
	copy(user[:], "some-other-user-hash-32-bytes!!!")

	rootCtx := Context{Database: "shop", Invoker: root}
	if _, err := e.Execute(ctx, Context{Invoker: root}, parseOne(t, "CREATE DATABASE shop;"), false); err != nil {
		t.Fatalf("CREATE DATABASE: %v", err)
	}
	if _, err := e.Execute(ctx, rootCtx, parseOne(t, "GRANT create ON test TO NULL;"), false); err != nil {
		t.Fatalf("GRANT create: %v", err)
	}
	if _, err := e.Execute(ctx, rootCtx, parseOne(t, "CREATE TABLE test(x INT);"), false); err != nil {
		t.Fatalf("CREATE TABLE: %v", err)
	}
	if _, err := e.Execute(ctx, rootCtx, parseOne(t, "GRANT insert ON test TO X'"+hexOf(user)+"';"), false); err != nil {
		t.Fatalf("GRANT insert: %v", err)
	}

	userCtx := Context{Database: "shop", Invoker: user}
	if _, err := e.Execute(ctx, userCtx, parseOne(t, "INSERT INTO test(x) VALUES (42);"), false); err != nil {
		t.Fatalf("INSERT: %v", err)
	}

	res, err := e.Execute(ctx, userCtx, parseOne(t, "SELECT x FROM test;"), false)
	if err != nil {
		t.Fatalf("SELECT: %v", err)
	}
	if len(res.Rows) != 1 || res.Rows[0]["x"] != int64(42) {
		t.Fatalf("expected one row with x=42, got %+v", res.Rows)
	}
}

func TestPrivilegeIsolationBlocksDropWithoutGrant(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root, user catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")
	copy(user[:], "some-other-user-hash-32-bytes!!!")

	rootCtx := Context{Database: "shop", Invoker: root}
	e.Execute(ctx, Context{Invoker: root}, parseOne(t, "CREATE DATABASE shop;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT create ON test TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "CREATE TABLE test(x INT);"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT insert ON test TO X'"+hexOf(user)+"';"), false)

	userCtx := Context{Database: "shop", Invoker: user}
	_, err := e.Execute(ctx, userCtx, parseOne(t, "DROP TABLE test;"), false)
	if !errors.Is(err, ErrPrivilegeRequired) {
		t.Fatalf("expected ErrPrivilegeRequired, got %v", err)
	}
}

func TestRequiresDatabaseContextForMutatingStatementOutsideDatabase(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")

	_, err := e.Execute(ctx, Context{Invoker: root}, parseOne(t, "INSERT INTO test(x) VALUES (1);"), false)
	if !errors.Is(err, ErrRequiresDatabaseContext) {
		t.Fatalf("expected ErrRequiresDatabaseContext, got %v", err)
	}
}

func TestIfDispatchesTruthyBranchAndRequiresMutatingThen(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")

	rootCtx := Context{Database: "shop", Invoker: root}
	e.Execute(ctx, Context{Invoker: root}, parseOne(t, "CREATE DATABASE shop;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT create ON test TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "CREATE TABLE test(x INT);"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT insert ON test TO NULL;"), false)

	_, err := e.Execute(ctx, rootCtx, parseOne(t, "IF 1 = 1 THEN INSERT INTO test(x) VALUES (7); END;"), false)
	if err != nil {
		t.Fatalf("IF with truthy branch: %v", err)
	}

	res, err := e.Execute(ctx, rootCtx, parseOne(t, "SELECT x FROM test;"), false)
	if err != nil || len(res.Rows) != 1 {
		t.Fatalf("expected one row after IF insert, got %+v err=%v", res, err)
	}
}

func TestDoBlockRunsCreateTableAndDropTable(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")

	rootCtx := Context{Database: "shop", Invoker: root}
	e.Execute(ctx, Context{Invoker: root}, parseOne(t, "CREATE DATABASE shop;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT create ON scratch TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT drop ON scratch TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT insert ON scratch TO NULL;"), false)

	_, err := e.Execute(ctx, rootCtx, parseOne(t, "DO CREATE TABLE scratch(y INT); INSERT INTO scratch(y) VALUES (3); DROP TABLE scratch; END;"), false)
	if err != nil {
		t.Fatalf("DO block with CREATE/DROP: %v", err)
	}

	_, err = e.Execute(ctx, rootCtx, parseOne(t, "SELECT y FROM scratch;"), false)
	if err == nil {
		t.Fatalf("expected scratch to no longer exist after DROP TABLE inside the DO block")
	}
}

func TestSelectRejectsUnqualifiedColumnThatDoesNotExist(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")

	rootCtx := Context{Database: "shop", Invoker: root}
	e.Execute(ctx, Context{Invoker: root}, parseOne(t, "CREATE DATABASE shop;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT create ON test TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "CREATE TABLE test(x INT);"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT insert ON test TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "INSERT INTO test(x) VALUES (1);"), false)

	if _, err := e.Execute(ctx, rootCtx, parseOne(t, "SELECT x FROM test;"), false); err != nil {
		t.Fatalf("expected an existing unqualified column to be accepted: %v", err)
	}

	_, err := e.Execute(ctx, rootCtx, parseOne(t, "SELECT y FROM test;"), false)
	if !errors.Is(err, ErrColumnDoesNotExist) {
		t.Fatalf("expected ErrColumnDoesNotExist for unqualified column y, got %v", err)
	}

	_, err = e.Execute(ctx, rootCtx, parseOne(t, "SELECT x FROM test WHERE y = 1;"), false)
	if !errors.Is(err, ErrColumnDoesNotExist) {
		t.Fatalf("expected ErrColumnDoesNotExist for unqualified column y in WHERE, got %v", err)
	}
}

func TestUpdateRejectsUnqualifiedColumnThatDoesNotExist(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	var root catenacrypto.Hash
	copy(root[:], "root-hash-padded-to-32-bytes!!!!")

	rootCtx := Context{Database: "shop", Invoker: root}
	e.Execute(ctx, Context{Invoker: root}, parseOne(t, "CREATE DATABASE shop;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT create ON test TO NULL;"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "CREATE TABLE test(x INT);"), false)
	e.Execute(ctx, rootCtx, parseOne(t, "GRANT update ON test TO NULL;"), false)

	_, err := e.Execute(ctx, rootCtx, parseOne(t, "UPDATE test SET x = 1 WHERE y = 1;"), false)
	if !errors.Is(err, ErrColumnDoesNotExist) {
		t.Fatalf("expected ErrColumnDoesNotExist for unqualified column y in WHERE, got %v", err)
	}
}

func TestFailStatementAlwaysExecutionFailed(t *testing.T) {
	e, _ := openEngine(t)
	ctx := context.Background()
	_, err := e.Execute(ctx, Context{Invoker: catenacrypto.Hash{}}, parseOne(t, "FAIL;"), false)
	if !errors.Is(err, ErrExecutionFailed) {
		t.Fatalf("expected ErrExecutionFailed, got %v", err)
	}
}

func hexOf(h catenacrypto.Hash) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(h)*2)
	for i, b := range h {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0f]
	}
	return string(out)
}
