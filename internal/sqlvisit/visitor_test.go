package sqlvisit

import (
	"errors"
	"testing"

	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqldialect"
	"github.com/Alalun/catena/internal/sqlparse"
)

func parse(t *testing.T, src string) sqlast.Statement {
	t.Helper()
	s, err := sqlparse.Parse(src)
	if err != nil {
		t.Fatalf("Parse(%q): %v", src, err)
	}
	return s
}

func TestFrontendVisitorResolvesVersionAndUUID(t *testing.T) {
	stmt := parse(t, "INSERT INTO log(v, id) VALUES (version(), uuid());")
	rewritten, err := ResolveFrontendMacros(stmt)
	if err != nil {
		t.Fatalf("ResolveFrontendMacros: %v", err)
	}
	ins := rewritten.(*sqlast.Insert)
	if _, ok := ins.Rows[0][0].(sqlast.LiteralString); !ok {
		t.Fatalf("expected version() to resolve to a literal, got %T", ins.Rows[0][0])
	}
	if _, ok := ins.Rows[0][1].(sqlast.LiteralString); !ok {
		t.Fatalf("expected uuid() to resolve to a literal, got %T", ins.Rows[0][1])
	}
}

func TestBackendVisitorRewritesTableAndRowid(t *testing.T) {
	stmt := parse(t, "SELECT rowid, a FROM accounts WHERE a = 1;")
	v := NewBackendVisitor("mydb", nil)
	rewritten, err := sqlvisitWalk(t, stmt, v)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sel := rewritten.(*sqlast.Select)
	if sel.From != "mydb$accounts" {
		t.Fatalf("expected renamed table, got %q", sel.From)
	}
	col := sel.Columns[0].(sqlast.Column)
	if col.Name != "$rowid" {
		t.Fatalf("expected $rowid, got %q", col.Name)
	}
}

func TestBackendVisitorRejectsUnboundParameter(t *testing.T) {
	stmt := parse(t, "INSERT INTO t(a) VALUES (?x);")
	v := NewBackendVisitor("db", nil)
	_, err := sqlvisitWalk(t, stmt, v)
	if !errors.Is(err, ErrUnboundParameter) {
		t.Fatalf("expected ErrUnboundParameter, got %v", err)
	}
}

func TestBackendVisitorRejectsInconsistentParameter(t *testing.T) {
	stmt := parse(t, "INSERT INTO t(a, b) VALUES (?x:1, ?x:2);")
	v := NewBackendVisitor("db", nil)
	_, err := sqlvisitWalk(t, stmt, v)
	if !errors.Is(err, ErrInconsistentParam) {
		t.Fatalf("expected ErrInconsistentParam, got %v", err)
	}
}

func TestBackendVisitorAllowsConsistentParameter(t *testing.T) {
	stmt := parse(t, "INSERT INTO t(a, b) VALUES (?x:5, ?x:5);")
	v := NewBackendVisitor("db", nil)
	rewritten, err := sqlvisitWalk(t, stmt, v)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	ins := rewritten.(*sqlast.Insert)
	a := ins.Rows[0][0].(sqlast.LiteralInt)
	b := ins.Rows[0][1].(sqlast.LiteralInt)
	if a.Value != 5 || b.Value != 5 {
		t.Fatalf("expected both bound to 5, got %v %v", a.Value, b.Value)
	}
}

func TestBackendVisitorResolvesVariable(t *testing.T) {
	stmt := parse(t, "SELECT 1 FROM t WHERE a = $invoker;")
	v := NewBackendVisitor("db", map[string]sqlast.Expr{"invoker": sqlast.LiteralBlob{Value: []byte{1, 2, 3}}})
	rewritten, err := sqlvisitWalk(t, stmt, v)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sel := rewritten.(*sqlast.Select)
	bin := sel.Where.(sqlast.Binary)
	if _, ok := bin.Right.(sqlast.LiteralBlob); !ok {
		t.Fatalf("expected variable to resolve to a literal blob, got %T", bin.Right)
	}
}

func TestBackendVisitorRejectsUnknownVariable(t *testing.T) {
	stmt := parse(t, "SELECT 1 FROM t WHERE a = $missing;")
	v := NewBackendVisitor("db", nil)
	_, err := sqlvisitWalk(t, stmt, v)
	if !errors.Is(err, ErrUnknownVariable) {
		t.Fatalf("expected ErrUnknownVariable, got %v", err)
	}
}

func TestBackendVisitorRejectsNonWhitelistedFunction(t *testing.T) {
	stmt := parse(t, "SELECT UPPER(a) FROM t;")
	v := NewBackendVisitor("db", nil)
	_, err := sqlvisitWalk(t, stmt, v)
	if !errors.Is(err, ErrFunctionNotAllowed) {
		t.Fatalf("expected ErrFunctionNotAllowed, got %v", err)
	}
}

func TestBackendVisitorEscapesReservedPrefix(t *testing.T) {
	stmt := parse(t, "SELECT 1 FROM sqlite_master;")
	v := NewBackendVisitor("db", nil)
	rewritten, err := sqlvisitWalk(t, stmt, v)
	if err != nil {
		t.Fatalf("Walk: %v", err)
	}
	sel := rewritten.(*sqlast.Select)
	if sel.From != "db$esc_sqlite_master" {
		t.Fatalf("unexpected escaped table name: %q", sel.From)
	}
}

func sqlvisitWalk(t *testing.T, s sqlast.Statement, v Visitor) (sqlast.Statement, error) {
	t.Helper()
	rewritten, err := Walk(s, v)
	if err != nil {
		return nil, err
	}
	_ = sqldialect.Render(rewritten, sqldialect.Backend)
	return rewritten, nil
}
