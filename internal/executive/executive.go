// Package executive authorizes and runs a statement against a backend
// database: the authorize/dispatch algorithm and the static post-rewrite
// verifier.
package executive

import (
	"context"
	"fmt"
	"strings"

	"github.com/Alalun/catena/internal/grants"
	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqldialect"
	"github.com/Alalun/catena/internal/sqlvisit"
	"github.com/Alalun/catena/internal/storage"
)

// Engine executes authorized statements against one backend database.
type Engine struct {
	db     *storage.DB
	grants *grants.Engine
}

// New returns an Engine backed by db, with its own grants lookup.
func New(db *storage.DB) *Engine {
	return &Engine{db: db, grants: grants.New(db)}
}

// Execute authorizes and runs s under execCtx, inheriting templateGranted
// from an enclosing IF/block (false at the top level of a transaction).
func (e *Engine) Execute(ctx context.Context, execCtx Context, s sqlast.Statement, templateGranted bool) (*Result, error) {
	if sqlast.RequiresDatabaseContext(s) && execCtx.Database == "" {
		return nil, fmt.Errorf("%w", ErrRequiresDatabaseContext)
	}

	granted, err := e.grants.TemplateGranted(ctx, execCtx.Invoker, s, execCtx.Database)
	if err != nil {
		return nil, err
	}
	templateGranted = templateGranted || granted

	if !templateGranted {
		privs := sqlast.RequiredPrivileges(s)
		switch s.(type) {
		case *sqlast.Grant, *sqlast.Revoke:
			// The database owner may grant and revoke without a grant row.
			owner, err := e.db.DatabaseOwner(ctx, execCtx.Database)
			if err != nil {
				return nil, err
			}
			if owner != nil && string(owner) == string(execCtx.Invoker[:]) {
				privs = nil
			}
		}
		if len(privs) > 0 {
			ok, err := e.grants.Check(ctx, execCtx.Invoker, privs, execCtx.Database)
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w", ErrPrivilegeRequired)
			}
		}
	}

	return e.dispatch(ctx, execCtx, s, templateGranted)
}

func (e *Engine) dispatch(ctx context.Context, execCtx Context, s sqlast.Statement, templateGranted bool) (*Result, error) {
	switch n := s.(type) {
	case *sqlast.Fail:
		return nil, fmt.Errorf("%w", ErrExecutionFailed)

	case *sqlast.If:
		for _, br := range n.Branches {
			truthy, err := e.evalCondition(ctx, execCtx, br.Condition)
			if err != nil {
				return nil, err
			}
			if truthy {
				if !sqlast.IsMutating(br.Then) {
					return nil, fmt.Errorf("%w: IF branch must be mutating", ErrExecutionFailed)
				}
				return e.Execute(ctx, execCtx, br.Then, templateGranted)
			}
		}
		if n.Else != nil {
			return e.Execute(ctx, execCtx, n.Else, templateGranted)
		}
		return nil, fmt.Errorf("%w", ErrExecutionFailed)

	case *sqlast.Block:
		var last *Result
		for _, stmt := range n.Statements {
			r, err := e.Execute(ctx, execCtx, stmt, templateGranted)
			if err != nil {
				return nil, err
			}
			last = r
		}
		return last, nil

	case *sqlast.CreateDatabase:
		return e.createDatabase(ctx, execCtx, n)

	case *sqlast.DropDatabase:
		return e.dropDatabase(ctx, execCtx, n)

	case *sqlast.Grant:
		if err := e.grants.Grant(ctx, execCtx.Database, *n); err != nil {
			return nil, err
		}
		return &Result{}, nil

	case *sqlast.Revoke:
		if err := e.grants.Revoke(ctx, execCtx.Database, *n); err != nil {
			return nil, err
		}
		return &Result{}, nil

	case *sqlast.Describe:
		return e.describe(ctx, execCtx, n)

	case *sqlast.Show:
		return e.show(ctx, execCtx, n)

	default:
		return e.runBackend(ctx, execCtx, s)
	}
}

// evalCondition evaluates an IF branch condition as
// `SELECT CASE WHEN cond THEN 1 ELSE 0 END` through the backend visitor.
func (e *Engine) evalCondition(ctx context.Context, execCtx Context, cond sqlast.Expr) (bool, error) {
	probe := &sqlast.Select{
		Columns: []sqlast.Expr{sqlast.Case{
			Whens: []sqlast.WhenClause{{Condition: cond, Result: sqlast.LiteralInt{Value: 1}}},
			Else:  sqlast.LiteralInt{Value: 0},
		}},
	}
	res, err := e.runBackend(ctx, execCtx, probe)
	if err != nil {
		return false, err
	}
	if len(res.Rows) != 1 {
		return false, fmt.Errorf("%w: condition probe returned no row", ErrExecutionFailed)
	}
	for _, v := range res.Rows[0] {
		n, ok := v.(int64)
		return ok && n != 0, nil
	}
	return false, nil
}

func (e *Engine) createDatabase(ctx context.Context, execCtx Context, n *sqlast.CreateDatabase) (*Result, error) {
	owner, err := e.db.DatabaseOwner(ctx, n.Name)
	if err != nil {
		return nil, err
	}
	if owner != nil {
		return nil, fmt.Errorf("%w: %q", ErrDatabaseAlreadyExists, n.Name)
	}
	if err := e.db.CreateDatabaseRecord(ctx, n.Name, append([]byte(nil), execCtx.Invoker[:]...)); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Engine) dropDatabase(ctx context.Context, execCtx Context, n *sqlast.DropDatabase) (*Result, error) {
	owner, err := e.db.DatabaseOwner(ctx, n.Name)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, fmt.Errorf("%w: %q", ErrDatabaseDoesNotExist, n.Name)
	}
	if string(owner) != string(execCtx.Invoker[:]) {
		return nil, fmt.Errorf("%w", ErrPrivilegeRequired)
	}
	tables, err := e.db.ListBackendTablesForDatabase(ctx, n.Name)
	if err != nil {
		return nil, err
	}
	if len(tables) > 0 {
		return nil, fmt.Errorf("%w: %q", ErrDatabaseNotEmpty, n.Name)
	}
	if err := e.db.DeleteDatabaseRecord(ctx, n.Name); err != nil {
		return nil, err
	}
	return &Result{}, nil
}

func (e *Engine) describe(ctx context.Context, execCtx Context, n *sqlast.Describe) (*Result, error) {
	backendTable := execCtx.Database + "$" + n.Table
	ok, err := e.db.TableExists(ctx, backendTable)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableDoesNotExist, n.Table)
	}
	cols, err := e.db.TableColumns(ctx, backendTable)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(cols))
	for _, c := range cols {
		if c.Name == "$rowid" || c.Name == "$oid" {
			continue
		}
		rows = append(rows, Row{"column": unmangleColumn(c.Name), "type": c.Type})
	}
	return &Result{Columns: []string{"column", "type"}, Rows: rows}, nil
}

func (e *Engine) show(ctx context.Context, execCtx Context, n *sqlast.Show) (*Result, error) {
	switch n.Kind {
	case sqlast.ShowTables:
		names, err := e.db.ListBackendTablesForDatabase(ctx, execCtx.Database)
		if err != nil {
			return nil, err
		}
		rows := make([]Row, len(names))
		for i, name := range names {
			rows[i] = Row{"table": unmangleColumn(name)}
		}
		return &Result{Columns: []string{"table"}, Rows: rows}, nil

	case sqlast.ShowDatabases:
		var names []string
		var err error
		if n.For != nil {
			names, err = e.db.ListDatabasesForOwner(ctx, n.For)
		} else {
			names, err = e.db.ListDatabases(ctx)
		}
		if err != nil {
			return nil, err
		}
		rows := make([]Row, len(names))
		for i, name := range names {
			rows[i] = Row{"database": name}
		}
		return &Result{Columns: []string{"database"}, Rows: rows}, nil

	case sqlast.ShowGrants:
		records, err := e.grants.List(ctx, execCtx.Database)
		if err != nil {
			return nil, err
		}
		rows := make([]Row, len(records))
		for i, g := range records {
			rows[i] = Row{"user": g.User, "kind": g.Kind, "table": g.Table}
		}
		return &Result{Columns: []string{"user", "kind", "table"}, Rows: rows}, nil

	case sqlast.ShowAll:
		tables, err := e.show(ctx, execCtx, &sqlast.Show{Kind: sqlast.ShowTables})
		if err != nil {
			return nil, err
		}
		databases, err := e.show(ctx, execCtx, &sqlast.Show{Kind: sqlast.ShowDatabases})
		if err != nil {
			return nil, err
		}
		grants, err := e.show(ctx, execCtx, &sqlast.Show{Kind: sqlast.ShowGrants})
		if err != nil {
			return nil, err
		}
		return &Result{
			Columns: []string{"tables", "databases", "grants"},
			Rows: []Row{
				{"tables": tables.Rows, "databases": databases.Rows, "grants": grants.Rows},
			},
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown SHOW kind %q", ErrExecutionFailed, n.Kind)
	}
}

// runBackend rewrites s for the relational backend, verifies it statically,
// renders it to backend SQL, and executes it.
func (e *Engine) runBackend(ctx context.Context, execCtx Context, s sqlast.Statement) (*Result, error) {
	bv := sqlvisit.NewBackendVisitor(execCtx.Database, execCtx.Variables())
	rewritten, err := sqlvisit.Walk(s, bv)
	if err != nil {
		return nil, err
	}
	if err := verify(ctx, e.db, rewritten); err != nil {
		return nil, err
	}
	query := sqldialect.Render(rewritten, sqldialect.Backend)

	if _, ok := rewritten.(*sqlast.Select); ok {
		rows, err := e.db.Perform(ctx, strings.TrimSuffix(query, ";"))
		if err != nil {
			return nil, err
		}
		return scanResult(rows)
	}

	res, err := e.db.Exec(ctx, strings.TrimSuffix(query, ";"))
	if err != nil {
		return nil, err
	}
	affected, _ := res.RowsAffected()
	return &Result{RowsAffected: affected}, nil
}

func unmangleColumn(name string) string {
	switch name {
	case "$rowid":
		return "rowid"
	case "$oid":
		return "oid"
	}
	if strings.HasPrefix(name, "esc_sqlite_") {
		return "sqlite_" + name[len("esc_sqlite_"):]
	}
	return name
}
