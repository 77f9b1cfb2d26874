package executive

import (
	"context"
	"fmt"

	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/storage"
)

// verify runs the static checks required before a rewritten (backend-dialect)
// statement is handed to the backend: table/column existence, duplicate
// columns in an INSERT, and a safety-net scan for any variable or parameter
// the backend visitor should already have resolved. Table/column names here
// are the already-mangled backend names (e.g. "shop$orders", "$rowid").
func verify(ctx context.Context, db *storage.DB, s sqlast.Statement) error {
	switch n := s.(type) {
	case *sqlast.Select:
		return verifySelect(ctx, db, n)
	case *sqlast.Insert:
		if err := requireColumnsExist(ctx, db, n.Table, n.Columns); err != nil {
			return err
		}
		seen := make(map[string]bool, len(n.Columns))
		for _, c := range n.Columns {
			if seen[c] {
				return fmt.Errorf("%w: column %q repeated in INSERT column list", ErrInconsistentColumns, c)
			}
			seen[c] = true
		}
		for _, row := range n.Rows {
			for _, v := range row {
				if err := verifyExpr(ctx, db, n.Table, v); err != nil {
					return err
				}
			}
		}
		return nil
	case *sqlast.Update:
		cols := n.Set.Keys()
		if err := requireColumnsExist(ctx, db, n.Table, cols); err != nil {
			return err
		}
		for _, p := range n.Set.Pairs() {
			if err := verifyExpr(ctx, db, n.Table, p.Value.(sqlast.Expr)); err != nil {
				return err
			}
		}
		if n.Where != nil {
			return verifyExpr(ctx, db, n.Table, n.Where)
		}
		return nil
	case *sqlast.Delete:
		if ok, err := db.TableExists(ctx, n.Table); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %q", ErrTableDoesNotExist, n.Table)
		}
		if n.Where != nil {
			return verifyExpr(ctx, db, n.Table, n.Where)
		}
		return nil
	case *sqlast.CreateTable:
		ok, err := db.TableExists(ctx, n.Table)
		if err != nil {
			return err
		}
		if ok {
			return fmt.Errorf("%w: %q", ErrTableAlreadyExists, n.Table)
		}
		seen := make(map[string]bool, len(n.Columns))
		for _, c := range n.Columns {
			if seen[c.Name] {
				return fmt.Errorf("%w: column %q repeated in CREATE TABLE", ErrInconsistentColumns, c.Name)
			}
			seen[c.Name] = true
		}
		return nil
	case *sqlast.DropTable:
		ok, err := db.TableExists(ctx, n.Table)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %q", ErrTableDoesNotExist, n.Table)
		}
		return nil
	default:
		return nil
	}
}

func verifySelect(ctx context.Context, db *storage.DB, s *sqlast.Select) error {
	if s.From != "" {
		if ok, err := db.TableExists(ctx, s.From); err != nil {
			return err
		} else if !ok {
			return fmt.Errorf("%w: %q", ErrTableDoesNotExist, s.From)
		}
		for _, j := range s.Joins {
			if ok, err := db.TableExists(ctx, j.Table); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("%w: %q", ErrTableDoesNotExist, j.Table)
			}
			if err := verifyExpr(ctx, db, s.From, j.On); err != nil {
				return err
			}
		}
	}
	for _, c := range s.Columns {
		if err := verifyExpr(ctx, db, s.From, c); err != nil {
			return err
		}
	}
	if s.Where != nil {
		if err := verifyExpr(ctx, db, s.From, s.Where); err != nil {
			return err
		}
	}
	for _, t := range s.OrderBy {
		if err := verifyExpr(ctx, db, s.From, t.Expr); err != nil {
			return err
		}
	}
	return nil
}

// verifyExpr recursively checks an expression tree against table, the
// current statement's table (so an unqualified Column resolves the same
// way a qualified one does): column references resolve to real columns,
// subqueries are verified recursively, and no Variable/UnboundParameter/
// BoundParameter survives — the backend visitor must have already
// resolved every one of them.
func verifyExpr(ctx context.Context, db *storage.DB, table string, e sqlast.Expr) error {
	switch n := e.(type) {
	case sqlast.Variable, sqlast.UnboundParameter, sqlast.BoundParameter:
		return fmt.Errorf("%w: %v", ErrUnresolvedPlaceholder, n)
	case sqlast.Column:
		if n.Table != "" {
			return requireColumnsExist(ctx, db, n.Table, []string{n.Name})
		}
		if table == "" {
			return nil
		}
		return requireColumnsExist(ctx, db, table, []string{n.Name})
	case sqlast.Unary:
		return verifyExpr(ctx, db, table, n.Operand)
	case sqlast.Binary:
		if err := verifyExpr(ctx, db, table, n.Left); err != nil {
			return err
		}
		if n.Right != nil {
			return verifyExpr(ctx, db, table, n.Right)
		}
		return nil
	case sqlast.Call:
		for _, a := range n.Args {
			if err := verifyExpr(ctx, db, table, a); err != nil {
				return err
			}
		}
		return nil
	case sqlast.Case:
		for _, w := range n.Whens {
			if err := verifyExpr(ctx, db, table, w.Condition); err != nil {
				return err
			}
			if err := verifyExpr(ctx, db, table, w.Result); err != nil {
				return err
			}
		}
		if n.Else != nil {
			return verifyExpr(ctx, db, table, n.Else)
		}
		return nil
	case sqlast.Exists:
		return verifySelect(ctx, db, n.Subquery)
	default:
		return nil
	}
}

func requireColumnsExist(ctx context.Context, db *storage.DB, table string, columns []string) error {
	ok, err := db.TableExists(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %q", ErrTableDoesNotExist, table)
	}
	cols, err := db.TableColumns(ctx, table)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(cols))
	for _, c := range cols {
		known[c.Name] = true
	}
	for _, c := range columns {
		if c == "*" || !known[c] {
			if c == "*" {
				continue
			}
			return fmt.Errorf("%w: %q.%q", ErrColumnDoesNotExist, table, c)
		}
	}
	return nil
}
