// Package sqlvisit walks and rewrites a sqlast tree. Two concrete visitors
// are used by core: the frontend visitor resolves client-side macros before
// a transaction is signed, and the backend visitor runs at apply time to
// bind variables, enforce parameter discipline, and rename identifiers for
// the relational backend.
package sqlvisit

import "github.com/Alalun/catena/internal/sqlast"

// Visitor rewrites a statement tree bottom-up. VisitExpr runs on every
// expression node after its children have already been rewritten.
// RenameTable/RenameColumn run on every bare table/column identifier
// encountered while walking a statement.
type Visitor interface {
	VisitExpr(e sqlast.Expr) (sqlast.Expr, error)
	RenameTable(name string) (string, error)
	RenameColumn(name string) (string, error)
}

// Walk rewrites a statement (and everything reachable from it) with v.
func Walk(s sqlast.Statement, v Visitor) (sqlast.Statement, error) {
	switch n := s.(type) {
	case *sqlast.Select:
		return walkSelect(n, v)
	case *sqlast.Insert:
		return walkInsert(n, v)
	case *sqlast.Update:
		return walkUpdate(n, v)
	case *sqlast.Delete:
		return walkDelete(n, v)
	case *sqlast.CreateTable:
		return walkCreateTable(n, v)
	case *sqlast.DropTable:
		table, err := v.RenameTable(n.Table)
		if err != nil {
			return nil, err
		}
		return &sqlast.DropTable{Table: table}, nil
	case *sqlast.CreateIndex:
		return walkCreateIndex(n, v)
	case *sqlast.CreateDatabase:
		out := *n
		return &out, nil
	case *sqlast.DropDatabase:
		out := *n
		return &out, nil
	case *sqlast.Show:
		out := *n
		return &out, nil
	case *sqlast.Describe:
		out := *n
		return &out, nil
	case *sqlast.Grant:
		out := *n
		return &out, nil
	case *sqlast.Revoke:
		out := *n
		return &out, nil
	case *sqlast.If:
		return walkIf(n, v)
	case *sqlast.Block:
		return walkBlock(n, v)
	case *sqlast.Fail:
		out := *n
		return &out, nil
	default:
		return s, nil
	}
}

func walkSelect(n *sqlast.Select, v Visitor) (*sqlast.Select, error) {
	out := &sqlast.Select{Distinct: n.Distinct, Limit: n.Limit}
	cols := make([]sqlast.Expr, len(n.Columns))
	for i, c := range n.Columns {
		e, err := WalkExpr(c, v)
		if err != nil {
			return nil, err
		}
		cols[i] = e
	}
	out.Columns = cols
	if n.From != "" {
		table, err := v.RenameTable(n.From)
		if err != nil {
			return nil, err
		}
		out.From = table
		joins := make([]sqlast.JoinClause, len(n.Joins))
		for i, j := range n.Joins {
			jt, err := v.RenameTable(j.Table)
			if err != nil {
				return nil, err
			}
			on, err := WalkExpr(j.On, v)
			if err != nil {
				return nil, err
			}
			joins[i] = sqlast.JoinClause{Table: jt, On: on}
		}
		out.Joins = joins
		if n.Where != nil {
			w, err := WalkExpr(n.Where, v)
			if err != nil {
				return nil, err
			}
			out.Where = w
		}
		if n.OrderBy != nil {
			terms := make([]sqlast.OrderTerm, len(n.OrderBy))
			for i, t := range n.OrderBy {
				e, err := WalkExpr(t.Expr, v)
				if err != nil {
					return nil, err
				}
				terms[i] = sqlast.OrderTerm{Expr: e, Desc: t.Desc}
			}
			out.OrderBy = terms
		}
	}
	return out, nil
}

func walkInsert(n *sqlast.Insert, v Visitor) (*sqlast.Insert, error) {
	table, err := v.RenameTable(n.Table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		rc, err := v.RenameColumn(c)
		if err != nil {
			return nil, err
		}
		cols[i] = rc
	}
	rows := make([][]sqlast.Expr, len(n.Rows))
	for i, row := range n.Rows {
		r := make([]sqlast.Expr, len(row))
		for j, e := range row {
			we, err := WalkExpr(e, v)
			if err != nil {
				return nil, err
			}
			r[j] = we
		}
		rows[i] = r
	}
	return &sqlast.Insert{Table: table, OrReplace: n.OrReplace, Columns: cols, Rows: rows}, nil
}

func walkUpdate(n *sqlast.Update, v Visitor) (*sqlast.Update, error) {
	table, err := v.RenameTable(n.Table)
	if err != nil {
		return nil, err
	}
	set := sqlast.NewOrderedMap()
	for _, p := range n.Set.Pairs() {
		col, err := v.RenameColumn(p.Key)
		if err != nil {
			return nil, err
		}
		val, err := WalkExpr(p.Value.(sqlast.Expr), v)
		if err != nil {
			return nil, err
		}
		set.Set(col, val)
	}
	out := &sqlast.Update{Table: table, Set: set}
	if n.Where != nil {
		w, err := WalkExpr(n.Where, v)
		if err != nil {
			return nil, err
		}
		out.Where = w
	}
	return out, nil
}

func walkDelete(n *sqlast.Delete, v Visitor) (*sqlast.Delete, error) {
	table, err := v.RenameTable(n.Table)
	if err != nil {
		return nil, err
	}
	out := &sqlast.Delete{Table: table}
	if n.Where != nil {
		w, err := WalkExpr(n.Where, v)
		if err != nil {
			return nil, err
		}
		out.Where = w
	}
	return out, nil
}

func walkCreateTable(n *sqlast.CreateTable, v Visitor) (*sqlast.CreateTable, error) {
	table, err := v.RenameTable(n.Table)
	if err != nil {
		return nil, err
	}
	cols := make([]sqlast.ColumnDef, len(n.Columns))
	for i, c := range n.Columns {
		name, err := v.RenameColumn(c.Name)
		if err != nil {
			return nil, err
		}
		cols[i] = sqlast.ColumnDef{Name: name, Type: c.Type, PrimaryKey: c.PrimaryKey}
	}
	return &sqlast.CreateTable{Table: table, Columns: cols}, nil
}

func walkCreateIndex(n *sqlast.CreateIndex, v Visitor) (*sqlast.CreateIndex, error) {
	table, err := v.RenameTable(n.Table)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(n.Columns))
	for i, c := range n.Columns {
		rc, err := v.RenameColumn(c)
		if err != nil {
			return nil, err
		}
		cols[i] = rc
	}
	return &sqlast.CreateIndex{Name: n.Name, Table: table, Columns: cols}, nil
}

func walkIf(n *sqlast.If, v Visitor) (*sqlast.If, error) {
	out := &sqlast.If{}
	for _, br := range n.Branches {
		cond, err := WalkExpr(br.Condition, v)
		if err != nil {
			return nil, err
		}
		then, err := Walk(br.Then, v)
		if err != nil {
			return nil, err
		}
		out.Branches = append(out.Branches, sqlast.IfBranch{Condition: cond, Then: then})
	}
	if n.Else != nil {
		els, err := Walk(n.Else, v)
		if err != nil {
			return nil, err
		}
		out.Else = els
	}
	return out, nil
}

func walkBlock(n *sqlast.Block, v Visitor) (*sqlast.Block, error) {
	out := &sqlast.Block{}
	for _, stmt := range n.Statements {
		rs, err := Walk(stmt, v)
		if err != nil {
			return nil, err
		}
		out.Statements = append(out.Statements, rs)
	}
	return out, nil
}

// WalkExpr rewrites a single expression bottom-up with v.
func WalkExpr(e sqlast.Expr, v Visitor) (sqlast.Expr, error) {
	switch n := e.(type) {
	case sqlast.Column:
		table := n.Table
		if table != "" {
			rt, err := v.RenameTable(table)
			if err != nil {
				return nil, err
			}
			table = rt
		}
		name, err := v.RenameColumn(n.Name)
		if err != nil {
			return nil, err
		}
		return v.VisitExpr(sqlast.Column{Table: table, Name: name})
	case sqlast.AllColumns:
		table := n.Table
		if table != "" {
			rt, err := v.RenameTable(table)
			if err != nil {
				return nil, err
			}
			table = rt
		}
		return v.VisitExpr(sqlast.AllColumns{Table: table})
	case sqlast.Unary:
		operand, err := WalkExpr(n.Operand, v)
		if err != nil {
			return nil, err
		}
		return v.VisitExpr(sqlast.Unary{Op: n.Op, Operand: operand})
	case sqlast.Binary:
		left, err := WalkExpr(n.Left, v)
		if err != nil {
			return nil, err
		}
		var right sqlast.Expr
		if n.Right != nil {
			right, err = WalkExpr(n.Right, v)
			if err != nil {
				return nil, err
			}
		}
		return v.VisitExpr(sqlast.Binary{Op: n.Op, Left: left, Right: right})
	case sqlast.Call:
		args := make([]sqlast.Expr, len(n.Args))
		for i, a := range n.Args {
			we, err := WalkExpr(a, v)
			if err != nil {
				return nil, err
			}
			args[i] = we
		}
		return v.VisitExpr(sqlast.Call{Name: n.Name, Args: args})
	case sqlast.Case:
		whens := make([]sqlast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			cond, err := WalkExpr(w.Condition, v)
			if err != nil {
				return nil, err
			}
			res, err := WalkExpr(w.Result, v)
			if err != nil {
				return nil, err
			}
			whens[i] = sqlast.WhenClause{Condition: cond, Result: res}
		}
		out := sqlast.Case{Whens: whens}
		if n.Else != nil {
			els, err := WalkExpr(n.Else, v)
			if err != nil {
				return nil, err
			}
			out.Else = els
		}
		return v.VisitExpr(out)
	case sqlast.Exists:
		sub, err := walkSelect(n.Subquery, v)
		if err != nil {
			return nil, err
		}
		return v.VisitExpr(sqlast.Exists{Subquery: sub})
	default:
		return v.VisitExpr(e)
	}
}
