// Package sqldialect renders a sqlast.Statement back to SQL text, either in
// the "standard" dialect (used for template hashing and round-trip tests) or
// the "backend" dialect (used once internal/sqlvisit has rewritten table and
// column names for the relational backend). It also computes template
// hashes.
package sqldialect

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlast"
)

// Dialect names the rendering target. The standard dialect is used for
// canonical signing/hashing text; the backend dialect is used when emitting
// SQL to actually hand to internal/storage. Both render the same text:
// identifiers are written unquoted and no node renders differently by
// dialect.
type Dialect int

const (
	Standard Dialect = iota
	Backend
)

// Render serializes a statement back to SQL text deterministically: the same
// AST always renders to the same bytes ("Canonical
// serialization").
func Render(s sqlast.Statement, d Dialect) string {
	var b strings.Builder
	renderStatement(&b, s, d)
	return b.String()
}

// RenderExpr serializes a single expression.
func RenderExpr(e sqlast.Expr, d Dialect) string {
	var b strings.Builder
	renderExpr(&b, e, d)
	return b.String()
}

func quoteIdent(name string) string {
	return name
}

func renderStatement(b *strings.Builder, s sqlast.Statement, d Dialect) {
	switch n := s.(type) {
	case *sqlast.Select:
		renderSelect(b, n, d)
	case *sqlast.Insert:
		b.WriteString("INSERT ")
		if n.OrReplace {
			b.WriteString("OR REPLACE ")
		}
		b.WriteString("INTO ")
		b.WriteString(quoteIdent(n.Table))
		b.WriteString("(")
		b.WriteString(strings.Join(n.Columns, ", "))
		b.WriteString(") VALUES ")
		rows := make([]string, len(n.Rows))
		for i, row := range n.Rows {
			vals := make([]string, len(row))
			for j, v := range row {
				vals[j] = RenderExpr(v, d)
			}
			rows[i] = "(" + strings.Join(vals, ", ") + ")"
		}
		b.WriteString(strings.Join(rows, ", "))
		b.WriteString(";")
	case *sqlast.Update:
		b.WriteString("UPDATE ")
		b.WriteString(quoteIdent(n.Table))
		b.WriteString(" SET ")
		pairs := n.Set.Pairs()
		parts := make([]string, len(pairs))
		for i, p := range pairs {
			parts[i] = fmt.Sprintf("%s = %s", p.Key, RenderExpr(p.Value.(sqlast.Expr), d))
		}
		b.WriteString(strings.Join(parts, ", "))
		if n.Where != nil {
			b.WriteString(" WHERE ")
			renderExpr(b, n.Where, d)
		}
		b.WriteString(";")
	case *sqlast.Delete:
		b.WriteString("DELETE FROM ")
		b.WriteString(quoteIdent(n.Table))
		if n.Where != nil {
			b.WriteString(" WHERE ")
			renderExpr(b, n.Where, d)
		}
		b.WriteString(";")
	case *sqlast.CreateTable:
		b.WriteString("CREATE TABLE ")
		b.WriteString(quoteIdent(n.Table))
		b.WriteString("(")
		cols := make([]string, len(n.Columns))
		for i, c := range n.Columns {
			col := fmt.Sprintf("%s %s", c.Name, c.Type)
			if c.PrimaryKey {
				col += " PRIMARY KEY"
			}
			cols[i] = col
		}
		b.WriteString(strings.Join(cols, ", "))
		b.WriteString(");")
	case *sqlast.DropTable:
		b.WriteString("DROP TABLE ")
		b.WriteString(quoteIdent(n.Table))
		b.WriteString(";")
	case *sqlast.CreateDatabase:
		b.WriteString("CREATE DATABASE ")
		b.WriteString(quoteIdent(n.Name))
		b.WriteString(";")
	case *sqlast.DropDatabase:
		b.WriteString("DROP DATABASE ")
		b.WriteString(quoteIdent(n.Name))
		b.WriteString(";")
	case *sqlast.CreateIndex:
		b.WriteString("CREATE INDEX ")
		b.WriteString(quoteIdent(n.Name))
		b.WriteString(" ON ")
		b.WriteString(quoteIdent(n.Table))
		b.WriteString("(")
		b.WriteString(strings.Join(n.Columns, ", "))
		b.WriteString(");")
	case *sqlast.Show:
		b.WriteString("SHOW ")
		b.WriteString(string(n.Kind))
		if n.Kind == sqlast.ShowDatabases && n.For != nil {
			b.WriteString(" FOR X'")
			b.WriteString(fmt.Sprintf("%x", n.For))
			b.WriteString("'")
		}
		b.WriteString(";")
	case *sqlast.Describe:
		b.WriteString("DESCRIBE ")
		b.WriteString(quoteIdent(n.Table))
		b.WriteString(";")
	case *sqlast.Grant:
		b.WriteString("GRANT ")
		renderPrivRef(b, n.Privilege)
		b.WriteString(" TO ")
		renderUserRef(b, n.User, n.Public)
		b.WriteString(";")
	case *sqlast.Revoke:
		b.WriteString("REVOKE ")
		renderPrivRef(b, n.Privilege)
		b.WriteString(" TO ")
		renderUserRef(b, n.User, n.Public)
		b.WriteString(";")
	case *sqlast.If:
		for i, br := range n.Branches {
			if i == 0 {
				b.WriteString("IF ")
			} else {
				b.WriteString(" ELSE IF ")
			}
			renderExpr(b, br.Condition, d)
			b.WriteString(" THEN ")
			b.WriteString(strings.TrimSuffix(Render(br.Then, d), ";"))
		}
		if n.Else != nil {
			b.WriteString(" ELSE ")
			b.WriteString(strings.TrimSuffix(Render(n.Else, d), ";"))
		}
		b.WriteString(" END;")
	case *sqlast.Block:
		b.WriteString("DO ")
		for _, stmt := range n.Statements {
			renderStatement(b, stmt, d)
			b.WriteString(" ")
		}
		b.WriteString("END;")
	case *sqlast.Fail:
		b.WriteString("FAIL;")
	default:
		b.WriteString("/* unknown statement */")
	}
}

func renderPrivRef(b *strings.Builder, p sqlast.PrivilegeRef) {
	b.WriteString(string(p.Kind))
	if p.Kind == sqlast.PrivTemplate {
		b.WriteString("(X'")
		b.WriteString(p.Table)
		b.WriteString("')")
		return
	}
	if p.Table != "" {
		b.WriteString(" ON ")
		b.WriteString(quoteIdent(p.Table))
	}
}

func renderUserRef(b *strings.Builder, user []byte, public bool) {
	if public || user == nil {
		b.WriteString("NULL")
		return
	}
	b.WriteString("X'")
	b.WriteString(fmt.Sprintf("%x", user))
	b.WriteString("'")
}

func renderSelect(b *strings.Builder, s *sqlast.Select, d Dialect) {
	b.WriteString("SELECT ")
	if s.Distinct {
		b.WriteString("DISTINCT ")
	}
	cols := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = RenderExpr(c, d)
	}
	b.WriteString(strings.Join(cols, ", "))
	if s.From != "" {
		b.WriteString(" FROM ")
		b.WriteString(quoteIdent(s.From))
		for _, j := range s.Joins {
			b.WriteString(" LEFT JOIN ")
			b.WriteString(quoteIdent(j.Table))
			b.WriteString(" ON ")
			renderExpr(b, j.On, d)
		}
		if s.Where != nil {
			b.WriteString(" WHERE ")
			renderExpr(b, s.Where, d)
		}
		if len(s.OrderBy) > 0 {
			b.WriteString(" ORDER BY ")
			terms := make([]string, len(s.OrderBy))
			for i, t := range s.OrderBy {
				dir := "ASC"
				if t.Desc {
					dir = "DESC"
				}
				terms[i] = RenderExpr(t.Expr, d) + " " + dir
			}
			b.WriteString(strings.Join(terms, ", "))
		}
		if s.Limit != nil {
			b.WriteString(" LIMIT ")
			b.WriteString(strconv.FormatInt(*s.Limit, 10))
		}
	}
	b.WriteString(";")
}

func renderExpr(b *strings.Builder, e sqlast.Expr, d Dialect) {
	switch n := e.(type) {
	case sqlast.LiteralInt:
		b.WriteString(strconv.FormatInt(n.Value, 10))
	case sqlast.LiteralString:
		b.WriteString("'")
		b.WriteString(strings.ReplaceAll(n.Value, "'", "''"))
		b.WriteString("'")
	case sqlast.LiteralBlob:
		b.WriteString("X'")
		b.WriteString(fmt.Sprintf("%x", n.Value))
		b.WriteString("'")
	case sqlast.LiteralNull:
		b.WriteString("NULL")
	case sqlast.Column:
		if n.Table != "" {
			b.WriteString(n.Table)
			b.WriteString(".")
		}
		b.WriteString(n.Name)
	case sqlast.AllColumns:
		if n.Table != "" {
			b.WriteString(n.Table)
			b.WriteString(".")
		}
		b.WriteString("*")
	case sqlast.Variable:
		b.WriteString("$")
		b.WriteString(n.Name)
	case sqlast.UnboundParameter:
		b.WriteString("?")
		b.WriteString(n.Name)
	case sqlast.BoundParameter:
		// Template hashing strips the value beforehand (see unbind); here
		// the value is kept so the text re-parses to the same bound node.
		b.WriteString("?")
		b.WriteString(n.Name)
		b.WriteString(":")
		renderExpr(b, n.Value, d)
	case sqlast.Unary:
		if n.Op == sqlast.UnaryNot {
			b.WriteString("NOT ")
			renderExpr(b, n.Operand, d)
		} else {
			b.WriteString("-")
			renderExpr(b, n.Operand, d)
		}
	case sqlast.Binary:
		if n.Op == sqlast.OpIsNull || n.Op == sqlast.OpIsNotNull {
			renderExpr(b, n.Left, d)
			b.WriteString(" ")
			b.WriteString(string(n.Op))
			return
		}
		b.WriteString("(")
		renderExpr(b, n.Left, d)
		b.WriteString(" ")
		b.WriteString(string(n.Op))
		b.WriteString(" ")
		renderExpr(b, n.Right, d)
		b.WriteString(")")
	case sqlast.Call:
		b.WriteString(n.Name)
		b.WriteString("(")
		args := make([]string, len(n.Args))
		for i, a := range n.Args {
			args[i] = RenderExpr(a, d)
		}
		b.WriteString(strings.Join(args, ", "))
		b.WriteString(")")
	case sqlast.Case:
		b.WriteString("CASE")
		for _, w := range n.Whens {
			b.WriteString(" WHEN ")
			renderExpr(b, w.Condition, d)
			b.WriteString(" THEN ")
			renderExpr(b, w.Result, d)
		}
		if n.Else != nil {
			b.WriteString(" ELSE ")
			renderExpr(b, n.Else, d)
		}
		b.WriteString(" END")
	case sqlast.Exists:
		b.WriteString("EXISTS(")
		var sub strings.Builder
		renderSelect(&sub, n.Subquery, d)
		b.WriteString(strings.TrimSuffix(sub.String(), ";"))
		b.WriteString(")")
	default:
		b.WriteString("/* unknown expr */")
	}
}

// unbind returns a copy of the expression tree with every BoundParameter
// replaced by the equivalent UnboundParameter, used to compute the template
// hash over the statement's shape only.
func unbind(e sqlast.Expr) sqlast.Expr {
	switch n := e.(type) {
	case sqlast.BoundParameter:
		return sqlast.UnboundParameter{Name: n.Name}
	case sqlast.Unary:
		n.Operand = unbind(n.Operand)
		return n
	case sqlast.Binary:
		n.Left = unbind(n.Left)
		if n.Right != nil {
			n.Right = unbind(n.Right)
		}
		return n
	case sqlast.Call:
		args := make([]sqlast.Expr, len(n.Args))
		for i, a := range n.Args {
			args[i] = unbind(a)
		}
		n.Args = args
		return n
	case sqlast.Case:
		whens := make([]sqlast.WhenClause, len(n.Whens))
		for i, w := range n.Whens {
			whens[i] = sqlast.WhenClause{Condition: unbind(w.Condition), Result: unbind(w.Result)}
		}
		n.Whens = whens
		if n.Else != nil {
			n.Else = unbind(n.Else)
		}
		return n
	case sqlast.Exists:
		n.Subquery = unbindSelect(n.Subquery)
		return n
	default:
		return e
	}
}

func unbindSelect(s *sqlast.Select) *sqlast.Select {
	if s == nil {
		return nil
	}
	out := *s
	cols := make([]sqlast.Expr, len(s.Columns))
	for i, c := range s.Columns {
		cols[i] = unbind(c)
	}
	out.Columns = cols
	if s.Where != nil {
		out.Where = unbind(s.Where)
	}
	return &out
}

// TemplateHash computes SHA-256 over the canonical standard-dialect text of
// s with every bound parameter replaced by its unbound form, so only the
// shape of the statement is matched by a template grant.
func TemplateHash(s sqlast.Statement) catenacrypto.Hash {
	text := TemplateText(s)
	return catenacrypto.SHA256([]byte(text))
}

// TemplateText renders the unbound canonical form used by TemplateHash. It
// is exposed separately so callers can compare two statements for
// template-equality without re-hashing.
func TemplateText(s sqlast.Statement) string {
	return Render(unbindStatement(s), Standard)
}

func unbindStatement(s sqlast.Statement) sqlast.Statement {
	switch n := s.(type) {
	case *sqlast.Select:
		return unbindSelect(n)
	case *sqlast.Insert:
		out := *n
		rows := make([][]sqlast.Expr, len(n.Rows))
		for i, row := range n.Rows {
			r := make([]sqlast.Expr, len(row))
			for j, v := range row {
				r[j] = unbind(v)
			}
			rows[i] = r
		}
		out.Rows = rows
		return &out
	case *sqlast.Update:
		out := *n
		set := sqlast.NewOrderedMap()
		for _, p := range n.Set.Pairs() {
			set.Set(p.Key, unbind(p.Value.(sqlast.Expr)))
		}
		out.Set = set
		if n.Where != nil {
			out.Where = unbind(n.Where)
		}
		return &out
	case *sqlast.Delete:
		out := *n
		if n.Where != nil {
			out.Where = unbind(n.Where)
		}
		return &out
	case *sqlast.If:
		out := *n
		branches := make([]sqlast.IfBranch, len(n.Branches))
		for i, br := range n.Branches {
			branches[i] = sqlast.IfBranch{Condition: unbind(br.Condition), Then: unbindStatement(br.Then)}
		}
		out.Branches = branches
		if n.Else != nil {
			out.Else = unbindStatement(n.Else)
		}
		return &out
	case *sqlast.Block:
		out := *n
		stmts := make([]sqlast.Statement, len(n.Statements))
		for i, st := range n.Statements {
			stmts[i] = unbindStatement(st)
		}
		out.Statements = stmts
		return &out
	default:
		return s
	}
}

// TemplateEqual reports whether two statements are template-equal: their
// canonical standard-dialect text is byte-identical after unbinding bound
// parameters.
func TemplateEqual(a, b sqlast.Statement) bool {
	return TemplateText(a) == TemplateText(b)
}
