// Package sqlparse implements a hand-written recursive-descent parser for
// the restricted SQL dialect, producing an internal/sqlast tree.
// Identifiers are folded to lowercase at parse time.
package sqlparse

import (
	"fmt"

	"github.com/Alalun/catena/internal/sqlast"
)

// ParseError is returned for any syntax error.
type ParseError struct {
	Msg string
	Pos int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sqlparse: %s (at byte %d)", e.Msg, e.Pos)
}

type parser struct {
	lex   *lexer
	cur   token
	depth int // current nesting depth (subexpressions + sub-statements)
}

// Parse parses a single semicolon-terminated statement. Trailing input after
// the statement's terminating semicolon is an error, mirroring one
// transaction carrying exactly one statement.
func Parse(src string) (sqlast.Statement, error) {
	p := &parser{lex: newLexer(src)}
	if err := p.advance(); err != nil {
		return nil, err
	}
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.cur.kind != tokEOF {
		return nil, &ParseError{Msg: "unexpected trailing input", Pos: p.cur.pos}
	}
	return stmt, nil
}

func (p *parser) advance() error {
	t, err := p.lex.next()
	if err != nil {
		return &ParseError{Msg: err.Error(), Pos: p.lex.pos}
	}
	p.cur = t
	return nil
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > sqlast.MaxNestingDepth {
		return &ParseError{Msg: "nesting depth exceeds maximum", Pos: p.cur.pos}
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

func (p *parser) isKeyword(kw string) bool {
	return p.cur.kind == tokKeyword && p.cur.text == kw
}

func (p *parser) expectKeyword(kw string) error {
	if !p.isKeyword(kw) {
		return &ParseError{Msg: fmt.Sprintf("expected %s", kw), Pos: p.cur.pos}
	}
	return p.advance()
}

func (p *parser) expectPunct(s string) error {
	if p.cur.kind != tokPunct || p.cur.text != s {
		return &ParseError{Msg: fmt.Sprintf("expected %q", s), Pos: p.cur.pos}
	}
	return p.advance()
}

func (p *parser) isPunct(s string) bool {
	return p.cur.kind == tokPunct && p.cur.text == s
}

func (p *parser) expectIdent() (string, error) {
	if p.cur.kind != tokIdent {
		return "", &ParseError{Msg: "expected identifier", Pos: p.cur.pos}
	}
	name := p.cur.text
	return name, p.advance()
}

// ---- statements ---------------------------------------------------------

func (p *parser) parseStatement() (sqlast.Statement, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	switch {
	case p.isKeyword("SELECT"):
		s, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return s, nil
	case p.isKeyword("INSERT"):
		return p.parseInsert()
	case p.isKeyword("UPDATE"):
		return p.parseUpdate()
	case p.isKeyword("DELETE"):
		return p.parseDelete()
	case p.isKeyword("CREATE"):
		return p.parseCreate()
	case p.isKeyword("DROP"):
		return p.parseDrop()
	case p.isKeyword("GRANT"):
		return p.parseGrantRevoke(false)
	case p.isKeyword("REVOKE"):
		return p.parseGrantRevoke(true)
	case p.isKeyword("SHOW"):
		return p.parseShow()
	case p.isKeyword("DESCRIBE"):
		return p.parseDescribe()
	case p.isKeyword("IF"):
		return p.parseIf()
	case p.isKeyword("DO"):
		return p.parseBlock()
	case p.isKeyword("FAIL"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &sqlast.Fail{}, nil
	default:
		return nil, &ParseError{Msg: "expected a statement", Pos: p.cur.pos}
	}
}

func (p *parser) parseSelect() (*sqlast.Select, error) {
	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	s := &sqlast.Select{}
	if p.isKeyword("DISTINCT") {
		s.Distinct = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	}
	for {
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		s.Columns = append(s.Columns, e)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.isKeyword("FROM") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		s.From = table
		for p.isKeyword("LEFT") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("JOIN"); err != nil {
				return nil, err
			}
			jt, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("ON"); err != nil {
				return nil, err
			}
			on, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			s.Joins = append(s.Joins, sqlast.JoinClause{Table: jt, On: on})
		}
		if p.isKeyword("WHERE") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			w, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			s.Where = w
		}
		if p.isKeyword("ORDER") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			for {
				e, err := p.parseExpr()
				if err != nil {
					return nil, err
				}
				term := sqlast.OrderTerm{Expr: e}
				if p.isKeyword("DESC") {
					term.Desc = true
					if err := p.advance(); err != nil {
						return nil, err
					}
				} else if p.isKeyword("ASC") {
					if err := p.advance(); err != nil {
						return nil, err
					}
				}
				s.OrderBy = append(s.OrderBy, term)
				if p.isPunct(",") {
					if err := p.advance(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
		}
		if p.isKeyword("LIMIT") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokInt {
				return nil, &ParseError{Msg: "expected integer after LIMIT", Pos: p.cur.pos}
			}
			n := p.cur.intVal
			s.Limit = &n
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	}
	return s, nil
}

func (p *parser) parseInsert() (*sqlast.Insert, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	ins := &sqlast.Insert{}
	if p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		ins.OrReplace = true
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ins.Table = table
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		c, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ins.Columns = append(ins.Columns, c)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var row []sqlast.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return ins, nil
}

func (p *parser) parseUpdate() (*sqlast.Update, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	u := &sqlast.Update{Table: table, Set: sqlast.NewOrderedMap()}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		u.Set.Set(col, val)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		u.Where = w
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return u, nil
}

func (p *parser) parseDelete() (*sqlast.Delete, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	d := &sqlast.Delete{Table: table}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.Where = w
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return d, nil
}

func (p *parser) parseCreate() (sqlast.Statement, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ct := &sqlast.CreateTable{Table: table}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			typ, err := p.parseColumnType()
			if err != nil {
				return nil, err
			}
			col := sqlast.ColumnDef{Name: name, Type: typ}
			if p.isKeyword("PRIMARY") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.expectKeyword("KEY"); err != nil {
					return nil, err
				}
				col.PrimaryKey = true
			}
			ct.Columns = append(ct.Columns, col)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return ct, nil
	case p.isKeyword("DATABASE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &sqlast.CreateDatabase{Name: name}, nil
	case p.isKeyword("INDEX"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ci := &sqlast.CreateIndex{Name: name, Table: table}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			ci.Columns = append(ci.Columns, c)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return ci, nil
	default:
		return nil, &ParseError{Msg: "expected TABLE, DATABASE or INDEX after CREATE", Pos: p.cur.pos}
	}
}

func (p *parser) parseColumnType() (sqlast.ColumnType, error) {
	switch {
	case p.isKeyword("TEXT"):
		return sqlast.TypeText, p.advance()
	case p.isKeyword("INT"):
		return sqlast.TypeInt, p.advance()
	case p.isKeyword("BLOB"):
		return sqlast.TypeBlob, p.advance()
	default:
		return "", &ParseError{Msg: "expected a column type", Pos: p.cur.pos}
	}
}

func (p *parser) parseDrop() (sqlast.Statement, error) {
	if err := p.expectKeyword("DROP"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &sqlast.DropTable{Table: table}, nil
	case p.isKeyword("DATABASE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
		return &sqlast.DropDatabase{Name: name}, nil
	default:
		return nil, &ParseError{Msg: "expected TABLE or DATABASE after DROP", Pos: p.cur.pos}
	}
}

func (p *parser) parsePrivilegeRef() (sqlast.PrivilegeRef, error) {
	if p.cur.kind != tokIdent && p.cur.kind != tokKeyword {
		return sqlast.PrivilegeRef{}, &ParseError{Msg: "expected a privilege kind", Pos: p.cur.pos}
	}
	kind := sqlast.PrivilegeKind(toLowerToken(p.cur))
	if err := p.advance(); err != nil {
		return sqlast.PrivilegeRef{}, err
	}
	ref := sqlast.PrivilegeRef{Kind: kind}
	if kind == sqlast.PrivTemplate {
		if err := p.expectPunct("("); err != nil {
			return sqlast.PrivilegeRef{}, err
		}
		if p.cur.kind != tokBlob {
			return sqlast.PrivilegeRef{}, &ParseError{Msg: "expected X'hash' after template(", Pos: p.cur.pos}
		}
		ref.Table = fmt.Sprintf("%x", p.cur.blobVal)
		if err := p.advance(); err != nil {
			return sqlast.PrivilegeRef{}, err
		}
		if err := p.expectPunct(")"); err != nil {
			return sqlast.PrivilegeRef{}, err
		}
	}
	if p.isKeyword("ON") {
		if err := p.advance(); err != nil {
			return sqlast.PrivilegeRef{}, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return sqlast.PrivilegeRef{}, err
		}
		ref.Table = table
	}
	return ref, nil
}

func toLowerToken(t token) string {
	if t.kind == tokKeyword {
		return lowerASCII(t.text)
	}
	return t.text
}

func lowerASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 32
		}
	}
	return string(b)
}

func (p *parser) parseGrantRevoke(revoke bool) (sqlast.Statement, error) {
	if revoke {
		if err := p.expectKeyword("REVOKE"); err != nil {
			return nil, err
		}
	} else {
		if err := p.expectKeyword("GRANT"); err != nil {
			return nil, err
		}
	}
	ref, err := p.parsePrivilegeRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	var user []byte
	public := false
	if p.isKeyword("NULL") {
		public = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if p.cur.kind == tokBlob {
		user = p.cur.blobVal
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		return nil, &ParseError{Msg: "expected X'hash' or NULL after TO", Pos: p.cur.pos}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	if revoke {
		return &sqlast.Revoke{Privilege: ref, User: user, Public: public}, nil
	}
	return &sqlast.Grant{Privilege: ref, User: user, Public: public}, nil
}

func (p *parser) parseShow() (*sqlast.Show, error) {
	if err := p.expectKeyword("SHOW"); err != nil {
		return nil, err
	}
	s := &sqlast.Show{}
	switch {
	case p.isKeyword("TABLES"):
		s.Kind = sqlast.ShowTables
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isKeyword("DATABASES"):
		s.Kind = sqlast.ShowDatabases
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isKeyword("FOR") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.cur.kind != tokBlob {
				return nil, &ParseError{Msg: "expected X'hash' after FOR", Pos: p.cur.pos}
			}
			s.For = p.cur.blobVal
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
	case p.isKeyword("GRANTS"):
		s.Kind = sqlast.ShowGrants
		if err := p.advance(); err != nil {
			return nil, err
		}
	case p.isKeyword("ALL"):
		s.Kind = sqlast.ShowAll
		if err := p.advance(); err != nil {
			return nil, err
		}
	default:
		return nil, &ParseError{Msg: "expected TABLES, DATABASES, GRANTS or ALL after SHOW", Pos: p.cur.pos}
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return s, nil
}

func (p *parser) parseDescribe() (*sqlast.Describe, error) {
	if err := p.expectKeyword("DESCRIBE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return &sqlast.Describe{Table: table}, nil
}

// parseInnerStatement parses one statement that appears nested inside an
// IF/DO block. Each nested statement takes its own depth slot, so
// sub-statements count toward MaxNestingDepth.
func (p *parser) parseInnerStatement() (sqlast.Statement, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	switch {
	case p.isKeyword("SELECT"):
		return p.parseSelect()
	case p.isKeyword("INSERT"):
		return p.parseInsertNoSemi()
	case p.isKeyword("UPDATE"):
		return p.parseUpdateNoSemi()
	case p.isKeyword("DELETE"):
		return p.parseDeleteNoSemi()
	case p.isKeyword("IF"):
		return p.parseIfBody()
	case p.isKeyword("DO"):
		return p.parseBlockBody()
	case p.isKeyword("FAIL"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &sqlast.Fail{}, nil
	case p.isKeyword("GRANT"):
		return p.parseGrantRevokeNoSemi(false)
	case p.isKeyword("REVOKE"):
		return p.parseGrantRevokeNoSemi(true)
	case p.isKeyword("CREATE"):
		return p.parseCreateNoSemi()
	case p.isKeyword("DROP"):
		return p.parseDropNoSemi()
	default:
		return nil, &ParseError{Msg: "expected a statement", Pos: p.cur.pos}
	}
}

// The *NoSemi variants parse the same grammar as their top-level
// counterparts but do not require a trailing ';' — inside an IF/DO body the
// statement separator belongs to the block, not the statement.
func (p *parser) parseInsertNoSemi() (*sqlast.Insert, error) {
	ins, err := p.parseInsertBody()
	return ins, err
}

func (p *parser) parseInsertBody() (*sqlast.Insert, error) {
	if err := p.expectKeyword("INSERT"); err != nil {
		return nil, err
	}
	ins := &sqlast.Insert{}
	if p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectKeyword("REPLACE"); err != nil {
			return nil, err
		}
		ins.OrReplace = true
	}
	if err := p.expectKeyword("INTO"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	ins.Table = table
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	for {
		c, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ins.Columns = append(ins.Columns, c)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("VALUES"); err != nil {
		return nil, err
	}
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var row []sqlast.Expr
		for {
			e, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			row = append(row, e)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		ins.Rows = append(ins.Rows, row)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	return ins, nil
}

func (p *parser) parseUpdateNoSemi() (*sqlast.Update, error) {
	if err := p.expectKeyword("UPDATE"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	u := &sqlast.Update{Table: table, Set: sqlast.NewOrderedMap()}
	if err := p.expectKeyword("SET"); err != nil {
		return nil, err
	}
	for {
		col, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		u.Set.Set(col, val)
		if p.isPunct(",") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		u.Where = w
	}
	return u, nil
}

func (p *parser) parseDeleteNoSemi() (*sqlast.Delete, error) {
	if err := p.expectKeyword("DELETE"); err != nil {
		return nil, err
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	table, err := p.expectIdent()
	if err != nil {
		return nil, err
	}
	d := &sqlast.Delete{Table: table}
	if p.isKeyword("WHERE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		w, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		d.Where = w
	}
	return d, nil
}

func (p *parser) parseCreateNoSemi() (sqlast.Statement, error) {
	if err := p.expectKeyword("CREATE"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ct := &sqlast.CreateTable{Table: table}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for {
			name, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			typ, err := p.parseColumnType()
			if err != nil {
				return nil, err
			}
			col := sqlast.ColumnDef{Name: name, Type: typ}
			if p.isKeyword("PRIMARY") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				if err := p.expectKeyword("KEY"); err != nil {
					return nil, err
				}
				col.PrimaryKey = true
			}
			ct.Columns = append(ct.Columns, col)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return ct, nil
	case p.isKeyword("DATABASE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &sqlast.CreateDatabase{Name: name}, nil
	case p.isKeyword("INDEX"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("ON"); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		ci := &sqlast.CreateIndex{Name: name, Table: table}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		for {
			c, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			ci.Columns = append(ci.Columns, c)
			if p.isPunct(",") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return ci, nil
	default:
		return nil, &ParseError{Msg: "expected TABLE, DATABASE or INDEX after CREATE", Pos: p.cur.pos}
	}
}

func (p *parser) parseDropNoSemi() (sqlast.Statement, error) {
	if err := p.expectKeyword("DROP"); err != nil {
		return nil, err
	}
	switch {
	case p.isKeyword("TABLE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		table, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &sqlast.DropTable{Table: table}, nil
	case p.isKeyword("DATABASE"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		name, err := p.expectIdent()
		if err != nil {
			return nil, err
		}
		return &sqlast.DropDatabase{Name: name}, nil
	default:
		return nil, &ParseError{Msg: "expected TABLE or DATABASE after DROP", Pos: p.cur.pos}
	}
}

func (p *parser) parseGrantRevokeNoSemi(revoke bool) (sqlast.Statement, error) {
	if revoke {
		if err := p.expectKeyword("REVOKE"); err != nil {
			return nil, err
		}
	} else {
		if err := p.expectKeyword("GRANT"); err != nil {
			return nil, err
		}
	}
	ref, err := p.parsePrivilegeRef()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("TO"); err != nil {
		return nil, err
	}
	var user []byte
	public := false
	if p.isKeyword("NULL") {
		public = true
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else if p.cur.kind == tokBlob {
		user = p.cur.blobVal
		if err := p.advance(); err != nil {
			return nil, err
		}
	} else {
		return nil, &ParseError{Msg: "expected X'hash' or NULL after TO", Pos: p.cur.pos}
	}
	if revoke {
		return &sqlast.Revoke{Privilege: ref, User: user, Public: public}, nil
	}
	return &sqlast.Grant{Privilege: ref, User: user, Public: public}, nil
}

func (p *parser) parseIf() (*sqlast.If, error) {
	n, err := p.parseIfBody()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseIfBody() (*sqlast.If, error) {
	if err := p.expectKeyword("IF"); err != nil {
		return nil, err
	}
	n := &sqlast.If{}
	for {
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		then, err := p.parseInnerStatement()
		if err != nil {
			return nil, err
		}
		if !sqlast.IsMutating(then) {
			return nil, &ParseError{Msg: "IF/ELSE IF branches must be mutating statements", Pos: p.cur.pos}
		}
		n.Branches = append(n.Branches, sqlast.IfBranch{Condition: cond, Then: then})
		if p.isKeyword("ELSE") {
			// lookahead: ELSE IF vs bare ELSE
			save := *p
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.isKeyword("IF") {
				continue
			}
			*p = save
			break
		}
		break
	}
	if p.isKeyword("ELSE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		els, err := p.parseInnerStatement()
		if err != nil {
			return nil, err
		}
		if !sqlast.IsMutating(els) {
			return nil, &ParseError{Msg: "IF ELSE branch must be a mutating statement", Pos: p.cur.pos}
		}
		n.Else = els
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseBlock() (*sqlast.Block, error) {
	n, err := p.parseBlockBody()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct(";"); err != nil {
		return nil, err
	}
	return n, nil
}

func (p *parser) parseBlockBody() (*sqlast.Block, error) {
	if err := p.expectKeyword("DO"); err != nil {
		return nil, err
	}
	n := &sqlast.Block{}
	for !p.isKeyword("END") {
		stmt, err := p.parseInnerStatement()
		if err != nil {
			return nil, err
		}
		n.Statements = append(n.Statements, stmt)
		if err := p.expectPunct(";"); err != nil {
			return nil, err
		}
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return n, nil
}

// ---- expressions ---------------------------------------------------------

func (p *parser) parseExpr() (sqlast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	return p.parseOr()
}

func (p *parser) parseOr() (sqlast.Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("OR") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = sqlast.Binary{Op: sqlast.OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (sqlast.Expr, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.isKeyword("AND") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = sqlast.Binary{Op: sqlast.OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (sqlast.Expr, error) {
	if p.isKeyword("NOT") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return sqlast.Unary{Op: sqlast.UnaryNot, Operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (sqlast.Expr, error) {
	left, err := p.parseConcat()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("IS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		op := sqlast.OpIsNull
		if p.isKeyword("NOT") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			op = sqlast.OpIsNotNull
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return nil, err
		}
		return sqlast.Binary{Op: op, Left: left}, nil
	}
	if p.cur.kind == tokPunct {
		var op sqlast.BinaryOp
		switch p.cur.text {
		case "=":
			op = sqlast.OpEq
		case "<>":
			op = sqlast.OpNeq
		case "<":
			op = sqlast.OpLt
		case ">":
			op = sqlast.OpGt
		case "<=":
			op = sqlast.OpLte
		case ">=":
			op = sqlast.OpGte
		}
		if op != "" {
			if err := p.advance(); err != nil {
				return nil, err
			}
			right, err := p.parseConcat()
			if err != nil {
				return nil, err
			}
			return sqlast.Binary{Op: op, Left: left, Right: right}, nil
		}
	}
	return left, nil
}

func (p *parser) parseConcat() (sqlast.Expr, error) {
	left, err := p.parseAdd()
	if err != nil {
		return nil, err
	}
	for p.isPunct("||") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseAdd()
		if err != nil {
			return nil, err
		}
		left = sqlast.Binary{Op: sqlast.OpConcat, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAdd() (sqlast.Expr, error) {
	left, err := p.parseMul()
	if err != nil {
		return nil, err
	}
	for p.isPunct("+") || p.isPunct("-") {
		op := sqlast.OpAdd
		if p.cur.text == "-" {
			op = sqlast.OpSub
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseMul()
		if err != nil {
			return nil, err
		}
		left = sqlast.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseMul() (sqlast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isPunct("*") || p.isPunct("/") {
		op := sqlast.OpMul
		if p.cur.text == "/" {
			op = sqlast.OpDiv
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = sqlast.Binary{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (sqlast.Expr, error) {
	if p.isPunct("-") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return sqlast.Unary{Op: sqlast.UnaryNeg, Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (sqlast.Expr, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	switch {
	case p.cur.kind == tokInt:
		v := p.cur.intVal
		return v2i(v), p.advance()
	case p.cur.kind == tokString:
		v := p.cur.strVal
		return v2s(v), p.advance()
	case p.cur.kind == tokBlob:
		v := p.cur.blobVal
		return v2b(v), p.advance()
	case p.isKeyword("NULL"):
		return sqlast.LiteralNull{}, p.advance()
	case p.cur.kind == tokVariable:
		name := p.cur.text
		return sqlast.Variable{Name: name}, p.advance()
	case p.cur.kind == tokParam:
		name := p.cur.text
		hasVal := p.cur.hasParamVal
		valText := p.cur.paramVal
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !hasVal {
			return sqlast.UnboundParameter{Name: name}, nil
		}
		val, err := parseLiteralText(valText)
		if err != nil {
			return nil, err
		}
		return sqlast.BoundParameter{Name: name, Value: val}, nil
	case p.isKeyword("EXISTS"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		sub, err := p.parseSelect()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return sqlast.Exists{Subquery: sub}, nil
	case p.isKeyword("CASE"):
		return p.parseCase()
	case p.isPunct("("):
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		return e, nil
	case p.isPunct("*"):
		if err := p.advance(); err != nil {
			return nil, err
		}
		return sqlast.AllColumns{}, nil
	case p.cur.kind == tokIdent:
		name := p.cur.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.isPunct("(") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			var args []sqlast.Expr
			if !p.isPunct(")") {
				for {
					a, err := p.parseExpr()
					if err != nil {
						return nil, err
					}
					args = append(args, a)
					if p.isPunct(",") {
						if err := p.advance(); err != nil {
							return nil, err
						}
						continue
					}
					break
				}
			}
			if err := p.expectPunct(")"); err != nil {
				return nil, err
			}
			return sqlast.Call{Name: name, Args: args}, nil
		}
		if p.isPunct(".") {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.isPunct("*") {
				if err := p.advance(); err != nil {
					return nil, err
				}
				return sqlast.AllColumns{Table: name}, nil
			}
			col, err := p.expectIdent()
			if err != nil {
				return nil, err
			}
			return sqlast.Column{Table: name, Name: col}, nil
		}
		return sqlast.Column{Name: name}, nil
	default:
		return nil, &ParseError{Msg: "expected an expression", Pos: p.cur.pos}
	}
}

func (p *parser) parseCase() (sqlast.Expr, error) {
	if err := p.expectKeyword("CASE"); err != nil {
		return nil, err
	}
	c := sqlast.Case{}
	for p.isKeyword("WHEN") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		cond, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := p.expectKeyword("THEN"); err != nil {
			return nil, err
		}
		res, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Whens = append(c.Whens, sqlast.WhenClause{Condition: cond, Result: res})
	}
	if len(c.Whens) == 0 {
		return nil, &ParseError{Msg: "CASE requires at least one WHEN clause", Pos: p.cur.pos}
	}
	if p.isKeyword("ELSE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		e, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		c.Else = e
	}
	if err := p.expectKeyword("END"); err != nil {
		return nil, err
	}
	return c, nil
}

func v2i(v int64) sqlast.Expr    { return sqlast.LiteralInt{Value: v} }
func v2s(v string) sqlast.Expr   { return sqlast.LiteralString{Value: v} }
func v2b(v []byte) sqlast.Expr   { return sqlast.LiteralBlob{Value: v} }

// parseLiteralText re-lexes the raw text captured after "?name:" in a bound
// parameter as a single literal expression.
func parseLiteralText(text string) (sqlast.Expr, error) {
	lx := newLexer(text)
	t, err := lx.next()
	if err != nil {
		return nil, &ParseError{Msg: err.Error(), Pos: 0}
	}
	var e sqlast.Expr
	switch t.kind {
	case tokInt:
		e = sqlast.LiteralInt{Value: t.intVal}
	case tokString:
		e = sqlast.LiteralString{Value: t.strVal}
	case tokBlob:
		e = sqlast.LiteralBlob{Value: t.blobVal}
	case tokKeyword:
		if t.text == "NULL" {
			e = sqlast.LiteralNull{}
		} else {
			return nil, &ParseError{Msg: "invalid bound parameter value", Pos: 0}
		}
	default:
		return nil, &ParseError{Msg: "invalid bound parameter value", Pos: 0}
	}
	rest, err := lx.next()
	if err != nil {
		return nil, &ParseError{Msg: err.Error(), Pos: 0}
	}
	if rest.kind != tokEOF {
		return nil, &ParseError{Msg: "bound parameter value must be a single literal", Pos: 0}
	}
	return e, nil
}
