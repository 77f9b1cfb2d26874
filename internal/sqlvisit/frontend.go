package sqlvisit

import (
	"strings"

	"github.com/google/uuid"

	"github.com/Alalun/catena/internal/catenaversion"
	"github.com/Alalun/catena/internal/sqlast"
)

// FrontendVisitor resolves client-side macros (version(), uuid()) before a
// transaction is signed. It never touches identifiers.
type FrontendVisitor struct{}

func (FrontendVisitor) RenameTable(name string) (string, error)  { return name, nil }
func (FrontendVisitor) RenameColumn(name string) (string, error) { return name, nil }

func (FrontendVisitor) VisitExpr(e sqlast.Expr) (sqlast.Expr, error) {
	call, ok := e.(sqlast.Call)
	if !ok {
		return e, nil
	}
	switch strings.ToLower(call.Name) {
	case "version":
		if len(call.Args) != 0 {
			return nil, ErrMacroTakesNoArgs
		}
		return sqlast.LiteralString{Value: catenaversion.ProtocolVersion}, nil
	case "uuid":
		if len(call.Args) != 0 {
			return nil, ErrMacroTakesNoArgs
		}
		return sqlast.LiteralString{Value: uuid.NewString()}, nil
	default:
		return e, nil
	}
}

// ResolveFrontendMacros rewrites version()/uuid() calls in s to literals.
func ResolveFrontendMacros(s sqlast.Statement) (sqlast.Statement, error) {
	return Walk(s, FrontendVisitor{})
}
