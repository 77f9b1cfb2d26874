package sqlvisit

import (
	"strings"

	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqldialect"
)

// allowedFunctions is the determinism whitelist: functions rewritten by the
// backend visitor must not depend on the clock, randomness, or locale.
var allowedFunctions = map[string]bool{
	"length": true,
	"abs":    true,
}

// reservedPrefix is the backend's own internal-catalog prefix. A user table
// or column beginning with it would otherwise be indistinguishable from an
// internal object once rendered to backend SQL.
const reservedPrefix = "sqlite_"

const escapedReservedPrefix = "esc_sqlite_"

func escapeReserved(name string) string {
	if strings.HasPrefix(strings.ToLower(name), reservedPrefix) {
		return escapedReservedPrefix + name[len(reservedPrefix):]
	}
	return name
}

// BackendVisitor runs at apply time: it binds $variable references from the
// execution context, enforces parameter discipline, rewrites whitelisted
// function calls, and renames tables/columns for the relational backend.
type BackendVisitor struct {
	Database  string
	Variables map[string]sqlast.Expr

	seenParams map[string]string // bound parameter name -> its canonical rendered text
}

// NewBackendVisitor returns a visitor scoped to one statement's database and
// execution-context variables.
func NewBackendVisitor(database string, variables map[string]sqlast.Expr) *BackendVisitor {
	return &BackendVisitor{
		Database:   database,
		Variables:  variables,
		seenParams: make(map[string]string),
	}
}

func (b *BackendVisitor) RenameTable(name string) (string, error) {
	return b.Database + "$" + escapeReserved(name), nil
}

func (b *BackendVisitor) RenameColumn(name string) (string, error) {
	lower := strings.ToLower(name)
	if lower == "rowid" || lower == "oid" {
		return "$" + lower, nil
	}
	return escapeReserved(name), nil
}

func (b *BackendVisitor) VisitExpr(e sqlast.Expr) (sqlast.Expr, error) {
	switch n := e.(type) {
	case sqlast.Variable:
		val, ok := b.Variables[n.Name]
		if !ok {
			return nil, ErrUnknownVariable
		}
		return val, nil
	case sqlast.UnboundParameter:
		return nil, ErrUnboundParameter
	case sqlast.BoundParameter:
		text := sqldialect.RenderExpr(n.Value, sqldialect.Standard)
		if prev, ok := b.seenParams[n.Name]; ok && prev != text {
			return nil, ErrInconsistentParam
		}
		b.seenParams[n.Name] = text
		return n.Value, nil
	case sqlast.Call:
		if !allowedFunctions[strings.ToLower(n.Name)] {
			return nil, ErrFunctionNotAllowed
		}
		return n, nil
	default:
		return e, nil
	}
}
