// Package grants implements the on-chain privilege model: static
// requiredPrivileges declared by a statement, dynamic lookup against the
// grants metadata table, and the template-grant short-circuit that lets a
// whole statement shape (an "IF ... END" stored procedure) be authorized as
// a unit.
package grants

import (
	"context"
	"fmt"

	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlast"
	"github.com/Alalun/catena/internal/sqldialect"
	"github.com/Alalun/catena/internal/storage"
)

// Engine answers grant-lookup questions against a backend's grants table.
type Engine struct {
	db *storage.DB
}

// New returns an Engine backed by db.
func New(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// Check reports whether every privilege in privs has a matching grant row
// for (user, database). An empty privs slice is trivially satisfied.
func (e *Engine) Check(ctx context.Context, user catenacrypto.Hash, privs []sqlast.PrivilegeRef, database string) (bool, error) {
	for _, p := range privs {
		if p.Kind == sqlast.PrivNever {
			return false, nil
		}
		ok, err := e.db.HasGrant(ctx, database, user[:], string(p.Kind), p.Table)
		if err != nil {
			return false, fmt.Errorf("grants: check: %w", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// TemplateGranted reports whether the invoker holds a template(hash) grant
// matching the template hash of s in database.
func (e *Engine) TemplateGranted(ctx context.Context, user catenacrypto.Hash, s sqlast.Statement, database string) (bool, error) {
	hash := fmt.Sprintf("%x", sqldialect.TemplateHash(s))
	return e.Check(ctx, user, []sqlast.PrivilegeRef{{Kind: sqlast.PrivTemplate, Table: hash}}, database)
}

// Grant inserts a grant row. A nil user means "any" (public).
func (e *Engine) Grant(ctx context.Context, database string, g sqlast.Grant) error {
	user := g.User
	if g.Public {
		user = nil
	}
	return e.db.InsertGrant(ctx, storage.GrantRecord{
		User:     user,
		Kind:     string(g.Privilege.Kind),
		Table:    g.Privilege.Table,
		Database: database,
	})
}

// Revoke deletes matching grant rows. A nil user means "any" (public).
func (e *Engine) Revoke(ctx context.Context, database string, r sqlast.Revoke) error {
	user := r.User
	if r.Public {
		user = nil
	}
	return e.db.DeleteGrant(ctx, storage.GrantRecord{
		User:     user,
		Kind:     string(r.Privilege.Kind),
		Table:    r.Privilege.Table,
		Database: database,
	})
}

// List returns every grant row recorded for database, for SHOW GRANTS.
func (e *Engine) List(ctx context.Context, database string) ([]storage.GrantRecord, error) {
	return e.db.ListGrants(ctx, database)
}
