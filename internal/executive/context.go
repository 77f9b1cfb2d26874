package executive

import (
	"github.com/Alalun/catena/internal/catenacrypto"
	"github.com/Alalun/catena/internal/sqlast"
)

// BlockContext carries the built-in `$block...` variables available to a
// statement executing as part of block application.
type BlockContext struct {
	Height            uint64
	Signature         []byte
	PreviousSignature []byte
	Miner             catenacrypto.Hash
	Timestamp         int64
}

// Context is everything a statement needs to resolve builtin variables and
// be authorized: the target database, the invoker, and the block it is
// executing as part of.
type Context struct {
	Database string
	Invoker  catenacrypto.Hash
	Block    BlockContext
}

// Variables returns the `$name` -> literal bindings the backend visitor
// resolves Variable nodes against, per the built-in variable list.
func (c Context) Variables() map[string]sqlast.Expr {
	return map[string]sqlast.Expr{
		"invoker":                sqlast.LiteralBlob{Value: append([]byte(nil), c.Invoker[:]...)},
		"blockHeight":            sqlast.LiteralInt{Value: int64(c.Block.Height)},
		"blockSignature":         sqlast.LiteralBlob{Value: append([]byte(nil), c.Block.Signature...)},
		"previousBlockSignature": sqlast.LiteralBlob{Value: append([]byte(nil), c.Block.PreviousSignature...)},
		"blockMiner":             sqlast.LiteralBlob{Value: append([]byte(nil), c.Block.Miner[:]...)},
		"blockTimestamp":         sqlast.LiteralInt{Value: c.Block.Timestamp},
	}
}
