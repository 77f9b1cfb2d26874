package node

import "errors"

// ErrNoGenesis is returned by MineNext when the ledger has no chain yet —
// callers must mine the genesis block first.
var ErrNoGenesis = errors.New("node: no genesis block yet")
