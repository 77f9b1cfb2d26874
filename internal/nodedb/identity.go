package nodedb

import (
	"context"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"

	"github.com/Alalun/catena/internal/catenacrypto"
)

// Identity is a node's config-table contents: its keypair, its UUID, and
// the genesis seed it mined (or expects to see) for this chain.
type Identity struct {
	KeyPair     *catenacrypto.KeyPair
	UUID        string
	GenesisSeed string
}

// LoadOrCreateIdentity reads publicKey/privateKey/uuid/genesisSeed from the
// config table, generating and persisting a missing keypair or UUID; a
// missing genesis seed is left empty.
// overrideUUID, if non-empty, takes precedence over a stored value
// (--node-uuid); seed, if non-empty, does likewise (-s/--seed) and is only
// meaningful the first time a node initializes its genesis block.
func (d *DB) LoadOrCreateIdentity(ctx context.Context, overrideUUID, seed string) (*Identity, error) {
	kp, err := d.loadOrCreateKeyPair(ctx)
	if err != nil {
		return nil, err
	}

	id := overrideUUID
	if id == "" {
		stored, ok, err := d.ConfigGet(ctx, "uuid")
		if err != nil {
			return nil, err
		}
		if ok {
			id = stored
		} else {
			id = uuid.NewString()
			if err := d.ConfigSet(ctx, "uuid", id); err != nil {
				return nil, err
			}
		}
	} else if err := d.ConfigSet(ctx, "uuid", id); err != nil {
		return nil, err
	}

	genesisSeed := seed
	if genesisSeed == "" {
		stored, ok, err := d.ConfigGet(ctx, "genesisSeed")
		if err != nil {
			return nil, err
		}
		if ok {
			genesisSeed = stored
		}
	} else if err := d.ConfigSet(ctx, "genesisSeed", genesisSeed); err != nil {
		return nil, err
	}

	return &Identity{KeyPair: kp, UUID: id, GenesisSeed: genesisSeed}, nil
}

func (d *DB) loadOrCreateKeyPair(ctx context.Context) (*catenacrypto.KeyPair, error) {
	privHex, ok, err := d.ConfigGet(ctx, "privateKey")
	if err != nil {
		return nil, err
	}
	if ok {
		kp, err := catenacrypto.KeyPairFromHex(privHex)
		if err != nil {
			return nil, fmt.Errorf("nodedb: stored private key: %w", err)
		}
		return kp, nil
	}

	kp, err := catenacrypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("nodedb: generate keypair: %w", err)
	}
	if err := d.ConfigSet(ctx, "privateKey", hex.EncodeToString(kp.Private)); err != nil {
		return nil, err
	}
	if err := d.ConfigSet(ctx, "publicKey", hex.EncodeToString(kp.Public)); err != nil {
		return nil, err
	}
	return kp, nil
}
