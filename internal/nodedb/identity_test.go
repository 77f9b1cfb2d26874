package nodedb

import (
	"context"
	"testing"
)

func TestLoadOrCreateIdentityGeneratesOnFirstCall(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.LoadOrCreateIdentity(ctx, "", "")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if id.KeyPair == nil {
		t.Fatalf("expected a generated keypair")
	}
	if id.UUID == "" {
		t.Fatalf("expected a generated uuid")
	}
	if id.GenesisSeed != "" {
		t.Fatalf("expected no genesis seed without -s, got %q", id.GenesisSeed)
	}

	// A second call with no overrides must return the same identity, not
	// regenerate it.
	again, err := db.LoadOrCreateIdentity(ctx, "", "")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (second call): %v", err)
	}
	if again.UUID != id.UUID {
		t.Fatalf("uuid changed across calls: %q != %q", again.UUID, id.UUID)
	}
	if string(again.KeyPair.Private) != string(id.KeyPair.Private) {
		t.Fatalf("private key changed across calls")
	}
}

func TestLoadOrCreateIdentityOverridesPersist(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	id, err := db.LoadOrCreateIdentity(ctx, "fixed-uuid", "my seed")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if id.UUID != "fixed-uuid" {
		t.Fatalf("uuid = %q, want fixed-uuid", id.UUID)
	}
	if id.GenesisSeed != "my seed" {
		t.Fatalf("genesis seed = %q, want %q", id.GenesisSeed, "my seed")
	}

	// Subsequent call with no overrides should read back the persisted
	// values rather than losing them.
	again, err := db.LoadOrCreateIdentity(ctx, "", "")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity (reload): %v", err)
	}
	if again.UUID != "fixed-uuid" {
		t.Fatalf("uuid after reload = %q, want fixed-uuid", again.UUID)
	}
	if again.GenesisSeed != "my seed" {
		t.Fatalf("genesis seed after reload = %q, want %q", again.GenesisSeed, "my seed")
	}
}

func TestLoadOrCreateIdentityExplicitUUIDOverridesStored(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := db.LoadOrCreateIdentity(ctx, "first-uuid", ""); err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	id, err := db.LoadOrCreateIdentity(ctx, "second-uuid", "")
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if id.UUID != "second-uuid" {
		t.Fatalf("uuid = %q, want second-uuid to win over the stored value", id.UUID)
	}
}
