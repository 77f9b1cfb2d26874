package catenacrypto

import "testing"

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	msg := []byte("hello catena")
	sig := kp.Sign(msg)
	if !Verify(kp.Public, msg, sig) {
		t.Fatalf("expected signature to verify")
	}
	if Verify(kp.Public, []byte("tampered"), sig) {
		t.Fatalf("expected signature over different message to fail")
	}
}

func TestIdentityIsSHA256OfPublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	want := SHA256(kp.Public)
	got := kp.Public.Identity()
	if got != want {
		t.Fatalf("identity mismatch: got %x want %x", got, want)
	}
}

func TestZeroHash(t *testing.T) {
	var h Hash
	if !h.IsZero() {
		t.Fatalf("expected zero-value Hash to be zero")
	}
	h[0] = 1
	if h.IsZero() {
		t.Fatalf("expected non-zero Hash to not be zero")
	}
}

func TestHashFromHexRoundTrip(t *testing.T) {
	h := SHA256([]byte("genesis"))
	parsed, err := HashFromHex(h.String())
	if err != nil {
		t.Fatalf("HashFromHex: %v", err)
	}
	if parsed != h {
		t.Fatalf("round trip mismatch")
	}
}
