package crypto

import (
	"encoding/hex"
	"strings"
	"testing"
)

// Well-known throwaway key, never funded.
const testKey = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

func testOrder() OrderPayload {
	return OrderPayload{
		Salt:          "123456789",
		Maker:         "0x96216849C49358B10257cb55b28eA603c874b05E",
		Signer:        "0x96216849C49358B10257cb55b28eA603c874b05E",
		Taker:         "0x0000000000000000000000000000000000000000",
		TokenID:       "71321045679252212594626385532706912750332728571942532289631379312455583992563",
		MakerAmount:   "450000000",
		TakerAmount:   "1000000000",
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          0,
		SignatureType: 0,
	}
}

func assertSignature(t *testing.T, sig string) {
	t.Helper()
	if !strings.HasPrefix(sig, "0x") {
		t.Fatalf("signature %q missing 0x prefix", sig)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if err != nil {
		t.Fatalf("signature is not hex: %v", err)
	}
	if len(raw) != 65 {
		t.Fatalf("signature is %d bytes, want 65", len(raw))
	}
	if v := raw[64]; v != 27 && v != 28 {
		t.Errorf("recovery byte = %d, want 27 or 28", v)
	}
}

func TestNewSigner(t *testing.T) {
	signer, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	addr := signer.Address().Hex()
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		t.Errorf("address = %q", addr)
	}

	// 0x prefix on the key must not change the derived address.
	prefixed, err := NewSigner("0x"+testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner with prefix: %v", err)
	}
	if prefixed.Address() != signer.Address() {
		t.Error("0x-prefixed key derived a different address")
	}

	if _, err := NewSigner("zz-not-hex", 137); err == nil {
		t.Error("expected error for invalid key")
	}
}

func TestSignOrder(t *testing.T) {
	signer, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	sig, err := signer.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("SignOrder: %v", err)
	}
	assertSignature(t, sig)

	// Signing is deterministic for identical payloads.
	again, err := signer.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("SignOrder again: %v", err)
	}
	if again != sig {
		t.Error("same payload produced different signatures")
	}

	// Any field change must change the digest.
	changed := testOrder()
	changed.Salt = "987654321"
	other, err := signer.SignOrder(changed)
	if err != nil {
		t.Fatalf("SignOrder changed: %v", err)
	}
	if other == sig {
		t.Error("different salt produced the same signature")
	}

	// A different chain ID signs under a different domain.
	amoy, err := NewSigner(testKey, 80002)
	if err != nil {
		t.Fatalf("NewSigner amoy: %v", err)
	}
	crossChain, err := amoy.SignOrder(testOrder())
	if err != nil {
		t.Fatalf("SignOrder amoy: %v", err)
	}
	if crossChain == sig {
		t.Error("different chain ID produced the same signature")
	}
}

func TestSignOrderRejectsBadNumbers(t *testing.T) {
	signer, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}

	bad := testOrder()
	bad.MakerAmount = "not-a-number"
	if _, err := signer.SignOrder(bad); err == nil {
		t.Error("expected error for non-numeric makerAmount")
	}

	bad = testOrder()
	bad.Salt = ""
	if _, err := signer.SignOrder(bad); err == nil {
		t.Error("expected error for empty salt")
	}
}

func TestSignAuthMessage(t *testing.T) {
	signer, err := NewSigner(testKey, 137)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	address := signer.Address().Hex()

	sig, err := signer.SignAuthMessage(address, 1700000000, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage: %v", err)
	}
	assertSignature(t, sig)

	later, err := signer.SignAuthMessage(address, 1700000001, 0)
	if err != nil {
		t.Fatalf("SignAuthMessage later: %v", err)
	}
	if later == sig {
		t.Error("different timestamp produced the same signature")
	}
}
