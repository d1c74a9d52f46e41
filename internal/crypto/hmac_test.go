package crypto

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestL2HeadersAt(t *testing.T) {
	auth := &HMACAuth{
		Key:        "api-key",
		Secret:     base64.StdEncoding.EncodeToString([]byte("secret-bytes")),
		Passphrase: "pass",
	}
	const address = "0x96216849C49358B10257cb55b28eA603c874b05E"

	headers := auth.L2HeadersAt(address, "GET", "/orders", "", 1700000000)

	if headers["POLY_ADDRESS"] != address {
		t.Errorf("POLY_ADDRESS = %q", headers["POLY_ADDRESS"])
	}
	if headers["POLY_API_KEY"] != "api-key" {
		t.Errorf("POLY_API_KEY = %q", headers["POLY_API_KEY"])
	}
	if headers["POLY_TIMESTAMP"] != "1700000000" {
		t.Errorf("POLY_TIMESTAMP = %q", headers["POLY_TIMESTAMP"])
	}
	if headers["POLY_PASSPHRASE"] != "pass" {
		t.Errorf("POLY_PASSPHRASE = %q", headers["POLY_PASSPHRASE"])
	}

	sig := headers["POLY_SIGNATURE"]
	if sig == "" {
		t.Fatal("missing POLY_SIGNATURE")
	}
	if raw, err := base64.StdEncoding.DecodeString(sig); err != nil || len(raw) != 32 {
		t.Errorf("signature %q is not base64 HMAC-SHA256", sig)
	}

	// Same inputs must sign identically.
	again := auth.L2HeadersAt(address, "GET", "/orders", "", 1700000000)
	if again["POLY_SIGNATURE"] != sig {
		t.Error("signature not deterministic for identical inputs")
	}

	// Any component change must change the signature.
	variants := []map[string]string{
		auth.L2HeadersAt(address, "POST", "/orders", "", 1700000000),
		auth.L2HeadersAt(address, "GET", "/order/1", "", 1700000000),
		auth.L2HeadersAt(address, "GET", "/orders", `{"a":1}`, 1700000000),
		auth.L2HeadersAt(address, "GET", "/orders", "", 1700000001),
	}
	for i, v := range variants {
		if v["POLY_SIGNATURE"] == sig {
			t.Errorf("variant %d produced the same signature", i)
		}
	}
}

func TestL2HeadersRawSecretFallback(t *testing.T) {
	// A secret that is not valid base64 must still produce a signature.
	auth := &HMACAuth{Key: "k", Secret: "!!not-base64!!", Passphrase: "p"}

	headers := auth.L2HeadersAt("0xabc", "GET", "/x", "", 1700000000)
	if headers["POLY_SIGNATURE"] == "" {
		t.Error("expected signature despite undecodable secret")
	}
}

func TestHMACAuthStringRedacts(t *testing.T) {
	auth := &HMACAuth{Key: "supersecretkey", Secret: "evenmoresecret", Passphrase: "p"}

	s := auth.String()
	if strings.Contains(s, "supersecretkey") || strings.Contains(s, "evenmoresecret") {
		t.Errorf("String leaked credentials: %s", s)
	}
	if !strings.Contains(s, "supe****") {
		t.Errorf("String should keep a short prefix: %s", s)
	}
}
