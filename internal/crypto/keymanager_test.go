package crypto

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptKey("0x"+testKey, "hunter2")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	// The blob is versioned JSON with no plaintext key material.
	var stored encryptedKeyJSON
	if err := json.Unmarshal(blob, &stored); err != nil {
		t.Fatalf("blob is not valid JSON: %v", err)
	}
	if stored.Version != currentVersion {
		t.Errorf("version = %d, want %d", stored.Version, currentVersion)
	}
	if string(blob) == testKey {
		t.Error("blob contains the raw key")
	}

	got, err := DecryptKey(blob, "hunter2")
	if err != nil {
		t.Fatalf("DecryptKey: %v", err)
	}
	if got != testKey {
		t.Errorf("round trip = %q, want %q", got, testKey)
	}
}

func TestDecryptKeyWrongPassword(t *testing.T) {
	blob, err := EncryptKey(testKey, "correct")
	if err != nil {
		t.Fatalf("EncryptKey: %v", err)
	}

	if _, err := DecryptKey(blob, "wrong"); err == nil {
		t.Error("expected error for wrong password")
	}
}

func TestEncryptKeyValidation(t *testing.T) {
	if _, err := EncryptKey(testKey, ""); err == nil {
		t.Error("expected error for empty password")
	}
	if _, err := EncryptKey("zz", "pass"); err == nil {
		t.Error("expected error for non-hex key")
	}
	if _, err := EncryptKey("abcd", "pass"); err == nil {
		t.Error("expected error for short key")
	}
}

func TestLoadKey(t *testing.T) {
	t.Run("raw key", func(t *testing.T) {
		got, err := LoadKey(KeyConfig{RawPrivateKey: "0x" + testKey})
		if err != nil {
			t.Fatalf("LoadKey: %v", err)
		}
		if got != testKey {
			t.Errorf("got %q, want %q", got, testKey)
		}
	})

	t.Run("raw key invalid hex", func(t *testing.T) {
		if _, err := LoadKey(KeyConfig{RawPrivateKey: "not-hex"}); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("encrypted file", func(t *testing.T) {
		blob, err := EncryptKey(testKey, "filepass")
		if err != nil {
			t.Fatalf("EncryptKey: %v", err)
		}
		path := filepath.Join(t.TempDir(), "wallet.json")
		if err := os.WriteFile(path, blob, 0o600); err != nil {
			t.Fatalf("write key file: %v", err)
		}

		got, err := LoadKey(KeyConfig{EncryptedKeyPath: path, KeyPassword: "filepass"})
		if err != nil {
			t.Fatalf("LoadKey: %v", err)
		}
		if got != testKey {
			t.Errorf("got %q, want %q", got, testKey)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadKey(KeyConfig{EncryptedKeyPath: "/does/not/exist.json", KeyPassword: "p"})
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("no source", func(t *testing.T) {
		if _, err := LoadKey(KeyConfig{}); err == nil {
			t.Error("expected error")
		}
	})
}
