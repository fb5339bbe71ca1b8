package db

import (
	"errors"
	"strings"
	"testing"
)

func TestCipherRoundTrip(t *testing.T) {
	c, err := NewCipher("k1")
	if err != nil {
		t.Fatal(err)
	}
	for _, plain := range []string{"groceries at the corner shop", "ñandú €", "x"} {
		sealed, err := c.Encrypt(plain)
		if err != nil {
			t.Fatal(err)
		}
		if !IsEncrypted(sealed) || strings.Contains(sealed, plain) {
			t.Fatalf("Encrypt(%q) = %q", plain, sealed)
		}
		got, err := c.Decrypt(sealed)
		if err != nil || got != plain {
			t.Fatalf("Decrypt = %q, %v; want %q", got, err, plain)
		}
	}
}

func TestCipherUsesFreshNonce(t *testing.T) {
	c, _ := NewCipher("k1")
	a, _ := c.Encrypt("same")
	b, _ := c.Encrypt("same")
	if a == b {
		t.Fatal("two encryptions of the same value must differ")
	}
}

func TestCipherEmptyAndLegacyValues(t *testing.T) {
	c, _ := NewCipher("k1")
	if s, _ := c.Encrypt(""); s != "" {
		t.Fatalf("empty plaintext should stay empty, got %q", s)
	}
	if s, err := c.Decrypt("written before encryption"); err != nil || s != "written before encryption" {
		t.Fatalf("legacy plaintext: %q, %v", s, err)
	}
}

func TestCipherRejectsTamperingAndWrongKey(t *testing.T) {
	c, _ := NewCipher("k1")
	sealed, _ := c.Encrypt("secret note")

	tampered := sealed[:len(sealed)-4] + "AAAA"
	if _, err := c.Decrypt(tampered); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("tampered: err = %v", err)
	}

	other, _ := NewCipher("k2")
	if _, err := other.Decrypt(sealed); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("wrong key: err = %v", err)
	}

	if _, err := c.Decrypt(encryptedPrefix + "!!!"); !errors.Is(err, ErrDecrypt) {
		t.Fatalf("bad base64: err = %v", err)
	}
}

func TestNewCipherRequiresKey(t *testing.T) {
	if _, err := NewCipher(""); err == nil {
		t.Fatal("expected error for empty key")
	}
}
