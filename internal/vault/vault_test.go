package vault

import (
	"bytes"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	v := New("test-passphrase")
	plaintext := []byte(`{"sub_task_id":"st1","output":{"rows":42}}`)

	ciphertext, nonce, err := v.Encrypt(plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	decrypted, err := v.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}

	if !bytes.Equal(plaintext, decrypted) {
		t.Fatalf("got %q, want %q", decrypted, plaintext)
	}
}

func TestWrongPassphrase(t *testing.T) {
	v1 := New("correct-passphrase")
	v2 := New("wrong-passphrase")

	ciphertext, nonce, err := v1.Encrypt([]byte("secret"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	_, err = v2.Decrypt(ciphertext, nonce)
	if err == nil {
		t.Fatal("expected error decrypting with wrong passphrase")
	}
}

func TestDeterministicKeyDerivation(t *testing.T) {
	v1 := New("same-passphrase")
	v2 := New("same-passphrase")

	ciphertext, nonce, err := v1.Encrypt([]byte("survives restart"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	decrypted, err := v2.Decrypt(ciphertext, nonce)
	if err != nil {
		t.Fatalf("decrypt with rederived key: %v", err)
	}
	if string(decrypted) != "survives restart" {
		t.Fatalf("got %q", decrypted)
	}
}

func TestDifferentPassphrasesDifferentKeys(t *testing.T) {
	v1 := New("passphrase-one")
	v2 := New("passphrase-two")

	if v1.key == v2.key {
		t.Fatal("different passphrases produced the same key")
	}
}

func TestTamperedCiphertext(t *testing.T) {
	v := New("test")
	ciphertext, nonce, err := v.Encrypt([]byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	ciphertext[0] ^= 0xff
	if _, err := v.Decrypt(ciphertext, nonce); err == nil {
		t.Fatal("expected error for tampered ciphertext")
	}
}
