package crypto

import "testing"

func TestEncryptorRoundTrip(t *testing.T) {
	e, err := NewEncryptor([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	ciphertext, err := e.Encrypt("ya29.access-token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !IsEncrypted(ciphertext) {
		t.Fatalf("expected IsEncrypted to recognize our own ciphertext")
	}

	plaintext, err := e.Decrypt(ciphertext)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plaintext != "ya29.access-token" {
		t.Fatalf("expected round-trip to recover plaintext, got %q", plaintext)
	}
}

func TestEncryptCredentialPairRoundTrip(t *testing.T) {
	e, err := NewEncryptor([]byte("key-for-oauth-credential-pair-test"))
	if err != nil {
		t.Fatalf("NewEncryptor: %v", err)
	}

	accessEnc, refreshEnc, err := e.EncryptCredentialPair("access-tok", "refresh-tok")
	if err != nil {
		t.Fatalf("EncryptCredentialPair: %v", err)
	}

	access, refresh, err := e.DecryptCredentialPair(accessEnc, refreshEnc)
	if err != nil {
		t.Fatalf("DecryptCredentialPair: %v", err)
	}
	if access != "access-tok" || refresh != "refresh-tok" {
		t.Fatalf("expected access-tok/refresh-tok, got %q/%q", access, refresh)
	}
}

func TestEncryptorDecryptsPreviousKeyDuringRotation(t *testing.T) {
	oldKey := []byte("old-encryption-key-before-rotate")
	newKey := []byte("new-encryption-key-after-rotate!")

	old, err := NewEncryptor(oldKey)
	if err != nil {
		t.Fatalf("NewEncryptor(old): %v", err)
	}
	storedUnderOldKey, err := old.Encrypt("stale-refresh-token")
	if err != nil {
		t.Fatalf("Encrypt under old key: %v", err)
	}

	rotated, err := NewEncryptorWithPrevious(newKey, oldKey)
	if err != nil {
		t.Fatalf("NewEncryptorWithPrevious: %v", err)
	}

	// A credential encrypted before the rotation must still decrypt.
	plaintext, err := rotated.Decrypt(storedUnderOldKey)
	if err != nil {
		t.Fatalf("expected rotated encryptor to still decrypt old ciphertext: %v", err)
	}
	if plaintext != "stale-refresh-token" {
		t.Fatalf("expected stale-refresh-token, got %q", plaintext)
	}

	// Anything written after rotation is sealed under the new key and a
	// plain (no-previous-key) encryptor for the new key alone can read it.
	freshCiphertext, err := rotated.Encrypt("fresh-refresh-token")
	if err != nil {
		t.Fatalf("Encrypt under rotated encryptor: %v", err)
	}
	newOnly, err := NewEncryptor(newKey)
	if err != nil {
		t.Fatalf("NewEncryptor(new): %v", err)
	}
	if _, err := newOnly.Decrypt(freshCiphertext); err != nil {
		t.Fatalf("expected new-key-only encryptor to decrypt fresh ciphertext: %v", err)
	}
}

func TestEncryptorRejectsPreviousKeyCiphertextWithoutRotationConfigured(t *testing.T) {
	oldKey := []byte("old-encryption-key-before-rotate")
	newKey := []byte("new-encryption-key-after-rotate!")

	old, err := NewEncryptor(oldKey)
	if err != nil {
		t.Fatalf("NewEncryptor(old): %v", err)
	}
	ciphertext, err := old.Encrypt("token")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	newOnly, err := NewEncryptor(newKey)
	if err != nil {
		t.Fatalf("NewEncryptor(new): %v", err)
	}
	if _, err := newOnly.Decrypt(ciphertext); err == nil {
		t.Fatalf("expected decrypting with an unrelated key to fail")
	}
}
