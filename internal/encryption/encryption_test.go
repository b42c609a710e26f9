// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package encryption

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	plaintext := []byte("INSERT INTO boards (id, name) VALUES ('b1', 'Sprint 12');")
	passphrase := "correct horse battery staple"

	env, err := Encrypt(plaintext, passphrase)
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	if env.Version != EnvelopeVersion {
		t.Errorf("Version = %q, want %q", env.Version, EnvelopeVersion)
	}
	if env.Algorithm != Algorithm {
		t.Errorf("Algorithm = %q, want %q", env.Algorithm, Algorithm)
	}
	if !env.Encrypted {
		t.Error("Encrypted = false, want true")
	}
	if env.Metadata.OriginalSize != int64(len(plaintext)) {
		t.Errorf("OriginalSize = %d, want %d", env.Metadata.OriginalSize, len(plaintext))
	}
	if bytes.Contains(env.Ciphertext, plaintext) {
		t.Error("ciphertext contains plaintext")
	}

	got, err := Decrypt(env, passphrase)
	if err != nil {
		t.Fatalf("Decrypt() error = %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Decrypt() = %q, want %q", got, plaintext)
	}
}

func TestEncryptEmptyInputs(t *testing.T) {
	if _, err := Encrypt(nil, "passphrase"); !errors.Is(err, ErrEmptyPlaintext) {
		t.Errorf("Encrypt(nil) error = %v, want ErrEmptyPlaintext", err)
	}
	if _, err := Encrypt([]byte("data"), ""); !errors.Is(err, ErrEmptyPassphrase) {
		t.Errorf("Encrypt with empty passphrase error = %v, want ErrEmptyPassphrase", err)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	env, err := Encrypt([]byte("sensitive task data"), "right passphrase")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	_, err = Decrypt(env, "wrong passphrase")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	env, err := Encrypt([]byte("sensitive task data"), "passphrase-12345")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	env.Ciphertext[0] ^= 0xff
	_, err = Decrypt(env, "passphrase-12345")
	if !errors.Is(err, ErrDecryptionFailed) {
		t.Errorf("Decrypt() error = %v, want ErrDecryptionFailed", err)
	}
}

func TestDecryptChecksumMismatchIsIntegrityError(t *testing.T) {
	env, err := Encrypt([]byte("sensitive task data"), "passphrase-12345")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	// The AEAD open will succeed; only the recorded checksum disagrees.
	wrong := sha256.Sum256([]byte("something else"))
	env.Metadata.Checksum = hex.EncodeToString(wrong[:])

	_, err = Decrypt(env, "passphrase-12345")
	if !errors.Is(err, ErrIntegrityCheckFailed) {
		t.Errorf("Decrypt() error = %v, want ErrIntegrityCheckFailed", err)
	}
	if errors.Is(err, ErrDecryptionFailed) {
		t.Error("integrity failure must not be classified as a decryption failure")
	}
}

func TestDeriveKeyDeterministicPerSalt(t *testing.T) {
	key1, salt, id1, err := DeriveKey("passphrase-12345", nil)
	if err != nil {
		t.Fatalf("DeriveKey() error = %v", err)
	}
	key2, _, id2, err := DeriveKey("passphrase-12345", salt)
	if err != nil {
		t.Fatalf("DeriveKey() with salt error = %v", err)
	}

	if !bytes.Equal(key1, key2) {
		t.Error("same passphrase and salt must derive the same key")
	}
	if id1 != id2 {
		t.Errorf("key id = %q and %q, want equal", id1, id2)
	}
	if len(id1) != keyIDLength {
		t.Errorf("key id length = %d, want %d", len(id1), keyIDLength)
	}

	key3, _, _, err := DeriveKey("passphrase-12345", nil)
	if err != nil {
		t.Fatalf("DeriveKey() fresh salt error = %v", err)
	}
	if bytes.Equal(key1, key3) {
		t.Error("fresh salt must derive a different key")
	}
}

func TestEnvelopeMarshalRoundTrip(t *testing.T) {
	env, err := Encrypt([]byte("archive payload"), "passphrase-12345")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"algorithm":"aes-256-gcm"`) {
		t.Errorf("wire form missing algorithm field: %s", data)
	}

	parsed, err := UnmarshalEnvelope(data)
	if err != nil {
		t.Fatalf("UnmarshalEnvelope() error = %v", err)
	}

	got, err := Decrypt(parsed, "passphrase-12345")
	if err != nil {
		t.Fatalf("Decrypt() after round trip error = %v", err)
	}
	if string(got) != "archive payload" {
		t.Errorf("round trip plaintext = %q", got)
	}
}

func TestUnmarshalEnvelopeRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "not json", `{"encrypted":false}`, `{"encrypted":true,"algorithm":"rot13"}`} {
		if _, err := UnmarshalEnvelope([]byte(input)); !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("UnmarshalEnvelope(%q) error = %v, want ErrInvalidEnvelope", input, err)
		}
	}
}

func TestValidateEnvelope(t *testing.T) {
	valid, err := Encrypt([]byte("payload"), "passphrase-12345")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}

	tests := []struct {
		name    string
		mutate  func(e *Envelope)
		wantErr bool
	}{
		{"valid", func(_ *Envelope) {}, false},
		{"not encrypted", func(e *Envelope) { e.Encrypted = false }, true},
		{"unknown algorithm", func(e *Envelope) { e.Algorithm = "des" }, true},
		{"short salt", func(e *Envelope) { e.Salt = e.Salt[:8] }, true},
		{"short iv", func(e *Envelope) { e.IV = e.IV[:4] }, true},
		{"empty ciphertext", func(e *Envelope) { e.Ciphertext = nil }, true},
		{"bad checksum length", func(e *Envelope) { e.Metadata.Checksum = "abcd" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := *valid
			env.Metadata = valid.Metadata
			tt.mutate(&env)

			err := ValidateEnvelope(&env)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnvelope() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if err := ValidateEnvelope(nil); !errors.Is(err, ErrInvalidEnvelope) {
		t.Errorf("ValidateEnvelope(nil) error = %v, want ErrInvalidEnvelope", err)
	}
}

func TestIsEnvelope(t *testing.T) {
	env, err := Encrypt([]byte("payload"), "passphrase-12345")
	if err != nil {
		t.Fatalf("Encrypt() error = %v", err)
	}
	data, err := env.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	if !IsEnvelope(data) {
		t.Error("IsEnvelope(marshaled envelope) = false, want true")
	}
	if IsEnvelope([]byte("-- boardkeep backup\nCREATE TABLE boards (id TEXT);")) {
		t.Error("IsEnvelope(sql text) = true, want false")
	}
	if IsEnvelope([]byte{0x1f, 0x8b, 0x08}) {
		t.Error("IsEnvelope(gzip header) = true, want false")
	}
}
