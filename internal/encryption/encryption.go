// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package encryption implements at-rest protection for backup archives.
//
// Encryption Algorithm:
//   - AES-256-GCM (authenticated encryption)
//   - 16-byte random IV per encryption
//   - Key derived from a passphrase using PBKDF2-HMAC-SHA256 with a
//     per-backup random 32-byte salt
//
// Every envelope records the SHA-256 and length of the plaintext. Decryption
// re-verifies both after the AEAD open succeeds: a passphrase or tampering
// problem surfaces as ErrDecryptionFailed, while a post-decryption checksum
// or size mismatch surfaces as ErrIntegrityCheckFailed. The second class
// indicates an algorithmic or storage-layer bug and is never retried.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// Algorithm identifies the only envelope algorithm this package writes.
	Algorithm = "aes-256-gcm"

	// EnvelopeVersion is the wire version of the JSON envelope.
	EnvelopeVersion = "1.0"

	// saltSize is the PBKDF2 salt length in bytes.
	saltSize = 32

	// ivSize is the GCM nonce length in bytes.
	ivSize = 16

	// keySize is the derived AES key length in bytes (256 bits).
	keySize = 32

	// pbkdf2Iterations is the fixed PBKDF2 iteration count.
	pbkdf2Iterations = 310_000

	// keyIDLength is the number of hex characters exposed as the key id.
	keyIDLength = 16
)

var (
	// ErrEmptyPassphrase is returned when an empty passphrase is provided.
	ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

	// ErrEmptyPlaintext is returned when attempting to encrypt empty data.
	ErrEmptyPlaintext = errors.New("plaintext cannot be empty")

	// ErrDecryptionFailed is returned when the AEAD open fails: wrong
	// passphrase or tampered ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed: invalid passphrase or tampered ciphertext")

	// ErrIntegrityCheckFailed is returned when decryption succeeds but the
	// plaintext checksum or size does not match the envelope metadata.
	ErrIntegrityCheckFailed = errors.New("integrity check failed: decrypted payload does not match envelope metadata")

	// ErrInvalidEnvelope is returned by ValidateEnvelope for structurally
	// malformed envelopes.
	ErrInvalidEnvelope = errors.New("invalid envelope")
)

// DeriveKey derives a 256-bit key from the passphrase. When salt is nil a
// fresh random 32-byte salt is generated. The returned key id is the first
// 16 hex characters of SHA-256(key); it exists for logging and bookkeeping
// only and carries no security weight.
func DeriveKey(passphrase string, salt []byte) (key, outSalt []byte, keyID string, err error) {
	if passphrase == "" {
		return nil, nil, "", ErrEmptyPassphrase
	}

	if salt == nil {
		salt = make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, "", fmt.Errorf("generate salt: %w", err)
		}
	} else if len(salt) != saltSize {
		return nil, nil, "", fmt.Errorf("%w: salt must be %d bytes, got %d", ErrInvalidEnvelope, saltSize, len(salt))
	}

	key = pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, keySize, sha256.New)

	sum := sha256.Sum256(key)
	keyID = hex.EncodeToString(sum[:])[:keyIDLength]

	return key, salt, keyID, nil
}

// Encrypt derives a key from the passphrase and seals the plaintext into an
// envelope. No I/O happens here; the caller decides where the bytes go.
func Encrypt(plaintext []byte, passphrase string) (*Envelope, error) {
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}

	key, salt, _, err := DeriveKey(passphrase, nil)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("generate iv: %w", err)
	}

	ciphertext := aead.Seal(nil, iv, plaintext, nil)
	checksum := sha256.Sum256(plaintext)

	return &Envelope{
		Version:    EnvelopeVersion,
		Encrypted:  true,
		Algorithm:  Algorithm,
		Ciphertext: ciphertext,
		Salt:       salt,
		IV:         iv,
		Metadata: EnvelopeMetadata{
			OriginalSize:  int64(len(plaintext)),
			EncryptedSize: int64(len(ciphertext)),
			Timestamp:     time.Now().UTC(),
			Checksum:      hex.EncodeToString(checksum[:]),
		},
	}, nil
}

// Decrypt re-derives the key from the passphrase and the envelope salt and
// opens the ciphertext. The plaintext checksum and size recorded in the
// envelope metadata are then verified; this check is mandatory because a
// consistent rewrite of envelope fields can pass the AEAD tag check while
// still corrupting the payload contract.
func Decrypt(env *Envelope, passphrase string) ([]byte, error) {
	if err := ValidateEnvelope(env); err != nil {
		return nil, err
	}

	key, _, _, err := DeriveKey(passphrase, env.Salt)
	if err != nil {
		return nil, err
	}

	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}

	if int64(len(plaintext)) != env.Metadata.OriginalSize {
		return nil, fmt.Errorf("%w: size %d, envelope records %d",
			ErrIntegrityCheckFailed, len(plaintext), env.Metadata.OriginalSize)
	}

	sum := sha256.Sum256(plaintext)
	if hex.EncodeToString(sum[:]) != env.Metadata.Checksum {
		return nil, fmt.Errorf("%w: plaintext checksum mismatch", ErrIntegrityCheckFailed)
	}

	return plaintext, nil
}

// ValidateEnvelope performs a structural check of an envelope without
// requiring the passphrase: field presence, expected lengths, and a known
// algorithm. It exists so malformed inputs are rejected before any key
// derivation work.
func ValidateEnvelope(env *Envelope) error {
	if env == nil {
		return fmt.Errorf("%w: envelope is nil", ErrInvalidEnvelope)
	}
	if !env.Encrypted {
		return fmt.Errorf("%w: envelope not marked encrypted", ErrInvalidEnvelope)
	}
	if env.Algorithm != Algorithm {
		return fmt.Errorf("%w: unknown algorithm %q", ErrInvalidEnvelope, env.Algorithm)
	}
	if len(env.Salt) != saltSize {
		return fmt.Errorf("%w: salt length %d, want %d", ErrInvalidEnvelope, len(env.Salt), saltSize)
	}
	if len(env.IV) != ivSize {
		return fmt.Errorf("%w: iv length %d, want %d", ErrInvalidEnvelope, len(env.IV), ivSize)
	}
	if len(env.Ciphertext) == 0 {
		return fmt.Errorf("%w: empty ciphertext", ErrInvalidEnvelope)
	}
	if env.Metadata.OriginalSize <= 0 {
		return fmt.Errorf("%w: non-positive original size", ErrInvalidEnvelope)
	}
	if len(env.Metadata.Checksum) != sha256.Size*2 {
		return fmt.Errorf("%w: checksum length %d, want %d", ErrInvalidEnvelope, len(env.Metadata.Checksum), sha256.Size*2)
	}
	return nil
}

// newAEAD builds an AES-256-GCM cipher with the envelope's 16-byte nonce size.
func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivSize)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}

	return aead, nil
}
