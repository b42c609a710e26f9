// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package encryption

import (
	"encoding/base64"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Envelope is the on-disk format of an encrypted backup payload. Binary
// fields travel as base64 strings in JSON; the struct holds raw bytes.
type Envelope struct {
	Version    string           `json:"version"`
	Encrypted  bool             `json:"encrypted"`
	Algorithm  string           `json:"algorithm"`
	Ciphertext []byte           `json:"-"`
	Salt       []byte           `json:"-"`
	IV         []byte           `json:"-"`
	Metadata   EnvelopeMetadata `json:"metadata"`
}

// EnvelopeMetadata records integrity data about the plaintext so corruption
// can be detected after decryption.
type EnvelopeMetadata struct {
	OriginalSize  int64     `json:"originalSize"`
	EncryptedSize int64     `json:"encryptedSize"`
	Timestamp     time.Time `json:"timestamp"`
	Checksum      string    `json:"checksum"`
}

// envelopeWire mirrors Envelope with base64-encoded binary fields.
type envelopeWire struct {
	Version    string           `json:"version"`
	Encrypted  bool             `json:"encrypted"`
	Algorithm  string           `json:"algorithm"`
	Ciphertext string           `json:"ciphertext"`
	Salt       string           `json:"salt"`
	IV         string           `json:"iv"`
	Metadata   EnvelopeMetadata `json:"metadata"`
}

// Marshal serializes the envelope to its JSON wire form.
func (e *Envelope) Marshal() ([]byte, error) {
	wire := envelopeWire{
		Version:    e.Version,
		Encrypted:  e.Encrypted,
		Algorithm:  e.Algorithm,
		Ciphertext: base64.StdEncoding.EncodeToString(e.Ciphertext),
		Salt:       base64.StdEncoding.EncodeToString(e.Salt),
		IV:         base64.StdEncoding.EncodeToString(e.IV),
		Metadata:   e.Metadata,
	}

	data, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// UnmarshalEnvelope parses the JSON wire form back into an envelope. The
// result is structurally validated before being returned.
func UnmarshalEnvelope(data []byte) (*Envelope, error) {
	var wire envelopeWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(wire.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decode ciphertext: %v", ErrInvalidEnvelope, err)
	}
	salt, err := base64.StdEncoding.DecodeString(wire.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: decode salt: %v", ErrInvalidEnvelope, err)
	}
	iv, err := base64.StdEncoding.DecodeString(wire.IV)
	if err != nil {
		return nil, fmt.Errorf("%w: decode iv: %v", ErrInvalidEnvelope, err)
	}

	env := &Envelope{
		Version:    wire.Version,
		Encrypted:  wire.Encrypted,
		Algorithm:  wire.Algorithm,
		Ciphertext: ciphertext,
		Salt:       salt,
		IV:         iv,
		Metadata:   wire.Metadata,
	}

	if err := ValidateEnvelope(env); err != nil {
		return nil, err
	}
	return env, nil
}

// IsEnvelope reports whether data looks like an encrypted envelope rather
// than a plain or compressed archive. Used when opening backup files of
// unknown provenance.
func IsEnvelope(data []byte) bool {
	var probe struct {
		Encrypted bool   `json:"encrypted"`
		Algorithm string `json:"algorithm"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return false
	}
	return probe.Encrypted && probe.Algorithm == Algorithm
}
