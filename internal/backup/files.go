// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package backup

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boardkeep/boardkeep/internal/archive"
	"github.com/boardkeep/boardkeep/internal/encryption"
)

// fileName derives the on-disk name for a backup. The suffix chain records
// the applied transformations outermost last: .sql, .sql.gz, .sql.enc,
// .sql.gz.enc.
func fileName(id string, compressed, encrypted bool) string {
	name := id + ".sql"
	if compressed {
		name += ".gz"
	}
	if encrypted {
		name += ".enc"
	}
	return name
}

// encodePayload applies compression then encryption to a serialized archive.
func encodePayload(data []byte, compress bool, level int, passphrase string) ([]byte, error) {
	if compress {
		var err error
		data, err = archive.Compress(data, level)
		if err != nil {
			return nil, err
		}
	}

	if passphrase != "" {
		env, err := encryption.Encrypt(data, passphrase)
		if err != nil {
			return nil, err
		}
		data, err = env.Marshal()
		if err != nil {
			return nil, err
		}
	}

	return data, nil
}

// decodePayload reverses encodePayload using the flags recorded on the
// backup row. The flags are authoritative; content sniffing only guards
// against rows and files drifting apart.
func decodePayload(data []byte, b *Backup, passphrase string) ([]byte, error) {
	if b.Encrypted {
		if passphrase == "" {
			return nil, fmt.Errorf("backup %s is encrypted and no passphrase is configured", b.ID)
		}
		env, err := encryption.UnmarshalEnvelope(data)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", b.ID, err)
		}
		data, err = encryption.Decrypt(env, passphrase)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", b.ID, err)
		}
	}

	if b.Compressed {
		if !archive.IsGzip(data) {
			return nil, fmt.Errorf("backup %s marked compressed but payload is not gzip", b.ID)
		}
		var err error
		data, err = archive.Decompress(data)
		if err != nil {
			return nil, fmt.Errorf("backup %s: %w", b.ID, err)
		}
	}

	return data, nil
}

// writeFile persists the payload with owner-only permissions and returns
// its checksum.
func writeFile(path string, data []byte) (string, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("create backup dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", fmt.Errorf("write backup file: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// readFile loads the payload and verifies its checksum against the row.
func readFile(b *Backup) ([]byte, error) {
	data, err := os.ReadFile(b.FilePath)
	if err != nil {
		return nil, fmt.Errorf("read backup file for %s: %w", b.ID, err)
	}

	if b.Checksum != "" {
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != b.Checksum {
			return nil, fmt.Errorf("backup %s: file checksum mismatch", b.ID)
		}
	}
	return data, nil
}
