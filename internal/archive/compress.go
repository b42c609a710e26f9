// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package archive

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// Compress gzips an archive at the given level (gzip.BestSpeed through
// gzip.BestCompression). Level 0 falls back to gzip.DefaultCompression.
func Compress(data []byte, level int) ([]byte, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}

	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, fmt.Errorf("create gzip writer: %w", err)
	}
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("compress archive: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish compression: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reverses Compress.
func Decompress(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer zr.Close() //nolint:errcheck // Best effort cleanup

	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	return out, nil
}

// IsGzip reports whether data begins with the gzip magic bytes.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b
}
