// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
)

func TestSlogHandlerWritesThroughZerolog(t *testing.T) {
	var buf bytes.Buffer
	handler := NewSlogHandlerWithLogger(NewTestLogger(&buf))
	logger := slog.New(handler)

	logger.Info("service started", "service", "scheduler", "count", int64(3))

	out := buf.String()
	if !strings.Contains(out, `"message":"service started"`) {
		t.Errorf("missing message: %q", out)
	}
	if !strings.Contains(out, `"service":"scheduler"`) {
		t.Errorf("missing string attr: %q", out)
	}
	if !strings.Contains(out, `"count":3`) {
		t.Errorf("missing int attr: %q", out)
	}
}

func TestSlogHandlerLevels(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, `"level":"debug"`},
		{slog.LevelInfo, `"level":"info"`},
		{slog.LevelWarn, `"level":"warn"`},
		{slog.LevelError, `"level":"error"`},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		logger := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))
		logger.Log(context.Background(), tt.level, "msg")

		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("level %v: expected %s in %q", tt.level, tt.want, buf.String())
		}
	}
}

func TestSlogHandlerWithAttrsAndGroup(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(NewSlogHandlerWithLogger(NewTestLogger(&buf)))
	logger := base.With("component", "supervisor").WithGroup("svc")

	logger.Info("restarted", "name", "scheduler")

	out := buf.String()
	if !strings.Contains(out, `"component":"supervisor"`) {
		t.Errorf("missing pre-set attr: %q", out)
	}
	if !strings.Contains(out, `"svc.name":"scheduler"`) {
		t.Errorf("missing grouped attr: %q", out)
	}
}
