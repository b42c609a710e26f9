// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

// Package archive implements the portable backup format: a stream of SQL
// statements annotated with structured marker lines that attribute every
// statement to a table. The format is deliberately plain text so an archive
// remains inspectable and diffable with ordinary tools.
//
// A marker line has the exact shape
//
//	--@ table=<name> kind=<schema|data>
//
// and applies to every statement that follows until the next marker. The
// markers are the source of truth for attribution; no SQL parsing is
// required to slice an archive by table.
package archive

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// StatementKind distinguishes DDL from row data inside an archive.
type StatementKind string

const (
	// KindSchema marks CREATE TABLE / CREATE INDEX statements.
	KindSchema StatementKind = "schema"

	// KindData marks INSERT statements.
	KindData StatementKind = "data"
)

// markerPrefix opens every attribution line.
const markerPrefix = "--@ "

// headerLine opens every archive. Parsing tolerates its absence so trimmed
// or concatenated streams still load.
const headerLine = "-- boardkeep archive v1"

// Statement is one SQL statement with its table attribution.
type Statement struct {
	Table string
	Kind  StatementKind
	SQL   string
}

// ErrUnattributedStatement is returned when a statement appears before any
// marker line, leaving its table unknown.
var ErrUnattributedStatement = errors.New("statement precedes any table marker")

// Marker renders the attribution line for this statement.
func (s Statement) Marker() string {
	return fmt.Sprintf("%stable=%s kind=%s", markerPrefix, s.Table, s.Kind)
}

// parseMarker decodes a marker line. ok is false for ordinary comments.
func parseMarker(line string) (table string, kind StatementKind, ok bool) {
	rest, found := strings.CutPrefix(line, markerPrefix)
	if !found {
		return "", "", false
	}

	for _, field := range strings.Fields(rest) {
		key, value, found := strings.Cut(field, "=")
		if !found {
			continue
		}
		switch key {
		case "table":
			table = value
		case "kind":
			kind = StatementKind(value)
		}
	}

	if table == "" || (kind != KindSchema && kind != KindData) {
		return "", "", false
	}
	return table, kind, true
}

// Serialize renders statements into the archive text form. Consecutive
// statements sharing a table and kind share one marker.
func Serialize(stmts []Statement) []byte {
	var buf bytes.Buffer
	buf.WriteString(headerLine)
	buf.WriteByte('\n')

	var lastTable string
	var lastKind StatementKind
	for _, st := range stmts {
		if st.Table != lastTable || st.Kind != lastKind {
			buf.WriteString(st.Marker())
			buf.WriteByte('\n')
			lastTable, lastKind = st.Table, st.Kind
		}
		buf.WriteString(strings.TrimRight(st.SQL, "\n"))
		if !strings.HasSuffix(strings.TrimSpace(st.SQL), ";") {
			buf.WriteByte(';')
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// Parse reads an archive text stream back into attributed statements.
//
// Attribution comes only from marker lines. Statements may span multiple
// lines; a statement ends at a line whose trailing character is a
// semicolon. Ordinary comment lines are skipped. A statement seen before
// the first marker fails with ErrUnattributedStatement.
func Parse(data []byte) ([]Statement, error) {
	var (
		stmts   []Statement
		pending strings.Builder
		table   string
		kind    StatementKind
	)

	flush := func() error {
		sql := strings.TrimSpace(pending.String())
		pending.Reset()
		if sql == "" {
			return nil
		}
		if table == "" {
			return fmt.Errorf("%w: %.60q", ErrUnattributedStatement, sql)
		}
		stmts = append(stmts, Statement{Table: table, Kind: kind, SQL: sql})
		return nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if t, k, ok := parseMarker(trimmed); ok {
			if pending.Len() > 0 {
				return nil, fmt.Errorf("marker inside unterminated statement for table %s", table)
			}
			table, kind = t, k
			continue
		}
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}

		pending.WriteString(line)
		pending.WriteByte('\n')
		if strings.HasSuffix(trimmed, ";") {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan archive: %w", err)
	}
	if err := flush(); err != nil {
		return nil, err
	}

	return stmts, nil
}

// FilterTables returns the statements belonging to the named tables,
// preserving archive order. Schema statements are dropped unless
// includeSchema is set. Table names absent from the archive simply yield
// nothing; the caller decides whether that is a problem.
func FilterTables(stmts []Statement, tables []string, includeSchema bool) []Statement {
	wanted := make(map[string]bool, len(tables))
	for _, t := range tables {
		wanted[t] = true
	}

	var out []Statement
	for _, st := range stmts {
		if !wanted[st.Table] {
			continue
		}
		if st.Kind == KindSchema && !includeSchema {
			continue
		}
		out = append(out, st)
	}
	return out
}

// TableGroup collects one table's statements, schema separated from data.
type TableGroup struct {
	Table  string
	Schema []Statement
	Data   []Statement
}

// ExtractByTable groups statements per table, in first appearance order.
// Grouping relies on marker attribution alone.
func ExtractByTable(stmts []Statement) []TableGroup {
	index := make(map[string]int)
	var groups []TableGroup
	for _, st := range stmts {
		i, ok := index[st.Table]
		if !ok {
			i = len(groups)
			index[st.Table] = i
			groups = append(groups, TableGroup{Table: st.Table})
		}
		if st.Kind == KindSchema {
			groups[i].Schema = append(groups[i].Schema, st)
		} else {
			groups[i].Data = append(groups[i].Data, st)
		}
	}
	return groups
}

// Tables returns the distinct table names present in the archive, in first
// appearance order.
func Tables(stmts []Statement) []string {
	seen := make(map[string]bool)
	var out []string
	for _, st := range stmts {
		if !seen[st.Table] {
			seen[st.Table] = true
			out = append(out, st.Table)
		}
	}
	return out
}
