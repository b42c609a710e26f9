// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package archive

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/boardkeep/boardkeep/internal/database"
)

// ExportAll dumps every user table into an attributed statement stream.
// Tables are emitted in foreign-key-safe order, each as its schema
// statement followed by one INSERT per row. Engine metadata tables are
// never exported.
func ExportAll(ctx context.Context, store *database.Store) ([]Statement, error) {
	var stmts []Statement

	for _, table := range database.UserTables() {
		schema, err := store.TableSchema(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", table, err)
		}
		stmts = append(stmts, Statement{Table: table, Kind: KindSchema, SQL: schema + ";"})

		rows, err := exportRows(ctx, store, table)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, rows...)
	}

	return stmts, nil
}

// exportRows renders every row of a table as an INSERT statement.
func exportRows(ctx context.Context, store *database.Store, table string) ([]Statement, error) {
	//nolint:gosec // table name comes from the fixed user-table list
	rows, err := store.Query(ctx, fmt.Sprintf("SELECT * FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("export rows from %s: %w", table, err)
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns of %s: %w", table, err)
	}

	prefix := fmt.Sprintf("INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))

	var stmts []Statement
	values := make([]any, len(columns))
	ptrs := make([]any, len(columns))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", table, err)
		}

		rendered := make([]string, len(values))
		for i, v := range values {
			rendered[i] = renderLiteral(v)
		}

		stmts = append(stmts, Statement{
			Table: table,
			Kind:  KindData,
			SQL:   prefix + "(" + strings.Join(rendered, ", ") + ");",
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows of %s: %w", table, err)
	}

	return stmts, nil
}

// renderLiteral formats a scanned value as a SQLite literal. Strings use
// single-quote doubling, blobs hex notation. Driver-dependent integer and
// float representations are normalized through the Go value, never through
// string formatting of the source.
func renderLiteral(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case int64:
		return strconv.FormatInt(val, 10)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case bool:
		if val {
			return "1"
		}
		return "0"
	case []byte:
		return "X'" + hex.EncodeToString(val) + "'"
	case string:
		return renderText(val)
	default:
		return renderText(fmt.Sprint(val))
	}
}

// renderText renders a string literal. The archive format is line oriented,
// so a raw line break inside a literal would split the statement; values
// containing line breaks are rendered as char() concatenations instead.
func renderText(s string) string {
	if !strings.ContainsAny(s, "\n\r") {
		return "'" + strings.ReplaceAll(s, "'", "''") + "'"
	}

	var out strings.Builder
	var segment strings.Builder
	out.WriteByte('(')

	first := true
	emit := func(tok string) {
		if !first {
			out.WriteString(" || ")
		}
		out.WriteString(tok)
		first = false
	}
	flush := func() {
		if segment.Len() > 0 {
			emit("'" + strings.ReplaceAll(segment.String(), "'", "''") + "'")
			segment.Reset()
		}
	}

	for _, r := range s {
		switch r {
		case '\n':
			flush()
			emit("char(10)")
		case '\r':
			flush()
			emit("char(13)")
		default:
			segment.WriteRune(r)
		}
	}
	flush()

	out.WriteByte(')')
	return out.String()
}
