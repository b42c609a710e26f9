// Boardkeep - Task Management Backend
// Copyright 2026 Boardkeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/boardkeep/boardkeep

package restore

import (
	"context"
	"fmt"
	"strings"

	"github.com/boardkeep/boardkeep/internal/database"
)

// IntegrityCheck is one named health probe with its outcome.
type IntegrityCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message"`
}

// taskStatuses are the legal values of tasks.status.
var taskStatuses = []string{"todo", "in_progress", "done", "blocked"}

// priority range for tasks.priority.
const (
	minPriority = 0
	maxPriority = 4
)

// RunIntegrityChecks probes the live database for structural and domain
// problems. Every check runs regardless of earlier failures; the error
// return is reserved for checks that could not execute at all.
func (e *Engine) RunIntegrityChecks(ctx context.Context) ([]IntegrityCheck, error) {
	var checks []IntegrityCheck

	add := func(name string, passed bool, message string) {
		if message == "" {
			message = "ok"
		}
		checks = append(checks, IntegrityCheck{Name: name, Passed: passed, Message: message})
	}

	problems, err := e.db.IntegrityCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	add("sqlite_quick_check", len(problems) == 0, strings.Join(problems, "; "))

	violations, err := e.db.ForeignKeyCheck(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	if len(violations) == 0 {
		add("foreign_keys", true, "")
	} else {
		add("foreign_keys", false, fmt.Sprintf("%d orphaned rows (first: table %s)",
			len(violations), violations[0].Table))
	}

	count, err := e.countRows(ctx, `SELECT count(*) FROM tasks WHERE status NOT IN (`+
		placeholders(len(taskStatuses))+`)`, statusArgs()...)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	add("task_status_domain", count == 0, countMessage(count, "tasks with unknown status"))

	count, err = e.countRows(ctx,
		`SELECT count(*) FROM tasks WHERE priority < ? OR priority > ?`, minPriority, maxPriority)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	add("task_priority_domain", count == 0, countMessage(count, "tasks with out-of-range priority"))

	count, err = e.countRows(ctx,
		`SELECT (SELECT count(*) FROM tasks WHERE position < 0) + (SELECT count(*) FROM boards WHERE position < 0)`)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	add("non_negative_positions", count == 0, countMessage(count, "rows with negative position"))

	missing, err := e.missingIndexes(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	add("required_indexes", len(missing) == 0, strings.Join(missing, ", "))

	cycle, err := e.findDependencyCycle(ctx)
	if err != nil {
		return nil, fmt.Errorf("integrity checks: %w", err)
	}
	add("dependency_cycles", cycle == "", cycle)

	return checks, nil
}

func (e *Engine) countRows(ctx context.Context, query string, args ...any) (int64, error) {
	var count int64
	if err := e.db.QueryOne(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (e *Engine) missingIndexes(ctx context.Context) ([]string, error) {
	var missing []string
	for _, name := range database.RequiredIndexes() {
		exists, err := e.db.IndexExists(ctx, name)
		if err != nil {
			return nil, err
		}
		if !exists {
			missing = append(missing, name)
		}
	}
	return missing, nil
}

// findDependencyCycle walks the task dependency graph and returns a
// description of the first cycle found, empty when the graph is acyclic.
func (e *Engine) findDependencyCycle(ctx context.Context) (string, error) {
	rows, err := e.db.Query(ctx, `SELECT task_id, depends_on_id FROM task_dependencies`)
	if err != nil {
		return "", err
	}
	defer rows.Close() //nolint:errcheck // Best effort cleanup

	edges := make(map[string][]string)
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return "", err
		}
		edges[from] = append(edges[from], to)
	}
	if err := rows.Err(); err != nil {
		return "", err
	}

	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[string]int)

	var visit func(node string) string
	visit = func(node string) string {
		state[node] = inStack
		for _, next := range edges[node] {
			switch state[next] {
			case inStack:
				return fmt.Sprintf("cycle through tasks %s and %s", node, next)
			case unvisited:
				if found := visit(next); found != "" {
					return found
				}
			}
		}
		state[node] = done
		return ""
	}

	for node := range edges {
		if state[node] == unvisited {
			if found := visit(node); found != "" {
				return found, nil
			}
		}
	}
	return "", nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func statusArgs() []any {
	args := make([]any, len(taskStatuses))
	for i, s := range taskStatuses {
		args[i] = s
	}
	return args
}

func countMessage(count int64, what string) string {
	if count == 0 {
		return ""
	}
	return fmt.Sprintf("%d %s", count, what)
}
