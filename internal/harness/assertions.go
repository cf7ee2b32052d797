package harness

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/tickmirror/internal/catalog"
)

// validIdentifier matches column names accepted in final_state where clauses.
var validIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
// db is the mirror final_state assertions query.
func EvaluateAssertions(ctx context.Context, result *Result, assertions []Assertion, db *sql.DB) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertStepOrder:
			err = assertStepOrder(result, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState:
			if db == nil {
				err = fmt.Errorf("final_state requires database context")
			} else {
				err = assertFinalState(ctx, db, assertion)
			}
		case AssertHaltedAt:
			err = assertHaltedAt(result, assertion)
		default:
			err = fmt.Errorf("unknown assertion type %q", assertion.Type)
		}

		if err != nil {
			errors = append(errors, fmt.Sprintf("assertion[%d]: %v", i, err))
		}
	}

	return errors
}

// assertStepOrder checks that every tick ran exactly the expected steps.
// The halting tick stops early, so it only has to match a prefix.
func assertStepOrder(result *Result, assertion Assertion) error {
	byTick := result.stepsByTick()
	for tick := uint64(1); tick <= result.Ticks; tick++ {
		got := byTick[tick]
		want := assertion.Steps
		if tick == result.HaltedAt && len(got) <= len(want) {
			want = want[:len(got)]
		}
		if !slices.Equal(got, want) {
			return fmt.Errorf("step_order: tick %d ran %v, want %v", tick, got, assertion.Steps)
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Step != assertion.Step {
			continue
		}
		if assertion.Tick > 0 && event.Tick != assertion.Tick {
			continue
		}
		count++
	}

	if count != assertion.Count {
		if assertion.Tick > 0 {
			return fmt.Errorf("trace_count: step %s emitted %d rows at tick %d, want %d",
				assertion.Step, count, assertion.Tick, assertion.Count)
		}
		return fmt.Errorf("trace_count: step %s emitted %d rows, want %d", assertion.Step, count, assertion.Count)
	}
	return nil
}

func assertHaltedAt(result *Result, assertion Assertion) error {
	if result.HaltedAt == 0 {
		return fmt.Errorf("halted_at: scheduler did not halt (state %s)", result.State)
	}
	if result.HaltedAt != assertion.Tick {
		return fmt.Errorf("halted_at: halted at tick %d, want %d", result.HaltedAt, assertion.Tick)
	}
	if assertion.Step != "" && result.HaltedStep != assertion.Step {
		return fmt.Errorf("halted_at: halted at step %s, want %s", result.HaltedStep, assertion.Step)
	}
	return nil
}

// assertFinalState selects exactly one row of a mirror table and compares the
// expected columns.
func assertFinalState(ctx context.Context, db *sql.DB, assertion Assertion) error {
	where, args, err := buildWhereClause(assertion.Where)
	if err != nil {
		return err
	}

	query := "SELECT * FROM " + catalog.QuoteIdent(assertion.Table) + where
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("final_state: query %s: %w", assertion.Table, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return fmt.Errorf("final_state: columns: %w", err)
	}

	var matched []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return fmt.Errorf("final_state: scan: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			row[col] = values[i]
		}
		matched = append(matched, row)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("final_state: %w", err)
	}

	if len(matched) != 1 {
		return fmt.Errorf("final_state: %s where %s matched %d rows, want 1",
			assertion.Table, formatWhereClause(assertion.Where), len(matched))
	}

	row := matched[0]
	for _, col := range sortedKeys(assertion.Expect) {
		actual, ok := row[col]
		if !ok {
			return fmt.Errorf("final_state: %s has no column %q", assertion.Table, col)
		}
		if !stateValuesEqual(assertion.Expect[col], actual) {
			return fmt.Errorf("final_state: %s where %s: %s = %v, want %v",
				assertion.Table, formatWhereClause(assertion.Where), col, actual, assertion.Expect[col])
		}
	}
	return nil
}

// buildWhereClause builds " WHERE a = ? AND b = ?" with keys in sorted order.
func buildWhereClause(where map[string]any) (string, []any, error) {
	if len(where) == 0 {
		return "", nil, nil
	}

	keys := sortedKeys(where)
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		if !validIdentifier.MatchString(key) {
			return "", nil, fmt.Errorf("invalid column name %q in where clause: must match pattern %s", key, validIdentifier.String())
		}
		conds = append(conds, catalog.QuoteIdent(key)+" = ?")
		args = append(args, where[key])
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// formatWhereClause creates a human-readable description of WHERE conditions.
func formatWhereClause(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	keys := sortedKeys(where)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// stateValuesEqual compares a YAML-decoded expected value with a value read
// from SQLite. Numbers compare by value whatever their Go type, and TEXT may
// arrive as []byte.
func stateValuesEqual(expected, actual any) bool {
	if expected == nil || actual == nil {
		return expected == nil && actual == nil
	}

	if e, ok := toFloat(expected); ok {
		a, ok := toFloat(actual)
		return ok && e == a
	}

	if b, ok := actual.([]byte); ok {
		actual = string(b)
	}
	switch exp := expected.(type) {
	case string:
		a, ok := actual.(string)
		return ok && exp == a
	case bool:
		if a, ok := actual.(bool); ok {
			return exp == a
		}
		// SQLite stores booleans as integers
		if a, ok := actual.(int64); ok {
			return exp == (a != 0)
		}
		return false
	}

	return reflect.DeepEqual(expected, actual)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
