package database

import (
	"context"
	"fmt"
	"iter"
	"regexp"
	"strings"
)

var identRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// quoteIdent rejects anything that is not a plain lower-case identifier.
// Table and column names reach here from snapshot files, so they are never
// interpolated unchecked.
func quoteIdent(name string) (string, error) {
	if !identRegex.MatchString(name) {
		return "", fmt.Errorf("invalid identifier %q", name)
	}
	return `"` + name + `"`, nil
}

func quoteIdents(names []string) (string, error) {
	quoted := make([]string, len(names))
	for i, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return "", err
		}
		quoted[i] = q
	}
	return strings.Join(quoted, ", "), nil
}

// ScanTable lazily yields every row of table as values in column order,
// ordered by orderBy. TEXT and BLOB values are yielded as strings.
func (q Queries) ScanTable(ctx context.Context, table string, columns []string, orderBy string) iter.Seq2[[]any, error] {
	return func(yield func([]any, error) bool) {
		t, err := quoteIdent(table)
		if err != nil {
			yield(nil, err)
			return
		}
		cols, err := quoteIdents(columns)
		if err != nil {
			yield(nil, err)
			return
		}
		order, err := quoteIdent(orderBy)
		if err != nil {
			yield(nil, err)
			return
		}

		rows, err := q.q.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`, cols, t, order))
		if err != nil {
			yield(nil, fmt.Errorf("failed to query %s: %w", table, err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				yield(nil, fmt.Errorf("failed to scan %s row: %w", table, err))
				return
			}
			for i, v := range values {
				if b, ok := v.([]byte); ok {
					values[i] = string(b)
				}
			}
			if !yield(values, nil) {
				return
			}
		}

		if err := rows.Err(); err != nil {
			yield(nil, fmt.Errorf("error iterating %s: %w", table, err))
		}
	}
}

// DeleteAllRows empties table and reports how many rows were removed.
func (q Queries) DeleteAllRows(ctx context.Context, table string) (int64, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}
	res, err := q.q.ExecContext(ctx, `DELETE FROM `+t)
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s: %w", table, err)
	}
	return res.RowsAffected()
}

// InsertRow inserts one row with explicit column values, including the
// primary key.
func (q Queries) InsertRow(ctx context.Context, table string, columns []string, values []any) error {
	if len(columns) != len(values) {
		return fmt.Errorf("insert into %s: %d columns but %d values", table, len(columns), len(values))
	}
	t, err := quoteIdent(table)
	if err != nil {
		return err
	}
	cols, err := quoteIdents(columns)
	if err != nil {
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")

	if _, err := q.q.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`, t, cols, placeholders),
		values...,
	); err != nil {
		return fmt.Errorf("failed to insert into %s: %w", table, err)
	}
	return nil
}

// ReplaceColumnValue rewrites column from one value to another and reports
// the number of rows changed.
func (q Queries) ReplaceColumnValue(ctx context.Context, table, column string, from, to any) (int64, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}
	c, err := quoteIdent(column)
	if err != nil {
		return 0, err
	}
	res, err := q.q.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s = ? WHERE %s = ?`, t, c, c), to, from)
	if err != nil {
		return 0, fmt.Errorf("failed to update %s.%s: %w", table, column, err)
	}
	return res.RowsAffected()
}

// DeleteRowsWhere deletes rows of table whose column equals value.
func (q Queries) DeleteRowsWhere(ctx context.Context, table, column string, value any) (int64, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}
	c, err := quoteIdent(column)
	if err != nil {
		return 0, err
	}
	res, err := q.q.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`, t, c), value)
	if err != nil {
		return 0, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// CountRows counts the rows in table.
func (q Queries) CountRows(ctx context.Context, table string) (int64, error) {
	t, err := quoteIdent(table)
	if err != nil {
		return 0, err
	}
	var n int64
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+t).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
