package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Generator allocates sequential identifiers of the form
// prefix + zero-padded(next), where next is one past the highest numeric
// suffix already stored under the prefix.
type Generator struct {
	table  string
	column string
}

// NewGenerator binds the allocator to the table and column holding the
// identifiers. Both names must be plain SQL identifiers; they are
// interpolated into the scan query.
func NewGenerator(table, column string) (*Generator, error) {
	if !isIdentifier(table) || !isIdentifier(column) {
		return nil, errors.New("sequence: table and column must be plain identifiers")
	}
	return &Generator{table: table, column: column}, nil
}

// Next returns the next identifier for the prefix, zero-padded to width.
//
// Concurrent allocators for the same prefix are serialized with a
// prefix-scoped pg_advisory_xact_lock taken before the scan. When q is a
// transaction the lock is held until the transaction ends, and under read
// committed the next holder's scan runs on a fresh snapshot, so it sees the
// identifier the previous holder committed. A row-level FOR UPDATE cannot
// give that: the blocked reader re-evaluates only the locked row and never
// sees the newly inserted one. When q is a bare *sql.DB each statement
// autocommits and the lock is released before the scan even runs; callers
// that need uniqueness must run inside the enclosing transaction.
//
// Any lock or scan failure propagates so the enclosing transaction aborts.
func (g *Generator) Next(ctx context.Context, q Querier, prefix string, width int) (string, error) {
	if prefix == "" {
		return "", errors.New("sequence: prefix is required")
	}
	if width <= 0 {
		return "", errors.New("sequence: width must be positive")
	}

	lockKey := g.table + ":" + g.column + ":" + prefix
	if _, err := q.ExecContext(ctx, `select pg_advisory_xact_lock(hashtextextended($1, 0))`, lockKey); err != nil {
		return "", fmt.Errorf("sequence: acquire allocation lock: %w", err)
	}

	query := fmt.Sprintf(
		`select %s from %s where %s like $1 order by %s desc limit 1`,
		g.column, g.table, g.column, g.column,
	)

	var last string
	err := q.QueryRowContext(ctx, query, prefix+"%").Scan(&last)
	next := 1
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First allocation under this prefix.
	case err != nil:
		return "", fmt.Errorf("sequence: scan %s: %w", g.column, err)
	default:
		suffix := strings.TrimPrefix(last, prefix)
		n, convErr := strconv.Atoi(suffix)
		if convErr != nil {
			return "", fmt.Errorf("sequence: malformed identifier %q under prefix %q", last, prefix)
		}
		next = n + 1
	}

	return fmt.Sprintf("%s%0*d", prefix, width, next), nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}
