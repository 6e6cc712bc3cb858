package repositories

import (
	"strconv"
	"strings"
)

// Dialect papers over the placeholder and upsert differences between the
// MySQL and Postgres (pgx) drivers.
type Dialect string

const (
	DialectMySQL    Dialect = "mysql"
	DialectPostgres Dialect = "pgx"
)

// DialectFor maps a database/sql driver name onto a dialect.
func DialectFor(driver string) Dialect {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "pgx", "postgres", "postgresql":
		return DialectPostgres
	default:
		return DialectMySQL
	}
}

// Rebind rewrites ? placeholders into $n for Postgres.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Upsert returns the conflict clause updating cols when keys already exist.
func (d Dialect) Upsert(keys []string, cols []string) string {
	parts := make([]string, 0, len(cols))
	if d == DialectPostgres {
		for _, c := range cols {
			parts = append(parts, c+" = EXCLUDED."+c)
		}
		return "ON CONFLICT (" + strings.Join(keys, ", ") + ") DO UPDATE SET " + strings.Join(parts, ", ")
	}
	for _, c := range cols {
		parts = append(parts, c+" = VALUES("+c+")")
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(parts, ", ")
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
