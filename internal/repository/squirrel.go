package repository

import sq "github.com/Masterminds/squirrel"

var (
	// psql is the shared Squirrel statement builder configured for PostgreSQL dollar placeholders.
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	// sqlite is the shared Squirrel statement builder configured for SQLite question placeholders.
	sqlite = sq.StatementBuilder.PlaceholderFormat(sq.Question)
)

// rowScanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}
