package config

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseDriver selects the embedded engine unless overridden.
	DefaultDatabaseDriver = "sqlite3"

	// DefaultDatabaseURL is empty; required when the driver is postgres.
	DefaultDatabaseURL = ""

	// DefaultSQLitePath is the embedded database file.
	DefaultSQLitePath = "tasklog.db"

	// DefaultMaxConns caps the PostgreSQL pool.
	DefaultMaxConns = 10

	// DefaultLogFormat is the slog handler format.
	DefaultLogFormat = "json"
)
