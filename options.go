package store

import "time"

// Option adjusts a backend Config.
type Option func(*Config)

// WithType selects the adapter.
func WithType(adapterType string) Option {
	return func(c *Config) { c.Type = adapterType }
}

func WithHost(host string) Option {
	return func(c *Config) { c.Host = host }
}

func WithPort(port int) Option {
	return func(c *Config) { c.Port = port }
}

// WithCredentials sets the database login.
func WithCredentials(username, password string) Option {
	return func(c *Config) {
		c.Username = username
		c.Password = password
	}
}

func WithDatabase(database string) Option {
	return func(c *Config) { c.Database = database }
}

// WithFilePath sets the database file of file-based backends. An empty path
// opens an in-memory database.
func WithFilePath(path string) Option {
	return func(c *Config) { c.FilePath = path }
}

// WithMaxOpenConns caps the connection pool. 0 leaves it unbounded.
func WithMaxOpenConns(n int) Option {
	return func(c *Config) { c.MaxOpenConns = n }
}

// WithTimeouts sets the connect and per-statement timeouts.
func WithTimeouts(connect, query time.Duration) Option {
	return func(c *Config) {
		c.ConnectTimeout = connect
		c.QueryTimeout = query
	}
}

// WithQueryTimeout bounds every statement. 0 disables the bound.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(c *Config) { c.QueryTimeout = timeout }
}

// WithSSL sets the TLS mode of network backends ("disable", "require", ...).
func WithSSL(mode string) Option {
	return func(c *Config) { c.SSLMode = mode }
}

// WithOption sets a driver parameter, such as application_name for
// PostgreSQL.
func WithOption(key, value string) Option {
	return func(c *Config) {
		if c.Options == nil {
			c.Options = make(map[string]string)
		}
		c.Options[key] = value
	}
}

// PostgreSQLOptions targets a PostgreSQL database on the default port with
// TLS disabled. Later options override these.
func PostgreSQLOptions(database, username, password string, opts ...Option) []Option {
	return append([]Option{
		WithType("postgres"),
		WithPort(5432),
		WithDatabase(database),
		WithCredentials(username, password),
		WithSSL("disable"),
	}, opts...)
}

// MySQLOptions targets a MySQL database on the default port.
func MySQLOptions(database, username, password string, opts ...Option) []Option {
	return append([]Option{
		WithType("mysql"),
		WithPort(3306),
		WithDatabase(database),
		WithCredentials(username, password),
	}, opts...)
}

// SQLiteOptions targets a SQLite file. Writers serialize on one connection.
func SQLiteOptions(filePath string, opts ...Option) []Option {
	return append([]Option{
		WithType("sqlite"),
		WithFilePath(filePath),
		WithMaxOpenConns(1),
	}, opts...)
}

// MemoryOptions targets the in-memory key/value backend.
func MemoryOptions(opts ...Option) []Option {
	return append([]Option{WithType("memory")}, opts...)
}

// NewConfig applies opts to DefaultConfig.
func NewConfig(opts ...Option) Config {
	config := DefaultConfig()
	return *config.Apply(opts...)
}

// Apply applies opts in order and returns c.
func (c *Config) Apply(opts ...Option) *Config {
	for _, opt := range opts {
		opt(c)
	}
	return c
}
