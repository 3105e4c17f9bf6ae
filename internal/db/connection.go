package db

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/suite224/suite-db/internal/config"
	"github.com/suite224/suite-db/internal/logger"
)

// querier is the subset of *pgx.Conn that Conn depends on.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Conn is a single live database connection. The caller that opened it owns
// it and must Close it; connections leased from a Pool are closed by the pool.
type Conn struct {
	conn     querier
	database string
	addr     string
	openedAt time.Time
	closed   atomic.Bool
}

func newConn(q querier, database, addr string) *Conn {
	return &Conn{
		conn:     q,
		database: database,
		addr:     addr,
		openedAt: time.Now(),
	}
}

// Connect opens one connection described by profile. Failures are returned as
// *ConnectionError and are never retried here.
func Connect(ctx context.Context, profile config.ConnectionProfile) (*Conn, error) {
	logger.Debug("Opening database connection",
		"env", profile.Environment,
		"host", profile.Host,
		"port", profile.Port,
		"database", profile.Database,
		"user", profile.User,
		"sslmode", profile.SSLMode,
	)

	connConfig, err := buildConnConfig(ctx, profile)
	if err != nil {
		logger.Error("Failed to build connection config", "error", err)
		return nil, err
	}

	if profile.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, profile.ConnectTimeout)
		defer cancel()
	}

	start := time.Now()
	pgConn, err := pgx.ConnectConfig(ctx, connConfig)
	if err != nil {
		connErr := newConnectionError(profile, err)
		logger.Error("Failed to open database connection",
			"host", profile.Host,
			"port", profile.Port,
			"kind", connErr.Kind,
			"elapsed", time.Since(start),
			"error", err,
		)
		return nil, connErr
	}

	logger.Info("Database connection opened",
		"host", profile.Host,
		"port", profile.Port,
		"database", pgConn.Config().Database,
		"elapsed", time.Since(start),
	)
	return newConn(pgConn, pgConn.Config().Database, profile.Addr()), nil
}

// buildConnConfig translates profile into a pgx connection config, resolving
// the password on the way.
func buildConnConfig(ctx context.Context, profile config.ConnectionProfile) (*pgx.ConnConfig, error) {
	password, err := profile.Secret(ctx)
	if err != nil {
		return nil, err
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(profile.User, password),
		Host:     net.JoinHostPort(profile.Host, strconv.Itoa(profile.Port)),
		Path:     "/" + profile.Database,
		RawQuery: url.Values{"sslmode": {profile.SSLMode}}.Encode(),
	}

	connConfig, err := pgx.ParseConfig(u.String())
	if err != nil {
		return nil, &config.ConfigurationError{Reason: "invalid connection parameters", Err: err}
	}

	connConfig.ConnectTimeout = profile.ConnectTimeout
	if profile.Charset != "" {
		connConfig.RuntimeParams["client_encoding"] = profile.Charset
	}
	if profile.Timezone != "" {
		connConfig.RuntimeParams["TimeZone"] = profile.Timezone
	}
	if profile.ApplicationName != "" {
		connConfig.RuntimeParams["application_name"] = profile.ApplicationName
	}
	return connConfig, nil
}

// Database returns the name of the database this connection is bound to.
func (c *Conn) Database() string {
	return c.database
}

// Addr returns the host:port the connection was opened against.
func (c *Conn) Addr() string {
	return c.addr
}

// Age returns how long ago the connection was opened.
func (c *Conn) Age() time.Duration {
	return time.Since(c.openedAt)
}

// CurrentDatabase asks the server which database the session is using.
func (c *Conn) CurrentDatabase(ctx context.Context) (string, error) {
	var name string
	if err := c.QueryRow(ctx, "SELECT current_database()").Scan(&name); err != nil {
		return "", fmt.Errorf("failed to query current database: %w", err)
	}
	return name, nil
}

// ServerVersion retrieves the PostgreSQL server version string.
func (c *Conn) ServerVersion(ctx context.Context) (string, error) {
	var version string
	if err := c.QueryRow(ctx, "SHOW server_version").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to get server version: %w", err)
	}
	return version, nil
}

// Ping checks that the connection is still usable.
func (c *Conn) Ping(ctx context.Context) error {
	if c.IsClosed() {
		return ErrConnClosed
	}
	return c.conn.Ping(ctx)
}

// Exec executes a statement without returning rows.
func (c *Conn) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if c.IsClosed() {
		return pgconn.CommandTag{}, ErrConnClosed
	}
	return c.conn.Exec(ctx, sql, args...)
}

// Query executes a query and returns its rows.
func (c *Conn) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if c.IsClosed() {
		return nil, ErrConnClosed
	}
	return c.conn.Query(ctx, sql, args...)
}

// QueryRow executes a query that returns at most one row.
func (c *Conn) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if c.IsClosed() {
		return &errorRow{err: ErrConnClosed}
	}
	return c.conn.QueryRow(ctx, sql, args...)
}

// Close closes the connection. Closing an already closed Conn is a no-op.
func (c *Conn) Close(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.Close(ctx)
}

// IsClosed reports whether Close has been called.
func (c *Conn) IsClosed() bool {
	return c.closed.Load()
}

// errorRow implements pgx.Row for error cases.
type errorRow struct {
	err error
}

func (r *errorRow) Scan(dest ...any) error {
	return r.err
}
