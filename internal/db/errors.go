package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/suite224/suite-db/internal/config"
)

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("pool is closed")

// ErrConnClosed is returned by operations on a closed Conn.
var ErrConnClosed = errors.New("connection is closed")

// ConnectionErrorKind classifies why a connection could not be established.
type ConnectionErrorKind string

const (
	KindAuth        ConnectionErrorKind = "auth"
	KindUnreachable ConnectionErrorKind = "unreachable"
	KindTimeout     ConnectionErrorKind = "timeout"
	KindCanceled    ConnectionErrorKind = "canceled"
	KindRejected    ConnectionErrorKind = "rejected"
)

// ConnectionError reports a failure to establish a connection. Err holds the
// underlying pgx or network error.
type ConnectionError struct {
	Kind     ConnectionErrorKind
	Host     string
	Port     int
	Database string
	Err      error
}

func newConnectionError(profile config.ConnectionProfile, err error) *ConnectionError {
	return &ConnectionError{
		Kind:     classify(err),
		Host:     profile.Host,
		Port:     profile.Port,
		Database: profile.Database,
		Err:      err,
	}
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s: %s:%d/%s: %v", e.Kind, e.Host, e.Port, e.Database, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// PoolExhaustedError is returned when no pool slot became free: either the
// pool fails fast, or the queued request timed out or was abandoned.
type PoolExhaustedError struct {
	MaxConnections int
	Behavior       QueueBehavior
	Waited         time.Duration
	Err            error
}

func (e *PoolExhaustedError) Error() string {
	if e.Behavior == QueueFail {
		return fmt.Sprintf("pool exhausted: all %d connections in use", e.MaxConnections)
	}
	msg := fmt.Sprintf("pool exhausted: no connection freed after waiting %s (max %d)",
		e.Waited.Round(time.Millisecond), e.MaxConnections)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PoolExhaustedError) Unwrap() error {
	return e.Err
}

// classify maps a pgx connect error onto a ConnectionErrorKind.
func classify(err error) ConnectionErrorKind {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28P01", "28000": // invalid_password, invalid_authorization_specification
			return KindAuth
		}
		return KindRejected
	}

	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindUnreachable
}
