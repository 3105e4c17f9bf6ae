package db

import (
	"fmt"
	"time"

	"github.com/suite224/suite-db/internal/config"
)

// DefaultMaxConnections caps a pool when PoolOptions.MaxConnections is zero.
const DefaultMaxConnections = 10

// QueueBehavior decides what Acquire does when every slot is taken.
type QueueBehavior int

const (
	// QueueWait queues the caller in FIFO order until a slot frees up.
	QueueWait QueueBehavior = iota
	// QueueFail returns a *PoolExhaustedError immediately.
	QueueFail
)

func (q QueueBehavior) String() string {
	switch q {
	case QueueWait:
		return "wait"
	case QueueFail:
		return "fail"
	default:
		return fmt.Sprintf("QueueBehavior(%d)", int(q))
	}
}

// ParseQueueBehavior parses "wait" or "fail", ignoring case. An empty string
// means QueueWait.
func ParseQueueBehavior(s string) (QueueBehavior, error) {
	name, err := config.NormalizeQueueBehavior(s)
	if err != nil {
		return QueueWait, err
	}
	if name == config.QueueBehaviorFail {
		return QueueFail, nil
	}
	return QueueWait, nil
}

// PoolOptions configures a Pool. The zero value is a pool of
// DefaultMaxConnections that waits indefinitely and never expires idle
// connections.
type PoolOptions struct {
	MaxConnections int
	QueueBehavior  QueueBehavior
	// QueueTimeout bounds how long a queued Acquire waits. Zero means the
	// caller's context is the only bound.
	QueueTimeout time.Duration
	// IdleTimeout closes connections that sat idle for longer. Zero disables it.
	IdleTimeout time.Duration
}

// OptionsFromConfig converts the pool section of the configuration.
func OptionsFromConfig(cfg config.PoolConfig) (PoolOptions, error) {
	behavior, err := ParseQueueBehavior(cfg.QueueBehavior)
	if err != nil {
		return PoolOptions{}, err
	}
	opts := PoolOptions{
		MaxConnections: cfg.MaxConnections,
		QueueBehavior:  behavior,
		QueueTimeout:   cfg.QueueTimeout,
		IdleTimeout:    cfg.IdleTimeout,
	}
	return opts.withDefaults()
}

func (o PoolOptions) withDefaults() (PoolOptions, error) {
	if o.MaxConnections == 0 {
		o.MaxConnections = DefaultMaxConnections
	}
	if o.MaxConnections < 0 {
		return o, &config.ConfigurationError{
			Field:  "pool.max_connections",
			Reason: fmt.Sprintf("must be >= 1, got %d", o.MaxConnections),
		}
	}
	if o.QueueBehavior != QueueWait && o.QueueBehavior != QueueFail {
		return o, &config.ConfigurationError{Field: "pool.queue_behavior", Reason: "unknown " + o.QueueBehavior.String()}
	}
	if o.QueueTimeout < 0 {
		return o, &config.ConfigurationError{Field: "pool.queue_timeout", Reason: "must not be negative"}
	}
	if o.IdleTimeout < 0 {
		return o, &config.ConfigurationError{Field: "pool.idle_timeout", Reason: "must not be negative"}
	}
	return o, nil
}

// reapInterval is how often idle connections are checked for expiry.
func (o PoolOptions) reapInterval() time.Duration {
	interval := o.IdleTimeout / 2
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	if interval > time.Minute {
		interval = time.Minute
	}
	return interval
}
