// Package repository provides handles: exclusive, stateful connections to a
// source repository with statements prepared under logical names.
//
// A Handle is not safe for concurrent use. Exclusivity is the job of the
// pool that hands handles out, not of the handle itself.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Handle is one repository connection.
type Handle interface {
	// ID identifies the handle in logs.
	ID() int
	// Dialect reports the database engine behind the handle.
	Dialect() dialect.Dialect
	// Prepare registers query under name, replacing any previous statement.
	// Whether invalid SQL is rejected here or only by the first Query
	// depends on the driver.
	Prepare(ctx context.Context, name, query string) error
	// Prepared reports whether a statement is registered under name.
	Prepared(name string) bool
	// Query runs the named statement and returns a forward-only result stream.
	Query(ctx context.Context, name string, args ...any) (*sql.Rows, error)
	// Exec runs the named statement for its side effects.
	Exec(ctx context.Context, name string, args ...any) (sql.Result, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
	// Close releases the connection and its statements.
	Close() error
}

// Options tune how a SQL handle is opened.
type Options struct {
	// ConnectAttempts is the number of ping attempts before giving up.
	ConnectAttempts uint
	// ConnectDelay is the initial delay between attempts.
	ConnectDelay time.Duration
	Logger       *zap.Logger
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		ConnectAttempts: 3,
		ConnectDelay:    500 * time.Millisecond,
		Logger:          zap.NewNop(),
	}
}

// SQLHandle is a Handle backed by a single pinned database/sql connection.
type SQLHandle struct {
	id      int
	dialect dialect.Dialect
	db      *sql.DB
	conn    *sql.Conn
	stmts   map[string]*sql.Stmt
	mu      sync.Mutex
}

// OpenSQL opens one handle against uri.
func OpenSQL(ctx context.Context, id int, uri string, opts Options) (*SQLHandle, error) {
	target, err := dialect.Parse(uri)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open repository").
			WithDetail("driver", target.Driver)
	}
	// one handle, one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	var conn *sql.Conn
	err = Connect(ctx, opts, func(ctx context.Context) error {
		c, err := db.Conn(ctx)
		if err != nil {
			return err
		}
		if err := c.PingContext(ctx); err != nil {
			_ = c.Close()
			return err
		}
		conn = c
		return nil
	}, zap.Int("handle", id))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to repository").
			WithDetail("handle", id).
			WithDetail("dialect", target.Dialect.String())
	}

	return &SQLHandle{
		id:      id,
		dialect: target.Dialect,
		db:      db,
		conn:    conn,
		stmts:   make(map[string]*sql.Stmt),
	}, nil
}

// Connect calls attempt until it succeeds, opts.ConnectAttempts run out or
// it fails with an error that is not worth retrying. Untyped failures count
// as connection errors and are retried; a failure after ctx is done, or one
// already typed as anything but a connection or timeout error, is returned
// at once.
func Connect(ctx context.Context, opts Options, attempt func(context.Context) error, fields ...zap.Field) error {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 1
	}
	return retry.Do(
		func() error { return classify(ctx, attempt(ctx)) },
		retry.Context(ctx),
		retry.Attempts(opts.ConnectAttempts),
		retry.Delay(opts.ConnectDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(errors.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			opts.Logger.Warn("connection attempt failed",
				append(fields, zap.Uint("attempt", n+1), zap.Error(err))...)
		}),
	)
}

func classify(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		return err
	}
	var typed *errors.Error
	if errors.As(err, &typed) {
		return err
	}
	return errors.Wrap(err, errors.ErrorTypeConnection, "connection attempt failed")
}

// ID implements Handle
func (h *SQLHandle) ID() int { return h.id }

// Dialect implements Handle
func (h *SQLHandle) Dialect() dialect.Dialect { return h.dialect }

// Prepare implements Handle
func (h *SQLHandle) Prepare(ctx context.Context, name, query string) error {
	stmt, err := h.conn.PrepareContext(ctx, h.dialect.Rebind(query))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to prepare statement").
			WithDetail("statement", name).
			WithDetail("handle", h.id)
	}

	h.mu.Lock()
	old := h.stmts[name]
	h.stmts[name] = stmt
	h.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Prepared implements Handle
func (h *SQLHandle) Prepared(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.stmts[name]
	return ok
}

func (h *SQLHandle) stmt(name string) (*sql.Stmt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	stmt, ok := h.stmts[name]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeQuery, "statement %s is not prepared", name).
			WithDetail("handle", h.id)
	}
	return stmt, nil
}

// Query implements Handle
func (h *SQLHandle) Query(ctx context.Context, name string, args ...any) (*sql.Rows, error) {
	stmt, err := h.stmt(name)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("failed to execute %s", name)).
			WithDetail("handle", h.id)
	}
	return rows, nil
}

// Exec implements Handle
func (h *SQLHandle) Exec(ctx context.Context, name string, args ...any) (sql.Result, error) {
	stmt, err := h.stmt(name)
	if err != nil {
		return nil, err
	}
	res, err := stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, fmt.Sprintf("failed to execute %s", name)).
			WithDetail("handle", h.id)
	}
	return res, nil
}

// Ping implements Handle
func (h *SQLHandle) Ping(ctx context.Context) error {
	if err := h.conn.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "repository ping failed").
			WithDetail("handle", h.id)
	}
	return nil
}

// Close implements Handle
func (h *SQLHandle) Close() error {
	var result *multierror.Error

	h.mu.Lock()
	for name, stmt := range h.stmts {
		if err := stmt.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("close statement %s: %w", name, err))
		}
	}
	h.stmts = map[string]*sql.Stmt{}
	h.mu.Unlock()

	if err := h.conn.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close connection: %w", err))
	}
	if err := h.db.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close database: %w", err))
	}
	return result.ErrorOrNil()
}
