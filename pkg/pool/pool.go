package pool

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
	"github.com/ajitpratap0/xmppconv/pkg/metrics"
	"github.com/ajitpratap0/xmppconv/pkg/repository"
)

// Pool is a fixed-size set of interchangeable repository handles. Handles
// are never created or destroyed after New; Acquire blocks until one is idle.
type Pool struct {
	handles []repository.Handle
	idle    chan repository.Handle
	out     map[repository.Handle]bool
	mu      sync.Mutex

	dialect        dialect.Dialect
	acquireTimeout time.Duration
	logger         *zap.Logger

	// serialises RegisterStatement and Ping, which check out every handle
	allMu sync.Mutex

	closing   chan struct{}
	closeOnce sync.Once
}

// Option configures a Pool
type Option func(*Pool)

// WithAcquireTimeout bounds how long Acquire waits for an idle handle.
// Zero, the default, waits until the caller's context is done.
func WithAcquireTimeout(d time.Duration) Option {
	return func(p *Pool) {
		p.acquireTimeout = d
	}
}

// WithLogger sets the pool logger
func WithLogger(logger *zap.Logger) Option {
	return func(p *Pool) {
		p.logger = logger
	}
}

// New creates a pool owning handles. All handles must report the same dialect.
func New(handles []repository.Handle, opts ...Option) (*Pool, error) {
	if len(handles) == 0 {
		return nil, errors.New(errors.ErrorTypeConfig, "pool requires at least one handle")
	}

	p := &Pool{
		handles: append([]repository.Handle(nil), handles...),
		idle:    make(chan repository.Handle, len(handles)),
		out:     make(map[repository.Handle]bool, len(handles)),
		dialect: handles[0].Dialect(),
		logger:  zap.NewNop(),
		closing: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, h := range handles {
		if h.Dialect() != p.dialect {
			return nil, errors.Newf(errors.ErrorTypeConfig,
				"handle %d reports dialect %s, pool dialect is %s", h.ID(), h.Dialect(), p.dialect)
		}
		if _, dup := p.out[h]; dup {
			return nil, errors.Newf(errors.ErrorTypeConfig, "handle %d added to pool twice", h.ID())
		}
		p.out[h] = false
		p.idle <- h
	}

	p.logger.Debug("pool created",
		zap.Int("size", len(handles)),
		zap.String("dialect", p.dialect.String()),
		zap.Duration("acquire_timeout", p.acquireTimeout))
	return p, nil
}

// Size returns the number of handles owned by the pool
func (p *Pool) Size() int {
	return len(p.handles)
}

// Dialect returns the dialect shared by all handles
func (p *Pool) Dialect() dialect.Dialect {
	return p.dialect
}

// InUse returns the number of handles currently checked out
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, out := range p.out {
		if out {
			n++
		}
	}
	return n
}

// Acquire checks out an idle handle, blocking until one is released. It
// fails only when ctx is done, the acquire timeout elapses or the pool is
// closed; the returned error is then of type ErrorTypeTimeout.
func (p *Pool) Acquire(ctx context.Context) (repository.Handle, error) {
	if p.acquireTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.acquireTimeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, p.acquireFailed(err)
	}
	select {
	case <-p.closing:
		return nil, errors.New(errors.ErrorTypeTimeout, "pool is closed")
	default:
	}

	start := time.Now()
	select {
	case h := <-p.idle:
		p.mu.Lock()
		p.out[h] = true
		p.mu.Unlock()

		metrics.PoolAcquireWait.Observe(time.Since(start).Seconds())
		metrics.PoolHandlesInUse.Inc()
		return h, nil
	case <-p.closing:
		return nil, errors.New(errors.ErrorTypeTimeout, "pool is closed")
	case <-ctx.Done():
		return nil, p.acquireFailed(ctx.Err())
	}
}

func (p *Pool) acquireFailed(cause error) error {
	metrics.PoolAcquireFailures.Inc()
	p.logger.Warn("failed to acquire repository handle",
		zap.Int("pool_size", len(p.handles)),
		zap.Error(cause))
	return errors.Wrap(cause, errors.ErrorTypeTimeout, "failed to acquire repository handle").
		WithDetail("pool_size", len(p.handles))
}

// Release returns h to the idle set. Releasing a handle that is not
// checked out from this pool is rejected and leaves the pool untouched.
func (p *Pool) Release(h repository.Handle) error {
	if h == nil {
		return errors.New(errors.ErrorTypeValidation, "release of nil handle")
	}

	p.mu.Lock()
	out, known := p.out[h]
	if !known || !out {
		p.mu.Unlock()
		p.logger.Error("rejected release of handle not checked out", zap.Int("handle", h.ID()), zap.Bool("known", known))
		return errors.Newf(errors.ErrorTypeValidation, "handle %d is not checked out from this pool", h.ID())
	}
	p.out[h] = false
	p.mu.Unlock()

	metrics.PoolHandlesInUse.Dec()
	// capacity equals the number of handles, so this never blocks
	p.idle <- h
	return nil
}

// With runs fn with an exclusively held handle and releases it afterwards,
// whatever fn returns.
func (p *Pool) With(ctx context.Context, fn func(repository.Handle) error) (err error) {
	h, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if rerr := p.Release(h); rerr != nil && err == nil {
			err = rerr
		}
	}()
	return fn(h)
}

// Query runs the named statement on a pooled handle and passes the result
// stream to fn. The rows are closed and the handle released before Query
// returns. Errors from executing the statement and from the stream itself
// are returned as ErrorTypeQuery.
func (p *Pool) Query(ctx context.Context, stmt string, args []any, fn func(*sql.Rows) error) error {
	return p.With(ctx, func(h repository.Handle) error {
		rows, err := h.Query(ctx, stmt, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		if err := fn(rows); err != nil {
			return err
		}
		if err := rows.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "result stream failed").
				WithDetail("statement", stmt).
				WithDetail("handle", h.ID())
		}
		return nil
	})
}

// withAll checks out every handle, runs fn on each and releases them all.
// It waits for borrowed handles to come back, so it must not be called by
// a goroutine that is holding a handle.
func (p *Pool) withAll(ctx context.Context, fn func(repository.Handle) error) error {
	p.allMu.Lock()
	defer p.allMu.Unlock()

	held := make([]repository.Handle, 0, len(p.handles))
	defer func() {
		for _, h := range held {
			_ = p.Release(h)
		}
	}()

	for range p.handles {
		h, err := p.Acquire(ctx)
		if err != nil {
			return err
		}
		held = append(held, h)
	}

	var result *multierror.Error
	for _, h := range held {
		if err := fn(h); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// RegisterStatement prepares query under name on every handle of the pool,
// so that any handle acquired afterwards can run it.
func (p *Pool) RegisterStatement(ctx context.Context, name, query string) error {
	err := p.withAll(ctx, func(h repository.Handle) error {
		return h.Prepare(ctx, name, query)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "failed to register statement").
			WithDetail("statement", name)
	}
	p.logger.Debug("statement registered", zap.String("statement", name), zap.Int("handles", len(p.handles)))
	return nil
}

// RegisterStatements registers every entry of queries, in name order.
func (p *Pool) RegisterStatements(ctx context.Context, queries map[string]string) error {
	names := make([]string, 0, len(queries))
	for name := range queries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := p.RegisterStatement(ctx, name, queries[name]); err != nil {
			return err
		}
	}
	return nil
}

// Ping checks connectivity of every handle. Failing handles are reported,
// not evicted.
func (p *Pool) Ping(ctx context.Context) error {
	err := p.withAll(ctx, func(h repository.Handle) error {
		return h.Ping(ctx)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "pool health check failed")
	}
	return nil
}

// CheckNesting rejects a query graph whose nesting depth could exhaust the
// pool. A converter that keeps its primary handle while issuing nested
// queries needs 1 + depth handles at once; with fewer, every handle can end
// up held by a caller waiting for another one.
func (p *Pool) CheckNesting(depth int) error {
	if depth < 0 {
		return errors.Newf(errors.ErrorTypeValidation, "negative nesting depth %d", depth)
	}
	if depth >= len(p.handles) {
		return errors.Newf(errors.ErrorTypeConfig,
			"pool size %d is too small for nesting depth %d (need at least %d)",
			len(p.handles), depth, depth+1).
			WithDetail("pool_size", len(p.handles)).
			WithDetail("nesting_depth", depth)
	}
	return nil
}

// Close closes every handle. Blocked and later Acquire calls fail.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		inUse := 0
		for _, out := range p.out {
			if out {
				inUse++
			}
		}
		p.mu.Unlock()
		if inUse > 0 {
			p.logger.Warn("closing pool with handles still checked out", zap.Int("in_use", inUse))
		}
		err = repository.CloseAll(p.handles)
	})
	return err
}
