package converter

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Constructor creates a fresh, uninitialised converter.
type Constructor func() Converter

// Pool is the part of the handle pool the registry needs to prepare a run.
type Pool interface {
	Querier
	RegisterStatement(ctx context.Context, name, query string) error
	CheckNesting(depth int) error
}

// Registry holds converter constructors in registration order.
type Registry struct {
	constructors map[string]Constructor
	order        []string
	mu           sync.RWMutex
	logger       *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		constructors: make(map[string]Constructor),
		logger:       logger.With(zap.String("component", "converter_registry")),
	}
}

// Register adds a converter constructor under name
func (r *Registry) Register(name string, ctor Constructor) error {
	if ctor == nil {
		return errors.Newf(errors.ErrorTypeConfig, "converter %s has no constructor", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "converter %s already registered", name)
	}
	r.constructors[name] = ctor
	r.order = append(r.order, name)
	r.logger.Debug("converter registered", zap.String("name", name))
	return nil
}

// Names returns the registered converter names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Has checks if a converter is registered
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.constructors[name]
	return exists
}

// instantiate creates and initialises the converters named by filter, or
// all of them when filter is empty.
func (r *Registry) instantiate(props Properties, filter []string) ([]Converter, error) {
	names := r.Names()
	if len(filter) > 0 {
		wanted := make(map[string]bool, len(filter))
		for _, name := range filter {
			if !r.Has(name) {
				return nil, errors.Newf(errors.ErrorTypeConfig, "converter %s not found", name).
					WithDetail("available", names)
			}
			wanted[name] = true
		}
		kept := names[:0]
		for _, name := range names {
			if wanted[name] {
				kept = append(kept, name)
			}
		}
		names = kept
	}

	r.mu.RLock()
	ctors := make([]Constructor, len(names))
	for i, name := range names {
		ctors[i] = r.constructors[name]
	}
	r.mu.RUnlock()

	converters := make([]Converter, 0, len(names))
	for i, ctor := range ctors {
		c := ctor()
		if err := c.Initialise(props); err != nil {
			teardown(converters, r.logger)
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to initialise converter %s", names[i]))
		}
		converters = append(converters, c)
	}
	return converters, nil
}

// Select instantiates the registered converters, restricted to filter when
// it is not empty, and returns those the configured source supports, in
// registration order.
//
// A converter is supported when it has a main query. Its main and
// additional queries are prepared on every handle of pool, after checking
// that its nesting depth cannot exhaust the pool. Unsupported instances are
// torn down and take no part in the run; their constructors stay registered.
func (r *Registry) Select(ctx context.Context, props Properties, pool Pool, filter []string) ([]Converter, error) {
	props.Pool = pool
	all, err := r.instantiate(props, filter)
	if err != nil {
		return nil, err
	}

	var supported, unsupported []Converter
	for _, c := range all {
		if _, ok := c.MainQuery(); ok {
			supported = append(supported, c)
		} else {
			unsupported = append(unsupported, c)
		}
	}
	r.logger.Info("converters discovered",
		zap.Int("total", len(all)),
		zap.Int("supported", len(supported)),
		zap.String("server_type", props.ServerType.String()),
		zap.String("dialect", props.Dialect.String()))

	for _, c := range unsupported {
		r.logger.Info("converter not supported by source, skipping",
			zap.String("converter", c.Name()))
	}
	teardown(unsupported, r.logger)

	for _, c := range supported {
		if err := r.prepare(ctx, c, pool); err != nil {
			teardown(supported, r.logger)
			return nil, err
		}
	}
	return supported, nil
}

func (r *Registry) prepare(ctx context.Context, c Converter, pool Pool) error {
	if err := pool.CheckNesting(c.MaxNestingDepth()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("converter %s cannot run on this pool", c.Name()))
	}

	main, _ := c.MainQuery()
	if err := pool.RegisterStatement(ctx, MainStatement(c), main); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to prepare main query of %s", c.Name()))
	}

	additional := c.AdditionalQueries()
	names := make([]string, 0, len(additional))
	for name := range additional {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := pool.RegisterStatement(ctx, StatementName(c.Name(), name), additional[name]); err != nil {
			return errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("failed to prepare query %s of %s", name, c.Name()))
		}
	}

	r.logger.Info("converter ready",
		zap.String("converter", c.Name()),
		zap.Int("additional_queries", len(additional)),
		zap.Int("nesting_depth", c.MaxNestingDepth()))
	return nil
}

// Supported reports which registered converters have a main query for the
// server type and dialect in props. Nothing is prepared; every instance is
// torn down before returning.
func (r *Registry) Supported(props Properties) ([]string, error) {
	all, err := r.instantiate(props, nil)
	if err != nil {
		return nil, err
	}
	defer teardown(all, r.logger)

	var names []string
	for _, c := range all {
		if _, ok := c.MainQuery(); ok {
			names = append(names, c.Name())
		}
	}
	return names, nil
}

func teardown(converters []Converter, logger *zap.Logger) {
	for _, c := range converters {
		t, ok := c.(Teardowner)
		if !ok {
			continue
		}
		if err := t.Teardown(); err != nil {
			logger.Warn("converter teardown failed", zap.String("converter", c.Name()), zap.Error(err))
		}
	}
}
