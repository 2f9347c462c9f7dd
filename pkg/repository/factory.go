package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// DefaultType is the repository type used when none is configured.
const DefaultType = "sql"

// Factory opens handle number id against uri.
type Factory func(ctx context.Context, id int, uri string, opts Options) (Handle, error)

// Registry maps repository type names onto handle factories.
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return errors.Newf(errors.ErrorTypeConfig, "repository type %s already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Types lists registered repository types in name order
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for name := range r.factories {
		types = append(types, name)
	}
	sort.Strings(types)
	return types
}

// Open creates n handles of the given type. Either all handles are returned
// or none: on failure the ones already opened are closed again.
func (r *Registry) Open(ctx context.Context, typ, uri string, n int, opts Options) ([]Handle, error) {
	r.mu.RLock()
	factory, ok := r.factories[typ]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "repository type %s not found", typ).
			WithDetail("available", r.Types())
	}
	if n < 1 {
		return nil, errors.New(errors.ErrorTypeConfig, "at least one repository handle is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	handles := make([]Handle, 0, n)
	for i := 0; i < n; i++ {
		h, err := factory(ctx, i, uri, opts)
		if err != nil {
			if cerr := CloseAll(handles); cerr != nil {
				opts.Logger.Warn("failed to close handles after open error", zap.Error(cerr))
			}
			return nil, err
		}
		handles = append(handles, h)
	}
	opts.Logger.Debug("repository handles opened", zap.String("type", typ), zap.Int("count", n))
	return handles, nil
}

// CloseAll closes every handle and aggregates the failures.
func CloseAll(handles []Handle) error {
	var result *multierror.Error
	for _, h := range handles {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("handle %d: %w", h.ID(), err))
		}
	}
	return result.ErrorOrNil()
}

var globalRegistry = NewRegistry()

func init() {
	_ = globalRegistry.Register(DefaultType, func(ctx context.Context, id int, uri string, opts Options) (Handle, error) {
		return OpenSQL(ctx, id, uri, opts)
	})
}

// Register adds a factory to the global registry
func Register(name string, factory Factory) error {
	return globalRegistry.Register(name, factory)
}

// Types lists the repository types in the global registry
func Types() []string {
	return globalRegistry.Types()
}

// Open creates handles using the global registry
func Open(ctx context.Context, typ, uri string, n int, opts Options) ([]Handle, error) {
	return globalRegistry.Open(ctx, typ, uri, n, opts)
}
