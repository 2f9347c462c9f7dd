// Package converter selects converters for a run and drives them over the
// source repository pool.
//
// A Converter turns rows of one primary query into entities and stores them
// in the destination. The Registry instantiates every registered converter,
// keeps those the query catalog supports for the configured source and
// prepares their statements on the pool. The Pipeline then runs each one,
// counting per-row failures without stopping.
package converter

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/catalog"
	"github.com/ajitpratap0/xmppconv/pkg/destination"
	"github.com/ajitpratap0/xmppconv/pkg/dialect"
)

// Converter migrates one kind of entity.
type Converter interface {
	// Name identifies the converter in logs, statement names and --converters.
	Name() string
	// Initialise binds the converter to the run. It must not issue queries.
	Initialise(props Properties) error
	// MainQuery returns the SQL driving the conversion. A converter without
	// one is not supported by the configured source.
	MainQuery() (string, bool)
	// AdditionalQueries returns the nested queries ProcessRow issues, keyed by
	// the name passed to StatementName.
	AdditionalQueries() map[string]string
	// MaxNestingDepth is the largest number of pool handles ProcessRow holds
	// at once, not counting the handle streaming the main query.
	MaxNestingDepth() int
	// ProcessRow builds an entity from one main query row. Returning a
	// skipped Result or an error fails that row only.
	ProcessRow(ctx context.Context, row Row) (Result, error)
	// Store writes the entity to the destination. False or an error fails the row.
	Store(ctx context.Context, e Entity) (bool, error)
}

// Teardowner is implemented by converters holding resources that must be
// released when they are left out of a run.
type Teardowner interface {
	Teardown() error
}

// Entity is a converted row. ID correlates status lines with source rows.
type Entity interface {
	ID() string
}

// Querier runs a prepared statement on a pooled handle and streams the rows
// to fn. *pool.Pool implements it.
type Querier interface {
	Query(ctx context.Context, stmt string, args []any, fn func(*sql.Rows) error) error
}

// Properties are the run settings shared by every converter.
type Properties struct {
	ServerType  catalog.ServerType
	Dialect     dialect.Dialect
	VirtualHost string
	Catalog     *catalog.Catalog
	// Pool runs nested queries. It is set by Registry.Select.
	Pool        Querier
	Destination destination.Repository
	Logger      *zap.Logger
}

// Lookup returns the catalog query for the run's server type and dialect.
func (p Properties) Lookup(name string) (string, bool) {
	if p.Catalog == nil {
		return "", false
	}
	return p.Catalog.Lookup(p.ServerType, p.Dialect, name)
}

// MainStatement is the pool statement name of c's main query.
func MainStatement(c Converter) string {
	return StatementName(c.Name(), "main")
}

// StatementName is the pool statement name of the query a converter
// declares under query. Names are scoped per converter so two converters
// can declare the same query name with different SQL.
func StatementName(converter, query string) string {
	return converter + "." + query
}

// Result is the outcome of ProcessRow: either an entity to store or the
// reason the row was skipped.
type Result struct {
	Entity Entity
	id     string
	reason string
}

// Converted wraps an entity for storing.
func Converted(e Entity) Result {
	return Result{Entity: e}
}

// Skipped reports a row that yields no entity. id may be empty when the row
// carries no usable identity.
func Skipped(id, reason string) Result {
	return Result{id: id, reason: reason}
}

// IsSkipped reports whether the row produced no entity.
func (r Result) IsSkipped() bool {
	return r.Entity == nil
}

// ID returns the correlation ID of the row.
func (r Result) ID() string {
	if r.Entity != nil {
		return r.Entity.ID()
	}
	return r.id
}

// Reason returns why the row was skipped.
func (r Result) Reason() string {
	if r.reason == "" && r.Entity == nil {
		return "no entity"
	}
	return r.reason
}
