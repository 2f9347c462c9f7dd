// Package catalog holds the SQL text converters run against a source
// repository, keyed by source server type, database dialect and query name.
//
// A Catalog is immutable once built. Lookups never fail: a combination the
// catalog does not know is reported as absent, and converters without a
// main query for the configured source are left out of the run.
package catalog

import (
	"sort"
	"strings"

	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// ServerType identifies the schema family of the source server.
type ServerType string

const (
	// Ejabberd is the single-host ejabberd schema. Users carry no domain;
	// the configured virtual host is used instead.
	Ejabberd ServerType = "ejabberd"
	// EjabberdNew is the multi-host ejabberd schema with a server_host column.
	EjabberdNew ServerType = "ejabberd_new"
)

// Query names shared by the catalog and the converters.
const (
	Users        = "users"
	RosterItems  = "rosteritems"
	RosterGroups = "rostergroups"
)

// ParseServerType resolves a server type name.
func ParseServerType(s string) (ServerType, error) {
	switch ServerType(strings.ToLower(strings.TrimSpace(s))) {
	case Ejabberd:
		return Ejabberd, nil
	case EjabberdNew:
		return EjabberdNew, nil
	}
	return "", errors.Newf(errors.ErrorTypeConfig, "unknown server type %q", s).
		WithDetail("supported", []string{string(Ejabberd), string(EjabberdNew)})
}

// String implements fmt.Stringer
func (s ServerType) String() string {
	return string(s)
}

type table map[ServerType]map[dialect.Dialect]map[string]string

// Catalog maps (server type, dialect, query name) to SQL text. Queries use
// '?' placeholders; handles rebind them for the dialect when preparing.
type Catalog struct {
	queries table
}

// New builds a catalog from a nested server → dialect → name → SQL table.
// The input is copied.
func New(queries map[ServerType]map[dialect.Dialect]map[string]string) *Catalog {
	return &Catalog{queries: copyTable(queries)}
}

var (
	legacyQueries = map[string]string{
		Users:        "SELECT username, password FROM users",
		RosterItems:  "SELECT username, jid, nick, subscription FROM rosterusers WHERE username = ?",
		RosterGroups: "SELECT username, jid, grp FROM rostergroups WHERE username = ? AND jid = ?",
	}
	multiHostQueries = map[string]string{
		Users:        "SELECT username, server_host, password FROM users",
		RosterItems:  "SELECT username, server_host, jid, nick, subscription FROM rosterusers WHERE username = ? AND server_host = ?",
		RosterGroups: "SELECT username, server_host, jid, grp FROM rostergroups WHERE username = ? AND jid = ? AND server_host = ?",
	}
)

// Default returns the built-in catalog.
func Default() *Catalog {
	return New(map[ServerType]map[dialect.Dialect]map[string]string{
		Ejabberd: {
			dialect.SQLServer:  legacyQueries,
			dialect.JTDS:       legacyQueries,
			dialect.MySQL:      legacyQueries,
			dialect.PostgreSQL: legacyQueries,
		},
		EjabberdNew: {
			dialect.MySQL:      multiHostQueries,
			dialect.PostgreSQL: multiHostQueries,
		},
	})
}

// Lookup returns the SQL registered for name under server and dialect.
func (c *Catalog) Lookup(server ServerType, d dialect.Dialect, name string) (string, bool) {
	q, ok := c.queries[server][d][name]
	return q, ok
}

// AllQueriesFor returns every query known for server and dialect. The map
// is a copy and empty, never nil, when nothing is known.
func (c *Catalog) AllQueriesFor(server ServerType, d dialect.Dialect) map[string]string {
	src := c.queries[server][d]
	out := make(map[string]string, len(src))
	for name, q := range src {
		out[name] = q
	}
	return out
}

// ServerTypes lists the server types present in the catalog.
func (c *Catalog) ServerTypes() []ServerType {
	out := make([]ServerType, 0, len(c.queries))
	for s := range c.queries {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Dialects lists the dialects with at least one query for server.
func (c *Catalog) Dialects(server ServerType) []dialect.Dialect {
	out := make([]dialect.Dialect, 0, len(c.queries[server]))
	for d, qs := range c.queries[server] {
		if len(qs) > 0 {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Merge returns a new catalog with the queries of overlay replacing or
// extending those of c. Neither input is modified.
func (c *Catalog) Merge(overlay *Catalog) *Catalog {
	merged := copyTable(c.queries)
	for s, byDialect := range overlay.queries {
		if merged[s] == nil {
			merged[s] = map[dialect.Dialect]map[string]string{}
		}
		for d, byName := range byDialect {
			if merged[s][d] == nil {
				merged[s][d] = map[string]string{}
			}
			for name, q := range byName {
				merged[s][d][name] = q
			}
		}
	}
	return &Catalog{queries: merged}
}

// Alias returns a new catalog in which dialect to has, for every server
// type, the queries of dialect from. It lets a source reachable through a
// compatible engine reuse existing SQL.
func (c *Catalog) Alias(from, to dialect.Dialect) *Catalog {
	aliased := copyTable(c.queries)
	for s, byDialect := range aliased {
		if qs, ok := byDialect[from]; ok {
			names := make(map[string]string, len(qs))
			for name, q := range qs {
				names[name] = q
			}
			aliased[s][to] = names
		}
	}
	return &Catalog{queries: aliased}
}

func copyTable(in map[ServerType]map[dialect.Dialect]map[string]string) table {
	out := make(table, len(in))
	for s, byDialect := range in {
		out[s] = make(map[dialect.Dialect]map[string]string, len(byDialect))
		for d, byName := range byDialect {
			names := make(map[string]string, len(byName))
			for name, q := range byName {
				names[name] = q
			}
			out[s][d] = names
		}
	}
	return out
}
