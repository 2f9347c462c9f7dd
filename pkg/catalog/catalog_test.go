package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

func TestDefault_Lookup(t *testing.T) {
	c := Default()

	tests := []struct {
		server  ServerType
		dialect dialect.Dialect
		name    string
		want    string
		found   bool
	}{
		{Ejabberd, dialect.PostgreSQL, Users, "SELECT username, password FROM users", true},
		{Ejabberd, dialect.SQLServer, RosterItems, "SELECT username, jid, nick, subscription FROM rosterusers WHERE username = ?", true},
		{Ejabberd, dialect.JTDS, RosterGroups, "SELECT username, jid, grp FROM rostergroups WHERE username = ? AND jid = ?", true},
		{EjabberdNew, dialect.MySQL, Users, "SELECT username, server_host, password FROM users", true},
		{EjabberdNew, dialect.PostgreSQL, RosterGroups, "SELECT username, server_host, jid, grp FROM rostergroups WHERE username = ? AND jid = ? AND server_host = ?", true},
		{EjabberdNew, dialect.SQLServer, Users, "", false},
		{Ejabberd, dialect.SQLite, Users, "", false},
		{"prosody", dialect.MySQL, Users, "", false},
		{Ejabberd, dialect.MySQL, "offline", "", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.server)+"/"+tt.dialect.String()+"/"+tt.name, func(t *testing.T) {
			got, ok := c.Lookup(tt.server, tt.dialect, tt.name)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)

			again, okAgain := c.Lookup(tt.server, tt.dialect, tt.name)
			assert.Equal(t, ok, okAgain)
			assert.Equal(t, got, again)
		})
	}
}

func TestAllQueriesFor_ReturnsCopy(t *testing.T) {
	c := Default()

	qs := c.AllQueriesFor(Ejabberd, dialect.MySQL)
	require.Len(t, qs, 3)
	qs[Users] = "DROP TABLE users"
	delete(qs, RosterItems)

	q, ok := c.Lookup(Ejabberd, dialect.MySQL, Users)
	require.True(t, ok)
	assert.Equal(t, "SELECT username, password FROM users", q)
	assert.Len(t, c.AllQueriesFor(Ejabberd, dialect.MySQL), 3)

	empty := c.AllQueriesFor(EjabberdNew, dialect.JTDS)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestNew_CopiesInput(t *testing.T) {
	src := map[ServerType]map[dialect.Dialect]map[string]string{
		Ejabberd: {dialect.SQLite: {Users: "SELECT 1"}},
	}
	c := New(src)
	src[Ejabberd][dialect.SQLite][Users] = "SELECT 2"

	q, _ := c.Lookup(Ejabberd, dialect.SQLite, Users)
	assert.Equal(t, "SELECT 1", q)
}

func TestAlias(t *testing.T) {
	c := Default()
	aliased := c.Alias(dialect.PostgreSQL, dialect.SQLite)

	for _, s := range []ServerType{Ejabberd, EjabberdNew} {
		assert.Equal(t, aliased.AllQueriesFor(s, dialect.PostgreSQL), aliased.AllQueriesFor(s, dialect.SQLite))
		_, ok := c.Lookup(s, dialect.SQLite, Users)
		assert.False(t, ok, "alias must not modify the receiver")
	}

	same := c.Alias(dialect.SQLite, dialect.MySQL)
	assert.Equal(t, c.AllQueriesFor(Ejabberd, dialect.MySQL), same.AllQueriesFor(Ejabberd, dialect.MySQL))
}

func TestServerTypesAndDialects(t *testing.T) {
	c := Default()
	assert.Equal(t, []ServerType{Ejabberd, EjabberdNew}, c.ServerTypes())
	assert.Equal(t, []dialect.Dialect{dialect.JTDS, dialect.MySQL, dialect.PostgreSQL, dialect.SQLServer}, c.Dialects(Ejabberd))
	assert.Equal(t, []dialect.Dialect{dialect.MySQL, dialect.PostgreSQL}, c.Dialects(EjabberdNew))
	assert.Empty(t, c.Dialects("prosody"))
}

func TestParseServerType(t *testing.T) {
	s, err := ParseServerType(" Ejabberd ")
	require.NoError(t, err)
	assert.Equal(t, Ejabberd, s)

	s, err = ParseServerType("ejabberd_new")
	require.NoError(t, err)
	assert.Equal(t, EjabberdNew, s)

	_, err = ParseServerType("openfire")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestLoad_MergesOverDefaults(t *testing.T) {
	overlay := `
ejabberd:
  postgres:
    users: SELECT username, password FROM users WHERE username <> 'admin'
  sqlite:
    users: SELECT username, password FROM users
`
	c, err := Load(strings.NewReader(overlay))
	require.NoError(t, err)

	q, ok := c.Lookup(Ejabberd, dialect.PostgreSQL, Users)
	require.True(t, ok)
	assert.Contains(t, q, "admin")

	_, ok = c.Lookup(Ejabberd, dialect.PostgreSQL, RosterItems)
	assert.True(t, ok, "queries not in the overlay are kept")

	_, ok = c.Lookup(Ejabberd, dialect.SQLite, Users)
	assert.True(t, ok)

	q, _ = Default().Lookup(Ejabberd, dialect.PostgreSQL, Users)
	assert.Equal(t, "SELECT username, password FROM users", q)
}

func TestLoad_MergesDialectAliases(t *testing.T) {
	overlay := `
custom:
  postgres:
    users: SELECT username, password FROM accounts
  postgresql:
    rosteritems: SELECT username, jid, nick, subscription FROM contacts WHERE username = ?
  pg:
    users: SELECT username, password FROM accounts
Custom:
  postgres:
    rostergroups: SELECT username, jid, grp FROM contact_groups WHERE username = ? AND jid = ?
`
	c, err := Load(strings.NewReader(overlay))
	require.NoError(t, err)

	queries := c.AllQueriesFor(ServerType("custom"), dialect.PostgreSQL)
	assert.Len(t, queries, 3)
	assert.Equal(t, "SELECT username, password FROM accounts", queries[Users])
	assert.Contains(t, queries[RosterItems], "FROM contacts")
	assert.Contains(t, queries[RosterGroups], "FROM contact_groups")

	conflict := `
custom:
  postgres:
    users: SELECT username, password FROM accounts
  postgresql:
    users: SELECT username, password FROM users
`
	_, err = Load(strings.NewReader(conflict))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "defined twice")
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(strings.NewReader("ejabberd:\n  oracle:\n    users: SELECT 1\n"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	_, err = Load(strings.NewReader("ejabberd:\n  mysql:\n    users: ''\n"))
	require.Error(t, err)

	_, err = Load(strings.NewReader("ejabberd: [1, 2"))
	require.Error(t, err)

	c, err := Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default().ServerTypes(), c.ServerTypes())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ejabberd_new:\n  sqlite:\n    users: SELECT 1\n"), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	_, ok := c.Lookup(EjabberdNew, dialect.SQLite, Users)
	assert.True(t, ok)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
