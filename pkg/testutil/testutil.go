// Package testutil provides testing utilities for xmppconv
package testutil

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite" // registers "sqlite"
)

// Source schemas of the supported ejabberd variants, in SQLite syntax.
const (
	EjabberdSchema = `
CREATE TABLE users (username TEXT PRIMARY KEY, password TEXT);
CREATE TABLE rosterusers (username TEXT NOT NULL, jid TEXT NOT NULL, nick TEXT, subscription TEXT);
CREATE TABLE rostergroups (username TEXT NOT NULL, jid TEXT NOT NULL, grp TEXT NOT NULL);
`
	EjabberdNewSchema = `
CREATE TABLE users (username TEXT NOT NULL, server_host TEXT NOT NULL, password TEXT);
CREATE TABLE rosterusers (username TEXT NOT NULL, server_host TEXT NOT NULL, jid TEXT NOT NULL, nick TEXT, subscription TEXT);
CREATE TABLE rostergroups (username TEXT NOT NULL, server_host TEXT NOT NULL, jid TEXT NOT NULL, grp TEXT NOT NULL);
`
)

// DestinationSchema creates the tables written by destination.SQLStore.
const DestinationSchema = `
CREATE TABLE tig_users (user_id TEXT PRIMARY KEY, user_pw TEXT);
CREATE TABLE tig_pairs (user_id TEXT NOT NULL, node TEXT, pkey TEXT NOT NULL, pval TEXT);
CREATE TABLE tig_vhosts (vhost TEXT PRIMARY KEY);
`

// SQLiteDB creates a file backed SQLite database in the test's temp
// directory and runs schema on it. It returns the repository URI of the
// database and a connection for seeding and assertions, closed on cleanup.
//
// A file is used rather than :memory: so every handle of a pool sees the
// same data.
func SQLiteDB(t *testing.T, name, schema string) (string, *sql.DB) {
	t.Helper()
	path := filepath.Join(t.TempDir(), name+".db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	if schema != "" {
		_, err = db.Exec(schema)
		require.NoError(t, err)
	}
	return "sqlite:" + path, db
}

// Exec runs statements against db, failing the test on the first error.
func Exec(t *testing.T, db *sql.DB, stmts ...string) {
	t.Helper()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
}
