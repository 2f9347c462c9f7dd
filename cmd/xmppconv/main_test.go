package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
	"github.com/ajitpratap0/xmppconv/pkg/logger"
	"github.com/ajitpratap0/xmppconv/pkg/report"
	"github.com/ajitpratap0/xmppconv/pkg/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "xmppconv v"+version)
	assert.Contains(t, out, "Go version:")
}

func TestListCmd(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "  - users")
	assert.Contains(t, out, "ejabberd/mysql: users")
	assert.Contains(t, out, "ejabberd/jtds: users")
	assert.Contains(t, out, "ejabberd_new/postgresql: users")
	assert.NotContains(t, out, "ejabberd_new/sqlserver")
}

// sqliteCatalog lets the legacy queries run against SQLite sources.
const sqliteCatalog = `
ejabberd:
  sqlite:
    users: SELECT username, password FROM users ORDER BY username
    rosteritems: SELECT username, jid, nick, subscription FROM rosterusers WHERE username = ?
    rostergroups: SELECT username, jid, grp FROM rostergroups WHERE username = ? AND jid = ?
`

func TestListCmd_CatalogOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sqliteCatalog), 0o600))

	out, err := execute(t, "list", "--catalog", path)
	require.NoError(t, err)
	assert.Contains(t, out, "ejabberd/sqlite: users")
}

func TestRunCmd_MigratesSource(t *testing.T) {
	testutil.IntegrationTest(t)
	dir := t.TempDir()

	sourceURI, source := testutil.SQLiteDB(t, "source", testutil.EjabberdSchema)
	testutil.Exec(t, source,
		`INSERT INTO users (username, password) VALUES ('alice', 'a'), ('bob', NULL)`,
		`INSERT INTO rosterusers (username, jid, nick, subscription) VALUES ('alice', 'carol@example.com', 'Carol', 'B')`,
		`INSERT INTO rostergroups (username, jid, grp) VALUES ('alice', 'carol@example.com', 'Friends')`)
	destURI, dest := testutil.SQLiteDB(t, "dest", testutil.DestinationSchema)

	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(sqliteCatalog), 0o600))
	reportPath := filepath.Join(dir, "report.json")
	logDir := filepath.Join(dir, "logs")

	out, err := execute(t, "run",
		"-S", sourceURI,
		"-D", destURI,
		"-H", "example.com",
		"--catalog", catalogPath,
		"--pool-size", "2",
		"--log-dir", logDir,
		"--log-level", "warn",
		"--report", reportPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Migration Summary:")

	var users int
	require.NoError(t, dest.QueryRow("SELECT COUNT(*) FROM tig_users").Scan(&users))
	assert.Equal(t, 1, users)

	rep, err := report.Read(reportPath)
	require.NoError(t, err)
	require.Len(t, rep.Converters, 1)
	assert.Equal(t, "completed", rep.Converters[0].State)
	assert.Equal(t, int64(2), rep.Total)
	assert.Equal(t, int64(1), rep.Failed)
	assert.Equal(t, "sqlite", rep.Dialect)
	assert.Equal(t, 2, rep.PoolSize)

	status, err := os.ReadFile(filepath.Join(logDir, logger.StatusFileName))
	require.NoError(t, err)
	assert.Contains(t, string(status), "alice@example.com: OK")
	assert.Contains(t, string(status), "bob@example.com : FAILED (missing password)")
	assert.Contains(t, string(status), "Conversion for users completed, 1 of 2 failed")
	assert.FileExists(t, filepath.Join(logDir, DiagnosticLogFile))
}

func TestRunCmd_BootstrapFailures(t *testing.T) {
	dir := t.TempDir()
	sourceURI, _ := testutil.SQLiteDB(t, "source", testutil.EjabberdSchema)
	destURI, _ := testutil.SQLiteDB(t, "dest", testutil.DestinationSchema)

	tests := []struct {
		name string
		args []string
	}{
		{"missing destination", []string{"-S", sourceURI}},
		{"unknown server type", []string{"-S", sourceURI, "-D", destURI, "-T", "prosody"}},
		{"unknown converter", []string{"-S", sourceURI, "-D", destURI, "-H", "example.com", "-C", "offline"}},
		{"unknown repository type", []string{"-S", sourceURI, "-D", destURI, "-R", "ldap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"run", "--log-dir", filepath.Join(dir, "logs"), "--log-level", "error"}, tt.args...)
			_, err := execute(t, args...)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig), "got %v", err)
		})
	}
}
