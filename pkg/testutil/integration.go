package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// MigrationSuite provides a source and a destination SQLite database per
// test. Embed it and set SourceSchema before the suite runs.
type MigrationSuite struct {
	suite.Suite
	// SourceSchema is applied to every fresh source database.
	SourceSchema string

	ctx       context.Context
	cancel    context.CancelFunc
	tempDir   string
	startTime time.Time

	SourceURI string
	Source    *sql.DB
	DestURI   string
	Dest      *sql.DB
}

// SetupSuite runs before all tests in the suite
func (s *MigrationSuite) SetupSuite() {
	s.startTime = time.Now()
}

// TearDownSuite runs after all tests in the suite
func (s *MigrationSuite) TearDownSuite() {
	s.T().Logf("Migration suite completed in %v", time.Since(s.startTime))
}

// SetupTest creates fresh databases for each test
func (s *MigrationSuite) SetupTest() {
	s.ctx, s.cancel = context.WithTimeout(context.Background(), time.Minute)
	s.tempDir = s.T().TempDir()

	s.SourceURI, s.Source = s.open("source", s.SourceSchema)
	s.DestURI, s.Dest = s.open("destination", DestinationSchema)
}

// TearDownTest closes the databases of the finished test
func (s *MigrationSuite) TearDownTest() {
	s.cancel()
	if s.Source != nil {
		s.Source.Close()
	}
	if s.Dest != nil {
		s.Dest.Close()
	}
}

func (s *MigrationSuite) open(name, schema string) (string, *sql.DB) {
	path := filepath.Join(s.tempDir, name+".db")
	db, err := sql.Open("sqlite", path)
	require.NoError(s.T(), err)
	if schema != "" {
		_, err = db.Exec(schema)
		require.NoError(s.T(), err)
	}
	return "sqlite:" + path, db
}

// Context returns the test context
func (s *MigrationSuite) Context() context.Context {
	return s.ctx
}

// SeedSource runs statements against the source database
func (s *MigrationSuite) SeedSource(stmts ...string) {
	for _, stmt := range stmts {
		_, err := s.Source.Exec(stmt)
		require.NoError(s.T(), err, stmt)
	}
}

// CountRows returns the number of rows in a destination table
func (s *MigrationSuite) CountRows(table string) int {
	var n int
	require.NoError(s.T(), s.Dest.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

// IntegrationTest marks a test as an integration test
func IntegrationTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
}
