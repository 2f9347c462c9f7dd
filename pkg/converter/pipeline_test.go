package converter

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
	"github.com/ajitpratap0/xmppconv/pkg/logger"
	"github.com/ajitpratap0/xmppconv/pkg/pool"
	"github.com/ajitpratap0/xmppconv/pkg/repository"
	"github.com/ajitpratap0/xmppconv/pkg/testutil"
)

const usersSchema = `CREATE TABLE users (username TEXT PRIMARY KEY, password TEXT);`

func sourcePool(t *testing.T, size int, seed ...string) *pool.Pool {
	t.Helper()
	uri, db := testutil.SQLiteDB(t, "source", usersSchema)
	testutil.Exec(t, db, seed...)

	opts := repository.DefaultOptions()
	opts.Logger = zaptest.NewLogger(t)
	handles, err := repository.Open(context.Background(), repository.DefaultType, uri, size, opts)
	require.NoError(t, err)

	p, err := pool.New(handles, pool.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })
	return p
}

func statusObserver() (*logger.StatusLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.InfoLevel)
	return logger.NewStatusLoggerFrom(zap.New(core)), logs
}

func messages(logs *observer.ObservedLogs) []string {
	var out []string
	for _, e := range logs.All() {
		out = append(out, e.Message)
	}
	return out
}

func prepare(t *testing.T, p *pool.Pool, c Converter) {
	t.Helper()
	main, _ := c.MainQuery()
	require.NoError(t, p.RegisterStatement(context.Background(), MainStatement(c), main))
}

func TestPipeline_RowFailuresAreCounted(t *testing.T) {
	p := sourcePool(t, 2,
		`INSERT INTO users VALUES ('a', 'pw'), ('b', NULL), ('c', 'pw'), ('d', 'pw'), ('e', 'pw')`)
	c := &fakeConverter{
		name:     "users",
		main:     "SELECT username, password FROM users ORDER BY username",
		hasMain:  true,
		errOn:    map[string]bool{"c": true},
		rejectOn: map[string]bool{"d": true},
	}
	prepare(t, p, c)
	status, logs := statusObserver()

	stats := NewPipeline(p, WithLogger(zaptest.NewLogger(t)), WithStatusLogger(status)).Run(context.Background(), c)

	assert.Equal(t, StateCompleted, stats.State)
	assert.NoError(t, stats.Err)
	assert.Equal(t, int64(5), stats.Total)
	assert.Equal(t, int64(3), stats.Failed)
	assert.Equal(t, int64(2), stats.Stored)
	assert.Equal(t, []string{"a", "e"}, c.stored)
	assert.Equal(t, 0, p.InUse())

	assert.Equal(t, []string{
		"a: OK",
		"b : FAILED (missing password)",
		"c : FAILED (data: transform exploded)",
		"d : FAILED (not stored)",
		"e: OK",
		"Conversion for users completed, 3 of 5 failed",
	}, messages(logs))
}

// failingQuerier fails every query of one statement and delegates the rest.
type failingQuerier struct {
	Querier
	stmt string
}

func (q failingQuerier) Query(ctx context.Context, stmt string, args []any, fn func(*sql.Rows) error) error {
	if stmt == q.stmt {
		return errors.Newf(errors.ErrorTypeQuery, "failed to execute %s", stmt)
	}
	return q.Querier.Query(ctx, stmt, args, fn)
}

func TestPipeline_MainQueryFailureAborts(t *testing.T) {
	p := sourcePool(t, 2, `INSERT INTO users VALUES ('a', 'pw'), ('b', 'pw')`)
	broken := &fakeConverter{name: "broken", main: "SELECT username, password FROM users", hasMain: true}
	good := &fakeConverter{name: "good", main: "SELECT username, password FROM users ORDER BY username", hasMain: true}
	prepare(t, p, broken)
	prepare(t, p, good)
	status, logs := statusObserver()

	pipeline := NewPipeline(failingQuerier{Querier: p, stmt: MainStatement(broken)}, WithStatusLogger(status))
	stats := pipeline.RunAll(context.Background(), []Converter{broken, good})

	require.Len(t, stats, 2)
	assert.Equal(t, StateAborted, stats[0].State)
	assert.Equal(t, int64(0), stats[0].Total)
	assert.True(t, errors.IsType(stats[0].Err, errors.ErrorTypeQuery))

	assert.Equal(t, StateCompleted, stats[1].State)
	assert.Equal(t, int64(2), stats[1].Total)
	assert.Equal(t, int64(0), stats[1].Failed)

	assert.Contains(t, messages(logs), "Conversion for broken aborted, 0 of 0 failed")
	assert.Contains(t, messages(logs), "Conversion for good completed, 0 of 2 failed")
}

func TestPipeline_UnpreparedMainQueryAborts(t *testing.T) {
	p := sourcePool(t, 1)
	c := &fakeConverter{name: "users", main: "SELECT 1", hasMain: true}

	stats := NewPipeline(p).Run(context.Background(), c)
	assert.Equal(t, StateAborted, stats.State)
	assert.Error(t, stats.Err)
	assert.Equal(t, 0, p.InUse())
}

func TestPipeline_InvalidMainQueryAborts(t *testing.T) {
	p := sourcePool(t, 1, `INSERT INTO users VALUES ('a', 'pw')`)
	c := &fakeConverter{name: "users", main: "SELECT nope FROM nowhere", hasMain: true}

	main, _ := c.MainQuery()
	if err := p.RegisterStatement(context.Background(), MainStatement(c), main); err != nil {
		assert.True(t, errors.IsType(err, errors.ErrorTypeQuery), "got %v", err)
		return
	}

	stats := NewPipeline(p).Run(context.Background(), c)
	assert.Equal(t, StateAborted, stats.State)
	assert.True(t, errors.IsType(stats.Err, errors.ErrorTypeQuery), "got %v", stats.Err)
	assert.Equal(t, int64(0), stats.Total)
	assert.Equal(t, 0, p.InUse())
}

// droppedStream delivers every row of stmt and then reports the stream as
// broken, the way a connection reset surfaces through rows.Err.
type droppedStream struct {
	Querier
	stmt string
}

func (q droppedStream) Query(ctx context.Context, stmt string, args []any, fn func(*sql.Rows) error) error {
	err := q.Querier.Query(ctx, stmt, args, fn)
	if err == nil && stmt == q.stmt {
		return errors.New(errors.ErrorTypeQuery, "connection reset by peer")
	}
	return err
}

func TestPipeline_StreamErrorAfterRowsAborts(t *testing.T) {
	p := sourcePool(t, 2, `INSERT INTO users VALUES ('a', 'pw'), ('b', 'pw'), ('c', 'pw')`)
	dropped := &fakeConverter{name: "dropped", main: "SELECT username, password FROM users ORDER BY username", hasMain: true}
	next := &fakeConverter{name: "next", main: "SELECT username, password FROM users ORDER BY username", hasMain: true}
	prepare(t, p, dropped)
	prepare(t, p, next)
	status, logs := statusObserver()

	pipeline := NewPipeline(droppedStream{Querier: p, stmt: MainStatement(dropped)}, WithStatusLogger(status))
	stats := pipeline.RunAll(context.Background(), []Converter{dropped, next})
	require.Len(t, stats, 2)

	assert.Equal(t, StateAborted, stats[0].State)
	assert.True(t, errors.IsType(stats[0].Err, errors.ErrorTypeQuery))
	assert.Equal(t, int64(3), stats[0].Total)
	assert.Equal(t, int64(3), stats[0].Stored)
	assert.Equal(t, int64(0), stats[0].Failed)

	assert.Equal(t, StateCompleted, stats[1].State)
	assert.Equal(t, int64(3), stats[1].Stored)

	lines := messages(logs)
	assert.Contains(t, lines, "Conversion for dropped aborted, 0 of 3 failed")
	assert.Contains(t, lines, "Conversion for next completed, 0 of 3 failed")
	assert.Equal(t, 0, p.InUse())
}

func TestPipeline_CancellationAborts(t *testing.T) {
	p := sourcePool(t, 1, `INSERT INTO users VALUES ('a', 'pw'), ('b', 'pw'), ('c', 'pw')`)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &fakeConverter{
		name:    "users",
		main:    "SELECT username, password FROM users ORDER BY username",
		hasMain: true,
		onRow: func(id string) {
			if id == "a" {
				cancel()
			}
		},
	}
	prepare(t, p, c)

	stats := NewPipeline(p).Run(ctx, c)
	assert.Equal(t, StateAborted, stats.State)
	assert.ErrorIs(t, stats.Err, context.Canceled)
	assert.Equal(t, int64(1), stats.Total)
	assert.Equal(t, 0, p.InUse())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "completed", StateCompleted.String())
	assert.Equal(t, "aborted", StateAborted.String())
	assert.Equal(t, "unknown", State(42).String())
}
