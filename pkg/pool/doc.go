// Package pool implements the bounded pool of repository handles that every
// converter query runs on.
//
// # Architecture
//
// A Pool owns a fixed set of repository.Handle values, all opened against
// the same source and sharing one dialect. Handles are created up front by
// repository.Open and are never added, evicted or reconnected afterwards.
// Idle handles sit in a buffered channel; a checked out handle is used by
// exactly one caller until it is released.
//
// Core operations:
//
//   - Acquire / Release: explicit checkout, blocking while all handles are busy
//   - With: scoped checkout that always releases
//   - Query: runs a named statement and streams its rows to a callback
//   - RegisterStatement: prepares a statement on every handle
//
// # Statement Registration
//
// Statements are prepared per handle, so a statement must exist on every
// handle before any caller may draw one to run it. RegisterStatement checks
// out the whole pool while it prepares, which means it waits for borrowed
// handles and must not be called while the caller holds one.
//
// A successful registration does not prove the SQL is valid. Drivers that
// compile lazily, such as modernc.org/sqlite, report a broken statement on
// its first Query instead, where it aborts the stream like any other
// query failure.
//
// # Nesting
//
// A caller that holds a handle while issuing a nested query needs a second
// handle. With N handles and N such callers the pool deadlocks, so query
// graphs are validated up front with CheckNesting: a nesting depth d needs
// at least d+1 handles.
//
// # Usage
//
//	handles, err := repository.Open(ctx, "sql", uri, 10, repository.DefaultOptions())
//	if err != nil {
//		return err
//	}
//	p, err := pool.New(handles, pool.WithAcquireTimeout(30*time.Second))
//	if err != nil {
//		return err
//	}
//	defer p.Close()
//
//	if err := p.RegisterStatement(ctx, "users", "SELECT username, password FROM users"); err != nil {
//		return err
//	}
//	err = p.Query(ctx, "users", nil, func(rows *sql.Rows) error {
//		for rows.Next() {
//			// scan
//		}
//		return nil
//	})
//
// # Metrics
//
// The pool reports handles in use, acquire wait time and failed acquisitions
// through the metrics package.
package pool
