package pool_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ajitpratap0/xmppconv/pkg/pool"
	"github.com/ajitpratap0/xmppconv/pkg/repository"
)

// exampleSource creates a throwaway sqlite source with two users.
func exampleSource() (string, func()) {
	dir, err := os.MkdirTemp("", "pool-example")
	if err != nil {
		panic(err)
	}
	path := filepath.Join(dir, "source.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		panic(err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE users (username TEXT, password TEXT)`); err != nil {
		panic(err)
	}
	if _, err := db.Exec(`INSERT INTO users VALUES ('alice', 'secret'), ('bob', 'hunter2')`); err != nil {
		panic(err)
	}
	return "sqlite:" + path, func() { os.RemoveAll(dir) }
}

// Example opens a pool of two handles, registers a statement on both and
// streams its result.
func Example() {
	uri, cleanup := exampleSource()
	defer cleanup()
	ctx := context.Background()

	handles, err := repository.Open(ctx, repository.DefaultType, uri, 2, repository.DefaultOptions())
	if err != nil {
		panic(err)
	}
	p, err := pool.New(handles)
	if err != nil {
		panic(err)
	}
	defer p.Close()

	if err := p.RegisterStatement(ctx, "users", "SELECT username FROM users ORDER BY username"); err != nil {
		panic(err)
	}

	err = p.Query(ctx, "users", nil, func(rows *sql.Rows) error {
		for rows.Next() {
			var name string
			if err := rows.Scan(&name); err != nil {
				return err
			}
			fmt.Println(name)
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
	fmt.Println("in use:", p.InUse())

	// Output:
	// alice
	// bob
	// in use: 0
}

// ExamplePool_CheckNesting shows the check run before a converter with
// nested queries is accepted.
func ExamplePool_CheckNesting() {
	uri, cleanup := exampleSource()
	defer cleanup()

	handles, err := repository.Open(context.Background(), repository.DefaultType, uri, 1, repository.DefaultOptions())
	if err != nil {
		panic(err)
	}
	p, err := pool.New(handles)
	if err != nil {
		panic(err)
	}
	defer p.Close()

	fmt.Println(p.CheckNesting(0) == nil)
	fmt.Println(p.CheckNesting(1) == nil)

	// Output:
	// true
	// false
}
