// Package dialect maps repository URIs onto database dialects and
// database/sql drivers.
//
// URIs may carry the JDBC "jdbc:" prefix used by the servers being migrated
// from, so connection strings can be copied from their configuration:
//
//	jdbc:postgresql://db/ejabberd?user=ejabberd&password=secret
//	mysql://ejabberd:secret@db:3306/ejabberd
//	jdbc:sqlserver://db:1433;databaseName=ejabberd;user=sa;password=secret
//	jdbc:jtds:sqlserver://db:1433/ejabberd;user=sa;password=secret
//	sqlite:/var/lib/ejabberd/ejabberd.db
package dialect

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	_ "github.com/denisenkom/go-mssqldb" // registers "sqlserver"
	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Dialect identifies the database engine variant behind a repository.
type Dialect string

const (
	Unknown    Dialect = ""
	PostgreSQL Dialect = "postgresql"
	MySQL      Dialect = "mysql"
	SQLServer  Dialect = "sqlserver"
	JTDS       Dialect = "jtds"
	SQLite     Dialect = "sqlite"
)

// All lists the dialects a URI can resolve to.
var All = []Dialect{PostgreSQL, MySQL, SQLServer, JTDS, SQLite}

// Target is the result of parsing a repository URI.
type Target struct {
	Dialect Dialect
	// Driver is the database/sql driver name.
	Driver string
	// DSN is the driver specific data source name.
	DSN string
}

// String implements fmt.Stringer
func (d Dialect) String() string {
	if d == Unknown {
		return "unknown"
	}
	return string(d)
}

// ParseDialect resolves a dialect name, accepting common aliases.
func ParseDialect(name string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "postgresql", "postgres", "pg", "pgsql":
		return PostgreSQL, nil
	case "mysql", "mariadb":
		return MySQL, nil
	case "sqlserver", "mssql":
		return SQLServer, nil
	case "jtds":
		return JTDS, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return Unknown, errors.Newf(errors.ErrorTypeConfig, "unknown database dialect %q", name)
}

// Parse inspects uri and returns the dialect, driver name and DSN it maps to.
func Parse(uri string) (Target, error) {
	raw := strings.TrimSpace(uri)
	if raw == "" {
		return Target{}, errors.New(errors.ErrorTypeConfig, "repository uri is empty")
	}
	raw = strings.TrimPrefix(raw, "jdbc:")

	scheme, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return Target{}, errors.Newf(errors.ErrorTypeConfig, "repository uri %q has no scheme", uri)
	}

	var (
		t   Target
		err error
	)
	switch strings.ToLower(scheme) {
	case "postgresql", "postgres":
		t, err = postgresTarget(raw)
	case "mysql", "mariadb":
		t, err = mysqlTarget(raw)
	case "sqlserver":
		t, err = sqlServerTarget(rest, SQLServer)
	case "jtds":
		sub, jrest, _ := strings.Cut(rest, ":")
		if !strings.EqualFold(sub, "sqlserver") {
			return Target{}, errors.Newf(errors.ErrorTypeConfig, "unsupported jtds server type %q", sub)
		}
		t, err = sqlServerTarget(jrest, JTDS)
	case "sqlite", "sqlite3", "file":
		t, err = sqliteTarget(scheme, rest)
	default:
		return Target{}, errors.Newf(errors.ErrorTypeConfig, "unsupported repository scheme %q", scheme)
	}
	if err != nil {
		return Target{}, errors.Wrap(err, errors.ErrorTypeConfig, "invalid repository uri").
			WithDetail("scheme", scheme)
	}
	return t, nil
}

func postgresTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, err
	}
	u.Scheme = "postgres"
	return Target{Dialect: PostgreSQL, Driver: "pgx", DSN: u.String()}, nil
}

func mysqlTarget(raw string) (Target, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Target{}, err
	}

	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	if u.Port() == "" && u.Host != "" {
		cfg.Addr = net.JoinHostPort(u.Hostname(), "3306")
	}
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}

	params := map[string]string{}
	for key, values := range u.Query() {
		if len(values) == 0 {
			continue
		}
		switch key {
		case "user":
			cfg.User = values[0]
		case "password":
			cfg.Passwd = values[0]
		case "useUnicode", "characterEncoding", "autoCreateUser", "useSSL":
			// JDBC only options
		default:
			params[key] = values[0]
		}
	}
	if len(params) > 0 {
		cfg.Params = params
	}
	return Target{Dialect: MySQL, Driver: "mysql", DSN: cfg.FormatDSN()}, nil
}

// sqlServerTarget accepts both the JDBC form "//host:port;key=value;..." and
// a URL form "//user:pass@host:port?database=db".
func sqlServerTarget(rest string, d Dialect) (Target, error) {
	if !strings.HasPrefix(rest, "//") {
		return Target{}, fmt.Errorf("expected //host after scheme")
	}
	if !strings.Contains(rest, ";") {
		u, err := url.Parse("sqlserver:" + rest)
		if err != nil {
			return Target{}, err
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			q := u.Query()
			q.Set("database", db)
			u.RawQuery = q.Encode()
			u.Path = ""
		}
		return Target{Dialect: d, Driver: "sqlserver", DSN: u.String()}, nil
	}

	parts := strings.Split(strings.TrimPrefix(rest, "//"), ";")
	hostPart := parts[0]
	u := &url.URL{Scheme: "sqlserver"}
	q := url.Values{}

	// jTDS puts the database in the path: host:port/database
	if host, db, ok := strings.Cut(hostPart, "/"); ok {
		hostPart = host
		if db != "" {
			q.Set("database", db)
		}
	}
	u.Host = hostPart

	var user, password string
	for _, kv := range parts[1:] {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		switch strings.ToLower(key) {
		case "user", "username":
			user = value
		case "password":
			password = value
		case "databasename", "database":
			q.Set("database", value)
		case "port":
			if _, err := strconv.Atoi(value); err != nil {
				return Target{}, fmt.Errorf("invalid port %q", value)
			}
			u.Host = net.JoinHostPort(hostPart, value)
		case "encrypt":
			q.Set("encrypt", value)
		case "trustservercertificate":
			q.Set("TrustServerCertificate", value)
		default:
			q.Set(key, value)
		}
	}
	if user != "" {
		u.User = url.UserPassword(user, password)
	}
	u.RawQuery = q.Encode()
	return Target{Dialect: d, Driver: "sqlserver", DSN: u.String()}, nil
}

func sqliteTarget(scheme, rest string) (Target, error) {
	path := rest
	if strings.EqualFold(scheme, "file") {
		// modernc accepts file: URIs directly
		return Target{Dialect: SQLite, Driver: "sqlite", DSN: "file:" + rest}, nil
	}
	path = strings.TrimPrefix(path, "//")
	if path == "" {
		return Target{}, fmt.Errorf("sqlite uri has no path")
	}
	return Target{Dialect: SQLite, Driver: "sqlite", DSN: path}, nil
}

// Rebind rewrites positional "?" placeholders into the form the dialect's
// driver expects: "$n" for PostgreSQL and "@pn" for SQL Server. Question
// marks inside quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	var prefix string
	switch d {
	case PostgreSQL:
		prefix = "$"
	case SQLServer, JTDS:
		prefix = "@p"
	default:
		return query
	}

	var (
		b      strings.Builder
		n      int
		quoted rune
	)
	b.Grow(len(query) + 8)
	for _, r := range query {
		switch {
		case quoted != 0:
			if r == quoted {
				quoted = 0
			}
		case r == '\'' || r == '"':
			quoted = r
		case r == '?':
			n++
			b.WriteString(prefix)
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
