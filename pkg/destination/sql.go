package destination

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
	"github.com/ajitpratap0/xmppconv/pkg/repository"
)

// Tables written by SQLStore. They must already exist.
const (
	UsersTable  = "tig_users"
	PairsTable  = "tig_pairs"
	VHostsTable = "tig_vhosts"
)

const (
	insertUser  = "INSERT INTO " + UsersTable + " (user_id, user_pw) VALUES (?, ?)"
	deletePair  = "DELETE FROM " + PairsTable + " WHERE user_id = ? AND node = ? AND pkey = ?"
	deleteRoot  = "DELETE FROM " + PairsTable + " WHERE user_id = ? AND node IS NULL AND pkey = ?"
	insertPair  = "INSERT INTO " + PairsTable + " (user_id, node, pkey, pval) VALUES (?, ?, ?, ?)"
	selectVHost = "SELECT vhost FROM " + VHostsTable
	insertVHost = "INSERT INTO " + VHostsTable + " (vhost) VALUES (?)"
)

// Options configure an SQLStore
type Options struct {
	// DefaultVHost is always treated as local.
	DefaultVHost    string
	ConnectAttempts uint
	ConnectDelay    time.Duration
	Logger          *zap.Logger
}

// SQLStore is a Repository over a relational destination database.
type SQLStore struct {
	db      *sql.DB
	dialect dialect.Dialect
	logger  *zap.Logger

	mu     sync.Mutex
	vhosts map[string]bool
	loaded bool
}

// OpenSQL connects to the destination at uri.
func OpenSQL(ctx context.Context, uri string, opts Options) (*SQLStore, error) {
	target, err := dialect.Parse(uri)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(target.Driver, target.DSN)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open destination").
			WithDetail("driver", target.Driver)
	}
	err = repository.Connect(ctx, repository.Options{
		ConnectAttempts: opts.ConnectAttempts,
		ConnectDelay:    opts.ConnectDelay,
		Logger:          opts.Logger,
	}, db.PingContext, zap.String("component", "destination"))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to connect to destination").
			WithDetail("dialect", target.Dialect.String())
	}
	return NewSQLStore(db, target.Dialect, opts), nil
}

// NewSQLStore wraps an open database. The store owns db and closes it.
func NewSQLStore(db *sql.DB, d dialect.Dialect, opts Options) *SQLStore {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &SQLStore{
		db:      db,
		dialect: d,
		logger:  opts.Logger.With(zap.String("component", "destination")),
		vhosts:  map[string]bool{},
	}
	if opts.DefaultVHost != "" {
		s.vhosts[strings.ToLower(opts.DefaultVHost)] = true
	}
	return s
}

// AddUser implements AuthRepository
func (s *SQLStore) AddUser(ctx context.Context, user jid.JID, password string) error {
	id := user.Bare().String()
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(insertUser), id, password); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to add user").WithDetail("user", id)
	}
	return nil
}

// SetData implements UserRepository. An existing value for the same key is
// replaced.
func (s *SQLStore) SetData(ctx context.Context, user jid.JID, node, key, value string) (err error) {
	id := user.Bare().String()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to begin transaction").WithDetail("user", id)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var nodeArg any
	if node == "" {
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(deleteRoot), id, key)
	} else {
		nodeArg = node
		_, err = tx.ExecContext(ctx, s.dialect.Rebind(deletePair), id, node, key)
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to replace user data").
			WithDetail("user", id).
			WithDetail("key", key)
	}
	if _, err = tx.ExecContext(ctx, s.dialect.Rebind(insertPair), id, nodeArg, key, value); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to set user data").
			WithDetail("user", id).
			WithDetail("key", key)
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to commit user data").WithDetail("user", id)
	}
	return nil
}

// IsLocalDomain implements VHostRepository. The virtual host table is read
// once and cached.
func (s *SQLStore) IsLocalDomain(ctx context.Context, domain string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadVHosts(ctx); err != nil {
			return false, err
		}
		s.loaded = true
	}
	return s.vhosts[strings.ToLower(domain)], nil
}

func (s *SQLStore) loadVHosts(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, selectVHost)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to read virtual hosts")
	}
	defer rows.Close()

	for rows.Next() {
		var vhost string
		if err := rows.Scan(&vhost); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStore, "failed to read virtual hosts")
		}
		s.vhosts[strings.ToLower(vhost)] = true
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to read virtual hosts")
	}
	s.logger.Debug("virtual hosts loaded", zap.Int("count", len(s.vhosts)))
	return nil
}

// AddItem implements VHostRepository
func (s *SQLStore) AddItem(ctx context.Context, domain string) error {
	domain = strings.ToLower(domain)
	if domain == "" {
		return errors.New(errors.ErrorTypeValidation, "empty virtual host")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		if err := s.loadVHosts(ctx); err != nil {
			return err
		}
		s.loaded = true
	}
	if s.vhosts[domain] {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.Rebind(insertVHost), domain); err != nil {
		return errors.Wrap(err, errors.ErrorTypeStore, "failed to add virtual host").WithDetail("vhost", domain)
	}
	s.vhosts[domain] = true
	s.logger.Info("virtual host added", zap.String("vhost", domain))
	return nil
}

// Close implements Repository
func (s *SQLStore) Close() error {
	return s.db.Close()
}
