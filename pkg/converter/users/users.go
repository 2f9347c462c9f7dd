// Package users converts ejabberd accounts: credentials, rosters and the
// virtual hosts they live on.
package users

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
	"mellium.im/xmpp/jid"

	"github.com/ajitpratap0/xmppconv/pkg/catalog"
	"github.com/ajitpratap0/xmppconv/pkg/converter"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Name is the converter name.
const Name = "users"

// RosterKey is the user data key the roster is stored under.
const RosterKey = "roster"

// Converter migrates users with their rosters.
//
// The roster of a user is read while the users row is streaming: first all
// roster items, then the groups of each item. The items query is finished
// and its handle released before the group queries start, so at most one
// nested handle is in use at any time.
type Converter struct {
	props      converter.Properties
	main       string
	hasMain    bool
	additional map[string]string
	logger     *zap.Logger
}

// New creates an uninitialised converter. It is a converter.Constructor.
func New() converter.Converter {
	return &Converter{}
}

// Name implements converter.Converter
func (c *Converter) Name() string { return Name }

// Initialise implements converter.Converter
func (c *Converter) Initialise(props converter.Properties) error {
	c.props = props
	c.logger = props.Logger
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	c.logger = c.logger.With(zap.String("converter", Name))

	c.main, c.hasMain = props.Lookup(catalog.Users)
	c.additional = map[string]string{}
	if !c.hasMain {
		return nil
	}

	// a source without roster queries is not supported, the same as one
	// without a users query
	for _, name := range []string{catalog.RosterItems, catalog.RosterGroups} {
		q, ok := props.Lookup(name)
		if !ok {
			c.logger.Warn("query catalog has no roster query, source not supported",
				zap.String("query", name),
				zap.String("server_type", props.ServerType.String()),
				zap.String("dialect", props.Dialect.String()))
			c.main, c.hasMain = "", false
			c.additional = map[string]string{}
			return nil
		}
		c.additional[name] = q
	}

	if props.ServerType == catalog.Ejabberd && props.VirtualHost == "" {
		return errors.New(errors.ErrorTypeConfig, "a virtual host is required to convert ejabberd users")
	}
	return nil
}

// MainQuery implements converter.Converter
func (c *Converter) MainQuery() (string, bool) {
	return c.main, c.hasMain
}

// AdditionalQueries implements converter.Converter
func (c *Converter) AdditionalQueries() map[string]string {
	out := make(map[string]string, len(c.additional))
	for k, v := range c.additional {
		out[k] = v
	}
	return out
}

// MaxNestingDepth implements converter.Converter
func (c *Converter) MaxNestingDepth() int { return 1 }

func (c *Converter) multiHost() bool {
	return c.props.ServerType == catalog.EjabberdNew
}

// ProcessRow implements converter.Converter
func (c *Converter) ProcessRow(ctx context.Context, row converter.Row) (converter.Result, error) {
	username, ok := row.String("username")
	if !ok || username == "" {
		return converter.Skipped("", "missing username"), nil
	}

	host := c.props.VirtualHost
	if c.multiHost() {
		host, ok = row.String("server_host")
		if !ok || host == "" {
			return converter.Skipped(username, "missing server host"), nil
		}
	}
	id := username + "@" + host

	password, ok := row.String("password")
	if !ok {
		return converter.Skipped(id, "missing password"), nil
	}

	user, err := jid.New(username, host, "")
	if err != nil {
		return converter.Skipped(id, fmt.Sprintf("invalid jid: %v", err)), nil
	}

	roster, err := c.roster(ctx, user)
	if err != nil {
		return converter.Skipped(id, ""), err
	}
	return converter.Converted(&User{JID: user, Password: password, Roster: roster}), nil
}

// roster reads the roster items of owner, then the groups of every item.
func (c *Converter) roster(ctx context.Context, owner jid.JID) ([]RosterItem, error) {
	args := []any{owner.Localpart()}
	if c.multiHost() {
		args = append(args, owner.Domainpart())
	}

	var items []RosterItem
	err := c.props.Pool.Query(ctx, converter.StatementName(Name, catalog.RosterItems), args, func(rows *sql.Rows) error {
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			row, err := converter.ScanRow(rows, cols)
			if err != nil {
				return err
			}
			item, err := rosterItem(row)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read roster").
			WithDetail("user", owner.String())
	}

	for i := range items {
		// groups reference the contact as stored, not its normalised form
		groups, err := c.groups(ctx, owner, items[i].source)
		if err != nil {
			return nil, err
		}
		items[i].Groups = groups
	}
	c.logger.Debug("roster read", zap.String("user", owner.String()), zap.Int("items", len(items)))
	return items, nil
}

func rosterItem(row converter.Row) (RosterItem, error) {
	raw, ok := row.String("jid")
	if !ok {
		return RosterItem{}, errors.New(errors.ErrorTypeData, "roster item without contact jid")
	}
	contact, err := jid.Parse(raw)
	if err != nil {
		return RosterItem{}, errors.Wrap(err, errors.ErrorTypeData, "invalid roster contact").
			WithDetail("contact", raw)
	}
	nick, _ := row.String("nick")
	code, _ := row.String("subscription")
	return RosterItem{
		Contact:      contact.Bare(),
		Name:         nick,
		Subscription: ParseSubscription(code),
		source:       raw,
	}, nil
}

func (c *Converter) groups(ctx context.Context, owner jid.JID, contact string) ([]string, error) {
	args := []any{owner.Localpart(), contact}
	if c.multiHost() {
		args = append(args, owner.Domainpart())
	}

	var groups []string
	err := c.props.Pool.Query(ctx, converter.StatementName(Name, catalog.RosterGroups), args, func(rows *sql.Rows) error {
		cols, err := rows.Columns()
		if err != nil {
			return err
		}
		for rows.Next() {
			row, err := converter.ScanRow(rows, cols)
			if err != nil {
				return err
			}
			if grp, ok := row.String("grp"); ok && grp != "" {
				groups = append(groups, grp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read roster groups").
			WithDetail("user", owner.String()).
			WithDetail("contact", contact)
	}
	return groups, nil
}

// Store implements converter.Converter
func (c *Converter) Store(ctx context.Context, e converter.Entity) (bool, error) {
	user, ok := e.(*User)
	if !ok {
		return false, errors.Newf(errors.ErrorTypeInternal, "unexpected entity %T", e)
	}
	dest := c.props.Destination
	if dest == nil {
		return false, errors.New(errors.ErrorTypeConfig, "no destination configured")
	}

	if err := dest.AddUser(ctx, user.JID, user.Password); err != nil {
		return false, err
	}

	domain := user.JID.Domainpart()
	local, err := dest.IsLocalDomain(ctx, domain)
	if err != nil {
		return false, err
	}
	if !local {
		if err := dest.AddItem(ctx, domain); err != nil {
			return false, err
		}
	}

	roster, err := user.RosterXML()
	if err != nil {
		return false, errors.Wrap(err, errors.ErrorTypeData, "failed to encode roster")
	}
	if roster != "" {
		if err := dest.SetData(ctx, user.JID, "", RosterKey, roster); err != nil {
			return false, err
		}
	}
	return true, nil
}
