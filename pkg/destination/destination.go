// Package destination is the write side of a migration: the credential,
// per-user data and virtual host repositories of the server being migrated
// to.
package destination

import (
	"context"

	"mellium.im/xmpp/jid"
)

// AuthRepository stores user credentials.
type AuthRepository interface {
	// AddUser creates user with the given password.
	AddUser(ctx context.Context, user jid.JID, password string) error
}

// UserRepository stores per-user key/value data.
type UserRepository interface {
	// SetData stores value under key in node. An empty node is the user's
	// root node.
	SetData(ctx context.Context, user jid.JID, node, key, value string) error
}

// VHostRepository holds the virtual hosts served by the destination.
type VHostRepository interface {
	// IsLocalDomain reports whether domain is served by the destination.
	IsLocalDomain(ctx context.Context, domain string) (bool, error)
	// AddItem adds domain as a virtual host.
	AddItem(ctx context.Context, domain string) error
}

// Repository is the full destination write surface.
type Repository interface {
	AuthRepository
	UserRepository
	VHostRepository
	Close() error
}
