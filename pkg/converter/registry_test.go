package converter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ajitpratap0/xmppconv/pkg/catalog"
	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

func registryWith(t *testing.T, convs ...*fakeConverter) *Registry {
	t.Helper()
	r := NewRegistry(zaptest.NewLogger(t))
	for _, c := range convs {
		c := c
		require.NoError(t, r.Register(c.name, func() Converter { return c }))
	}
	return r
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register("users", func() Converter { return &fakeConverter{name: "users"} }))
	require.NoError(t, r.Register("offline", func() Converter { return &fakeConverter{name: "offline"} }))

	err := r.Register("users", func() Converter { return nil })
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Error(t, r.Register("nil", nil))

	assert.Equal(t, []string{"users", "offline"}, r.Names())
	assert.True(t, r.Has("offline"))
	assert.False(t, r.Has("vcard"))
}

func TestRegistry_SelectPartitions(t *testing.T) {
	supported := &fakeConverter{
		name: "users", main: "SELECT username, password FROM users", hasMain: true, depth: 1,
		extra: map[string]string{"rosteritems": "SELECT 1", "rostergroups": "SELECT 2"},
	}
	unsupported := &fakeConverter{name: "vcard"}
	r := registryWith(t, unsupported, supported)
	p := newRecordingPool(2)

	props := Properties{ServerType: catalog.Ejabberd, Dialect: dialect.MySQL, VirtualHost: "example.com"}
	got, err := r.Select(context.Background(), props, p, nil)
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Same(t, supported, got[0])
	assert.True(t, unsupported.torndown)
	assert.False(t, supported.torndown)
	assert.True(t, r.Has("vcard"), "constructors outlive the selection")
	assert.Equal(t, []string{"vcard", "users"}, r.Names())

	assert.Equal(t, map[string]string{
		"users.main":         "SELECT username, password FROM users",
		"users.rosteritems":  "SELECT 1",
		"users.rostergroups": "SELECT 2",
	}, p.registered)

	assert.Equal(t, "example.com", supported.props.VirtualHost)
	assert.Equal(t, p, supported.props.Pool)
}

func TestRegistry_SelectRejectsDeepNesting(t *testing.T) {
	c := &fakeConverter{name: "users", main: "SELECT 1", hasMain: true, depth: 1}
	r := registryWith(t, c)

	_, err := r.Select(context.Background(), Properties{}, newRecordingPool(1), nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.True(t, c.torndown)

	c.torndown = false
	got, err := r.Select(context.Background(), Properties{}, newRecordingPool(2), nil)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestRegistry_SelectPrepareFailure(t *testing.T) {
	c := &fakeConverter{name: "users", main: "SELECT 1", hasMain: true}
	r := registryWith(t, c)
	p := newRecordingPool(4)
	p.failOn = "users.main"

	_, err := r.Select(context.Background(), Properties{}, p, nil)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.True(t, c.torndown)
}

func TestRegistry_SelectInitialiseFailure(t *testing.T) {
	first := &fakeConverter{name: "first", main: "SELECT 1", hasMain: true}
	broken := &fakeConverter{name: "broken", initErr: errors.New(errors.ErrorTypeConfig, "no vhost")}
	r := registryWith(t, first, broken)

	_, err := r.Select(context.Background(), Properties{}, newRecordingPool(4), nil)
	require.Error(t, err)
	assert.True(t, first.torndown, "converters initialised before the failure are torn down")
}

func TestRegistry_SelectFilter(t *testing.T) {
	users := &fakeConverter{name: "users", main: "SELECT 1", hasMain: true}
	offline := &fakeConverter{name: "offline", main: "SELECT 2", hasMain: true}
	r := registryWith(t, users, offline)
	p := newRecordingPool(4)

	got, err := r.Select(context.Background(), Properties{}, p, []string{"offline"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "offline", got[0].Name())
	assert.NotContains(t, p.registered, "users.main")

	_, err = r.Select(context.Background(), Properties{}, p, []string{"vcard"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestRegistry_Supported(t *testing.T) {
	users := &fakeConverter{name: "users", main: "SELECT 1", hasMain: true}
	vcard := &fakeConverter{name: "vcard"}
	r := registryWith(t, users, vcard)

	names, err := r.Supported(Properties{})
	require.NoError(t, err)
	assert.Equal(t, []string{"users"}, names)
	assert.True(t, users.torndown)
	assert.True(t, vcard.torndown)
}

func TestResult(t *testing.T) {
	r := Converted(fakeEntity("alice@example.com"))
	assert.False(t, r.IsSkipped())
	assert.Equal(t, "alice@example.com", r.ID())

	r = Skipped("bob", "missing password")
	assert.True(t, r.IsSkipped())
	assert.Equal(t, "bob", r.ID())
	assert.Equal(t, "missing password", r.Reason())

	assert.Equal(t, "no entity", Result{}.Reason())
	assert.Equal(t, "users.main", MainStatement(&fakeConverter{name: "users"}))
}

func TestRow(t *testing.T) {
	row := NewRow(map[string]any{"UserName": []byte("alice"), "password": nil, "age": int64(3)})

	s, ok := row.String("username")
	assert.True(t, ok)
	assert.Equal(t, "alice", s)

	_, ok = row.String("password")
	assert.False(t, ok)
	_, ok = row.String("missing")
	assert.False(t, ok)

	s, ok = row.String("AGE")
	assert.True(t, ok)
	assert.Equal(t, "3", s)
	assert.Equal(t, 3, row.Columns())
}
