// Package converters lists every converter shipped with xmppconv.
package converters

import (
	"go.uber.org/zap"

	"github.com/ajitpratap0/xmppconv/pkg/converter"
	"github.com/ajitpratap0/xmppconv/pkg/converter/users"
)

// All maps converter names to constructors, in the order they run.
var All = []struct {
	Name string
	New  converter.Constructor
}{
	{users.Name, users.New},
}

// Register adds every shipped converter to r
func Register(r *converter.Registry) error {
	for _, c := range All {
		if err := r.Register(c.Name, c.New); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry creates a registry holding every shipped converter
func NewRegistry(logger *zap.Logger) (*converter.Registry, error) {
	r := converter.NewRegistry(logger)
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
