package catalog

import (
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/xmppconv/pkg/dialect"
	"github.com/ajitpratap0/xmppconv/pkg/errors"
)

// Load reads a YAML overlay and merges it over the default catalog:
//
//	ejabberd:
//	  postgresql:
//	    users: SELECT username, password FROM users WHERE NOT disabled
//
// Server types are free-form so catalogs can describe new schemas; dialect
// names must be known to the dialect package.
func Load(r io.Reader) (*Catalog, error) {
	var raw map[string]map[string]map[string]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse query catalog")
	}

	overlay := make(map[ServerType]map[dialect.Dialect]map[string]string, len(raw))
	for server, byDialect := range raw {
		s := ServerType(strings.ToLower(strings.TrimSpace(server)))
		if s == "" {
			return nil, errors.New(errors.ErrorTypeConfig, "query catalog contains an empty server type")
		}
		if overlay[s] == nil {
			overlay[s] = make(map[dialect.Dialect]map[string]string, len(byDialect))
		}
		for name, queries := range byDialect {
			d, err := dialect.ParseDialect(name)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid query catalog").
					WithDetail("server_type", server)
			}
			// aliases of one dialect share an entry
			merged := overlay[s][d]
			if merged == nil {
				merged = make(map[string]string, len(queries))
				overlay[s][d] = merged
			}
			for q, text := range queries {
				if strings.TrimSpace(text) == "" {
					return nil, errors.Newf(errors.ErrorTypeConfig, "query %s for %s/%s is empty", q, s, d)
				}
				if prev, ok := merged[q]; ok && prev != text {
					return nil, errors.Newf(errors.ErrorTypeConfig, "query %s for %s/%s is defined twice", q, s, d).
						WithDetail("dialect_name", name)
				}
				merged[q] = text
			}
		}
	}
	return Default().Merge(New(overlay)), nil
}

// LoadFile is Load for a file path.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to open query catalog").
			WithDetail("path", path)
	}
	defer f.Close()
	return Load(f)
}
