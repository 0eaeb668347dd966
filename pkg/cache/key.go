package cache

import (
	"net/url"
	"sort"
	"strings"
)

// keyPrefix starts every cache key.
const keyPrefix = "ingest"

// Key identifies a cached response.
type Key struct {
	Host  string
	Path  string
	Query url.Values
}

// KeyFor parses rawURL into a key. An unparseable URL yields a key built
// from the raw string so that it still maps to a single slot.
func KeyFor(rawURL string) Key {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Key{Path: rawURL}
	}
	return Key{Host: u.Host, Path: u.Path, Query: u.Query()}
}

// String generates a deterministic key string. Query parameters are sorted
// so that equivalent URLs share an entry.
//
// Example:
//
//	ingest:dadosabertos.camara.leg.br:api/v2/deputados:ordem=ASC:pagina=2
func (k Key) String() string {
	parts := []string{keyPrefix}

	if k.Host != "" {
		parts = append(parts, strings.ToLower(k.Host))
	}
	if p := strings.Trim(k.Path, "/"); p != "" {
		parts = append(parts, p)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			values := append([]string(nil), k.Query[name]...)
			sort.Strings(values)
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}

	return strings.Join(parts, ":")
}
