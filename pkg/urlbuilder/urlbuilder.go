// Package urlbuilder turns an endpoint description plus optional path and
// query overrides into a request URL.
package urlbuilder

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/pcastr/monitor-politico/pkg/config"
)

var placeholder = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Build concatenates base_url and the url template, substitutes every
// {name} placeholder from pathParams and appends the query string.
//
// The query set is the configured defaults in configured order, with extra
// values replacing defaults in place and new keys appended in sorted order.
// Absent (nil) values, empty strings and empty sequences are dropped.
// Sequences are joined with commas.
func Build(ep config.Endpoint, pathParams, extra map[string]any) (string, error) {
	path, err := substitute(ep.URL, pathParams)
	if err != nil {
		return "", err
	}

	u := strings.TrimSuffix(ep.BaseURL, "/") + ensureLeadingSlash(path)
	if q := Query(ep, extra); q != "" {
		sep := "?"
		if strings.Contains(u, "?") {
			sep = "&"
		}
		u += sep + q
	}
	return u, nil
}

// Defaults builds the URL with the configured query defaults only.
func Defaults(ep config.Endpoint) (string, error) {
	return Build(ep, nil, nil)
}

// Query renders the merged query string without a leading '?'.
func Query(ep config.Endpoint, extra map[string]any) string {
	type pair struct {
		name  string
		value any
	}

	pairs := make([]pair, 0, len(ep.QueryParameters)+len(extra))
	seen := make(map[string]int, len(ep.QueryParameters))
	for _, qp := range ep.QueryParameters {
		if i, dup := seen[qp.Name]; dup {
			pairs[i].value = qp.Default
			continue
		}
		seen[qp.Name] = len(pairs)
		pairs = append(pairs, pair{qp.Name, qp.Default})
	}

	newKeys := make([]string, 0, len(extra))
	for k, v := range extra {
		if i, ok := seen[k]; ok {
			pairs[i].value = v
			continue
		}
		newKeys = append(newKeys, k)
	}
	sort.Strings(newKeys)
	for _, k := range newKeys {
		pairs = append(pairs, pair{k, extra[k]})
	}

	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		s, ok := Format(p.value)
		if !ok {
			continue
		}
		parts = append(parts, url.QueryEscape(p.name)+"="+s)
	}
	return strings.Join(parts, "&")
}

// Format renders a query value. Sequences become a comma-joined list of
// their escaped elements. ok is false when the value should be dropped.
func Format(v any) (s string, ok bool) {
	if v == nil {
		return "", false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		if rv.Len() == 0 {
			return "", false
		}
		return url.QueryEscape(rv.String()), true
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "", false
		}
		elems := make([]string, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			elems = append(elems, url.QueryEscape(scalar(rv.Index(i).Interface())))
		}
		return strings.Join(elems, ","), true
	case reflect.Pointer:
		if rv.IsNil() {
			return "", false
		}
		return Format(rv.Elem().Interface())
	default:
		return url.QueryEscape(scalar(v)), true
	}
}

func scalar(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		// JSON numbers arrive as float64; keep integers free of exponents
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x))
		}
		return fmt.Sprint(x)
	default:
		return fmt.Sprint(x)
	}
}

func substitute(template string, params map[string]any) (string, error) {
	var missing []string
	out := placeholder.ReplaceAllStringFunc(template, func(m string) string {
		name := m[1 : len(m)-1]
		v, ok := params[name]
		if !ok || v == nil {
			missing = append(missing, name)
			return m
		}
		return url.PathEscape(scalar(v))
	})

	if len(missing) > 0 {
		return "", &config.Error{
			Field:  missing[0],
			Reason: fmt.Sprintf("no value for path placeholder in %q", template),
		}
	}
	return out, nil
}

// Placeholders lists the placeholder names referenced by template.
func Placeholders(template string) []string {
	matches := placeholder.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

func ensureLeadingSlash(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}
