package cookies

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// DocumentKey is the member of the decrypted export holding the cookies.
const DocumentKey = "cookie_data"

const defaultPath = "/"

// ErrNoCookieData is returned when a document carries no usable cookie_data.
var ErrNoCookieData = errors.New("document has no cookie_data")

// Jar maps domain → path → cookie name → value. Bare and dot-prefixed
// domains are distinct keys.
type Jar map[string]map[string]map[string]string

// FromDocument builds a Jar from a decrypted export. Both the nested
// {domain: {path: {name: value}}} shape and the browser extension's
// {domain: [{name, value, path, ...}]} shape are accepted.
func FromDocument(doc map[string]any) (Jar, error) {
	raw, ok := doc[DocumentKey]
	if !ok {
		return nil, ErrNoCookieData
	}
	domains, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, not an object", ErrNoCookieData, DocumentKey, raw)
	}

	jar := make(Jar, len(domains))
	for domain, entry := range domains {
		switch v := entry.(type) {
		case map[string]any:
			for path, names := range v {
				byName, ok := names.(map[string]any)
				if !ok {
					continue
				}
				for name, value := range byName {
					if s, ok := stringValue(value); ok {
						jar.set(domain, path, name, s)
					}
				}
			}
		case []any:
			for _, item := range v {
				c, ok := item.(map[string]any)
				if !ok {
					continue
				}
				name, _ := c["name"].(string)
				if name == "" {
					continue
				}
				value, ok := stringValue(c["value"])
				if !ok {
					continue
				}
				path, _ := c["path"].(string)
				if path == "" {
					path = defaultPath
				}
				jar.set(domain, path, name, value)
			}
		}
	}

	return jar, nil
}

func (j Jar) set(domain, path, name, value string) {
	paths, ok := j[domain]
	if !ok {
		paths = make(map[string]map[string]string)
		j[domain] = paths
	}
	names, ok := paths[path]
	if !ok {
		names = make(map[string]string)
		paths[path] = names
	}
	names[name] = value
}

// Domains returns the jar's domain keys in sorted order.
func (j Jar) Domains() []string {
	out := make([]string, 0, len(j))
	for d := range j {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// Names returns the sorted cookie names stored under domain, across all paths.
func (j Jar) Names(domain string) []string {
	seen := make(map[string]struct{})
	for _, names := range j[domain] {
		for name := range names {
			seen[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Count returns the total number of cookies in the jar.
func (j Jar) Count() int {
	n := 0
	for _, paths := range j {
		for _, names := range paths {
			n += len(names)
		}
	}
	return n
}

func stringValue(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}
