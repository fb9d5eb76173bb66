package cookies

import (
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sort"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Extract flattens the cookies stored under the target domains into a single
// name → value map. For each target both the bare and the dot-prefixed key
// are read, bare first. Paths are merged in sorted order and domains in
// argument order; a later write wins. The result is empty, never nil, when no
// target is present.
func Extract(jar Jar, domains ...string) map[string]string {
	out := make(map[string]string)

	for _, target := range domains {
		bare := strings.TrimPrefix(strings.TrimSpace(target), ".")
		if bare == "" {
			continue
		}
		for _, key := range []string{bare, "." + bare} {
			paths, ok := jar[key]
			if !ok {
				continue
			}
			for _, path := range sortedKeys(paths) {
				for name, value := range paths[path] {
					out[name] = value
				}
			}
		}
	}

	return out
}

func sortedKeys(m map[string]map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Header renders cookies as a Cookie header value, sorted by name.
func Header(cookies map[string]string) string {
	if len(cookies) == 0 {
		return ""
	}

	names := make([]string, 0, len(cookies))
	for name := range cookies {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + "=" + cookies[name]
	}
	return strings.Join(parts, "; ")
}

// HTTPJar builds a cookie jar that sends cookies to baseURL's host and its
// subdomains.
func HTTPJar(cookies map[string]string, baseURL string) (http.CookieJar, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("base url %q has no host", baseURL)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	host := u.Hostname()
	domain := host
	if net.ParseIP(host) != nil {
		domain = ""
	}

	list := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		list = append(list, &http.Cookie{
			Name:   name,
			Value:  value,
			Path:   "/",
			Domain: domain,
		})
	}
	sort.Slice(list, func(i, k int) bool { return list[i].Name < list[k].Name })

	jar.SetCookies(&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, list)
	return jar, nil
}
