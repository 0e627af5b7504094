package profile

import (
	"net/url"
	"regexp"
	"strings"
)

// MustMatchFullDomain returns a rule admitting every URL on u's host, with
// or without a leading "www.". http and https are treated alike.
func MustMatchFullDomain(u *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	scheme := strings.ToLower(u.Scheme)
	if scheme == "http" || scheme == "https" {
		scheme = "https?"
	} else {
		scheme = regexp.QuoteMeta(scheme)
	}
	return scheme + `://(www\.)?` + regexp.QuoteMeta(host) + ".*"
}

// MustMatchSubpath returns a rule admitting every URL below u's directory.
func MustMatchSubpath(u *url.URL) string {
	p := u.EscapedPath()
	if p == "" {
		p = "/"
	}
	if !strings.HasSuffix(p, "/") {
		p = p[:strings.LastIndex(p, "/")+1]
	}
	base := strings.ToLower(u.Scheme) + "://" + u.Host + p
	return regexp.QuoteMeta(base) + ".*"
}

// SiteFilter combines MustMatchFullDomain rules for every seed. No seeds
// yields MatchAllString.
func SiteFilter(seeds []*url.URL) string {
	return joinRules(seeds, MustMatchFullDomain)
}

// SubpathFilter combines MustMatchSubpath rules for every seed. No seeds
// yields MatchAllString.
func SubpathFilter(seeds []*url.URL) string {
	return joinRules(seeds, MustMatchSubpath)
}

func joinRules(seeds []*url.URL, rule func(*url.URL) string) string {
	parts := make([]string, 0, len(seeds))
	for _, u := range seeds {
		if u == nil {
			continue
		}
		parts = append(parts, rule(u))
	}
	if len(parts) == 0 {
		return MatchAllString
	}
	return strings.Join(parts, "|")
}
