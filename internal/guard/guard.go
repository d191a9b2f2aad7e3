// Package guard decides whether a protected page renders, shows the loading
// placeholder or redirects to the login or unauthorized pages.
package guard

import (
	"net"
	"net/url"
	"slices"
	"strings"
)

type Kind int

const (
	Render Kind = iota
	Loading
	RedirectLogin
	RedirectUnauthorized
)

func (k Kind) String() string {
	switch k {
	case Render:
		return "render"
	case Loading:
		return "loading"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	default:
		return "unknown"
	}
}

// Input is everything the decision depends on.
type Input struct {
	Loading         bool
	IsAuthenticated bool
	Role            string
	// AllowedRoles restricts access when non-empty.
	AllowedRoles []string
	// Host is the request host, with or without port.
	Host string
	// Path is the requested path, remembered for the in-app login redirect.
	Path string
}

type Decision struct {
	Kind Kind
	// Location is set for redirects.
	Location string
}

// Decide applies, in order: loading wins; unauthenticated goes to login;
// a role outside a non-empty allow-list goes to unauthorized; else render.
func Decide(in Input) Decision {
	switch {
	case in.Loading:
		return Decision{Kind: Loading}
	case !in.IsAuthenticated:
		return Decision{Kind: RedirectLogin, Location: target(in.Host, "/login", in.Path)}
	case len(in.AllowedRoles) > 0 && !slices.Contains(in.AllowedRoles, in.Role):
		return Decision{Kind: RedirectUnauthorized, Location: target(in.Host, "/unauthorized", "")}
	default:
		return Decision{Kind: Render}
	}
}

// IsSubdomain reports whether host (port ignored) has more than two
// dot-separated labels and is neither localhost nor an IP address.
func IsSubdomain(host string) bool {
	h := hostname(host)
	if h == "localhost" || net.ParseIP(h) != nil {
		return false
	}
	return len(strings.Split(h, ".")) > 2
}

// RootDomain returns the last two labels of host, port stripped.
func RootDomain(host string) string {
	labels := strings.Split(hostname(host), ".")
	if len(labels) <= 2 {
		return strings.Join(labels, ".")
	}
	return strings.Join(labels[len(labels)-2:], ".")
}

// target builds the redirect: a protocol-relative URL on the root domain
// when served from a sub-domain, otherwise an in-app path. from is only
// kept for in-app redirects.
func target(host, page, from string) string {
	if IsSubdomain(host) {
		return "//" + RootDomain(host) + page
	}
	if from == "" || from == page {
		return page
	}
	return page + "?" + url.Values{"from": {from}}.Encode()
}

func hostname(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
