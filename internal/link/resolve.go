package link

import (
	"net"
	"net/url"
	"strings"
)

// PageContext is the page a link is resolved against
type PageContext struct {
	// PageURL is the effective address of the scanned document
	PageURL *url.URL
	// RootURL decides what is internal, defaults to PageURL
	RootURL *url.URL
	// Auth is inherited by same-origin links
	Auth *Auth
}

// TransitiveAuth derives the effective page context. Credentials embedded in
// the page URL win over auth; otherwise auth is attached to the page URL.
func TransitiveAuth(pageURL *url.URL, auth *Auth) PageContext {
	page := *pageURL
	if page.User != nil {
		password, _ := page.User.Password()
		auth = &Auth{Username: page.User.Username(), Password: password}
	} else if auth != nil {
		page.User = auth.Userinfo()
	}
	return PageContext{PageURL: &page, RootURL: &page, Auth: auth}
}

// Resolve parses rawURL, rebases it against the document base or page URL
// and classifies it. The link is modified in place and returned.
func Resolve(l *Link, rawURL string, page PageContext) *Link {
	l.URL = URL{Original: rawURL}
	l.Internal = false
	l.SamePage = false

	parsed, err := url.Parse(rawURL)
	if err != nil {
		return l
	}
	l.URL.Parsed = parsed

	base := page.PageURL
	if l.Source.Base != "" {
		resolvedBase, err := page.PageURL.Parse(l.Source.Base)
		if err == nil {
			base = resolvedBase
		}
	}

	rebased := base.ResolveReference(parsed)
	if !rebased.IsAbs() {
		return l
	}
	if (rebased.Scheme == "http" || rebased.Scheme == "https") && rebased.Host == "" {
		return l
	}

	if rebased.User == nil && page.Auth != nil && SameOrigin(rebased, page.PageURL) {
		rebased.User = page.Auth.Userinfo()
	}
	l.URL.Rebased = rebased

	root := page.RootURL
	if root == nil {
		root = page.PageURL
	}
	l.Internal = HostKey(rebased) == HostKey(root)
	l.SamePage = stripCredentials(rebased) == stripCredentials(page.PageURL)
	return l
}

// SameOrigin compares scheme, host and port of two URLs
func SameOrigin(a, b *url.URL) bool {
	return strings.EqualFold(a.Scheme, b.Scheme) && hostKey(a) == hostKey(b)
}

// Normalize returns the form used to compare URLs and to key cached outcomes
func Normalize(u *url.URL) string {
	n := *u
	n.Scheme = strings.ToLower(n.Scheme)
	n.Host = hostKey(&n)
	if port := defaultPort(n.Scheme); port != "" {
		n.Host = strings.TrimSuffix(n.Host, ":"+port)
	}
	n.Fragment = ""
	n.RawFragment = ""
	if n.Path == "" && n.Opaque == "" && n.Host != "" {
		n.Path = "/"
		n.RawPath = ""
	}
	return n.String()
}

func stripCredentials(u *url.URL) string {
	n := *u
	n.User = nil
	return Normalize(&n)
}

// HostKey identifies the host of u whatever its scheme: the lower-cased
// host name, with the port only when it is not the scheme default
func HostKey(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" || port == defaultPort(strings.ToLower(u.Scheme)) {
		return host
	}
	return net.JoinHostPort(host, port)
}

// hostKey is the lower-cased host with an explicit port
func hostKey(u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if port == "" {
		port = defaultPort(strings.ToLower(u.Scheme))
	}
	if port == "" {
		return host
	}
	return net.JoinHostPort(host, port)
}

func defaultPort(scheme string) string {
	switch scheme {
	case "http", "ws":
		return "80"
	case "https", "wss":
		return "443"
	case "ftp":
		return "21"
	}
	return ""
}
