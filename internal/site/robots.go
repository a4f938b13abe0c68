package site

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/alvmarrod/link-weaver/internal/fetch"
)

// robotsRules fetches robots.txt once per origin and tests page paths
// against the group matching the user agent
type robotsRules struct {
	fetcher   *fetch.Checker
	userAgent string
	log       *logrus.Entry

	mu     sync.Mutex
	groups map[string]*robotstxt.Group // nil group allows everything
}

func newRobotsRules(fetcher *fetch.Checker, userAgent string, log *logrus.Entry) *robotsRules {
	return &robotsRules{
		fetcher:   fetcher,
		userAgent: userAgent,
		log:       log,
		groups:    make(map[string]*robotstxt.Group),
	}
}

// Allowed reports whether robots.txt lets the crawler visit u
func (r *robotsRules) Allowed(ctx context.Context, u *url.URL) bool {
	origin := strings.ToLower(u.Scheme + "://" + u.Host)

	r.mu.Lock()
	group, ok := r.groups[origin]
	r.mu.Unlock()
	if !ok {
		group = r.load(ctx, u)
		r.mu.Lock()
		r.groups[origin] = group
		r.mu.Unlock()
	}

	if group == nil {
		return true
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path)
}

func (r *robotsRules) load(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}
	page, err := r.fetcher.Get(ctx, robotsURL, nil)
	if err != nil {
		r.log.Warnf("Failed to fetch %s, allowing every page: %v", robotsURL, err)
		return nil
	}

	data, err := robotstxt.FromStatusAndBytes(page.StatusCode, page.Body)
	if err != nil {
		r.log.Warnf("Failed to parse %s, allowing every page: %v", robotsURL, err)
		return nil
	}
	r.log.Debugf("Loaded %s", robotsURL)
	return data.FindGroup(r.userAgent)
}
