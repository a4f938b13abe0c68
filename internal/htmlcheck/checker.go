// Package htmlcheck scans one HTML document at a time: it scrapes the links,
// runs them through the exclusion chain and checks the survivors through a
// check queue, reporting every link as it is decided.
package htmlcheck

import (
	"fmt"
	"io"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/alvmarrod/link-weaver/internal/cache"
	"github.com/alvmarrod/link-weaver/internal/checkqueue"
	"github.com/alvmarrod/link-weaver/internal/config"
	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/robots"
	"github.com/alvmarrod/link-weaver/internal/scraper"
)

// State of the checker
type State int

const (
	Idle State = iota
	Scanning
	Draining
	Complete
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Draining:
		return "draining"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// scan holds everything that lives for one Scan call
type scan struct {
	state    State
	page     link.PageContext
	robots   *robots.Directives
	excluded int
	log      *logrus.Entry
	done     chan struct{}
}

// Checker scans HTML documents, one at a time
type Checker struct {
	cfg    *config.Config
	filter *filter
	queue  *checkqueue.Queue
	log    *logrus.Entry

	mu      sync.Mutex
	current *scan
	// queue drains whose end callback ran
	endsSeen int

	emitMu     sync.Mutex
	onHTML     []func(*html.Node, *robots.Directives)
	onLink     []func(*link.Link)
	onJunk     []func(*link.Link)
	onEnd      []func()
	onComplete []func()
	onError    []func(error)
}

// New creates a checker with its own check queue
func New(cfg *config.Config, checker checkqueue.Checker, c *cache.Cache, log *logrus.Entry) (*Checker, error) {
	if log == nil {
		log = logrus.WithField("component", "htmlcheck")
	}
	return NewWithQueue(cfg, checkqueue.New(cfg, checker, c, log), log)
}

// NewWithQueue creates a checker on top of an existing queue. The queue must
// not be shared with another checker.
func NewWithQueue(cfg *config.Config, q *checkqueue.Queue, log *logrus.Entry) (*Checker, error) {
	if log == nil {
		log = logrus.WithField("component", "htmlcheck")
	}
	f, err := newFilter(cfg)
	if err != nil {
		return nil, err
	}

	_, drains := q.Drains()
	c := &Checker{
		cfg:      cfg,
		filter:   f,
		queue:    q,
		log:      log,
		endsSeen: drains,
	}
	q.OnLink(c.handleQueueLink)
	q.OnEnd(c.handleQueueEnd)
	return c, nil
}

// OnHTML registers a callback receiving the parsed document and its robots
// directives, before any link is processed
func (c *Checker) OnHTML(f func(*html.Node, *robots.Directives)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onHTML = append(c.onHTML, f)
}

// OnLink registers a callback for every checked or invalid link
func (c *Checker) OnLink(f func(*link.Link)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onLink = append(c.onLink, f)
}

// OnJunk registers a callback for every excluded link
func (c *Checker) OnJunk(f func(*link.Link)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onJunk = append(c.onJunk, f)
}

// OnEnd registers a callback for every drain of the check queue
func (c *Checker) OnEnd(f func()) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onEnd = append(c.onEnd, f)
}

// OnComplete registers a callback for every finished scan
func (c *Checker) OnComplete(f func()) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onComplete = append(c.onComplete, f)
}

// OnError registers a callback for page level failures
func (c *Checker) OnError(f func(error)) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	c.onError = append(c.onError, f)
}

// SetCustomFilter sets the last step of the exclusion chain
func (c *Checker) SetCustomFilter(f FilterFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter.custom = f
}

// Scan checks the document read from r, served at pageURL. directives
// may carry robots directives gathered from the response headers and auth
// the credentials for the page. Returns false when a scan is already running
// or pageURL is nil.
func (c *Checker) Scan(r io.Reader, pageURL *url.URL, directives *robots.Directives, auth *link.Auth) bool {
	if pageURL == nil {
		c.log.Warn("Scan called without a page URL")
		return false
	}
	c.mu.Lock()
	if c.current != nil {
		c.mu.Unlock()
		return false
	}
	if directives == nil {
		directives = robots.New(c.cfg.UserAgent)
	}
	page := link.TransitiveAuth(pageURL, auth)
	s := &scan{
		state:  Scanning,
		page:   page,
		robots: directives,
		log:    c.log.WithField("page", pageURL.Redacted()),
		done:   make(chan struct{}),
	}
	c.current = s
	c.mu.Unlock()

	doc, err := html.Parse(r)
	if err != nil {
		s.log.Warnf("Failed to parse page: %v", err)
		c.emitError(fmt.Errorf("failed to parse %s: %w", pageURL.Redacted(), err))
		c.complete(s)
		return true
	}

	links, _ := scraper.Scrape(doc, page, scraper.MaxFilterLevel, directives)
	s.log.Debugf("Scraped %d links", len(links))
	c.emitHTML(doc, directives)

	for _, l := range links {
		if reason := c.exclusionReason(l, directives); reason != "" {
			l.Excluded = true
			l.ExcludedReason = reason
			l.OffsetIndex = s.excluded
			s.excluded++
			c.emitJunk(l)
			continue
		}

		l.OffsetIndex = l.Source.Index - s.excluded
		if _, err := c.queue.Enqueue(l, authFor(l, page), s); err != nil {
			s.log.Debugf("Not checking %q: %v", l.URL.Original, err)
			l.MarkInvalid()
			c.emitLink(l)
		}
	}

	// an end callback still running will complete the scan itself
	c.mu.Lock()
	s.state = Draining
	pending, drains := c.queue.Drains()
	drained := !pending && drains == c.endsSeen
	c.mu.Unlock()

	if drained {
		c.complete(s)
	}
	return true
}

// State returns the state of the current scan
func (c *Checker) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return Idle
	}
	return c.current.state
}

// Wait blocks until the running scan, if any, completed
func (c *Checker) Wait() {
	c.mu.Lock()
	s := c.current
	c.mu.Unlock()
	if s != nil {
		<-s.done
	}
}

// NumActive returns the number of checks in flight
func (c *Checker) NumActive() int {
	return c.queue.NumActive()
}

// NumQueued returns the number of checks waiting to start
func (c *Checker) NumQueued() int {
	return c.queue.NumQueued()
}

// Pause stops new checks from starting
func (c *Checker) Pause() {
	c.queue.Pause()
}

// Resume lets checks start again
func (c *Checker) Resume() {
	c.queue.Resume()
}

// ClearCache drops every cached outcome
func (c *Checker) ClearCache() error {
	return c.queue.ClearCache()
}

// Close shuts the check queue down
func (c *Checker) Close() {
	c.queue.Close()
}

func (c *Checker) exclusionReason(l *link.Link, directives *robots.Directives) string {
	c.mu.Lock()
	f := *c.filter
	c.mu.Unlock()
	return f.exclusionReason(l, directives)
}

// authFor returns the page credentials for links on the page origin only
func authFor(l *link.Link, page link.PageContext) *link.Auth {
	if page.Auth == nil || !link.SameOrigin(l.URL.Rebased, page.PageURL) {
		return nil
	}
	return page.Auth
}

func (c *Checker) handleQueueLink(res checkqueue.Result) {
	c.mu.Lock()
	ours := c.current != nil && res.Data == c.current
	c.mu.Unlock()
	if !ours {
		return
	}
	c.emitLink(res.Link)
}

func (c *Checker) handleQueueEnd() {
	c.emitEnd()

	c.mu.Lock()
	c.endsSeen++
	s := c.current
	pending, _ := c.queue.Drains()
	ready := s != nil && s.state == Draining && !pending
	c.mu.Unlock()

	if ready {
		c.complete(s)
	}
}

// complete emits "complete" once for s and returns the checker to Idle
func (c *Checker) complete(s *scan) {
	c.mu.Lock()
	if c.current != s || s.state == Complete {
		c.mu.Unlock()
		return
	}
	s.state = Complete
	c.mu.Unlock()

	s.log.Infof("Scan complete: %d links excluded", s.excluded)
	c.emitComplete()

	c.mu.Lock()
	c.current = nil
	c.mu.Unlock()
	close(s.done)
}

func (c *Checker) emitHTML(doc *html.Node, directives *robots.Directives) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, f := range c.onHTML {
		f(doc, directives)
	}
}

func (c *Checker) emitLink(l *link.Link) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, f := range c.onLink {
		f(l)
	}
}

func (c *Checker) emitJunk(l *link.Link) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, f := range c.onJunk {
		f(l)
	}
}

func (c *Checker) emitEnd() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, f := range c.onEnd {
		f()
	}
}

func (c *Checker) emitComplete() {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, f := range c.onComplete {
		f()
	}
}

func (c *Checker) emitError(err error) {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()
	for _, f := range c.onError {
		f(err)
	}
}
