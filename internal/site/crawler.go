// Package site walks the internal pages of a site breadth first, scanning
// each of them for broken links.
package site

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"

	"github.com/alvmarrod/link-weaver/internal/cache"
	"github.com/alvmarrod/link-weaver/internal/checkqueue"
	"github.com/alvmarrod/link-weaver/internal/config"
	"github.com/alvmarrod/link-weaver/internal/fetch"
	"github.com/alvmarrod/link-weaver/internal/htmlcheck"
	"github.com/alvmarrod/link-weaver/internal/link"
	"github.com/alvmarrod/link-weaver/internal/metrics"
	"github.com/alvmarrod/link-weaver/internal/report"
	"github.com/alvmarrod/link-weaver/internal/robots"
)

const maxTitleLength = 60

// ErrStopped is returned by Crawl once the crawler was stopped
var ErrStopped = errors.New("crawler stopped")

// crawl is the state of one Crawl call
type crawl struct {
	start    *url.URL
	auth     *link.Auth
	result   *report.Result
	frontier *Frontier
}

// page is the page being scanned
type page struct {
	key    string
	failed bool
}

// Crawler orchestrates the crawl of one site
type Crawler struct {
	cfg     *config.Config
	fetcher *fetch.Checker
	html    *htmlcheck.Checker
	robots  *robotsRules
	tracker *metrics.Tracker
	log     *logrus.Entry

	mu      sync.Mutex
	run     *crawl
	current *page
	stopped bool
	stop    sync.Once
}

// New creates a crawler. Link checks go through fetcher and are timed into
// tracker, their outcomes are cached in c when it is not nil.
func New(cfg *config.Config, fetcher *fetch.Checker, c *cache.Cache, tracker *metrics.Tracker, log *logrus.Entry) (*Crawler, error) {
	if log == nil {
		log = logrus.WithField("component", "site")
	}
	if tracker == nil {
		tracker = metrics.NewTracker()
	}

	checker := &timedChecker{checker: fetcher, tracker: tracker}
	queue := checkqueue.New(cfg, checker, c, log.WithField("component", "checkqueue"))
	scanner, err := htmlcheck.NewWithQueue(cfg, queue, log.WithField("component", "htmlcheck"))
	if err != nil {
		return nil, fmt.Errorf("failed to create page checker: %w", err)
	}

	crawler := &Crawler{
		cfg:     cfg,
		fetcher: fetcher,
		html:    scanner,
		tracker: tracker,
		log:     log,
	}
	if cfg.HonorRobotExclusions {
		crawler.robots = newRobotsRules(fetcher, cfg.UserAgent, log)
	}

	scanner.OnHTML(crawler.handleHTML)
	scanner.OnLink(crawler.handleLink)
	scanner.OnJunk(crawler.handleJunk)
	scanner.OnError(crawler.handleError)
	return crawler, nil
}

// Crawl scans start and the internal HTML pages reachable from it, up to
// MaxPages pages. auth is sent to pages of the start origin only. Page
// failures are part of the result, the error is only set when the crawl was
// interrupted.
func (c *Crawler) Crawl(ctx context.Context, start *url.URL, auth *link.Auth) (*report.Result, error) {
	run := &crawl{
		start:    start,
		auth:     auth,
		result:   report.NewResult(start.Redacted()),
		frontier: NewFrontier(),
	}
	run.frontier.Push(start)

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return run.result, ErrStopped
	}
	if c.run != nil {
		c.mu.Unlock()
		return nil, errors.New("a crawl is already running")
	}
	c.run = run
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.run = nil
		c.mu.Unlock()
	}()

	c.log.Infof("Starting crawl of %s (max %d pages)", start.Redacted(), c.cfg.MaxPages)
	scanned := 0
	for scanned < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			c.log.Warnf("Crawl interrupted after %d pages: %v", scanned, err)
			return run.result, err
		}

		u, ok := run.frontier.Pop()
		if !ok {
			break
		}
		visited, err := c.crawlPage(ctx, run, u)
		if err != nil {
			return run.result, err
		}
		if visited {
			scanned++
			c.log.Info(c.tracker.LogProgress())
		}
	}

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()
	if stopped {
		return run.result, ErrStopped
	}

	c.log.Infof("Crawl finished: %d pages visited, %d waiting", scanned, run.frontier.Size())
	return run.result, nil
}

// crawlPage fetches and scans one page. Returns false when the page was
// skipped without a request.
func (c *Crawler) crawlPage(ctx context.Context, run *crawl, u *url.URL) (bool, error) {
	log := c.log.WithField("page", u.Redacted())

	if c.robots != nil && !c.robots.Allowed(ctx, u) {
		log.Info("Skipping page disallowed by robots.txt")
		return false, nil
	}

	auth := c.authFor(run, u)
	p, err := c.fetcher.FetchPage(ctx, u, auth)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		log.Warnf("Failed to fetch page: %v", err)
		run.result.AddPageError(u.Redacted(), err)
		c.tracker.IncrementPagesFailed()
		return true, nil
	}

	key := p.URL.Redacted()
	run.frontier.Seen(p.URL)
	if !p.IsHTML() {
		err := fmt.Errorf("not an HTML document: %q", p.Header.Get("Content-Type"))
		log.Warn(err)
		run.result.AddPageError(key, err)
		c.tracker.IncrementPagesFailed()
		return true, nil
	}

	directives := robots.New(c.cfg.UserAgent)
	for _, value := range p.Header.Values("X-Robots-Tag") {
		directives.Header(value)
	}

	current := &page{key: key}
	c.mu.Lock()
	c.current = current
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
	}()

	if !c.html.Scan(bytes.NewReader(p.Body), p.URL, directives, auth) {
		return false, errors.New("page checker is busy")
	}
	if err := c.wait(ctx); err != nil {
		return false, err
	}

	if !current.failed {
		c.tracker.IncrementPagesScanned()
	}
	return true, nil
}

// wait blocks until the page scan completed. On cancellation the check
// queue is closed, which ends the scan with every pending link.
func (c *Crawler) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.html.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		c.log.Warn("Cancelling pending link checks")
		c.html.Close()
		<-done
		return ctx.Err()
	}
}

// Stop refuses further pages and cancels pending checks. The crawler cannot
// be used afterwards. Safe to call multiple times.
func (c *Crawler) Stop() {
	c.stop.Do(func() {
		c.log.Info("Stopping crawler...")
		c.mu.Lock()
		c.stopped = true
		if c.run != nil {
			c.run.frontier.Stop()
		}
		c.mu.Unlock()
		c.html.Close()
		c.log.Info("Crawler stopped")
	})
}

func (c *Crawler) authFor(run *crawl, u *url.URL) *link.Auth {
	if run.auth == nil || !link.SameOrigin(u, run.start) {
		return nil
	}
	return run.auth
}

// state returns the running crawl and the page being scanned
func (c *Crawler) state() (*crawl, *page) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.run, c.current
}

func (c *Crawler) handleHTML(doc *html.Node, _ *robots.Directives) {
	run, current := c.state()
	if run == nil || current == nil {
		return
	}

	title := strings.TrimSpace(goquery.NewDocumentFromNode(doc).Find("title").First().Text())
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	run.result.SetTitle(current.key, title)
}

func (c *Crawler) handleLink(l *link.Link) {
	run, current := c.state()
	if run == nil || current == nil {
		return
	}

	run.result.AddLink(current.key, l)
	c.tracker.RecordLink(l)

	if l.Broken {
		c.log.WithField("page", current.key).Debugf("Broken link %s: %s", l.RebasedString(), l.BrokenReason)
		return
	}
	if target := followTarget(l); target != nil && run.frontier.Push(target) {
		c.log.Debugf("Queued page %s", target.Redacted())
	}
}

func (c *Crawler) handleJunk(l *link.Link) {
	run, current := c.state()
	if run == nil || current == nil {
		return
	}
	run.result.AddExcluded(current.key)
	c.tracker.RecordExcluded()
}

func (c *Crawler) handleError(err error) {
	run, current := c.state()
	if run == nil || current == nil {
		return
	}
	current.failed = true
	run.result.AddPageError(current.key, err)
	c.tracker.IncrementPagesFailed()
}

// followTarget returns the page a working internal link leads to, or nil
// when the link should not be crawled
func followTarget(l *link.Link) *url.URL {
	if !l.Internal || l.Excluded || !l.Valid() || !fetch.IsHTMLResponse(l.HTTP.Response) {
		return nil
	}
	target := l.URL.Rebased
	if redirected := l.URL.Redirected; redirected != nil {
		if !link.SameOrigin(redirected, target) {
			return nil
		}
		target = redirected
	}

	// credentials travel separately
	u := *target
	u.User = nil
	return &u
}

// timedChecker records the duration of every network check
type timedChecker struct {
	checker checkqueue.Checker
	tracker *metrics.Tracker
}

func (t *timedChecker) Check(ctx context.Context, u *url.URL, auth *link.Auth) link.Result {
	start := time.Now()
	res := t.checker.Check(ctx, u, auth)
	t.tracker.RecordCheckTime(time.Since(start))
	return res
}
