// Package fetch performs the network side of link checking with colly.
package fetch

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"syscall"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/sirupsen/logrus"

	"github.com/alvmarrod/link-weaver/internal/config"
	"github.com/alvmarrod/link-weaver/internal/link"
)

// Broken reasons reported by the checker, besides HTTP_<status>
const (
	ReasonTimeout           = "timeout"
	ReasonDNS               = "dns"
	ReasonConnectionRefused = "connection-refused"
	ReasonConnection        = "connection"
	ReasonTooManyRedirects  = "too-many-redirects"
	ReasonError             = "error"
)

var errTooManyRedirects = errors.New("too many redirects")

// Checker requests URLs and turns the responses into link outcomes
type Checker struct {
	cfg       *config.Config
	collector *colly.Collector
	log       *logrus.Entry
	retry     map[int]bool
}

// NewChecker creates a checker configured from cfg
func NewChecker(cfg *config.Config, log *logrus.Entry) *Checker {
	if log == nil {
		log = logrus.WithField("component", "fetch")
	}

	retry := make(map[int]bool, len(cfg.RetryHeadCodes))
	for _, code := range cfg.RetryHeadCodes {
		retry[code] = true
	}

	return &Checker{
		cfg:       cfg,
		collector: newCollector(cfg),
		log:       log,
		retry:     retry,
	}
}

// newCollector builds the base collector every request is cloned from
func newCollector(cfg *config.Config) *colly.Collector {
	c := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.UserAgent(cfg.UserAgent),
	)
	c.SetRequestTimeout(cfg.RequestTimeout())

	maxRedirects := cfg.MaxRedirects
	c.SetRedirectHandler(func(req *http.Request, via []*http.Request) error {
		if len(via) > maxRedirects {
			return fmt.Errorf("stopped after %d redirects: %w", maxRedirects, errTooManyRedirects)
		}
		return nil
	})
	return c
}

// Check requests u and reports whether it is broken. It never fails, every
// problem is carried by the result.
func (c *Checker) Check(ctx context.Context, u *url.URL, auth *link.Auth) link.Result {
	method := c.cfg.RequestMethod
	res := c.do(ctx, method, u, auth)
	if method != http.MethodGet && c.retry[res.StatusCode] {
		c.log.Debugf("Retrying %s with GET after %d", u.Redacted(), res.StatusCode)
		res = c.do(ctx, http.MethodGet, u, auth)
	}
	return res
}

// response is the part of a colly response kept by the checker
type response struct {
	status int
	url    *url.URL
	header http.Header
	body   []byte
}

func (c *Checker) request(ctx context.Context, method string, u *url.URL, auth *link.Auth) (*response, error) {
	target, auth := splitCredentials(u, auth)

	col := c.collector.Clone()
	col.Context = ctx

	var resp *response
	capture := func(r *colly.Response) {
		if r == nil || r.StatusCode == 0 {
			return
		}
		resp = &response{status: r.StatusCode, url: r.Request.URL, body: r.Body}
		if r.Headers != nil {
			resp.header = r.Headers.Clone()
		}
	}
	col.OnResponse(capture)
	col.OnError(func(r *colly.Response, _ error) { capture(r) })

	hdr := http.Header{}
	if auth != nil {
		token := base64.StdEncoding.EncodeToString([]byte(auth.Username + ":" + auth.Password))
		hdr.Set("Authorization", "Basic "+token)
	}

	err := col.Request(method, target.String(), nil, nil, hdr)
	if resp != nil {
		// status errors are judged on the status code alone
		return resp, nil
	}
	if err == nil {
		err = errors.New("no response")
	}
	return nil, err
}

func (c *Checker) do(ctx context.Context, method string, u *url.URL, auth *link.Auth) link.Result {
	start := time.Now()
	resp, err := c.request(ctx, method, u, auth)
	if err != nil {
		reason := classify(err)
		c.log.Debugf("%s %s failed after %s: %v", method, u.Redacted(), time.Since(start), err)
		return link.Result{Broken: true, BrokenReason: reason}
	}

	result := link.Result{
		StatusCode: resp.status,
		Response: &link.Response{
			URL:        resp.url.String(),
			StatusCode: resp.status,
			Redirected: !sameAddress(resp.url, u),
			Header:     resp.header,
		},
	}
	if resp.status < 200 || resp.status >= 400 {
		result.Broken = true
		result.BrokenReason = "HTTP_" + strconv.Itoa(resp.status)
	}
	c.log.Debugf("%s %s -> %d in %s", method, u.Redacted(), resp.status, time.Since(start))
	return result
}

// classify maps a transport error to a broken reason
func classify(err error) string {
	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.Is(err, errTooManyRedirects):
		return ReasonTooManyRedirects
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.As(err, &dnsErr):
		return ReasonDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonConnectionRefused
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimeout
	case errors.Is(err, syscall.ECONNRESET), errors.As(err, new(*net.OpError)):
		return ReasonConnection
	}
	return ReasonError
}

// splitCredentials moves userinfo of u into a basic auth pair. Explicit auth wins.
func splitCredentials(u *url.URL, auth *link.Auth) (*url.URL, *link.Auth) {
	if u.User == nil {
		return u, auth
	}
	target := *u
	target.User = nil
	if auth == nil {
		password, _ := u.User.Password()
		auth = &link.Auth{Username: u.User.Username(), Password: password}
	}
	return &target, auth
}

// sameAddress compares two URLs ignoring credentials
func sameAddress(a, b *url.URL) bool {
	x, y := *a, *b
	x.User, y.User = nil, nil
	return link.Normalize(&x) == link.Normalize(&y)
}
