package fetch

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/alvmarrod/link-weaver/internal/link"
)

// Page is a retrieved HTML document
type Page struct {
	// URL is the final address after redirects
	URL        *url.URL
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsHTML reports whether the response declared an HTML content type
func (p *Page) IsHTML() bool {
	return isHTML(p.Header)
}

func isHTML(header http.Header) bool {
	contentType := strings.ToLower(header.Get("Content-Type"))
	return strings.HasPrefix(contentType, "text/html") || strings.HasPrefix(contentType, "application/xhtml+xml")
}

// IsHTMLResponse reports whether a check response points at an HTML document
func IsHTMLResponse(resp *link.Response) bool {
	return resp != nil && isHTML(resp.Header)
}

// Get retrieves the document at u with GET, whatever its status. Only
// transport failures are returned as errors.
func (c *Checker) Get(ctx context.Context, u *url.URL, auth *link.Auth) (*Page, error) {
	resp, err := c.request(ctx, http.MethodGet, u, auth)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %s: %w", u.Redacted(), classify(err), err)
	}
	return &Page{
		URL:        resp.url,
		StatusCode: resp.status,
		Header:     resp.header,
		Body:       resp.body,
	}, nil
}

// FetchPage retrieves the document at u with GET. Transport failures and
// error statuses are returned as errors.
func (c *Checker) FetchPage(ctx context.Context, u *url.URL, auth *link.Auth) (*Page, error) {
	page, err := c.Get(ctx, u, auth)
	if err != nil {
		return nil, err
	}
	if page.StatusCode >= 400 {
		return nil, fmt.Errorf("failed to fetch %s: HTTP_%d", u.Redacted(), page.StatusCode)
	}
	return page, nil
}
