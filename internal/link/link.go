// Package link holds the record describing one candidate reference found in
// an HTML document, from its source element through resolution to the
// outcome of checking it.
package link

import (
	"net/http"
	"net/url"
)

// Exclusion and invalid-link reason codes
const (
	ReasonUnsupportedHTMLLocation = "unsupported-html-location"
	ReasonExternal                = "external"
	ReasonInternal                = "internal"
	ReasonSamePage                = "same-page"
	ReasonScheme                  = "scheme"
	ReasonRobots                  = "robots"
	ReasonKeyword                 = "keyword"
	ReasonCustom                  = "custom"
	ReasonInvalid                 = "invalid"
)

// Auth holds HTTP basic credentials
type Auth struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Userinfo converts the credentials for use in a URL
func (a *Auth) Userinfo() *url.Userinfo {
	if a == nil {
		return nil
	}
	return url.UserPassword(a.Username, a.Password)
}

// Source describes where in the document the link was found
type Source struct {
	TagName   string            `json:"tag_name"`
	AttrName  string            `json:"attr_name"`
	AttrValue string            `json:"attr_value"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	Index     int               `json:"index"`
	Tag       string            `json:"tag"`
	Selector  string            `json:"selector"`
	Text      *string           `json:"text"`
	Base      string            `json:"base,omitempty"`
}

// URL carries every form of the link address
type URL struct {
	Original   string   `json:"original"`
	Parsed     *url.URL `json:"-"`
	Rebased    *url.URL `json:"-"`
	Redirected *url.URL `json:"-"`
}

// Response is the metadata kept from the last HTTP response of a check
type Response struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Redirected bool        `json:"redirected"`
	Header     http.Header `json:"header,omitempty"`
}

// Result is the outcome of checking one URL, as stored in the cache
type Result struct {
	Broken       bool      `json:"broken"`
	BrokenReason string    `json:"broken_reason,omitempty"`
	StatusCode   int       `json:"status_code"`
	Response     *Response `json:"response,omitempty"`
}

// HTTP is the check metadata attached to a link
type HTTP struct {
	StatusCode int       `json:"status_code"`
	Cached     bool      `json:"cached"`
	Response   *Response `json:"response,omitempty"`
}

// Link is one candidate reference of a scanned page
type Link struct {
	Source Source `json:"source"`
	URL    URL    `json:"url"`

	Internal bool `json:"internal"`
	SamePage bool `json:"same_page"`

	// Filled once the link went through the check queue
	Checked      bool   `json:"checked"`
	Broken       bool   `json:"broken"`
	BrokenReason string `json:"broken_reason,omitempty"`
	HTTP         HTTP   `json:"http"`

	// Set when the check was abandoned, the link has no outcome
	Cancelled bool `json:"cancelled,omitempty"`

	Excluded       bool   `json:"excluded"`
	ExcludedReason string `json:"excluded_reason,omitempty"`
	OffsetIndex    int    `json:"offset_index"`
}

// New creates an empty link
func New() *Link {
	return &Link{}
}

// Valid reports whether the link resolved to an absolute URL
func (l *Link) Valid() bool {
	return l.URL.Rebased != nil
}

// RebasedString returns the rebased URL, or the original string for invalid links
func (l *Link) RebasedString() string {
	if l.URL.Rebased == nil {
		return l.URL.Original
	}
	return l.URL.Rebased.String()
}

// ApplyResult copies a check outcome onto the link
func (l *Link) ApplyResult(res Result, cached bool) {
	l.Checked = true
	l.Broken = res.Broken
	l.BrokenReason = res.BrokenReason
	l.HTTP = HTTP{
		StatusCode: res.StatusCode,
		Cached:     cached,
		Response:   res.Response,
	}
	if res.Response != nil && res.Response.Redirected {
		if redirected, err := url.Parse(res.Response.URL); err == nil {
			l.URL.Redirected = redirected
		}
	}
}

// MarkCancelled flags a link whose check was abandoned before it produced
// an outcome. It is neither checked nor broken.
func (l *Link) MarkCancelled() {
	l.Checked = false
	l.Broken = false
	l.BrokenReason = ""
	l.HTTP = HTTP{}
	l.Cancelled = true
}

// MarkInvalid flags a link that could not be scheduled for a check
func (l *Link) MarkInvalid() {
	l.Checked = true
	l.Broken = true
	l.BrokenReason = ReasonInvalid
}
