// Package robots accumulates page-level robot directives from
// <meta name="robots"> elements and X-Robots-Tag response headers.
package robots

import (
	"strings"
	"sync"
	"time"
)

// Recognized directives
const (
	All              = "all"
	Index            = "index"
	Follow           = "follow"
	NoIndex          = "noindex"
	NoFollow         = "nofollow"
	None             = "none"
	NoArchive        = "noarchive"
	NoSnippet        = "nosnippet"
	NoImageIndex     = "noimageindex"
	NoTranslate      = "notranslate"
	UnavailableAfter = "unavailable_after"
)

// bots whose name may replace "robots" in a meta element or prefix a header value
var bots = map[string]bool{
	"googlebot":       true,
	"googlebot-news":  true,
	"googlebot-image": true,
	"googlebot-video": true,
	"bingbot":         true,
	"msnbot":          true,
	"slurp":           true,
	"duckduckbot":     true,
	"baiduspider":     true,
	"yandex":          true,
	"applebot":        true,
}

// Layouts without commas, since directive lists are comma separated
var unavailableLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"02 Jan 2006 15:04:05 MST",
	"2 Jan 2006",
}

// IsBotName reports whether name is "robots" or a known crawler name
func IsBotName(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	return name == "robots" || bots[name]
}

// Directives is the cascaded directive set of one page
type Directives struct {
	mu         sync.RWMutex
	userAgent  string
	directives map[string]bool
	now        func() time.Time
}

// New creates an empty directive set. Bot specific directives only apply
// when userAgent contains the bot name.
func New(userAgent string) *Directives {
	return &Directives{
		userAgent:  strings.ToLower(userAgent),
		directives: make(map[string]bool),
		now:        time.Now,
	}
}

// Meta adds the content of a <meta name content> element
func (d *Directives) Meta(name, content string) {
	name = strings.ToLower(strings.TrimSpace(name))
	if !d.applies(name) {
		return
	}
	d.add(content)
}

// Header adds one X-Robots-Tag header value, optionally prefixed by a bot name
func (d *Directives) Header(value string) {
	if name, rest, found := strings.Cut(value, ":"); found {
		name = strings.ToLower(strings.TrimSpace(name))
		if bots[name] {
			if d.applies(name) {
				d.add(rest)
			}
			return
		}
		// "unavailable_after: date" has a colon without a bot prefix
	}
	d.add(value)
}

// Is reports whether directive is in effect
func (d *Directives) Is(directive string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.directives[directive]
}

// OneIs reports whether any of the directives is in effect
func (d *Directives) OneIs(directives ...string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, directive := range directives {
		if d.directives[directive] {
			return true
		}
	}
	return false
}

// List returns the directives in effect
func (d *Directives) List() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	list := make([]string, 0, len(d.directives))
	for directive := range d.directives {
		list = append(list, directive)
	}
	return list
}

func (d *Directives) applies(name string) bool {
	if name == "robots" {
		return true
	}
	return bots[name] && strings.Contains(d.userAgent, name)
}

func (d *Directives) add(content string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, raw := range strings.Split(content, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		key, value, found := strings.Cut(raw, ":")
		if found && strings.ToLower(strings.TrimSpace(key)) == UnavailableAfter {
			if d.expired(value) {
				d.directives[NoIndex] = true
			}
			d.directives[UnavailableAfter] = true
			continue
		}

		token := strings.ToLower(raw)
		switch token {
		case None:
			d.directives[None] = true
			d.directives[NoIndex] = true
			d.directives[NoFollow] = true
		case All, Index, Follow, NoIndex, NoFollow, NoArchive, NoSnippet, NoImageIndex, NoTranslate:
			d.directives[token] = true
		}
	}
}

func (d *Directives) expired(value string) bool {
	value = strings.TrimSpace(value)
	for _, layout := range unavailableLayouts {
		if at, err := time.Parse(layout, value); err == nil {
			return !d.now().Before(at)
		}
	}
	return false
}
